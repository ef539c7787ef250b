// Package httpclient builds the two *http.Client flavors the providers
// need: a strict default used for normal TLS endpoints (Gemini's Google
// APIs), and a narrowly scoped insecure variant used only for
// Antigravity's self-signed local language-server port. Each clones its
// own *http.Transport by hand rather than mutating http.DefaultTransport,
// so the relaxed TLS config never leaks into unrelated requests.
package httpclient

import (
	"crypto/tls"
	"net/http"
	"time"
)

// Default returns a client with standard TLS verification and a bounded
// timeout suitable for the Gemini OAuth and quota endpoints.
func Default(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: http.DefaultTransport.(*http.Transport).Clone(),
	}
}

// InsecureLocal returns a client that skips certificate verification. It
// must only be used against the Antigravity language-server's loopback
// port, which terminates TLS with a self-signed certificate; every other
// provider uses Default.
func InsecureLocal(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
