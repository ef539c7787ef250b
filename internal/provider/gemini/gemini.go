// Package gemini reads the Gemini CLI's cached OAuth credentials,
// refreshes the access token when it is expired or within five minutes
// of expiring, persists the refresh back into the credentials file
// without disturbing unrelated fields, and polls Google's internal quota
// endpoint for per-model usage. Grounded on the original
// GeminiProvider.cpp token lifecycle, reusing the same OAuth client
// id/secret pair the Gemini CLI bundles for this flow.
package gemini

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/rursache/KDECodexBar/internal/httpclient"
	"github.com/rursache/KDECodexBar/internal/jsonmerge"
	"github.com/rursache/KDECodexBar/internal/provider"
)

const (
	refreshTimeout = 30 * time.Second
	expirySkew     = 5 * time.Minute

	oauthClientID     = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	oauthClientSecret = "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"
)

// tokenEndpoint and quotaEndpoint are vars, not consts, so tests can point
// them at a local httptest.Server instead of the real Google endpoints.
var (
	tokenEndpoint = "https://oauth2.googleapis.com/token"
	quotaEndpoint = "https://cloudcode-pa.googleapis.com/v1internal:retrieveUserQuota"
)

var targetModels = []string{"gemini-2.5-flash", "gemini-2.5-pro"}

// Provider polls Google's Code Assist quota endpoint using the Gemini
// CLI's cached OAuth credentials.
type Provider struct {
	*provider.Base

	credsPath string
	client    *http.Client
}

// New builds a GeminiProvider. homeDir is the user's home directory, used
// to locate ~/.gemini/oauth_creds.json.
func New(homeDir string) *Provider {
	return &Provider{
		Base:      provider.NewBase(provider.Gemini, "Gemini"),
		credsPath: filepath.Join(homeDir, ".gemini", "oauth_creds.json"),
		client:    httpclient.Default(refreshTimeout),
	}
}

type credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiryMs     int64
}

// Refresh implements provider.Provider.
func (p *Provider) Refresh(ctx context.Context) {
	if !p.TryStartRefresh() {
		return
	}
	go p.run(ctx)
}

func (p *Provider) run(ctx context.Context) {
	defer p.FinishRefresh()
	entry := p.Logger()

	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	creds, err := p.loadCredentials()
	if err != nil {
		entry.WithError(err).Debug("gemini: loading credentials failed")
		p.SetError()
		return
	}

	now := time.Now().UnixMilli()
	if creds.ExpiryMs <= 0 || now > creds.ExpiryMs-expirySkew.Milliseconds() {
		creds, err = p.refreshAccessToken(ctx, creds)
		if err != nil {
			entry.WithError(err).Debug("gemini: access token refresh failed")
			p.SetError()
			return
		}
	}

	snapshot, err := p.fetchQuota(ctx, creds.AccessToken)
	if err != nil {
		entry.WithError(err).Debug("gemini: quota fetch failed")
		p.SetError()
		return
	}
	p.SetSnapshot(snapshot)
}

func (p *Provider) loadCredentials() (credentials, error) {
	raw, err := os.ReadFile(p.credsPath)
	if err != nil {
		return credentials{}, fmt.Errorf("read credentials: %w", err)
	}
	accessToken := gjson.GetBytes(raw, "access_token").String()
	if accessToken == "" {
		return credentials{}, fmt.Errorf("credentials file has no access_token")
	}
	return credentials{
		AccessToken:  accessToken,
		RefreshToken: gjson.GetBytes(raw, "refresh_token").String(),
		ExpiryMs:     gjson.GetBytes(raw, "expiry_date").Int(),
	}, nil
}

// refreshAccessToken exchanges the cached refresh token for a new access
// token via golang.org/x/oauth2 against the same Gemini CLI OAuth app,
// then persists only the two fields that changed back onto disk.
func (p *Provider) refreshAccessToken(ctx context.Context, creds credentials) (credentials, error) {
	conf := &oauth2.Config{
		ClientID:     oauthClientID,
		ClientSecret: oauthClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenEndpoint},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	newToken, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken}).Token()
	if err != nil {
		return credentials{}, fmt.Errorf("refresh token exchange: %w", err)
	}
	if newToken.AccessToken == "" {
		return credentials{}, fmt.Errorf("token endpoint returned no access_token")
	}

	expiryMs := newToken.Expiry.UnixMilli()
	if err = jsonmerge.SetKeys(p.credsPath, map[string]any{
		"access_token": newToken.AccessToken,
		"expiry_date":  expiryMs,
	}); err != nil {
		p.Logger().WithError(err).Debug("gemini: persisting refreshed token failed")
	}

	creds.AccessToken = newToken.AccessToken
	creds.ExpiryMs = expiryMs
	return creds, nil
}

func (p *Provider) fetchQuota(ctx context.Context, accessToken string) (provider.UsageSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, quotaEndpoint, strings.NewReader("{}"))
	if err != nil {
		return provider.UsageSnapshot{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return provider.UsageSnapshot{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if mergeErr := jsonmerge.SetKeys(p.credsPath, map[string]any{"expiry_date": 0}); mergeErr != nil {
			p.Logger().WithError(mergeErr).Debug("gemini: clearing expiry after 401 failed")
		}
		return provider.UsageSnapshot{}, fmt.Errorf("quota endpoint returned 401")
	}
	if resp.StatusCode != http.StatusOK {
		return provider.UsageSnapshot{}, fmt.Errorf("quota endpoint returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.UsageSnapshot{}, fmt.Errorf("read quota response: %w", err)
	}

	return parseQuota(raw), nil
}

// parseQuota groups buckets by modelId, keeping the worst (highest used%)
// bucket per model, then emits one UsageLimit per target model that was
// present, in targetModels order.
func parseQuota(raw []byte) provider.UsageSnapshot {
	type worst struct {
		used  float64
		reset string
	}
	byModel := make(map[string]worst)

	gjson.GetBytes(raw, "buckets").ForEach(func(_, bucket gjson.Result) bool {
		modelID := bucket.Get("modelId").String()
		fractionResult := bucket.Get("remainingFraction")
		if modelID == "" || !fractionResult.Exists() {
			return true
		}
		used := (1 - fractionResult.Float()) * 100
		if existing, ok := byModel[modelID]; !ok || used > existing.used {
			byModel[modelID] = worst{used: used, reset: bucket.Get("resetTime").String()}
		}
		return true
	})

	limits := make([]provider.UsageLimit, 0, len(targetModels))
	for _, model := range targetModels {
		w, ok := byModel[model]
		if !ok {
			continue
		}
		limits = append(limits, provider.UsageLimit{
			Label:            modelLabel(model),
			Used:             w.used,
			Total:            100,
			Unit:             "%",
			ResetDescription: w.reset,
		})
	}

	return provider.UsageSnapshot{Timestamp: time.Now(), Limits: limits}
}

func modelLabel(model string) string {
	switch {
	case strings.Contains(model, "flash"):
		return "Flash"
	case strings.Contains(model, "pro"):
		return "Pro"
	default:
		return model
	}
}
