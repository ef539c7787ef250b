// Package ptysession launches a child process attached to a pseudo-terminal
// and exposes its output as read events and a write channel, the way a
// human would drive an interactive CLI that refuses to run unless stdin is
// a TTY. Built on github.com/creack/pty, generalized from
// QSocketNotifier/openpty in the C++ original to a goroutine reading off
// the pty master file descriptor.
package ptysession

import (
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
	log "github.com/sirupsen/logrus"
)

const readBufferSize = 4096

// Session is a running child process attached to a pty. A Session that
// fails to start never leaks a half-open pty or process; Start either
// returns a fully usable Session or none at all.
type Session struct {
	cmd    *exec.Cmd
	master *os.File

	onData   func([]byte)
	onExit   func(int)
	exitOnce sync.Once

	closeOnce sync.Once
	done      chan struct{}
}

// Start spawns program with arguments under a freshly allocated
// pseudo-terminal. onData is invoked from a dedicated reader goroutine for
// every chunk read off the master side; onExit is invoked exactly once,
// whether the child exited on its own or Close tore it down. Start returns
// nil, false on any allocation, fork, or exec failure.
func Start(program string, arguments []string, onData func([]byte), onExit func(int)) (*Session, bool) {
	cmd := exec.Command(program, arguments...)
	master, err := pty.Start(cmd)
	if err != nil {
		log.WithError(err).WithField("program", program).Debug("ptysession: start failed")
		return nil, false
	}

	s := &Session{
		cmd:    cmd,
		master: master,
		onData: onData,
		onExit: onExit,
		done:   make(chan struct{}),
	}
	go s.readLoop()
	go s.waitLoop()
	return s, true
}

// Write delivers data to the master side synchronously.
func (s *Session) Write(data []byte) {
	if s.master == nil {
		return
	}
	_, _ = s.master.Write(data)
}

// Close terminates the child (SIGTERM), reaps it, and releases the pty
// file descriptor. It is safe to call multiple times and from any
// goroutine; the exit callback still fires exactly once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Signal(syscall.SIGTERM)
		}
		if s.master != nil {
			_ = s.master.Close()
		}
	})
	<-s.done
}

func (s *Session) readLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.master.Read(buf)
		if n > 0 && s.onData != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.onData(chunk)
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) waitLoop() {
	err := s.cmd.Wait()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	_ = s.master.Close()
	close(s.done)
	s.exitOnce.Do(func() {
		if s.onExit != nil {
			s.onExit(code)
		}
	})
}
