// Package testutil provides helpers for tests that need a real HTTP server
// rather than httptest's in-process transport, such as SSE streaming over an
// actual TCP connection.
package testutil

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"testing"
)

// LoopbackServer serves a handler on the IPv4 loopback interface. Binding
// tcp4 explicitly keeps the tests stable on hosts where ::1 is unavailable.
type LoopbackServer struct {
	URL       string
	listener  net.Listener
	server    *http.Server
	transport *http.Transport
	client    *http.Client
	closeOnce sync.Once
}

// NewIPv4Server starts the server and registers its shutdown with t.Cleanup.
func NewIPv4Server(t *testing.T, handler http.Handler) *LoopbackServer {
	t.Helper()
	if handler == nil {
		handler = http.NewServeMux()
	}
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: tcp4 loopback unavailable (%v)", err)
	}
	transport := &http.Transport{}
	s := &LoopbackServer{
		URL:       "http://" + l.Addr().String(),
		listener:  l,
		server:    &http.Server{Handler: handler},
		transport: transport,
		client:    &http.Client{Transport: transport},
	}
	go func() {
		if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("loopback server: %v", err)
		}
	}()
	t.Cleanup(s.Close)
	return s
}

// Client returns an HTTP client configured for the server.
func (s *LoopbackServer) Client() *http.Client {
	return s.client
}

// Close shuts down the server. Safe to call more than once.
func (s *LoopbackServer) Close() {
	s.closeOnce.Do(func() {
		_ = s.server.Shutdown(context.Background())
		s.transport.CloseIdleConnections()
	})
}
