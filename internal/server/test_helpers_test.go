package server

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"scoreroom/internal/config"
	"scoreroom/internal/logging"

	"github.com/gin-gonic/gin"
)

func newTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test; listen unavailable: %v", err)
	}
	ts := &httptest.Server{
		Listener: listener,
		Config:   &http.Server{Handler: handler},
	}
	ts.Start()
	return ts
}

// newMemoryServer starts a server on the in-memory backend.
func newMemoryServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := New(nil, nil, nil, config.Default(), logging.Discard())
	ts := newTestServer(t, srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return srv, ts
}
