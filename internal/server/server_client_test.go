package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"scoreroom/internal/backend"
	"scoreroom/internal/config"
	"scoreroom/internal/logging"
	"scoreroom/internal/model"
	"scoreroom/internal/realtime"

	"github.com/gin-gonic/gin"
)

// signInData fails or holds CreateAnonymousUser on demand.
type signInData struct {
	*backend.Memory

	mu       sync.Mutex
	failures int
	gate     chan struct{}
	entered  chan struct{}
}

func (d *signInData) CreateAnonymousUser(ctx context.Context) (model.User, error) {
	d.mu.Lock()
	fail := d.failures > 0
	if fail {
		d.failures--
	}
	gate, entered := d.gate, d.entered
	d.mu.Unlock()
	if fail {
		return model.User{}, errors.New("auth backend unavailable")
	}
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}
	return d.Memory.CreateAnonymousUser(ctx)
}

func newSignInServer(t *testing.T, data *signInData, hub *realtime.Hub) (*Server, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := New(data, hub, nil, config.Default(), logging.Discard())
	ts := newTestServer(t, srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return srv, ts
}

func newSignInData() (*signInData, *realtime.Hub) {
	hub := realtime.NewHub(logging.Discard())
	return &signInData{Memory: backend.NewMemory(hub)}, hub
}

func sessionOf(t *testing.T, b *browser) string {
	t.Helper()
	u, err := url.Parse(b.ts.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	for _, cookie := range b.jar.Cookies(u) {
		if cookie.Name == sessionCookie {
			return cookie.Value
		}
	}
	t.Fatalf("no session cookie")
	return ""
}

func TestSignInRetriesAfterBackendError(t *testing.T) {
	data, hub := newSignInData()
	data.failures = 1
	_, ts := newSignInServer(t, data, hub)
	b := newBrowser(t, ts)

	me := b.expect(http.StatusOK, http.MethodGet, "/api/me", nil)
	if me["user"] != nil {
		t.Fatalf("expected no user while sign-in fails, got %v", me["user"])
	}
	b.createRoom(nil)
	b.expect(http.StatusOK, http.MethodGet, "/api/me/matches", nil)
	if b.userID() == "" {
		t.Fatalf("expected a user after retry")
	}
}

func TestIdleClientsAreEvicted(t *testing.T) {
	srv, ts := newMemoryServer(t)
	for i := 0; i < 20; i++ {
		resp, err := http.Get(ts.URL + "/api/me")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		_ = resp.Body.Close()
	}

	live := newBrowser(t, ts)
	liveID := live.userID()
	conn := dialWS(t, live)
	defer conn.Close()
	readSnapshot(t, conn, 5*time.Second)
	session := sessionOf(t, live)
	eventually(t, "websocket registered", func() bool {
		return srv.ws.Count(session) > 0
	})

	if got := srv.clientCount(); got != 21 {
		t.Fatalf("expected 21 clients, got %d", got)
	}
	if got := srv.evictIdle(time.Now(), time.Minute); got != 0 {
		t.Fatalf("expected recent clients to stay, evicted %d", got)
	}
	if got := srv.evictIdle(time.Now().Add(time.Hour), time.Minute); got != 20 {
		t.Fatalf("expected 20 evictions, got %d", got)
	}
	if got := srv.clientCount(); got != 1 {
		t.Fatalf("expected the websocket session to stay, got %d clients", got)
	}

	returning := newBrowser(t, ts)
	returningID := returning.userID()
	srv.evictIdle(time.Now().Add(time.Hour), time.Minute)
	if got := returning.userID(); got != returningID {
		t.Fatalf("expected evicted session to keep user %s, got %s", returningID, got)
	}
	if got := live.userID(); got != liveID {
		t.Fatalf("expected live session to keep user %s, got %s", liveID, got)
	}
}

func TestSlowSignInDoesNotBlockOtherSessions(t *testing.T) {
	data, hub := newSignInData()
	_, ts := newSignInServer(t, data, hub)

	ready := newBrowser(t, ts)
	ready.userID()

	gate := make(chan struct{})
	data.mu.Lock()
	data.gate = gate
	data.entered = make(chan struct{})
	data.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		resp, err := http.Get(ts.URL + "/api/me")
		if err == nil {
			_ = resp.Body.Close()
		}
	}()
	select {
	case <-data.entered:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for sign-in to start")
	}

	ready.client.Timeout = 2 * time.Second
	ready.expect(http.StatusOK, http.MethodGet, "/api/me", nil)

	data.mu.Lock()
	data.gate = nil
	data.mu.Unlock()
	close(gate)
	<-done
}
