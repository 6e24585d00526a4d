package server

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"scoreroom/internal/auth"
	"scoreroom/internal/backend"
	"scoreroom/internal/room"

	"github.com/gin-gonic/gin"
)

// client is the server-side stand-in for one browser: its auth state and
// its mirror of the current room.
type client struct {
	sessionID string
	auth      *auth.Store
	room      *room.Store
	stopWatch func()
	logger    *slog.Logger

	// signInMu serializes sign-in for this session only.
	signInMu sync.Mutex
	lastSeen atomic.Int64
}

func (cl *client) close() {
	if cl.stopWatch != nil {
		cl.stopWatch()
	}
	cl.room.Reset()
	cl.auth.Close()
}

func (cl *client) touch(now time.Time) {
	cl.lastSeen.Store(now.UnixNano())
}

func (cl *client) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, cl.lastSeen.Load()))
}

// ensureSignedIn retries sign-in until the session has a user. The saved
// room is resumed once, right after the first successful sign-in.
func (cl *client) ensureSignedIn(ctx context.Context) {
	if cl.auth.IsAuthenticated() {
		return
	}
	cl.signInMu.Lock()
	defer cl.signInMu.Unlock()
	if cl.auth.IsAuthenticated() {
		return
	}
	cl.auth.Initialize(ctx)
	if !cl.auth.IsAuthenticated() {
		cl.logger.Warn("session not signed in; retrying on next request")
		return
	}
	if cl.room.Resume(ctx) {
		cl.logger.Info("resumed room", "room_id", cl.room.SubscribedRoom())
	}
}

// clientFor returns the session's client, creating it on first use. The
// map lock only guards the lookup and insert; sign-in happens outside it.
func (s *Server) clientFor(c *gin.Context) *client {
	id := s.sessions.ensureSessionID(c)
	s.clientsMu.Lock()
	cl, ok := s.clients[id]
	s.clientsMu.Unlock()
	if !ok {
		fresh := s.newClient(id)
		s.clientsMu.Lock()
		if cl, ok = s.clients[id]; !ok {
			cl = fresh
			s.clients[id] = cl
		}
		s.clientsMu.Unlock()
		if cl != fresh {
			fresh.close()
		}
	}
	cl.touch(s.now())
	cl.ensureSignedIn(c.Request.Context())
	return cl
}

// newClient builds the stores for a session without touching the backend.
func (s *Server) newClient(id string) *client {
	logger := s.logger.With("session", shortID(id))
	saved := s.sessions.Load(id)
	local := backend.NewLocalAuth(s.data, saved.UserID, func(userID string) {
		s.sessions.SetUser(id, userID)
	})
	authStore := auth.NewStore(local, s.data, logger)
	roomStore := room.NewStore(s.data, s.hub, authStore, sessionStorage{store: s.sessions, id: id}, logger, room.Options{
		CodeAttempts: s.cfg.RoomCodeAttempts,
	})
	cl := &client{sessionID: id, auth: authStore, room: roomStore, logger: logger}
	cl.stopWatch = roomStore.Watch(func(state room.State) {
		s.ws.Send(id, snapshotMessage(state))
	})
	return cl
}

// touchClient marks a session as active without creating a client.
func (s *Server) touchClient(id string) {
	s.clientsMu.Lock()
	cl := s.clients[id]
	s.clientsMu.Unlock()
	if cl != nil {
		cl.touch(s.now())
	}
}

// evictIdle closes clients that have no open websocket and have not been
// seen for longer than ttl. It returns how many were evicted.
func (s *Server) evictIdle(now time.Time, ttl time.Duration) int {
	var idle []*client
	s.clientsMu.Lock()
	for id, cl := range s.clients {
		if cl.idleSince(now) < ttl || s.ws.Count(id) > 0 {
			continue
		}
		idle = append(idle, cl)
		delete(s.clients, id)
	}
	s.clientsMu.Unlock()
	for _, cl := range idle {
		cl.close()
	}
	if len(idle) > 0 {
		s.logger.Debug("evicted idle clients", "count", len(idle))
	}
	return len(idle)
}

func (s *Server) sweepClients(ttl time.Duration) {
	interval := ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.evictIdle(s.now(), ttl)
		}
	}
}

func (s *Server) clientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
