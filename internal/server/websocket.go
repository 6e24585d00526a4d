package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"scoreroom/internal/room"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 5 * time.Second

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// wsHub groups sockets by session so every tab of a browser sees the same
// room snapshot.
type wsHub struct {
	mu     sync.Mutex
	groups map[string]map[*wsConn]struct{}
}

func newWSHub() *wsHub {
	return &wsHub{
		groups: make(map[string]map[*wsConn]struct{}),
	}
}

func (h *wsHub) Add(sessionID string, conn *websocket.Conn) *wsConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.groups[sessionID]
	if group == nil {
		group = make(map[*wsConn]struct{})
		h.groups[sessionID] = group
	}
	wc := &wsConn{conn: conn}
	group[wc] = struct{}{}
	return wc
}

func (h *wsHub) Remove(sessionID string, wc *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.groups[sessionID]
	if group == nil {
		return
	}
	delete(group, wc)
	_ = wc.conn.Close()
	if len(group) == 0 {
		delete(h.groups, sessionID)
	}
}

func (h *wsHub) Count(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups[sessionID])
}

func (h *wsHub) Send(sessionID string, payload any) {
	h.mu.Lock()
	group := h.groups[sessionID]
	conns := make([]*wsConn, 0, len(group))
	for wc := range group {
		conns = append(conns, wc)
	}
	h.mu.Unlock()
	if len(conns) == 0 {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	for _, wc := range conns {
		if err := wc.write(data); err != nil {
			h.Remove(sessionID, wc)
		}
	}
}

func snapshotMessage(state room.State) map[string]any {
	return map[string]any{
		"type":  "snapshot",
		"state": state,
	}
}

func (s *Server) handleWebsocket(c *gin.Context) {
	// The upgrade response cannot carry a new cookie, so the session must
	// already exist.
	id := sessionID(c.Request)
	if id == "" {
		writeError(c, http.StatusUnauthorized, "session required")
		return
	}
	cl := s.clientFor(c)
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	s.logger.Debug("ws connected", "session", shortID(id), "remote", c.Request.RemoteAddr)
	wc := s.ws.Add(id, conn)
	if data, err := json.Marshal(snapshotMessage(cl.room.State())); err == nil {
		if err := wc.write(data); err != nil {
			s.ws.Remove(id, wc)
			return
		}
	}
	go s.readWS(id, wc)
}

// readWS drains the socket until the peer goes away. Clients only listen.
// The idle clock restarts when the socket closes.
func (s *Server) readWS(sessionID string, wc *wsConn) {
	defer func() {
		s.ws.Remove(sessionID, wc)
		s.touchClient(sessionID)
	}()
	for {
		if _, _, err := wc.conn.ReadMessage(); err != nil {
			return
		}
	}
}
