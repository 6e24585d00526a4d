package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWebsocketRequiresSession(t *testing.T) {
	_, ts := newMemoryServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected dial without session to fail")
	}
	if resp == nil {
		t.Skipf("skipping test; websocket dial unavailable: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestWebsocketPushesSnapshots(t *testing.T) {
	_, ts := newMemoryServer(t)
	host := newBrowser(t, ts)
	guest := newBrowser(t, ts)
	roomID, _ := host.createRoom(nil)

	conn := dialWS(t, host)
	defer conn.Close()

	first := readSnapshot(t, conn, 5*time.Second)
	if roomStatus(first) != "waiting" || len(players(first)) != 1 {
		t.Fatalf("unexpected initial snapshot %v", first)
	}

	guest.join(roomID)
	waitForSnapshot(t, conn, 5*time.Second, func(state map[string]any) bool {
		return len(players(state)) == 2
	})

	host.expect(http.StatusOK, http.MethodPost, "/api/room/start", nil)
	playing := waitForSnapshot(t, conn, 5*time.Second, func(state map[string]any) bool {
		return roomStatus(state) == "playing"
	})
	if playing["version"].(float64) <= first["version"].(float64) {
		t.Fatalf("expected version to grow from %v, got %v", first["version"], playing["version"])
	}
}

func TestWebsocketFollowsGuestView(t *testing.T) {
	_, ts := newMemoryServer(t)
	host := newBrowser(t, ts)
	guest := newBrowser(t, ts)
	guestID := guest.userID()
	hostID := host.userID()
	roomID, _ := host.createRoom(nil)
	guest.join(roomID)

	conn := dialWS(t, guest)
	defer conn.Close()
	readSnapshot(t, conn, 5*time.Second)

	host.expect(http.StatusOK, http.MethodPost, "/api/room/start", nil)
	waitForSnapshot(t, conn, 5*time.Second, func(state map[string]any) bool {
		return roomStatus(state) == "playing"
	})
	host.expect(http.StatusOK, http.MethodPost, "/api/room/rounds", map[string]any{
		"scores": map[string]int{hostID: 5, guestID: -5},
	})
	waitForSnapshot(t, conn, 5*time.Second, func(state map[string]any) bool {
		score, _ := scoreOf(state, guestID)
		return score == -5 && state["current_round"] == float64(1)
	})
}

func dialWS(t *testing.T, b *browser) *websocket.Conn {
	t.Helper()
	// Any request issues the session cookie.
	b.userID()
	dialer := websocket.Dialer{Jar: b.jar, HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial("ws"+strings.TrimPrefix(b.ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Skipf("skipping test; websocket dial unavailable: %v", err)
	}
	return conn
}

func readSnapshot(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read websocket message: %v", err)
	}
	var msg struct {
		Type  string         `json:"type"`
		State map[string]any `json:"state"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("decode websocket message: %v", err)
	}
	if msg.Type != "snapshot" {
		t.Fatalf("expected snapshot message, got %q", msg.Type)
	}
	return msg.State
}

func waitForSnapshot(t *testing.T, conn *websocket.Conn, timeout time.Duration, match func(map[string]any) bool) map[string]any {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("timed out waiting for matching snapshot")
		}
		state := readSnapshot(t, conn, remaining)
		if match(state) {
			return state
		}
	}
}
