package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"scoreroom/internal/config"
	"scoreroom/internal/db"
	"scoreroom/internal/logging"
	"scoreroom/internal/realtime"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

// newDBServer starts a server over conn with its own hub, as a fresh
// process would.
func newDBServer(t *testing.T, conn *gorm.DB) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logging.Discard()
	hub := realtime.NewHub(logger)
	srv := New(db.NewBackend(conn, hub, logger), hub, conn, config.Default(), logger)
	ts := newTestServer(t, srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return ts
}

// on returns a browser sharing b's cookies against another server.
func (b *browser) on(ts *httptest.Server) *browser {
	return &browser{t: b.t, ts: ts, jar: b.jar, client: b.client}
}

func TestSessionResumesAcrossRestart(t *testing.T) {
	conn := openTestDB(t)
	first := newDBServer(t, conn)

	host := newBrowser(t, first)
	guest := newBrowser(t, first)
	hostID := host.userID()
	guestID := guest.userID()
	roomID, _ := host.createRoom(map[string]any{"initial_score": 50})
	guest.join(roomID)
	host.expect(http.StatusOK, http.MethodPost, "/api/room/start", nil)
	host.expect(http.StatusOK, http.MethodPost, "/api/room/rounds", map[string]any{
		"scores": map[string]int{hostID: 15, guestID: -15},
	})

	second := newDBServer(t, conn)
	resumed := guest.on(second)
	if got := resumed.userID(); got != guestID {
		t.Fatalf("expected session to keep user %s, got %s", guestID, got)
	}
	state := resumed.expect(http.StatusOK, http.MethodGet, "/api/room", nil)
	if roomStatus(state) != "playing" {
		t.Fatalf("expected resumed room to be playing, got %s", roomStatus(state))
	}
	if score, _ := scoreOf(state, guestID); score != 35 {
		t.Fatalf("expected guest score 35 after resume, got %d", score)
	}
	if state["current_round"] != float64(1) {
		t.Fatalf("expected round 1 after resume, got %v", state["current_round"])
	}

	resumed.expect(http.StatusOK, http.MethodPost, "/api/room/leave-game", nil)
	host.expect(http.StatusOK, http.MethodPost, "/api/room/leave-game", nil)

	matches := resumed.expect(http.StatusOK, http.MethodGet, "/api/me/matches", nil)["matches"].([]any)
	if len(matches) != 1 {
		t.Fatalf("expected one match, got %d", len(matches))
	}
	if matches[0].(map[string]any)["is_winner"] != false {
		t.Fatalf("expected guest to lose, got %v", matches[0])
	}
}

func TestFinishedRoomIsNotResumed(t *testing.T) {
	conn := openTestDB(t)
	first := newDBServer(t, conn)

	host := newBrowser(t, first)
	guest := newBrowser(t, first)
	roomID, _ := host.createRoom(nil)
	guest.join(roomID)
	host.expect(http.StatusOK, http.MethodPost, "/api/room/disband", nil)

	second := newDBServer(t, conn)
	guest.on(second).expect(http.StatusNotFound, http.MethodGet, "/api/room", nil)
}

func TestRoomEventsArePaged(t *testing.T) {
	conn := openTestDB(t)
	ts := newDBServer(t, conn)

	host := newBrowser(t, ts)
	guest := newBrowser(t, ts)
	roomID, _ := host.createRoom(nil)
	guest.join(roomID)
	host.expect(http.StatusOK, http.MethodPost, "/api/room/start", nil)

	body := host.expect(http.StatusOK, http.MethodGet, "/api/room/events?per_page=2", nil)
	events := body["events"].([]any)
	if len(events) != 2 {
		t.Fatalf("expected 2 events on the first page, got %d", len(events))
	}
	if events[0].(map[string]any)["type"] != "room_created" {
		t.Fatalf("expected room_created first, got %v", events[0])
	}
	pagination := body["pagination"].(map[string]any)
	if pagination["total"] != float64(4) || pagination["has_next"] != true {
		t.Fatalf("unexpected pagination %v", pagination)
	}

	body = host.expect(http.StatusOK, http.MethodGet, "/api/room/events?per_page=2&page=9", nil)
	events = body["events"].([]any)
	if len(events) != 2 || events[1].(map[string]any)["type"] != "game_started" {
		t.Fatalf("expected last page to hold game_started, got %v", events)
	}
}

func TestRoomEventsUnavailableWithoutDB(t *testing.T) {
	_, ts := newMemoryServer(t)
	host := newBrowser(t, ts)
	host.createRoom(nil)
	host.expect(http.StatusServiceUnavailable, http.MethodGet, "/api/room/events", nil)
}
