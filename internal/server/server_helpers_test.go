package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
)

// browser is an HTTP client with its own cookie jar, so each one is a
// separate anonymous session.
type browser struct {
	t      *testing.T
	ts     *httptest.Server
	jar    *cookiejar.Jar
	client *http.Client
}

func newBrowser(t *testing.T, ts *httptest.Server) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &browser{t: t, ts: ts, jar: jar, client: &http.Client{Jar: jar}}
}

func (b *browser) do(method, path string, payload any) *http.Response {
	b.t.Helper()
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			b.t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, b.ts.URL+path, body)
	if err != nil {
		b.t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := b.client.Do(req)
	if err != nil {
		b.t.Fatalf("do request: %v", err)
	}
	b.t.Cleanup(func() {
		_ = resp.Body.Close()
	})
	return resp
}

// expect performs the request and fails unless the status matches.
func (b *browser) expect(status int, method, path string, payload any) map[string]any {
	b.t.Helper()
	resp := b.do(method, path, payload)
	if resp.StatusCode != status {
		body := decodeBody(b.t, resp)
		b.t.Fatalf("%s %s: expected status %d, got %d (%v)", method, path, status, resp.StatusCode, body)
	}
	return decodeBody(b.t, resp)
}

func (b *browser) userID() string {
	b.t.Helper()
	body := b.expect(http.StatusOK, http.MethodGet, "/api/me", nil)
	user, ok := body["user"].(map[string]any)
	if !ok {
		b.t.Fatalf("expected user object, got %#v", body["user"])
	}
	return user["id"].(string)
}

func (b *browser) createRoom(settings map[string]any) (string, string) {
	b.t.Helper()
	body := b.expect(http.StatusCreated, http.MethodPost, "/api/rooms", settings)
	return body["room_id"].(string), body["room_code"].(string)
}

func (b *browser) join(roomID string) map[string]any {
	b.t.Helper()
	return b.expect(http.StatusOK, http.MethodPost, "/api/rooms/"+roomID+"/join", nil)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func roomStatus(state map[string]any) string {
	room, _ := state["room"].(map[string]any)
	status, _ := room["status"].(string)
	return status
}

func players(state map[string]any) []map[string]any {
	raw, _ := state["players"].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if player, ok := item.(map[string]any); ok {
			out = append(out, player)
		}
	}
	return out
}

func scoreOf(state map[string]any, playerID string) (int, bool) {
	for _, player := range players(state) {
		if player["player_id"] == playerID {
			return int(player["current_score"].(float64)), true
		}
	}
	return 0, false
}
