package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"scoreroom/internal/auth"
	"scoreroom/internal/backend"
	"scoreroom/internal/realtime"
)

type mapStorage struct {
	mu     sync.Mutex
	values map[string]string
}

func newMapStorage() *mapStorage {
	return &mapStorage{values: make(map[string]string)}
}

func (m *mapStorage) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	return value, ok
}

func (m *mapStorage) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *mapStorage) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

type client struct {
	auth    *auth.Store
	room    *Store
	storage *mapStorage
}

func (c *client) id() string {
	return c.auth.UserID()
}

type world struct {
	mem *backend.Memory
	hub *realtime.Hub
}

func newWorld() *world {
	hub := realtime.NewHub(nil)
	return &world{
		mem: backend.NewMemory(hub),
		hub: hub,
	}
}

func (w *world) client(t *testing.T) *client {
	t.Helper()
	return newClient(t, w.mem, w.hub)
}

func newClient(t *testing.T, data backend.Data, hub *realtime.Hub) *client {
	t.Helper()
	authStore := auth.NewStore(backend.NewLocalAuth(data, "", nil), data, nil)
	authStore.Initialize(context.Background())
	if !authStore.IsAuthenticated() {
		t.Fatalf("expected client to be signed in")
	}
	storage := newMapStorage()
	store := NewStore(data, hub, authStore, storage, nil, Options{})
	t.Cleanup(func() {
		store.Reset()
		authStore.Close()
	})
	return &client{auth: authStore, room: store, storage: storage}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
