package server

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"scoreroom/internal/db"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const sessionCookie = "sr_session"

// sessionStore maps the session cookie to an anonymous user and the
// client's durable key/value storage. Without a database it keeps
// everything in memory.
type sessionStore struct {
	db       *gorm.DB
	logger   *slog.Logger
	mu       sync.Mutex
	sessions map[string]sessionData
}

type sessionData struct {
	UserID  string
	Storage map[string]string
}

func newSessionStore(conn *gorm.DB, logger *slog.Logger) *sessionStore {
	return &sessionStore{
		db:       conn,
		logger:   logger,
		sessions: make(map[string]sessionData),
	}
}

func (s *sessionStore) Load(id string) sessionData {
	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		data := s.sessions[id]
		return sessionData{UserID: data.UserID, Storage: copyStorage(data.Storage)}
	}
	var record db.Session
	if err := s.db.Where("id = ?", id).First(&record).Error; err != nil {
		return sessionData{Storage: map[string]string{}}
	}
	data := sessionData{UserID: record.UserID, Storage: map[string]string{}}
	for key, value := range record.Storage {
		if text, ok := value.(string); ok {
			data.Storage[key] = text
		}
	}
	return data
}

func (s *sessionStore) SetUser(id, userID string) {
	if s.db == nil {
		s.mu.Lock()
		data := s.sessions[id]
		data.UserID = userID
		s.sessions[id] = data
		s.mu.Unlock()
		return
	}
	record := db.Session{ID: id, UserID: userID}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		s.logger.Warn("save session user", "error", err)
	}
}

func (s *sessionStore) SetValue(id, key, value string) error {
	return s.mutate(id, func(storage map[string]string) {
		storage[key] = value
	})
}

func (s *sessionStore) RemoveValue(id, key string) error {
	return s.mutate(id, func(storage map[string]string) {
		delete(storage, key)
	})
}

func (s *sessionStore) mutate(id string, fn func(map[string]string)) error {
	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		data := s.sessions[id]
		if data.Storage == nil {
			data.Storage = make(map[string]string)
		}
		fn(data.Storage)
		s.sessions[id] = data
		return nil
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		var record db.Session
		err := tx.Where("id = ?", id).First(&record).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if record.ID == "" {
			record = db.Session{ID: id, CreatedAt: time.Now().UTC()}
		}
		storage := map[string]string{}
		for key, value := range record.Storage {
			if text, ok := value.(string); ok {
				storage[key] = text
			}
		}
		fn(storage)
		record.Storage = datatypes.JSONMap{}
		for key, value := range storage {
			record.Storage[key] = value
		}
		return tx.Save(&record).Error
	})
}

// sessionID returns the cookie value without issuing a new one.
func sessionID(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (s *sessionStore) ensureSessionID(c *gin.Context) string {
	if id := sessionID(c.Request); id != "" {
		return id
	}
	id := newSessionID()
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func newSessionID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("sess-%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", buf)
}

func copyStorage(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

// sessionStorage is one session's view of the store, used as the room
// store's durable storage.
type sessionStorage struct {
	store *sessionStore
	id    string
}

func (s sessionStorage) Get(key string) (string, bool) {
	value, ok := s.store.Load(s.id).Storage[key]
	return value, ok
}

func (s sessionStorage) Set(key, value string) error {
	return s.store.SetValue(s.id, key, value)
}

func (s sessionStorage) Remove(key string) error {
	return s.store.RemoveValue(s.id, key)
}
