// Package auth resolves the current user of a client and caches their
// profile.
package auth

import (
	"context"
	"log/slog"
	"sync"

	"scoreroom/internal/backend"
	"scoreroom/internal/model"
)

type Store struct {
	auth   backend.Auth
	data   backend.Data
	logger *slog.Logger

	mu          sync.RWMutex
	user        *model.User
	profile     *model.Profile
	loading     bool
	unsubscribe func()
}

func NewStore(auth backend.Auth, data backend.Data, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		auth:    auth,
		data:    data,
		logger:  logger,
		loading: true,
	}
}

// Initialize restores the session or signs in anonymously, loads the
// profile and then follows session changes.
func (s *Store) Initialize(ctx context.Context) {
	s.setLoading(true)
	session, err := s.auth.GetSession(ctx)
	switch {
	case err != nil:
		s.logger.Error("auth init error", "error", err)
	case session != nil:
		s.setUser(&session.User)
		s.FetchProfile(ctx)
	default:
		s.signInAnonymously(ctx)
	}
	s.setLoading(false)

	unsubscribe := s.auth.OnAuthStateChange(func(event backend.AuthEvent, session *model.Session) {
		if session == nil {
			s.setUser(nil)
			return
		}
		s.setUser(&session.User)
		s.FetchProfile(context.Background())
	})
	s.mu.Lock()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
}

func (s *Store) signInAnonymously(ctx context.Context) {
	session, err := s.auth.SignInAnonymously(ctx)
	if err != nil {
		s.logger.Error("anonymous sign-in error", "error", err)
		return
	}
	s.setUser(&session.User)
	s.FetchProfile(ctx)
}

// FetchProfile replaces the cached profile. Failures keep the old one.
func (s *Store) FetchProfile(ctx context.Context) {
	userID := s.UserID()
	if userID == "" {
		return
	}
	profile, err := s.data.GetProfile(ctx, userID)
	if err != nil {
		s.logger.Error("fetch profile error", "user_id", userID, "error", err)
		return
	}
	s.mu.Lock()
	s.profile = &profile
	s.mu.Unlock()
}

func (s *Store) UpdateNickname(ctx context.Context, nickname string) bool {
	return s.updateProfile(ctx, "nickname", backend.ProfileUpdate{Nickname: &nickname})
}

func (s *Store) UpdateAvatar(ctx context.Context, avatarURL string) bool {
	return s.updateProfile(ctx, "avatar", backend.ProfileUpdate{AvatarURL: &avatarURL})
}

func (s *Store) updateProfile(ctx context.Context, field string, update backend.ProfileUpdate) bool {
	userID := s.UserID()
	if userID == "" {
		return false
	}
	profile, err := s.data.UpdateProfile(ctx, userID, update)
	if err != nil {
		s.logger.Error("update profile error", "field", field, "user_id", userID, "error", err)
		return false
	}
	s.mu.Lock()
	s.profile = &profile
	s.mu.Unlock()
	return true
}

// Close stops following session changes.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

func (s *Store) User() *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	user := *s.user
	return &user
}

func (s *Store) Profile() *model.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return nil
	}
	profile := *s.profile
	return &profile
}

func (s *Store) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return ""
	}
	return s.user.ID
}

func (s *Store) IsAuthenticated() bool {
	return s.UserID() != ""
}

func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *Store) setUser(user *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user == nil {
		s.user = nil
		s.profile = nil
		return
	}
	copied := *user
	if s.user != nil && s.user.ID != copied.ID {
		s.profile = nil
	}
	s.user = &copied
}

func (s *Store) setLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = loading
}
