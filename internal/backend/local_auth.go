package backend

import (
	"context"
	"sync"

	"scoreroom/internal/model"
)

// LocalAuth holds the session of a single client. persist, if set, is
// called with the user id whenever the session changes.
type LocalAuth struct {
	data    Data
	persist func(userID string)

	mu        sync.Mutex
	session   *model.Session
	listeners map[int]func(AuthEvent, *model.Session)
	nextID    int
}

func NewLocalAuth(data Data, userID string, persist func(userID string)) *LocalAuth {
	auth := &LocalAuth{
		data:      data,
		persist:   persist,
		listeners: make(map[int]func(AuthEvent, *model.Session)),
	}
	if userID != "" {
		auth.session = newSession(model.User{ID: userID, IsAnonymous: true})
	}
	return auth
}

func (a *LocalAuth) GetSession(ctx context.Context) (*model.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil, nil
	}
	session := *a.session
	return &session, nil
}

func (a *LocalAuth) SignInAnonymously(ctx context.Context) (*model.Session, error) {
	user, err := a.data.CreateAnonymousUser(ctx)
	if err != nil {
		return nil, err
	}
	session := newSession(user)
	a.set(AuthSignedIn, session)
	out := *session
	return &out, nil
}

func (a *LocalAuth) SignOut(ctx context.Context) {
	a.set(AuthSignedOut, nil)
}

func (a *LocalAuth) OnAuthStateChange(fn func(AuthEvent, *model.Session)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, id)
	}
}

func (a *LocalAuth) set(event AuthEvent, session *model.Session) {
	a.mu.Lock()
	a.session = session
	listeners := make([]func(AuthEvent, *model.Session), 0, len(a.listeners))
	for _, fn := range a.listeners {
		listeners = append(listeners, fn)
	}
	a.mu.Unlock()

	userID := ""
	if session != nil {
		userID = session.User.ID
	}
	if a.persist != nil {
		a.persist(userID)
	}
	for _, fn := range listeners {
		var copied *model.Session
		if session != nil {
			s := *session
			copied = &s
		}
		fn(event, copied)
	}
}

func newSession(user model.User) *model.Session {
	return &model.Session{
		ID:   "sess-" + user.ID,
		User: user,
	}
}
