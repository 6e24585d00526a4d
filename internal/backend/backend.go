// Package backend defines the data and auth surface the client stores talk
// to, plus an in-memory implementation of it.
package backend

import (
	"context"
	"errors"
	"time"

	"scoreroom/internal/model"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicate         = errors.New("duplicate record")
	ErrCodeTaken         = errors.New("room code already in use")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadySettled    = errors.New("room already settled")
	ErrNoRoom            = errors.New("no current room")
	ErrUnauthenticated   = errors.New("not signed in")
)

type ProfileUpdate struct {
	Nickname  *string
	AvatarURL *string
}

type RoomUpdate struct {
	Status    *model.RoomStatus
	StartedAt *time.Time
	HostID    *string
}

type PlayerUpdate struct {
	IsActive *bool
	IsReady  *bool
}

// Data is the relational side of the backend. Every mutation publishes a
// row change for the affected room.
type Data interface {
	CreateAnonymousUser(ctx context.Context) (model.User, error)
	GetProfile(ctx context.Context, userID string) (model.Profile, error)
	UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (model.Profile, error)

	InsertRoom(ctx context.Context, room model.Room) (model.Room, error)
	GetRoom(ctx context.Context, roomID string) (model.Room, error)
	// FindRoomByCode only considers waiting and playing rooms.
	FindRoomByCode(ctx context.Context, code string) (model.Room, error)
	UpdateRoom(ctx context.Context, roomID string, update RoomUpdate) (model.Room, error)

	// ListPlayers returns memberships in seat order with profile fields.
	ListPlayers(ctx context.Context, roomID string) ([]model.RoomPlayer, error)
	GetMembership(ctx context.Context, roomID, playerID string) (model.RoomPlayer, error)
	TakenSeats(ctx context.Context, roomID string) ([]int, error)
	InsertPlayer(ctx context.Context, player model.RoomPlayer) (model.RoomPlayer, error)
	UpdatePlayer(ctx context.Context, roomID, playerID string, update PlayerUpdate) (model.RoomPlayer, error)
	DeletePlayer(ctx context.Context, roomID, playerID string) error
	DeletePlayers(ctx context.Context, roomID string) error

	// ListRounds returns rounds in round-number order.
	ListRounds(ctx context.Context, roomID string) ([]model.Round, error)
	// RecordRound appends the next round and adds each delta to the
	// matching player's score in one transaction.
	RecordRound(ctx context.Context, roomID, recordedBy string, scores map[string]int) (model.Round, error)

	// SettleRoom finishes the room and writes its matches in one
	// transaction. A room can only be settled once.
	SettleRoom(ctx context.Context, roomID string, matches []model.Match) (model.Room, error)
	ListMatches(ctx context.Context, playerID string) ([]model.Match, error)
}

type AuthEvent string

const (
	AuthSignedIn  AuthEvent = "SIGNED_IN"
	AuthSignedOut AuthEvent = "SIGNED_OUT"
)

// Auth resolves the identity of one client.
type Auth interface {
	GetSession(ctx context.Context) (*model.Session, error)
	SignInAnonymously(ctx context.Context) (*model.Session, error)
	OnAuthStateChange(fn func(event AuthEvent, session *model.Session)) (unsubscribe func())
}
