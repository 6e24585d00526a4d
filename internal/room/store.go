// Package room keeps one client's mirror of a scoring room in sync with
// the backend and with other clients.
package room

import (
	"encoding/json"
	"log/slog"
	"sync"

	"scoreroom/internal/backend"
	"scoreroom/internal/model"
	"scoreroom/internal/realtime"
)

const currentRoomKey = "currentRoom"

const defaultCodeAttempts = 5

// Storage is the client's durable key/value storage.
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Remove(key string) error
}

type Realtime interface {
	Channel(topic string) *realtime.Channel
	RemoveChannel(ch *realtime.Channel)
}

// Identity reports the signed-in user. *auth.Store satisfies it.
type Identity interface {
	UserID() string
}

type Options struct {
	// CodeAttempts bounds how many room codes CreateRoom tries.
	CodeAttempts int
}

// State is a copy of the store's mirror plus derived values.
type State struct {
	Room          *model.Room        `json:"room"`
	Players       []model.RoomPlayer `json:"players"`
	Rounds        []model.Round      `json:"rounds"`
	Loading       bool               `json:"loading"`
	RoomCode      string             `json:"room_code,omitempty"`
	IsHost        bool               `json:"is_host"`
	CurrentRound  int                `json:"current_round"`
	SortedPlayers []model.RoomPlayer `json:"sorted_players"`
	// Version increases with every change; a larger one is always newer.
	Version uint64 `json:"version"`
}

type Store struct {
	data         backend.Data
	rt           Realtime
	identity     Identity
	storage      Storage
	logger       *slog.Logger
	codeAttempts int

	// notifyMu orders updates with their delivery to watchers.
	notifyMu    sync.Mutex
	mu          sync.Mutex
	version     uint64
	room        *model.Room
	players     []model.RoomPlayer
	rounds      []model.Round
	loading     bool
	channel     *realtime.Channel
	channelRoom string
	watchers    map[int]func(State)
	nextWatcher int
}

func NewStore(data backend.Data, rt Realtime, identity Identity, storage Storage, logger *slog.Logger, opts Options) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	attempts := opts.CodeAttempts
	if attempts <= 0 {
		attempts = defaultCodeAttempts
	}
	return &Store{
		data:         data,
		rt:           rt,
		identity:     identity,
		storage:      storage,
		logger:       logger,
		codeAttempts: attempts,
		watchers:     make(map[int]func(State)),
	}
}

// Watch registers fn to receive the state after every cache change.
func (s *Store) Watch(fn func(State)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Store) Room() *model.Room {
	return s.State().Room
}

func (s *Store) Players() []model.RoomPlayer {
	return s.State().Players
}

func (s *Store) Rounds() []model.Round {
	return s.State().Rounds
}

func (s *Store) RoomCode() string {
	return s.State().RoomCode
}

func (s *Store) IsHost() bool {
	return s.State().IsHost
}

func (s *Store) CurrentRound() int {
	return s.State().CurrentRound
}

func (s *Store) SortedPlayers() []model.RoomPlayer {
	return s.State().SortedPlayers
}

// Reset drops the subscription and the cached room.
func (s *Store) Reset() {
	s.Unsubscribe()
	s.update(func() {
		s.room = nil
		s.players = nil
		s.rounds = nil
	})
}

func (s *Store) stateLocked() State {
	state := State{
		Players:      append([]model.RoomPlayer{}, s.players...),
		Rounds:       append([]model.Round{}, s.rounds...),
		Loading:      s.loading,
		CurrentRound: len(s.rounds),
		Version:      s.version,
	}
	if s.room != nil {
		room := *s.room
		state.Room = &room
		state.RoomCode = room.RoomCode
		if s.identity != nil {
			state.IsHost = room.HostID != "" && room.HostID == s.identity.UserID()
		}
	}
	state.SortedPlayers = model.SortedByScore(state.Players)
	return state
}

// update applies fn under the lock and then notifies watchers. Watchers
// see states in version order and must not call back into update.
func (s *Store) update(fn func()) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	fn()
	s.version++
	state := s.stateLocked()
	watchers := make([]func(State), 0, len(s.watchers))
	for _, w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.mu.Unlock()
	for _, w := range watchers {
		w(state)
	}
}

func (s *Store) setLoading(loading bool) {
	s.update(func() {
		s.loading = loading
	})
}

func (s *Store) cachedRoom() *model.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return nil
	}
	room := *s.room
	return &room
}

func (s *Store) cachedPlayers() []model.RoomPlayer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.RoomPlayer{}, s.players...)
}

// applyRoom replaces the cached room with row. A row that would move the
// status backwards keeps the cached status, so an optimistic broadcast is
// not undone by a late row update.
func (s *Store) applyRoom(row model.Room) {
	s.update(func() {
		if s.room != nil && s.room.ID != row.ID {
			return
		}
		if s.room != nil && !model.CanTransition(s.room.Status, row.Status) {
			row.Status = s.room.Status
		}
		s.room = &row
	})
}

// applyStatus flips the cached status if it moves forward.
func (s *Store) applyStatus(status model.RoomStatus) {
	s.update(func() {
		if s.room == nil || !model.Advances(s.room.Status, status) {
			return
		}
		room := *s.room
		room.Status = status
		s.room = &room
	})
}

func (s *Store) setPlayers(roomID string, players []model.RoomPlayer) {
	s.update(func() {
		if s.room != nil && s.room.ID != roomID {
			return
		}
		s.players = players
	})
}

func (s *Store) setRounds(roomID string, rounds []model.Round) {
	s.update(func() {
		if s.room != nil && s.room.ID != roomID {
			return
		}
		s.rounds = rounds
	})
}

func (s *Store) persistCurrentRoom(roomID string) {
	if s.storage == nil {
		return
	}
	data, err := json.Marshal(model.CurrentRoom{ID: roomID})
	if err != nil {
		return
	}
	if err := s.storage.Set(currentRoomKey, string(data)); err != nil {
		s.logger.Warn("persist current room", "room_id", roomID, "error", err)
	}
}

func (s *Store) clearCurrentRoom() {
	if s.storage == nil {
		return
	}
	if err := s.storage.Remove(currentRoomKey); err != nil {
		s.logger.Warn("clear current room", "error", err)
	}
}

// SavedRoomID returns the room persisted by the last join, if any.
func (s *Store) SavedRoomID() string {
	if s.storage == nil {
		return ""
	}
	raw, ok := s.storage.Get(currentRoomKey)
	if !ok || raw == "" {
		return ""
	}
	var current model.CurrentRoom
	if err := json.Unmarshal([]byte(raw), &current); err != nil {
		return ""
	}
	return current.ID
}

func (s *Store) userID() string {
	if s.identity == nil {
		return ""
	}
	return s.identity.UserID()
}
