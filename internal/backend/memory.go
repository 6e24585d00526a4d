package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"scoreroom/internal/model"
	"scoreroom/internal/realtime"

	"github.com/google/uuid"
)

// Memory keeps every table in process. It is used when no database is
// configured and by the store tests.
type Memory struct {
	mu        sync.Mutex
	profiles  map[string]model.Profile
	rooms     map[string]model.Room
	players   map[string]model.RoomPlayer
	rounds    map[string][]model.Round
	matches   []model.Match
	publisher realtime.Publisher
}

func NewMemory(publisher realtime.Publisher) *Memory {
	return &Memory{
		profiles:  make(map[string]model.Profile),
		rooms:     make(map[string]model.Room),
		players:   make(map[string]model.RoomPlayer),
		rounds:    make(map[string][]model.Round),
		publisher: publisher,
	}
}

func (m *Memory) publish(changes ...realtime.Change) {
	if m.publisher == nil {
		return
	}
	for _, change := range changes {
		m.publisher.PublishChange(change)
	}
}

func (m *Memory) CreateAnonymousUser(ctx context.Context) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := timeNowUTC()
	id := uuid.NewString()
	m.profiles[id] = model.Profile{
		ID:        id,
		Nickname:  DefaultNickname(id),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return model.User{ID: id, IsAnonymous: true}, nil
}

func (m *Memory) GetProfile(ctx context.Context, userID string) (model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	profile, ok := m.profiles[userID]
	if !ok {
		return model.Profile{}, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	return profile, nil
}

func (m *Memory) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (model.Profile, error) {
	m.mu.Lock()
	profile, ok := m.profiles[userID]
	if !ok {
		m.mu.Unlock()
		return model.Profile{}, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	if update.Nickname != nil {
		profile.Nickname = *update.Nickname
	}
	if update.AvatarURL != nil {
		profile.AvatarURL = *update.AvatarURL
	}
	profile.UpdatedAt = timeNowUTC()
	m.profiles[userID] = profile

	var changes []realtime.Change
	for _, player := range m.players {
		if player.PlayerID == userID {
			changes = append(changes, realtime.NewChange(model.TableRoomPlayers, realtime.EventUpdate, player.RoomID, m.withProfile(player)))
		}
	}
	m.mu.Unlock()
	m.publish(changes...)
	return profile, nil
}

func (m *Memory) InsertRoom(ctx context.Context, room model.Room) (model.Room, error) {
	m.mu.Lock()
	for _, existing := range m.rooms {
		if existing.RoomCode == room.RoomCode && existing.Status.Joinable() {
			m.mu.Unlock()
			return model.Room{}, fmt.Errorf("room code %s: %w", room.RoomCode, ErrCodeTaken)
		}
	}
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	if room.Status == "" {
		room.Status = model.StatusWaiting
	}
	room.CreatedAt = timeNowUTC()
	m.rooms[room.ID] = room
	m.mu.Unlock()
	m.publish(realtime.NewChange(model.TableRooms, realtime.EventInsert, room.ID, room))
	return room, nil
}

func (m *Memory) GetRoom(ctx context.Context, roomID string) (model.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return model.Room{}, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	return room, nil
}

func (m *Memory) FindRoomByCode(ctx context.Context, code string) (model.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, room := range m.rooms {
		if room.RoomCode == code && room.Status.Joinable() {
			return room, nil
		}
	}
	return model.Room{}, fmt.Errorf("room code %s: %w", code, ErrNotFound)
}

func (m *Memory) UpdateRoom(ctx context.Context, roomID string, update RoomUpdate) (model.Room, error) {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return model.Room{}, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	if update.Status != nil {
		if !model.CanTransition(room.Status, *update.Status) {
			m.mu.Unlock()
			return model.Room{}, fmt.Errorf("room %s %s -> %s: %w", roomID, room.Status, *update.Status, ErrInvalidTransition)
		}
		room.Status = *update.Status
	}
	if update.StartedAt != nil {
		started := *update.StartedAt
		room.StartedAt = &started
	}
	if update.HostID != nil {
		room.HostID = *update.HostID
	}
	m.rooms[roomID] = room
	m.mu.Unlock()
	m.publish(realtime.NewChange(model.TableRooms, realtime.EventUpdate, roomID, room))
	return room, nil
}

func (m *Memory) ListPlayers(ctx context.Context, roomID string) ([]model.RoomPlayer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]model.RoomPlayer, 0)
	for _, player := range m.players {
		if player.RoomID == roomID {
			list = append(list, m.withProfile(player))
		}
	}
	model.SortBySeat(list)
	return list, nil
}

func (m *Memory) GetMembership(ctx context.Context, roomID, playerID string) (model.RoomPlayer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	player, ok := m.findMembership(roomID, playerID)
	if !ok {
		return model.RoomPlayer{}, fmt.Errorf("membership %s/%s: %w", roomID, playerID, ErrNotFound)
	}
	return m.withProfile(player), nil
}

func (m *Memory) TakenSeats(ctx context.Context, roomID string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seats := make([]int, 0)
	for _, player := range m.players {
		if player.RoomID == roomID {
			seats = append(seats, player.SeatIndex)
		}
	}
	sort.Ints(seats)
	return seats, nil
}

func (m *Memory) InsertPlayer(ctx context.Context, player model.RoomPlayer) (model.RoomPlayer, error) {
	m.mu.Lock()
	if _, ok := m.rooms[player.RoomID]; !ok {
		m.mu.Unlock()
		return model.RoomPlayer{}, fmt.Errorf("room %s: %w", player.RoomID, ErrNotFound)
	}
	for _, existing := range m.players {
		if existing.RoomID != player.RoomID {
			continue
		}
		if existing.PlayerID == player.PlayerID || existing.SeatIndex == player.SeatIndex {
			m.mu.Unlock()
			return model.RoomPlayer{}, fmt.Errorf("membership %s/%s seat %d: %w", player.RoomID, player.PlayerID, player.SeatIndex, ErrDuplicate)
		}
	}
	if player.ID == "" {
		player.ID = uuid.NewString()
	}
	player.JoinedAt = timeNowUTC()
	m.players[player.ID] = player
	row := m.withProfile(player)
	m.mu.Unlock()
	m.publish(realtime.NewChange(model.TableRoomPlayers, realtime.EventInsert, player.RoomID, row))
	return row, nil
}

func (m *Memory) UpdatePlayer(ctx context.Context, roomID, playerID string, update PlayerUpdate) (model.RoomPlayer, error) {
	m.mu.Lock()
	player, ok := m.findMembership(roomID, playerID)
	if !ok {
		m.mu.Unlock()
		return model.RoomPlayer{}, fmt.Errorf("membership %s/%s: %w", roomID, playerID, ErrNotFound)
	}
	if update.IsActive != nil {
		player.IsActive = *update.IsActive
	}
	if update.IsReady != nil {
		player.IsReady = *update.IsReady
	}
	m.players[player.ID] = player
	row := m.withProfile(player)
	m.mu.Unlock()
	m.publish(realtime.NewChange(model.TableRoomPlayers, realtime.EventUpdate, roomID, row))
	return row, nil
}

func (m *Memory) DeletePlayer(ctx context.Context, roomID, playerID string) error {
	m.mu.Lock()
	player, ok := m.findMembership(roomID, playerID)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("membership %s/%s: %w", roomID, playerID, ErrNotFound)
	}
	delete(m.players, player.ID)
	m.mu.Unlock()
	m.publish(realtime.NewChange(model.TableRoomPlayers, realtime.EventDelete, roomID, player))
	return nil
}

func (m *Memory) DeletePlayers(ctx context.Context, roomID string) error {
	m.mu.Lock()
	var changes []realtime.Change
	for id, player := range m.players {
		if player.RoomID == roomID {
			delete(m.players, id)
			changes = append(changes, realtime.NewChange(model.TableRoomPlayers, realtime.EventDelete, roomID, player))
		}
	}
	m.mu.Unlock()
	m.publish(changes...)
	return nil
}

func (m *Memory) ListRounds(ctx context.Context, roomID string) ([]model.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append([]model.Round{}, m.rounds[roomID]...)
	return list, nil
}

func (m *Memory) RecordRound(ctx context.Context, roomID, recordedBy string, scores map[string]int) (model.Round, error) {
	m.mu.Lock()
	if _, ok := m.rooms[roomID]; !ok {
		m.mu.Unlock()
		return model.Round{}, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	round := model.Round{
		ID:          uuid.NewString(),
		RoomID:      roomID,
		RoundNumber: len(m.rounds[roomID]) + 1,
		Scores:      copyScores(scores),
		RecordedBy:  recordedBy,
		CreatedAt:   timeNowUTC(),
	}
	m.rounds[roomID] = append(m.rounds[roomID], round)

	changes := []realtime.Change{
		realtime.NewChange(model.TableRounds, realtime.EventInsert, roomID, round),
	}
	for playerID, delta := range scores {
		player, ok := m.findMembership(roomID, playerID)
		if !ok {
			continue
		}
		player.CurrentScore += delta
		m.players[player.ID] = player
		changes = append(changes, realtime.NewChange(model.TableRoomPlayers, realtime.EventUpdate, roomID, m.withProfile(player)))
	}
	m.mu.Unlock()
	m.publish(changes...)
	return round, nil
}

func (m *Memory) SettleRoom(ctx context.Context, roomID string, matches []model.Match) (model.Room, error) {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return model.Room{}, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	for _, match := range m.matches {
		if match.RoomID == roomID {
			m.mu.Unlock()
			return model.Room{}, fmt.Errorf("room %s: %w", roomID, ErrAlreadySettled)
		}
	}
	room.Status = model.StatusFinished
	m.rooms[roomID] = room
	now := timeNowUTC()
	for _, match := range matches {
		match.ID = uuid.NewString()
		match.RoomID = roomID
		match.CreatedAt = now
		m.matches = append(m.matches, match)
	}
	m.mu.Unlock()
	m.publish(realtime.NewChange(model.TableRooms, realtime.EventUpdate, roomID, room))
	return room, nil
}

func (m *Memory) ListMatches(ctx context.Context, playerID string) ([]model.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]model.Match, 0)
	for i := len(m.matches) - 1; i >= 0; i-- {
		if m.matches[i].PlayerID == playerID {
			list = append(list, m.matches[i])
		}
	}
	return list, nil
}

// MatchesForRoom is used by tests to inspect settlement output.
func (m *Memory) MatchesForRoom(roomID string) []model.Match {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]model.Match, 0)
	for _, match := range m.matches {
		if match.RoomID == roomID {
			list = append(list, match)
		}
	}
	return list
}

func (m *Memory) findMembership(roomID, playerID string) (model.RoomPlayer, bool) {
	for _, player := range m.players {
		if player.RoomID == roomID && player.PlayerID == playerID {
			return player, true
		}
	}
	return model.RoomPlayer{}, false
}

func (m *Memory) withProfile(player model.RoomPlayer) model.RoomPlayer {
	if profile, ok := m.profiles[player.PlayerID]; ok {
		player.Nickname = profile.Nickname
		player.AvatarURL = profile.AvatarURL
	}
	return player
}

func copyScores(scores map[string]int) map[string]int {
	out := make(map[string]int, len(scores))
	for id, delta := range scores {
		out[id] = delta
	}
	return out
}

// DefaultNickname is given to freshly created anonymous profiles.
func DefaultNickname(userID string) string {
	if len(userID) > 4 {
		userID = userID[:4]
	}
	return "player-" + userID
}

func timeNowUTC() time.Time {
	return time.Now().UTC()
}
