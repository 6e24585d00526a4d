package room

import (
	"context"
	"errors"
	"time"

	"scoreroom/internal/backend"
	"scoreroom/internal/model"
)

const maxSeatAttempts = 3

// CreateRoom inserts a waiting room hosted by the current user and joins
// it. It returns nil on failure.
func (s *Store) CreateRoom(ctx context.Context, settings model.RoomSettings) *model.Room {
	userID := s.userID()
	if userID == "" {
		s.logger.Error("create room error", "error", backend.ErrUnauthenticated)
		return nil
	}
	s.setLoading(true)
	defer s.setLoading(false)

	for attempt := 0; attempt < s.codeAttempts; attempt++ {
		code := model.NewRoomCode()
		room, err := s.data.InsertRoom(ctx, model.Room{
			RoomCode:     code,
			HostID:       userID,
			Status:       model.StatusWaiting,
			RoomSettings: settings,
		})
		if errors.Is(err, backend.ErrCodeTaken) {
			s.logger.Debug("room code taken, retrying", "room_code", code)
			continue
		}
		if err != nil {
			s.logger.Error("create room error", "error", err)
			return nil
		}
		s.update(func() {
			s.room = &room
			s.players = nil
			s.rounds = nil
		})
		s.JoinRoom(ctx, room.ID)
		s.logger.Info("room created", "room_id", room.ID, "room_code", room.RoomCode, "host_id", userID)
		return &room
	}
	s.logger.Error("create room error", "error", backend.ErrCodeTaken, "attempts", s.codeAttempts)
	return nil
}

// FindRoomByCode returns a waiting or playing room with code, or nil.
func (s *Store) FindRoomByCode(ctx context.Context, code string) *model.Room {
	room, err := s.data.FindRoomByCode(ctx, code)
	if err != nil {
		s.logger.Warn("find room error", "room_code", code, "error", err)
		return nil
	}
	return &room
}

// JoinRoom makes the current user a member of roomID. Joining again is a
// no-op; an inactive membership is reactivated with its score intact.
func (s *Store) JoinRoom(ctx context.Context, roomID string) bool {
	userID := s.userID()
	if userID == "" {
		s.logger.Error("join room error", "room_id", roomID, "error", backend.ErrUnauthenticated)
		return false
	}

	existing, err := s.data.GetMembership(ctx, roomID, userID)
	switch {
	case err == nil:
		return s.rejoin(ctx, existing)
	case !errors.Is(err, backend.ErrNotFound):
		s.logger.Error("join room error", "room_id", roomID, "error", err)
		return false
	}

	room, err := s.data.GetRoom(ctx, roomID)
	if err != nil {
		s.logger.Error("join room error", "room_id", roomID, "error", err)
		return false
	}

	for attempt := 0; attempt < maxSeatAttempts; attempt++ {
		taken, err := s.data.TakenSeats(ctx, roomID)
		if err != nil {
			s.logger.Error("join room error", "room_id", roomID, "error", err)
			return false
		}
		seat := model.NextSeat(taken)
		_, err = s.data.InsertPlayer(ctx, model.RoomPlayer{
			RoomID:       roomID,
			PlayerID:     userID,
			SeatIndex:    seat,
			CurrentScore: room.InitialScore,
			IsActive:     true,
			IsReady:      false,
		})
		if errors.Is(err, backend.ErrDuplicate) {
			if existing, err := s.data.GetMembership(ctx, roomID, userID); err == nil {
				return s.rejoin(ctx, existing)
			}
			s.logger.Debug("seat taken, retrying", "room_id", roomID, "seat_index", seat)
			continue
		}
		if err != nil {
			s.logger.Error("join room error", "room_id", roomID, "error", err)
			return false
		}
		s.persistCurrentRoom(roomID)
		s.logger.Info("player joined", "room_id", roomID, "player_id", userID, "seat_index", seat)
		return true
	}
	s.logger.Error("join room error", "room_id", roomID, "error", "no free seat after retries")
	return false
}

func (s *Store) rejoin(ctx context.Context, member model.RoomPlayer) bool {
	if !member.IsActive {
		active := true
		if _, err := s.data.UpdatePlayer(ctx, member.RoomID, member.PlayerID, backend.PlayerUpdate{IsActive: &active}); err != nil {
			s.logger.Error("rejoin room error", "room_id", member.RoomID, "error", err)
			return false
		}
		s.logger.Info("player rejoined", "room_id", member.RoomID, "player_id", member.PlayerID)
	}
	s.persistCurrentRoom(member.RoomID)
	return true
}

// LoadRoom refreshes room, players and rounds. A failed fetch stops the
// refresh; whatever was loaded before stays cached.
func (s *Store) LoadRoom(ctx context.Context, roomID string) bool {
	s.setLoading(true)
	defer s.setLoading(false)

	room, err := s.data.GetRoom(ctx, roomID)
	if err != nil {
		s.logger.Error("load room error", "room_id", roomID, "error", err)
		return false
	}
	s.update(func() {
		if s.room == nil || s.room.ID != room.ID {
			s.players = nil
			s.rounds = nil
		}
		s.room = &room
	})
	if _, ok := s.refreshPlayers(ctx, roomID); !ok {
		return false
	}
	return s.refreshRounds(ctx, roomID)
}

// Resume reloads and resubscribes to the room saved by the last join. A
// saved room that has finished, or no longer seats the caller as an active
// player, is forgotten.
func (s *Store) Resume(ctx context.Context) bool {
	roomID := s.SavedRoomID()
	if roomID == "" {
		return false
	}
	if !s.LoadRoom(ctx, roomID) {
		return false
	}
	if !s.seatedIn() {
		s.clearCurrentRoom()
		s.Reset()
		return false
	}
	s.SubscribeToRoom(roomID)
	return true
}

func (s *Store) seatedIn() bool {
	room := s.cachedRoom()
	if room == nil || room.Status == model.StatusFinished {
		return false
	}
	userID := s.userID()
	for _, player := range s.cachedPlayers() {
		if player.PlayerID == userID {
			return player.IsActive
		}
	}
	return false
}

func (s *Store) StartGame(ctx context.Context) bool {
	room := s.cachedRoom()
	if room == nil {
		return false
	}
	playing := model.StatusPlaying
	now := time.Now().UTC()
	updated, err := s.data.UpdateRoom(ctx, room.ID, backend.RoomUpdate{Status: &playing, StartedAt: &now})
	if err != nil {
		s.logger.Error("start game error", "room_id", room.ID, "error", err)
		return false
	}
	s.applyRoom(updated)
	s.persistCurrentRoom(room.ID)
	s.broadcast(model.ActionStartGame)
	s.logger.Info("game started", "room_id", room.ID)
	return true
}

// RecordRound appends a round of score deltas keyed by player id. The
// result reports whether the round was stored.
func (s *Store) RecordRound(ctx context.Context, scores map[string]int) bool {
	room := s.cachedRoom()
	if room == nil {
		return false
	}
	round, err := s.data.RecordRound(ctx, room.ID, s.userID(), scores)
	if err != nil {
		s.logger.Error("record round error", "room_id", room.ID, "error", err)
		return false
	}
	s.refreshRounds(ctx, room.ID)
	s.refreshPlayers(ctx, room.ID)
	s.logger.Info("round recorded", "room_id", room.ID, "round_number", round.RoundNumber)
	return true
}

// EndGame finishes the room and writes one match per player.
func (s *Store) EndGame(ctx context.Context) bool {
	room := s.cachedRoom()
	if room == nil {
		return false
	}
	players, ok := s.refreshPlayers(ctx, room.ID)
	if !ok {
		players = s.cachedPlayers()
	}
	updated, err := s.data.SettleRoom(ctx, room.ID, model.Settle(room.ID, players))
	if err != nil {
		s.logger.Error("end game error", "room_id", room.ID, "error", err)
		return false
	}
	s.applyRoom(updated)
	s.broadcast(model.ActionEndGame)
	s.clearCurrentRoom()
	s.logger.Info("game ended", "room_id", room.ID, "players", len(players))
	return true
}

// LeaveRoom deletes the caller's membership. Used before the game starts.
func (s *Store) LeaveRoom(ctx context.Context) bool {
	room := s.cachedRoom()
	userID := s.userID()
	if room == nil || userID == "" {
		return false
	}
	if err := s.data.DeletePlayer(ctx, room.ID, userID); err != nil {
		s.logger.Error("leave room error", "room_id", room.ID, "error", err)
		return false
	}
	s.clearCurrentRoom()
	s.logger.Info("player left room", "room_id", room.ID, "player_id", userID)
	return true
}

// LeaveGame marks the caller inactive, keeping their score. The last
// active player to leave ends the game.
func (s *Store) LeaveGame(ctx context.Context) bool {
	room := s.cachedRoom()
	userID := s.userID()
	if room == nil || userID == "" {
		return false
	}
	inactive := false
	if _, err := s.data.UpdatePlayer(ctx, room.ID, userID, backend.PlayerUpdate{IsActive: &inactive}); err != nil {
		s.logger.Error("leave game error", "room_id", room.ID, "error", err)
		return false
	}
	if players, ok := s.refreshPlayers(ctx, room.ID); ok && model.ActiveCount(players) == 0 {
		s.EndGame(ctx)
	}
	s.clearCurrentRoom()
	s.logger.Info("player left game", "room_id", room.ID, "player_id", userID)
	return true
}

func (s *Store) SetReady(ctx context.Context, ready bool) bool {
	room := s.cachedRoom()
	userID := s.userID()
	if room == nil || userID == "" {
		return false
	}
	if _, err := s.data.UpdatePlayer(ctx, room.ID, userID, backend.PlayerUpdate{IsReady: &ready}); err != nil {
		s.logger.Error("set ready error", "room_id", room.ID, "error", err)
		return false
	}
	s.refreshPlayers(ctx, room.ID)
	return true
}

// KickPlayer removes playerID from the room. Only hosts should call it;
// the store does not check.
func (s *Store) KickPlayer(ctx context.Context, playerID string) bool {
	room := s.cachedRoom()
	if room == nil {
		return false
	}
	if err := s.data.DeletePlayer(ctx, room.ID, playerID); err != nil {
		s.logger.Error("kick player error", "room_id", room.ID, "player_id", playerID, "error", err)
		return false
	}
	s.refreshPlayers(ctx, room.ID)
	s.logger.Info("player kicked", "room_id", room.ID, "player_id", playerID)
	return true
}

// DisbandRoom removes every membership and finishes the room without a
// broadcast.
func (s *Store) DisbandRoom(ctx context.Context) bool {
	room := s.cachedRoom()
	if room == nil {
		return false
	}
	if err := s.data.DeletePlayers(ctx, room.ID); err != nil {
		s.logger.Error("disband room error", "room_id", room.ID, "error", err)
		return false
	}
	finished := model.StatusFinished
	updated, err := s.data.UpdateRoom(ctx, room.ID, backend.RoomUpdate{Status: &finished})
	if err != nil {
		s.logger.Error("disband room error", "room_id", room.ID, "error", err)
		return false
	}
	s.applyRoom(updated)
	s.setPlayers(room.ID, nil)
	s.clearCurrentRoom()
	s.logger.Info("room disbanded", "room_id", room.ID)
	return true
}

// TransferHost hands the room to newHostID and marks the caller inactive.
func (s *Store) TransferHost(ctx context.Context, newHostID string) bool {
	room := s.cachedRoom()
	userID := s.userID()
	if room == nil || userID == "" {
		return false
	}
	if _, err := s.data.GetMembership(ctx, room.ID, newHostID); err != nil {
		s.logger.Error("transfer host error", "room_id", room.ID, "new_host_id", newHostID, "error", err)
		return false
	}
	updated, err := s.data.UpdateRoom(ctx, room.ID, backend.RoomUpdate{HostID: &newHostID})
	if err != nil {
		s.logger.Error("transfer host error", "room_id", room.ID, "error", err)
		return false
	}
	s.applyRoom(updated)
	inactive := false
	if _, err := s.data.UpdatePlayer(ctx, room.ID, userID, backend.PlayerUpdate{IsActive: &inactive}); err != nil {
		s.logger.Error("transfer host error", "room_id", room.ID, "error", err)
	}
	s.clearCurrentRoom()
	s.logger.Info("host transferred", "room_id", room.ID, "from", userID, "to", newHostID)
	return true
}
