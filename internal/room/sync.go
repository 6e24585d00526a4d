package room

import (
	"context"

	"scoreroom/internal/model"
	"scoreroom/internal/realtime"
)

// SubscribeToRoom replaces any existing subscription with one on
// room:<roomID>.
func (s *Store) SubscribeToRoom(roomID string) {
	ch := s.rt.Channel(realtime.RoomTopic(roomID))

	ch.OnChange(realtime.Filter{Event: realtime.EventAll, Table: model.TableRoomPlayers, RoomID: roomID}, func(realtime.Change) {
		s.refreshPlayers(context.Background(), roomID)
	})
	ch.OnChange(realtime.Filter{Event: realtime.EventUpdate, Table: model.TableRooms, RoomID: roomID}, func(change realtime.Change) {
		var row model.Room
		if err := change.DecodeNew(&row); err != nil {
			s.logger.Warn("decode room change", "room_id", roomID, "error", err)
			return
		}
		s.applyRoom(row)
	})
	ch.OnChange(realtime.Filter{Event: realtime.EventInsert, Table: model.TableRounds, RoomID: roomID}, func(realtime.Change) {
		ctx := context.Background()
		s.refreshRounds(ctx, roomID)
		s.refreshPlayers(ctx, roomID)
	})
	ch.OnBroadcast(model.GameControlEvent, func(b realtime.Broadcast) {
		action, _ := b.Payload["action"].(string)
		switch action {
		case model.ActionStartGame:
			s.applyStatus(model.StatusPlaying)
		case model.ActionEndGame:
			s.applyStatus(model.StatusFinished)
		}
	})

	s.mu.Lock()
	previous := s.channel
	s.channel = ch
	s.channelRoom = roomID
	s.mu.Unlock()
	if previous != nil {
		s.rt.RemoveChannel(previous)
	}

	ch.Subscribe(func(status realtime.Status, err error) {
		if status != realtime.StatusSubscribed {
			return
		}
		// Catch anything that changed between LoadRoom and the
		// subscription going live.
		ctx := context.Background()
		s.refreshPlayers(ctx, roomID)
		s.refreshRoom(ctx, roomID)
	})
	s.logger.Debug("subscribed to room", "room_id", roomID)
}

func (s *Store) Unsubscribe() {
	s.mu.Lock()
	ch := s.channel
	s.channel = nil
	s.channelRoom = ""
	s.mu.Unlock()
	if ch != nil {
		s.rt.RemoveChannel(ch)
	}
}

// SubscribedRoom returns the room of the live subscription, if any.
func (s *Store) SubscribedRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelRoom
}

func (s *Store) broadcast(action string) {
	s.mu.Lock()
	ch := s.channel
	s.mu.Unlock()
	if ch == nil {
		s.logger.Warn("game control not sent, no subscription", "action", action)
		return
	}
	err := ch.Send(realtime.Broadcast{
		Event:   model.GameControlEvent,
		Payload: map[string]any{"action": action},
	})
	if err != nil {
		s.logger.Warn("game control send error", "action", action, "error", err)
	}
}

func (s *Store) refreshPlayers(ctx context.Context, roomID string) ([]model.RoomPlayer, bool) {
	players, err := s.data.ListPlayers(ctx, roomID)
	if err != nil {
		s.logger.Error("fetch players error", "room_id", roomID, "error", err)
		return nil, false
	}
	s.setPlayers(roomID, players)
	return players, true
}

func (s *Store) refreshRounds(ctx context.Context, roomID string) bool {
	rounds, err := s.data.ListRounds(ctx, roomID)
	if err != nil {
		s.logger.Error("fetch rounds error", "room_id", roomID, "error", err)
		return false
	}
	s.setRounds(roomID, rounds)
	return true
}

func (s *Store) refreshRoom(ctx context.Context, roomID string) bool {
	room, err := s.data.GetRoom(ctx, roomID)
	if err != nil {
		s.logger.Error("fetch room error", "room_id", roomID, "error", err)
		return false
	}
	s.applyRoom(room)
	return true
}
