package db

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"scoreroom/internal/backend"
	"scoreroom/internal/model"
	"scoreroom/internal/realtime"
)

const maxRoundAttempts = 3

// Backend implements backend.Data on top of GORM. Row changes are
// published after their transaction commits.
type Backend struct {
	db        *gorm.DB
	publisher realtime.Publisher
	logger    *slog.Logger
}

var _ backend.Data = (*Backend)(nil)

func NewBackend(conn *gorm.DB, publisher realtime.Publisher, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{db: conn, publisher: publisher, logger: logger}
}

func (b *Backend) publish(changes ...realtime.Change) {
	if b.publisher == nil {
		return
	}
	for _, change := range changes {
		b.publisher.PublishChange(change)
	}
}

// lockRoom loads the room row, locking it for the rest of tx on Postgres.
func lockRoom(tx *gorm.DB, roomID string) (Room, error) {
	query := tx
	if tx.Dialector.Name() == "postgres" {
		query = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var room Room
	if err := query.Where("id = ?", roomID).First(&room).Error; err != nil {
		if isNotFound(err) {
			return Room{}, fmt.Errorf("room %s: %w", roomID, backend.ErrNotFound)
		}
		return Room{}, err
	}
	return room, nil
}

func writeEvent(tx *gorm.DB, roomID string, playerID *string, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return tx.Create(&RoomEvent{
		RoomID:   roomID,
		PlayerID: playerID,
		Type:     eventType,
		Payload:  datatypes.JSON(data),
	}).Error
}

func (b *Backend) CreateAnonymousUser(ctx context.Context) (model.User, error) {
	id := uuid.NewString()
	profile := Profile{ID: id, Nickname: backend.DefaultNickname(id)}
	if err := b.db.WithContext(ctx).Create(&profile).Error; err != nil {
		return model.User{}, err
	}
	return model.User{ID: id, IsAnonymous: true}, nil
}

func (b *Backend) GetProfile(ctx context.Context, userID string) (model.Profile, error) {
	var profile Profile
	if err := b.db.WithContext(ctx).Where("id = ?", userID).First(&profile).Error; err != nil {
		if isNotFound(err) {
			return model.Profile{}, fmt.Errorf("profile %s: %w", userID, backend.ErrNotFound)
		}
		return model.Profile{}, err
	}
	return profile.toModel(), nil
}

func (b *Backend) UpdateProfile(ctx context.Context, userID string, update backend.ProfileUpdate) (model.Profile, error) {
	values := map[string]any{}
	if update.Nickname != nil {
		values["nickname"] = *update.Nickname
	}
	if update.AvatarURL != nil {
		values["avatar_url"] = *update.AvatarURL
	}
	conn := b.db.WithContext(ctx)
	if len(values) > 0 {
		result := conn.Model(&Profile{}).Where("id = ?", userID).Updates(values)
		if result.Error != nil {
			return model.Profile{}, result.Error
		}
		if result.RowsAffected == 0 {
			return model.Profile{}, fmt.Errorf("profile %s: %w", userID, backend.ErrNotFound)
		}
	}
	profile, err := b.GetProfile(ctx, userID)
	if err != nil {
		return model.Profile{}, err
	}

	var memberships []RoomPlayer
	if err := conn.Preload("Profile").Where("player_id = ?", userID).Find(&memberships).Error; err != nil {
		b.logger.Warn("profile fan-out lookup failed", "player_id", userID, "error", err)
		return profile, nil
	}
	changes := make([]realtime.Change, 0, len(memberships))
	for _, member := range memberships {
		changes = append(changes, realtime.NewChange(model.TableRoomPlayers, realtime.EventUpdate, member.RoomID, member.toModel()))
	}
	b.publish(changes...)
	return profile, nil
}

func (b *Backend) InsertRoom(ctx context.Context, room model.Room) (model.Room, error) {
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	if room.Status == "" {
		room.Status = model.StatusWaiting
	}
	record := roomRecord(room)
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&Room{}).
			Where("room_code = ? AND status <> ?", record.RoomCode, string(model.StatusFinished)).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return fmt.Errorf("room code %s: %w", record.RoomCode, backend.ErrCodeTaken)
		}
		if err := tx.Create(&record).Error; err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("room code %s: %w", record.RoomCode, backend.ErrCodeTaken)
			}
			return err
		}
		host := record.HostID
		return writeEvent(tx, record.ID, &host, eventRoomCreated, map[string]any{
			"room_code": record.RoomCode,
		})
	})
	if err != nil {
		return model.Room{}, err
	}
	created := record.toModel()
	b.publish(realtime.NewChange(model.TableRooms, realtime.EventInsert, created.ID, created))
	return created, nil
}

func (b *Backend) GetRoom(ctx context.Context, roomID string) (model.Room, error) {
	var room Room
	if err := b.db.WithContext(ctx).Where("id = ?", roomID).First(&room).Error; err != nil {
		if isNotFound(err) {
			return model.Room{}, fmt.Errorf("room %s: %w", roomID, backend.ErrNotFound)
		}
		return model.Room{}, err
	}
	return room.toModel(), nil
}

func (b *Backend) FindRoomByCode(ctx context.Context, code string) (model.Room, error) {
	var room Room
	err := b.db.WithContext(ctx).
		Where("room_code = ? AND status IN ?", code, []string{string(model.StatusWaiting), string(model.StatusPlaying)}).
		Order("created_at desc").
		First(&room).Error
	if err != nil {
		if isNotFound(err) {
			return model.Room{}, fmt.Errorf("room code %s: %w", code, backend.ErrNotFound)
		}
		return model.Room{}, err
	}
	return room.toModel(), nil
}

func (b *Backend) UpdateRoom(ctx context.Context, roomID string, update backend.RoomUpdate) (model.Room, error) {
	var updated Room
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := lockRoom(tx, roomID)
		if err != nil {
			return err
		}
		values := map[string]any{}
		eventType := ""
		payload := map[string]any{}
		if update.Status != nil {
			from := model.RoomStatus(room.Status)
			if !model.CanTransition(from, *update.Status) {
				return fmt.Errorf("room %s %s -> %s: %w", roomID, from, *update.Status, backend.ErrInvalidTransition)
			}
			values["status"] = string(*update.Status)
			payload["status"] = string(*update.Status)
			switch *update.Status {
			case model.StatusPlaying:
				eventType = eventGameStarted
			case model.StatusFinished:
				// settlement goes through SettleRoom
				eventType = eventRoomDisbanded
			}
		}
		if update.StartedAt != nil {
			values["started_at"] = update.StartedAt.UTC()
		}
		if update.HostID != nil {
			values["host_id"] = *update.HostID
			payload["from"] = room.HostID
			payload["to"] = *update.HostID
			eventType = eventHostTransferred
		}
		if len(values) > 0 {
			if err := tx.Model(&Room{}).Where("id = ?", roomID).Updates(values).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("id = ?", roomID).First(&updated).Error; err != nil {
			return err
		}
		if eventType == "" {
			return nil
		}
		return writeEvent(tx, roomID, nil, eventType, payload)
	})
	if err != nil {
		return model.Room{}, err
	}
	room := updated.toModel()
	b.publish(realtime.NewChange(model.TableRooms, realtime.EventUpdate, roomID, room))
	return room, nil
}

func (b *Backend) ListPlayers(ctx context.Context, roomID string) ([]model.RoomPlayer, error) {
	var records []RoomPlayer
	if err := b.db.WithContext(ctx).
		Preload("Profile").
		Where("room_id = ?", roomID).
		Order("seat_index asc").
		Find(&records).Error; err != nil {
		return nil, err
	}
	players := make([]model.RoomPlayer, 0, len(records))
	for _, record := range records {
		players = append(players, record.toModel())
	}
	return players, nil
}

func (b *Backend) GetMembership(ctx context.Context, roomID, playerID string) (model.RoomPlayer, error) {
	record, err := findMembership(b.db.WithContext(ctx), roomID, playerID)
	if err != nil {
		return model.RoomPlayer{}, err
	}
	return record.toModel(), nil
}

func findMembership(tx *gorm.DB, roomID, playerID string) (RoomPlayer, error) {
	var record RoomPlayer
	err := tx.Preload("Profile").
		Where("room_id = ? AND player_id = ?", roomID, playerID).
		First(&record).Error
	if err != nil {
		if isNotFound(err) {
			return RoomPlayer{}, fmt.Errorf("membership %s/%s: %w", roomID, playerID, backend.ErrNotFound)
		}
		return RoomPlayer{}, err
	}
	return record, nil
}

func (b *Backend) TakenSeats(ctx context.Context, roomID string) ([]int, error) {
	var seats []int
	if err := b.db.WithContext(ctx).
		Model(&RoomPlayer{}).
		Where("room_id = ?", roomID).
		Order("seat_index asc").
		Pluck("seat_index", &seats).Error; err != nil {
		return nil, err
	}
	return seats, nil
}

func (b *Backend) InsertPlayer(ctx context.Context, player model.RoomPlayer) (model.RoomPlayer, error) {
	if player.ID == "" {
		player.ID = uuid.NewString()
	}
	record := RoomPlayer{
		ID:           player.ID,
		RoomID:       player.RoomID,
		PlayerID:     player.PlayerID,
		SeatIndex:    player.SeatIndex,
		CurrentScore: player.CurrentScore,
		IsActive:     player.IsActive,
		IsReady:      player.IsReady,
		JoinedAt:     time.Now().UTC(),
	}
	var created RoomPlayer
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockRoom(tx, record.RoomID); err != nil {
			return err
		}
		var clash int64
		if err := tx.Model(&RoomPlayer{}).
			Where("room_id = ? AND (player_id = ? OR seat_index = ?)", record.RoomID, record.PlayerID, record.SeatIndex).
			Count(&clash).Error; err != nil {
			return err
		}
		if clash > 0 {
			return fmt.Errorf("membership %s/%s seat %d: %w", record.RoomID, record.PlayerID, record.SeatIndex, backend.ErrDuplicate)
		}
		// Omit the association so GORM does not upsert an empty profile.
		if err := tx.Omit("Profile").Create(&record).Error; err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("membership %s/%s seat %d: %w", record.RoomID, record.PlayerID, record.SeatIndex, backend.ErrDuplicate)
			}
			return err
		}
		var err error
		created, err = findMembership(tx, record.RoomID, record.PlayerID)
		if err != nil {
			return err
		}
		playerID := record.PlayerID
		return writeEvent(tx, record.RoomID, &playerID, eventPlayerJoined, map[string]any{
			"seat_index": record.SeatIndex,
		})
	})
	if err != nil {
		return model.RoomPlayer{}, err
	}
	row := created.toModel()
	b.publish(realtime.NewChange(model.TableRoomPlayers, realtime.EventInsert, row.RoomID, row))
	return row, nil
}

func (b *Backend) UpdatePlayer(ctx context.Context, roomID, playerID string, update backend.PlayerUpdate) (model.RoomPlayer, error) {
	values := map[string]any{}
	if update.IsActive != nil {
		values["is_active"] = *update.IsActive
	}
	if update.IsReady != nil {
		values["is_ready"] = *update.IsReady
	}
	conn := b.db.WithContext(ctx)
	if len(values) > 0 {
		result := conn.Model(&RoomPlayer{}).Where("room_id = ? AND player_id = ?", roomID, playerID).Updates(values)
		if result.Error != nil {
			return model.RoomPlayer{}, result.Error
		}
		if result.RowsAffected == 0 {
			return model.RoomPlayer{}, fmt.Errorf("membership %s/%s: %w", roomID, playerID, backend.ErrNotFound)
		}
	}
	record, err := findMembership(conn, roomID, playerID)
	if err != nil {
		return model.RoomPlayer{}, err
	}
	if update.IsActive != nil && !*update.IsActive {
		if err := writeEvent(conn, roomID, &playerID, eventPlayerLeft, map[string]any{"kept_seat": true}); err != nil {
			b.logger.Warn("write room event", "room_id", roomID, "error", err)
		}
	}
	row := record.toModel()
	b.publish(realtime.NewChange(model.TableRoomPlayers, realtime.EventUpdate, roomID, row))
	return row, nil
}

func (b *Backend) DeletePlayer(ctx context.Context, roomID, playerID string) error {
	var removed RoomPlayer
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		removed, err = findMembership(tx, roomID, playerID)
		if err != nil {
			return err
		}
		if err := tx.Where("id = ?", removed.ID).Delete(&RoomPlayer{}).Error; err != nil {
			return err
		}
		return writeEvent(tx, roomID, &playerID, eventPlayerLeft, map[string]any{"kept_seat": false})
	})
	if err != nil {
		return err
	}
	b.publish(realtime.NewChange(model.TableRoomPlayers, realtime.EventDelete, roomID, removed.toModel()))
	return nil
}

func (b *Backend) DeletePlayers(ctx context.Context, roomID string) error {
	var removed []RoomPlayer
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("Profile").Where("room_id = ?", roomID).Find(&removed).Error; err != nil {
			return err
		}
		if len(removed) == 0 {
			return nil
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&RoomPlayer{}).Error; err != nil {
			return err
		}
		return writeEvent(tx, roomID, nil, eventPlayerRemoved, map[string]any{"count": len(removed)})
	})
	if err != nil {
		return err
	}
	changes := make([]realtime.Change, 0, len(removed))
	for _, player := range removed {
		changes = append(changes, realtime.NewChange(model.TableRoomPlayers, realtime.EventDelete, roomID, player.toModel()))
	}
	b.publish(changes...)
	return nil
}

func (b *Backend) ListRounds(ctx context.Context, roomID string) ([]model.Round, error) {
	var records []Round
	if err := b.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("round_number asc").
		Find(&records).Error; err != nil {
		return nil, err
	}
	rounds := make([]model.Round, 0, len(records))
	for _, record := range records {
		rounds = append(rounds, record.toModel())
	}
	return rounds, nil
}

// RecordRound numbers the round max+1 and applies every delta as an
// atomic increment. A lost race on the round number is retried.
func (b *Backend) RecordRound(ctx context.Context, roomID, recordedBy string, scores map[string]int) (model.Round, error) {
	var (
		round   Round
		players []RoomPlayer
		err     error
	)
	for attempt := 0; attempt < maxRoundAttempts; attempt++ {
		round, players, err = b.recordRound(ctx, roomID, recordedBy, scores)
		if err == nil || !isUniqueViolation(err) {
			break
		}
		b.logger.Debug("round number taken, retrying", "room_id", roomID, "attempt", attempt+1)
	}
	if err != nil {
		return model.Round{}, err
	}

	recorded := round.toModel()
	changes := []realtime.Change{
		realtime.NewChange(model.TableRounds, realtime.EventInsert, roomID, recorded),
	}
	for _, player := range players {
		changes = append(changes, realtime.NewChange(model.TableRoomPlayers, realtime.EventUpdate, roomID, player.toModel()))
	}
	b.publish(changes...)
	return recorded, nil
}

func (b *Backend) recordRound(ctx context.Context, roomID, recordedBy string, scores map[string]int) (Round, []RoomPlayer, error) {
	var (
		record  Round
		players []RoomPlayer
	)
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockRoom(tx, roomID); err != nil {
			return err
		}
		var last int
		if err := tx.Model(&Round{}).
			Where("room_id = ?", roomID).
			Select("COALESCE(MAX(round_number), 0)").
			Scan(&last).Error; err != nil {
			return err
		}
		deltas := make(map[string]int, len(scores))
		ids := make([]string, 0, len(scores))
		for playerID, delta := range scores {
			deltas[playerID] = delta
			ids = append(ids, playerID)
		}
		record = Round{
			ID:          uuid.NewString(),
			RoomID:      roomID,
			RoundNumber: last + 1,
			Scores:      datatypes.NewJSONType(deltas),
			RecordedBy:  recordedBy,
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		for playerID, delta := range deltas {
			if err := tx.Model(&RoomPlayer{}).
				Where("room_id = ? AND player_id = ?", roomID, playerID).
				UpdateColumn("current_score", gorm.Expr("current_score + ?", delta)).Error; err != nil {
				return err
			}
		}
		if len(ids) > 0 {
			if err := tx.Preload("Profile").
				Where("room_id = ? AND player_id IN ?", roomID, ids).
				Order("seat_index asc").
				Find(&players).Error; err != nil {
				return err
			}
		}
		return writeEvent(tx, roomID, &recordedBy, eventRoundRecorded, map[string]any{
			"round_number": record.RoundNumber,
			"scores":       deltas,
		})
	})
	return record, players, err
}

// SettleRoom writes one match per player and finishes the room. The
// unique (room_id, player_id) index backs the once-only check.
func (b *Backend) SettleRoom(ctx context.Context, roomID string, matches []model.Match) (model.Room, error) {
	var settled Room
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := lockRoom(tx, roomID)
		if err != nil {
			return err
		}
		var existing int64
		if err := tx.Model(&Match{}).Where("room_id = ?", roomID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return fmt.Errorf("room %s: %w", roomID, backend.ErrAlreadySettled)
		}
		if len(matches) > 0 {
			now := time.Now().UTC()
			records := make([]Match, 0, len(matches))
			for _, match := range matches {
				records = append(records, Match{
					ID:         uuid.NewString(),
					RoomID:     roomID,
					PlayerID:   match.PlayerID,
					FinalScore: match.FinalScore,
					IsWinner:   match.IsWinner,
					CreatedAt:  now,
				})
			}
			if err := tx.Create(&records).Error; err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("room %s: %w", roomID, backend.ErrAlreadySettled)
				}
				return err
			}
		}
		if room.Status != string(model.StatusFinished) {
			if err := tx.Model(&Room{}).Where("id = ?", roomID).Update("status", string(model.StatusFinished)).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("id = ?", roomID).First(&settled).Error; err != nil {
			return err
		}
		winner := ""
		for _, match := range matches {
			if match.IsWinner {
				winner = match.PlayerID
			}
		}
		return writeEvent(tx, roomID, nil, eventGameEnded, map[string]any{
			"players": len(matches),
			"winner":  winner,
		})
	})
	if err != nil {
		return model.Room{}, err
	}
	room := settled.toModel()
	b.publish(realtime.NewChange(model.TableRooms, realtime.EventUpdate, roomID, room))
	return room, nil
}

func (b *Backend) ListMatches(ctx context.Context, playerID string) ([]model.Match, error) {
	var records []Match
	if err := b.db.WithContext(ctx).
		Where("player_id = ?", playerID).
		Order("created_at desc").
		Find(&records).Error; err != nil {
		return nil, err
	}
	matches := make([]model.Match, 0, len(records))
	for _, record := range records {
		matches = append(matches, record.toModel())
	}
	return matches, nil
}

// Events returns the audit log for a room, oldest first.
func (b *Backend) Events(ctx context.Context, roomID string) ([]RoomEvent, error) {
	var events []RoomEvent
	err := b.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("id asc").
		Find(&events).Error
	return events, err
}

func (b *Backend) CountEvents(ctx context.Context, roomID string) (int64, error) {
	var total int64
	err := b.db.WithContext(ctx).Model(&RoomEvent{}).Where("room_id = ?", roomID).Count(&total).Error
	return total, err
}

// EventsPage returns one page of a room's events, oldest first.
func (b *Backend) EventsPage(ctx context.Context, roomID string, offset, limit int) ([]RoomEvent, error) {
	var events []RoomEvent
	err := b.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("id asc").
		Offset(offset).
		Limit(limit).
		Find(&events).Error
	return events, err
}
