package db

import (
	"time"

	"gorm.io/datatypes"

	"scoreroom/internal/model"
)

type Profile struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Nickname  string    `gorm:"size:64;not null"`
	AvatarURL string    `gorm:"size:512"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// Room codes are unique among rooms that are not finished.
type Room struct {
	ID             string     `gorm:"primaryKey;size:36"`
	RoomCode       string     `gorm:"size:4;not null;index;uniqueIndex:idx_rooms_active_code,where:status <> 'finished'"`
	HostID         string     `gorm:"size:36;not null;index"`
	Status         string     `gorm:"size:16;not null"`
	InitialScore   int        `gorm:"not null;default:0"`
	BaseMultiplier int        `gorm:"not null"`
	ScoreCap       int        `gorm:"not null;default:0"`
	PaymentMode    string     `gorm:"size:32"`
	StartedAt      *time.Time `gorm:""`
	CreatedAt      time.Time  `gorm:"not null"`
	UpdatedAt      time.Time  `gorm:"not null"`
}

type RoomPlayer struct {
	ID           string    `gorm:"primaryKey;size:36"`
	RoomID       string    `gorm:"size:36;not null;uniqueIndex:idx_room_players_member;uniqueIndex:idx_room_players_seat"`
	PlayerID     string    `gorm:"size:36;not null;uniqueIndex:idx_room_players_member;index"`
	SeatIndex    int       `gorm:"not null;uniqueIndex:idx_room_players_seat"`
	CurrentScore int       `gorm:"not null;default:0"`
	IsActive     bool      `gorm:"not null"`
	IsReady      bool      `gorm:"not null;default:false"`
	JoinedAt     time.Time `gorm:"not null"`
	Profile      Profile   `gorm:"foreignKey:PlayerID;references:ID"`
}

type Round struct {
	ID          string                              `gorm:"primaryKey;size:36"`
	RoomID      string                              `gorm:"size:36;not null;uniqueIndex:idx_rounds_room_number"`
	RoundNumber int                                 `gorm:"not null;uniqueIndex:idx_rounds_room_number"`
	Scores      datatypes.JSONType[map[string]int] `gorm:"not null"`
	RecordedBy  string                              `gorm:"size:36;not null"`
	CreatedAt   time.Time                           `gorm:"not null"`
}

type Match struct {
	ID         string    `gorm:"primaryKey;size:36"`
	RoomID     string    `gorm:"size:36;not null;uniqueIndex:idx_matches_room_player"`
	PlayerID   string    `gorm:"size:36;not null;uniqueIndex:idx_matches_room_player;index"`
	FinalScore int       `gorm:"not null"`
	IsWinner   bool      `gorm:"not null;default:false"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (p Profile) toModel() model.Profile {
	return model.Profile{
		ID:        p.ID,
		Nickname:  p.Nickname,
		AvatarURL: p.AvatarURL,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func roomRecord(room model.Room) Room {
	return Room{
		ID:             room.ID,
		RoomCode:       room.RoomCode,
		HostID:         room.HostID,
		Status:         string(room.Status),
		InitialScore:   room.InitialScore,
		BaseMultiplier: room.BaseMultiplier,
		ScoreCap:       room.ScoreCap,
		PaymentMode:    room.PaymentMode,
		StartedAt:      room.StartedAt,
		CreatedAt:      room.CreatedAt,
	}
}

func (r Room) toModel() model.Room {
	return model.Room{
		ID:        r.ID,
		RoomCode:  r.RoomCode,
		HostID:    r.HostID,
		Status:    model.RoomStatus(r.Status),
		StartedAt: r.StartedAt,
		CreatedAt: r.CreatedAt,
		RoomSettings: model.RoomSettings{
			InitialScore:   r.InitialScore,
			BaseMultiplier: r.BaseMultiplier,
			ScoreCap:       r.ScoreCap,
			PaymentMode:    r.PaymentMode,
		},
	}
}

func (p RoomPlayer) toModel() model.RoomPlayer {
	return model.RoomPlayer{
		ID:           p.ID,
		RoomID:       p.RoomID,
		PlayerID:     p.PlayerID,
		SeatIndex:    p.SeatIndex,
		CurrentScore: p.CurrentScore,
		IsActive:     p.IsActive,
		IsReady:      p.IsReady,
		Nickname:     p.Profile.Nickname,
		AvatarURL:    p.Profile.AvatarURL,
		JoinedAt:     p.JoinedAt,
	}
}

func (r Round) toModel() model.Round {
	scores := make(map[string]int, len(r.Scores.Data()))
	for id, delta := range r.Scores.Data() {
		scores[id] = delta
	}
	return model.Round{
		ID:          r.ID,
		RoomID:      r.RoomID,
		RoundNumber: r.RoundNumber,
		Scores:      scores,
		RecordedBy:  r.RecordedBy,
		CreatedAt:   r.CreatedAt,
	}
}

func (m Match) toModel() model.Match {
	return model.Match{
		ID:         m.ID,
		RoomID:     m.RoomID,
		PlayerID:   m.PlayerID,
		FinalScore: m.FinalScore,
		IsWinner:   m.IsWinner,
		CreatedAt:  m.CreatedAt,
	}
}
