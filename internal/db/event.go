package db

import (
	"time"

	"gorm.io/datatypes"
)

// RoomEvent is the append-only audit log of room activity.
type RoomEvent struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	RoomID    string         `gorm:"size:36;index;not null" json:"room_id"`
	PlayerID  *string        `gorm:"size:36;index" json:"player_id,omitempty"`
	Type      string         `gorm:"size:64;not null" json:"type"`
	Payload   datatypes.JSON `gorm:"not null" json:"payload"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
}

const (
	eventRoomCreated     = "room_created"
	eventPlayerJoined    = "player_joined"
	eventPlayerLeft      = "player_left"
	eventPlayerRemoved   = "player_removed"
	eventRoundRecorded   = "round_recorded"
	eventGameStarted     = "game_started"
	eventGameEnded       = "game_ended"
	eventHostTransferred = "host_transferred"
	eventRoomDisbanded   = "room_disbanded"
)
