package db

import (
	"time"

	"gorm.io/datatypes"
)

// Session binds a browser cookie to an anonymous user and the client's
// durable storage.
type Session struct {
	ID        string            `gorm:"primaryKey;size:64"`
	UserID    string            `gorm:"size:36;index"`
	Storage   datatypes.JSONMap `gorm:"column:storage"`
	CreatedAt time.Time         `gorm:"not null"`
	UpdatedAt time.Time         `gorm:"not null"`
}
