package models

import (
	"time"

	"gorm.io/gorm"
)

// FocusSession records one user's scored focus window in a room. The
// scoring pipeline owns the score stream; this service only updates the
// last observed score and closes the session.
type FocusSession struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	UserID      uint           `json:"user_id" gorm:"not null;index"`
	RoomID      uint           `json:"room_id" gorm:"not null;index"`
	StartedAt   time.Time      `json:"started_at"`
	EndedAt     *time.Time     `json:"ended_at"`
	LastScore   float64        `json:"last_score" gorm:"not null;default:0"`
	LastScoreAt *time.Time     `json:"last_score_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	User User `json:"user,omitempty"`
	Room Room `json:"room,omitempty"`
}
