package models

import (
	"time"

	"gorm.io/gorm"
)

// Competition is a time-boxed focus contest over a room's members. The
// partial unique index on room_id enforces at most one active competition
// per room at the store level, so a lost start race surfaces as a
// constraint violation instead of a duplicate active row.
type Competition struct {
	ID               uint           `json:"id" gorm:"primaryKey"`
	RoomID           uint           `json:"room_id" gorm:"not null;uniqueIndex:uniq_active_competition,where:is_active"`
	HostID           uint           `json:"host_id" gorm:"not null"`
	DurationMin      int            `json:"duration_min" gorm:"not null"`
	BreakDurationMin int            `json:"break_duration_min" gorm:"not null;default:0"`
	IsActive         bool           `json:"is_active" gorm:"not null;default:true"`
	StartedAt        time.Time      `json:"started_at"`
	EndedAt          *time.Time     `json:"ended_at"`
	WinnerID         *uint          `json:"winner_id"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Room         Room                     `json:"room,omitempty"`
	Participants []CompetitionParticipant `json:"participants,omitempty" gorm:"foreignKey:CompetitionID"`
}

type CompetitionParticipant struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	CompetitionID uint           `json:"competition_id" gorm:"not null;uniqueIndex:uniq_competition_user"`
	UserID        uint           `json:"user_id" gorm:"not null;uniqueIndex:uniq_competition_user"`
	SessionID     *uint          `json:"session_id"`
	FinalScore    float64        `json:"final_score" gorm:"not null;default:0"`
	Rank          *int           `json:"rank"`
	JoinedAt      time.Time      `json:"joined_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Competition Competition `json:"competition,omitempty"`
	User        User        `json:"user,omitempty"`
}
