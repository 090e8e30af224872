package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	ChallengeKindMinutes  = "minutes"
	ChallengeKindSessions = "sessions"
	ChallengeKindScore    = "score"

	ChallengeScopePersonal = "personal"
	ChallengeScopeGroup    = "group"
)

type Challenge struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	Name      string         `json:"name" gorm:"not null"`
	Kind      string         `json:"kind" gorm:"not null"` // minutes, sessions, score
	Scope     string         `json:"scope" gorm:"not null;default:'personal'"`
	Target    float64        `json:"target" gorm:"not null"`
	RoomID    *uint          `json:"room_id"` // set for group challenges
	Active    bool           `json:"active" gorm:"not null;default:true"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Progress []ChallengeProgress `json:"progress,omitempty" gorm:"foreignKey:ChallengeID"`
}

type ChallengeProgress struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	ChallengeID uint           `json:"challenge_id" gorm:"not null;uniqueIndex:uniq_challenge_user"`
	UserID      uint           `json:"user_id" gorm:"not null;uniqueIndex:uniq_challenge_user"`
	Total       float64        `json:"total" gorm:"not null;default:0"`
	Completed   bool           `json:"completed" gorm:"not null;default:false"`
	CompletedAt *time.Time     `json:"completed_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Challenge Challenge `json:"challenge,omitempty"`
	User      User      `json:"user,omitempty"`
}
