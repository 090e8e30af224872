package models

import (
	"time"

	"gorm.io/gorm"
)

type Room struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	Code      string         `json:"code" gorm:"uniqueIndex;not null"`
	Name      string         `json:"name" gorm:"not null"`
	HostID    uint           `json:"host_id" gorm:"not null"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Host    User         `json:"host,omitempty" gorm:"foreignKey:HostID"`
	Members []RoomMember `json:"members,omitempty" gorm:"foreignKey:RoomID"`
}

type RoomMember struct {
	ID           uint           `json:"id" gorm:"primaryKey"`
	RoomID       uint           `json:"room_id" gorm:"not null;uniqueIndex:uniq_room_member"`
	UserID       uint           `json:"user_id" gorm:"not null;uniqueIndex:uniq_room_member"`
	Present      bool           `json:"present" gorm:"not null;default:true"`
	LastActiveAt time.Time      `json:"last_active_at"`
	JoinedAt     time.Time      `json:"joined_at"`
	DepartedAt   *time.Time     `json:"departed_at"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Room Room `json:"room,omitempty"`
	User User `json:"user,omitempty"`
}
