package services

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"focusroom/models"

	"gorm.io/gorm"
)

type RoomService struct {
	db *gorm.DB
}

func NewRoomService(db *gorm.DB) *RoomService {
	return &RoomService{db: db}
}

type CreateRoomRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *RoomService) CreateRoom(hostID uint, req *CreateRoomRequest) (*models.Room, error) {
	room := models.Room{
		Code:   s.generateCode(),
		Name:   req.Name,
		HostID: hostID,
	}

	if err := s.db.Create(&room).Error; err != nil {
		return nil, err
	}

	// The host is a member of their own room.
	member := models.RoomMember{
		RoomID:       room.ID,
		UserID:       hostID,
		Present:      true,
		LastActiveAt: time.Now(),
		JoinedAt:     time.Now(),
	}
	if err := s.db.Create(&member).Error; err != nil {
		return nil, err
	}

	return &room, nil
}

func (s *RoomService) GetRoomByCode(code string) (*models.Room, error) {
	var room models.Room
	err := s.db.Where("LOWER(code) = ?", strings.ToLower(code)).
		Preload("Members").
		First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

// JoinRoom adds the user to the room, or marks a departed member present
// again when they rejoin.
func (s *RoomService) JoinRoom(code string, userID uint) (*models.RoomMember, error) {
	room, err := s.GetRoomByCode(code)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	var member models.RoomMember
	err = s.db.Where("room_id = ? AND user_id = ?", room.ID, userID).First(&member).Error
	if err == nil {
		updates := map[string]interface{}{
			"present":        true,
			"departed_at":    nil,
			"last_active_at": now,
		}
		if err := s.db.Model(&member).Updates(updates).Error; err != nil {
			return nil, err
		}
		member.Present = true
		member.DepartedAt = nil
		member.LastActiveAt = now
		return &member, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	member = models.RoomMember{
		RoomID:       room.ID,
		UserID:       userID,
		Present:      true,
		LastActiveAt: now,
		JoinedAt:     now,
	}
	if err := s.db.Create(&member).Error; err != nil {
		return nil, err
	}
	return &member, nil
}

func (s *RoomService) LeaveRoom(code string, userID uint) error {
	room, err := s.GetRoomByCode(code)
	if err != nil {
		return err
	}

	now := time.Now()
	res := s.db.Model(&models.RoomMember{}).
		Where("room_id = ? AND user_id = ?", room.ID, userID).
		Updates(map[string]interface{}{"present": false, "departed_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("not a member of this room")
	}
	return nil
}

// Heartbeat refreshes the member's last activity, which feeds the online
// predicate used when a competition snapshots its participants.
func (s *RoomService) Heartbeat(code string, userID uint) error {
	room, err := s.GetRoomByCode(code)
	if err != nil {
		return err
	}

	res := s.db.Model(&models.RoomMember{}).
		Where("room_id = ? AND user_id = ?", room.ID, userID).
		Update("last_active_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("not a member of this room")
	}
	return nil
}

// Members returns every member row for a room, departed ones included.
func (s *RoomService) Members(roomID uint) ([]models.RoomMember, error) {
	var members []models.RoomMember
	if err := s.db.Where("room_id = ?", roomID).Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

// OnlineMembers returns members currently present, not departed, and with
// activity inside the threshold window.
func (s *RoomService) OnlineMembers(roomID uint, threshold time.Duration) ([]models.RoomMember, error) {
	cutoff := time.Now().Add(-threshold)

	var members []models.RoomMember
	err := s.db.Where("room_id = ? AND present = ? AND departed_at IS NULL AND last_active_at >= ?",
		roomID, true, cutoff).
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (s *RoomService) generateCode() string {
	bytes := make([]byte, 3)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)[:6]
}
