package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"focusroom/models"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// SessionService owns the focus-session rows this engine touches. The
// scoring pipeline streams per-second scores in; we keep the last observed
// one, mirror it into Redis for live readers, and close the session when a
// competition ends.
type SessionService struct {
	db     *gorm.DB
	redis  *redis.Client
	outbox *Outbox
	ttl    time.Duration
}

func NewSessionService(db *gorm.DB, redisClient *redis.Client, outbox *Outbox, ttl time.Duration) *SessionService {
	return &SessionService{
		db:     db,
		redis:  redisClient,
		outbox: outbox,
		ttl:    ttl,
	}
}

type RecordScoreRequest struct {
	Timestamp time.Time `json:"timestamp"`
	Score     float64   `json:"score" binding:"min=0,max=100"`
}

type liveScore struct {
	SessionID uint      `json:"session_id"`
	UserID    uint      `json:"user_id"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// StartSession opens a scored session for the user in a room. A user has
// at most one open session per room; starting again returns the open one.
func (s *SessionService) StartSession(userID, roomID uint) (*models.FocusSession, error) {
	if existing, err := s.OpenSession(userID, roomID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	session := models.FocusSession{
		UserID:    userID,
		RoomID:    roomID,
		StartedAt: time.Now(),
	}
	if err := s.db.Create(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *SessionService) GetByID(sessionID uint) (*models.FocusSession, error) {
	var session models.FocusSession
	if err := s.db.First(&session, sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (s *SessionService) OpenSession(userID, roomID uint) (*models.FocusSession, error) {
	var session models.FocusSession
	err := s.db.Where("user_id = ? AND room_id = ? AND ended_at IS NULL", userID, roomID).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

// OpenSessionsByRoom maps user id to their open session in the room.
func (s *SessionService) OpenSessionsByRoom(roomID uint) (map[uint]models.FocusSession, error) {
	var sessions []models.FocusSession
	err := s.db.Where("room_id = ? AND ended_at IS NULL", roomID).Find(&sessions).Error
	if err != nil {
		return nil, err
	}

	open := make(map[uint]models.FocusSession, len(sessions))
	for _, session := range sessions {
		open[session.UserID] = session
	}
	return open, nil
}

// RecordScore consumes one observation from the scoring stream. Only the
// last observed score is kept; it becomes the participant's final score if
// a competition closes this session.
func (s *SessionService) RecordScore(sessionID uint, req *RecordScoreRequest) (*models.FocusSession, error) {
	if req.Score < 0 || req.Score > 100 {
		return nil, &ValidationError{Field: "score", Reason: "must be between 0 and 100"}
	}

	session, err := s.GetByID(sessionID)
	if err != nil {
		return nil, err
	}
	if session.EndedAt != nil {
		return nil, &ValidationError{Field: "session", Reason: "session already closed"}
	}

	at := req.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	if err := s.db.Model(session).
		Updates(map[string]interface{}{"last_score": req.Score, "last_score_at": at}).Error; err != nil {
		return nil, err
	}
	session.LastScore = req.Score
	session.LastScoreAt = &at

	s.storeLiveScore(session)

	s.outbox.Enqueue(RoomChannel(session.RoomID), "score_update", gin.H{
		"session_id": session.ID,
		"user_id":    session.UserID,
		"score":      session.LastScore,
		"timestamp":  at,
	})

	return session, nil
}

// Close ends the session and returns its last observed score. Closing an
// already-closed session is a no-op that returns the stored score.
func (s *SessionService) Close(sessionID uint, now time.Time) (float64, error) {
	session, err := s.GetByID(sessionID)
	if err != nil {
		return 0, err
	}
	if session.EndedAt != nil {
		return session.LastScore, nil
	}

	if err := s.db.Model(session).Update("ended_at", now).Error; err != nil {
		return 0, err
	}

	s.redis.Del(context.Background(), liveScoreKey(sessionID))
	return session.LastScore, nil
}

func (s *SessionService) storeLiveScore(session *models.FocusSession) {
	entry := liveScore{
		SessionID: session.ID,
		UserID:    session.UserID,
		Score:     session.LastScore,
	}
	if session.LastScoreAt != nil {
		entry.Timestamp = *session.LastScoreAt
	}

	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("Failed to marshal live score for session %d: %v", session.ID, err)
		return
	}

	if err := s.redis.Set(context.Background(), liveScoreKey(session.ID), data, s.ttl).Err(); err != nil {
		log.Printf("Failed to store live score for session %d: %v", session.ID, err)
	}
}

func liveScoreKey(sessionID uint) string {
	return fmt.Sprintf("focus:session:%d", sessionID)
}
