package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"focusroom/models"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	MinDurationMin      = 5
	MaxDurationMin      = 480
	MaxBreakDurationMin = 60
)

// CompetitionService owns the competition lifecycle for a room: start,
// conflict detection, lazy expiry, and end-of-window ranking. The "at most
// one active competition per room" invariant is enforced by the partial
// unique index on competitions, not by any in-process lock, so concurrent
// starts race safely at the store.
type CompetitionService struct {
	db         *gorm.DB
	redis      *redis.Client
	rooms      *RoomService
	sessions   *SessionService
	challenges *ChallengeService
	outbox     *Outbox

	onlineThreshold time.Duration
	liveTTL         time.Duration
}

func NewCompetitionService(
	db *gorm.DB,
	redisClient *redis.Client,
	rooms *RoomService,
	sessions *SessionService,
	challenges *ChallengeService,
	outbox *Outbox,
	onlineThreshold time.Duration,
	liveTTL time.Duration,
) *CompetitionService {
	return &CompetitionService{
		db:              db,
		redis:           redisClient,
		rooms:           rooms,
		sessions:        sessions,
		challenges:      challenges,
		outbox:          outbox,
		onlineThreshold: onlineThreshold,
		liveTTL:         liveTTL,
	}
}

type StartCompetitionRequest struct {
	Duration      int `json:"duration" binding:"required"`
	BreakDuration int `json:"break_duration"`
}

type EndedSession struct {
	SessionID       uint      `json:"session_id"`
	UserID          uint      `json:"user_id"`
	FinalFocusScore float64   `json:"final_focus_score"`
	DurationMin     int       `json:"duration_min"`
	EndedAt         time.Time `json:"ended_at"`
}

type CompetitionResult struct {
	CompetitionID uint           `json:"competition_id"`
	EndedAt       time.Time      `json:"ended_at"`
	EndedSessions []EndedSession `json:"ended_sessions"`
}

// CompetitionState is the Redis-cached live view served to reconnecting
// clients.
type CompetitionState struct {
	CompetitionID uint      `json:"competition_id"`
	RoomID        uint      `json:"room_id"`
	Status        string    `json:"status"`
	StartedAt     time.Time `json:"started_at"`
	DurationMin   int       `json:"duration_min"`
	Participants  int       `json:"participants"`
}

// Start creates a competition over the room's online members. Outcomes:
// ValidationError (bad input, empty snapshot), ErrNotHost, ErrRoomNotFound,
// ConflictError (unexpired competition running), RollbackError (participant
// insert failed, competition row compensated away).
func (s *CompetitionService) Start(roomCode string, requesterID uint, req *StartCompetitionRequest) (*models.Competition, []models.CompetitionParticipant, error) {
	if err := validateStartInput(req.Duration, req.BreakDuration); err != nil {
		return nil, nil, err
	}

	room, err := s.rooms.GetRoomByCode(roomCode)
	if err != nil {
		return nil, nil, err
	}
	if room.HostID != requesterID {
		return nil, nil, ErrNotHost
	}

	now := time.Now()

	// Conflict check. An expired row is flipped inactive here rather than
	// by a background sweeper; the unique index below catches the case
	// where two starts both observe the same expired row.
	var active models.Competition
	err = s.db.Where("room_id = ? AND is_active = ?", room.ID, true).First(&active).Error
	switch {
	case err == nil:
		if left := remainingMinutes(&active, now); left > 0 {
			return nil, nil, &ConflictError{Competition: &active, TimeLeftMinutes: left}
		}
		s.db.Model(&models.Competition{}).
			Where("id = ? AND is_active = ?", active.ID, true).
			Updates(map[string]interface{}{"is_active": false, "ended_at": now})
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil, err
	}

	members, err := s.rooms.OnlineMembers(room.ID, s.onlineThreshold)
	if err != nil {
		return nil, nil, err
	}
	if len(members) == 0 {
		return nil, nil, &ValidationError{Field: "participants", Reason: "no online members to compete"}
	}

	openSessions, err := s.sessions.OpenSessionsByRoom(room.ID)
	if err != nil {
		log.Printf("Failed to load open sessions for room %d: %v", room.ID, err)
		openSessions = map[uint]models.FocusSession{}
	}

	competition := models.Competition{
		RoomID:           room.ID,
		HostID:           requesterID,
		DurationMin:      req.Duration,
		BreakDurationMin: req.BreakDuration,
		IsActive:         true,
		StartedAt:        now,
	}

	participants := make([]models.CompetitionParticipant, 0, len(members))
	for _, member := range members {
		participant := models.CompetitionParticipant{
			UserID:   member.UserID,
			JoinedAt: now,
		}
		if session, ok := openSessions[member.UserID]; ok {
			sessionID := session.ID
			participant.SessionID = &sessionID
		}
		participants = append(participants, participant)
	}

	created, saga, err := s.createWithParticipants(&competition, participants)
	if saga == sagaRolledBack {
		log.Printf("Competition creation for room %d rolled back: %v", room.ID, err)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost the start race: report the winner's competition.
			if reloadErr := s.db.Where("room_id = ? AND is_active = ?", room.ID, true).
				First(&active).Error; reloadErr == nil {
				return nil, nil, &ConflictError{Competition: &active, TimeLeftMinutes: remainingMinutes(&active, time.Now())}
			}
		}
		return nil, nil, err
	}

	s.storeLiveState(created, len(participants))

	s.outbox.Enqueue(RoomChannel(room.ID), "competition_started", gin.H{
		"competition_id":     created.ID,
		"duration":           created.DurationMin,
		"started_at":         created.StartedAt,
		"participants_count": len(participants),
	})

	return created, created.Participants, nil
}

// creationSaga tracks the two-step competition creation so the rollback is
// an explicit, named step instead of an ad hoc cleanup.
type creationSaga int

const (
	sagaCreating creationSaga = iota
	sagaCommitted
	sagaRolledBack
)

const rollbackCompetitionAction = "competition_rolled_back"

func (s *CompetitionService) createWithParticipants(competition *models.Competition, participants []models.CompetitionParticipant) (*models.Competition, creationSaga, error) {
	if err := s.db.Create(competition).Error; err != nil {
		return nil, sagaCreating, err
	}

	for i := range participants {
		participants[i].CompetitionID = competition.ID
	}

	if err := s.db.Create(&participants).Error; err != nil {
		// Compensate: without participants the competition must not stay
		// active, so the row is deleted outright.
		if delErr := s.db.Unscoped().Delete(&models.Competition{}, competition.ID).Error; delErr != nil {
			log.Printf("Rollback of competition %d failed: %v", competition.ID, delErr)
		}
		return nil, sagaRolledBack, &RollbackError{Action: rollbackCompetitionAction, Cause: err}
	}

	competition.Participants = participants
	return competition, sagaCommitted, nil
}

// End closes the room's active competition: sessions are closed
// best-effort, final scores and ranks written, the winner recorded, and
// results broadcast. The inactive transition is a compare-and-set, so a
// concurrent second End sees ErrNoActiveCompetition instead of
// double-closing sessions.
func (s *CompetitionService) End(roomCode string, requesterID uint) (*CompetitionResult, error) {
	room, err := s.rooms.GetRoomByCode(roomCode)
	if err != nil {
		return nil, err
	}

	var competition models.Competition
	err = s.db.Where("room_id = ? AND is_active = ?", room.ID, true).
		Preload("Participants").
		First(&competition).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoActiveCompetition
		}
		return nil, err
	}

	if competition.HostID != requesterID {
		return nil, ErrNotHost
	}

	now := time.Now()

	res := s.db.Model(&models.Competition{}).
		Where("id = ? AND is_active = ?", competition.ID, true).
		Updates(map[string]interface{}{"is_active": false, "ended_at": now})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// A concurrent End already won; this call becomes a no-op.
		return nil, ErrNoActiveCompetition
	}

	elapsedMin := int(now.Sub(competition.StartedAt).Minutes())
	endedSessions := make([]EndedSession, 0, len(competition.Participants))
	sessionStarts := make(map[uint]time.Time, len(competition.Participants))

	// Each closure is independent: one failing session never aborts the
	// rest of the loop.
	for i := range competition.Participants {
		participant := &competition.Participants[i]

		session, err := s.sessions.OpenSession(participant.UserID, room.ID)
		if err != nil {
			if !errors.Is(err, ErrSessionNotFound) {
				log.Printf("Failed to look up session for user %d in room %d: %v", participant.UserID, room.ID, err)
			}
			continue
		}

		finalScore, err := s.sessions.Close(session.ID, now)
		if err != nil {
			log.Printf("Failed to close session %d: %v", session.ID, err)
			continue
		}

		sessionID := session.ID
		participant.SessionID = &sessionID
		participant.FinalScore = finalScore
		sessionStarts[participant.UserID] = session.StartedAt

		if err := s.db.Model(&models.CompetitionParticipant{}).
			Where("id = ?", participant.ID).
			Updates(map[string]interface{}{"session_id": sessionID, "final_score": finalScore}).Error; err != nil {
			log.Printf("Failed to store final score for participant %d: %v", participant.ID, err)
		}

		ended := EndedSession{
			SessionID:       session.ID,
			UserID:          participant.UserID,
			FinalFocusScore: finalScore,
			DurationMin:     int(now.Sub(session.StartedAt).Minutes()),
			EndedAt:         now,
		}
		endedSessions = append(endedSessions, ended)

		s.outbox.Enqueue(RoomChannel(room.ID), "focus_session_ended", gin.H{
			"session_id":        ended.SessionID,
			"user_id":           ended.UserID,
			"final_focus_score": ended.FinalFocusScore,
			"duration_min":      ended.DurationMin,
			"ended_at":          ended.EndedAt,
		})
	}

	ranked := assignRanks(competition.Participants, sessionStarts)
	for _, entry := range ranked {
		if err := s.db.Model(&models.CompetitionParticipant{}).
			Where("id = ?", entry.ParticipantID).
			Update("rank", entry.Rank).Error; err != nil {
			log.Printf("Failed to store rank for participant %d: %v", entry.ParticipantID, err)
		}
	}
	if len(ranked) > 0 {
		winnerID := ranked[0].UserID
		if err := s.db.Model(&models.Competition{}).
			Where("id = ?", competition.ID).
			Update("winner_id", winnerID).Error; err != nil {
			log.Printf("Failed to store winner for competition %d: %v", competition.ID, err)
		}
	}

	// Fire-and-forget: challenge trackers get their deltas regardless of
	// how this request turns out.
	for i := range competition.Participants {
		participant := &competition.Participants[i]
		s.challenges.ApplyCompetitionResult(participant.UserID, room.ID, elapsedMin, participant.FinalScore)
	}

	s.clearLiveState(room.ID)

	result := &CompetitionResult{
		CompetitionID: competition.ID,
		EndedAt:       now,
		EndedSessions: endedSessions,
	}

	payload := gin.H{
		"competition_id": result.CompetitionID,
		"ended_at":       result.EndedAt,
		"sessions":       result.EndedSessions,
	}
	s.outbox.Enqueue(RoomChannel(room.ID), "competition_ended", payload)
	// Older clients still listen on the competition channel name.
	s.outbox.Enqueue(LegacyCompetitionChannel(room.ID), "competition_ended", payload)

	return result, nil
}

// GetActive returns the room's active competition, if any.
func (s *CompetitionService) GetActive(roomCode string) (*models.Competition, error) {
	room, err := s.rooms.GetRoomByCode(roomCode)
	if err != nil {
		return nil, err
	}

	var competition models.Competition
	err = s.db.Where("room_id = ? AND is_active = ?", room.ID, true).
		Preload("Participants").
		First(&competition).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoActiveCompetition
		}
		return nil, err
	}
	return &competition, nil
}

// LiveState serves the cached competition state for a room, falling back
// to the database when the cache is cold.
func (s *CompetitionService) LiveState(roomID uint) (*CompetitionState, error) {
	data, err := s.redis.Get(context.Background(), liveStateKey(roomID)).Result()
	if err == nil {
		var state CompetitionState
		if err := json.Unmarshal([]byte(data), &state); err == nil {
			return &state, nil
		}
	} else if err != redis.Nil {
		log.Printf("Redis error getting live state for room %d: %v", roomID, err)
	}

	var competition models.Competition
	err = s.db.Where("room_id = ? AND is_active = ?", roomID, true).
		Preload("Participants").
		First(&competition).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoActiveCompetition
		}
		return nil, err
	}

	state := s.storeLiveState(&competition, len(competition.Participants))
	return state, nil
}

func (s *CompetitionService) storeLiveState(competition *models.Competition, participants int) *CompetitionState {
	state := &CompetitionState{
		CompetitionID: competition.ID,
		RoomID:        competition.RoomID,
		Status:        "active",
		StartedAt:     competition.StartedAt,
		DurationMin:   competition.DurationMin,
		Participants:  participants,
	}

	data, err := json.Marshal(state)
	if err != nil {
		log.Printf("Failed to marshal live state for room %d: %v", competition.RoomID, err)
		return state
	}
	if err := s.redis.Set(context.Background(), liveStateKey(competition.RoomID), data, s.liveTTL).Err(); err != nil {
		log.Printf("Failed to store live state for room %d: %v", competition.RoomID, err)
	}
	return state
}

func (s *CompetitionService) clearLiveState(roomID uint) {
	if err := s.redis.Del(context.Background(), liveStateKey(roomID)).Err(); err != nil {
		log.Printf("Failed to clear live state for room %d: %v", roomID, err)
	}
}

func liveStateKey(roomID uint) string {
	return fmt.Sprintf("competition:room:%d", roomID)
}

func validateStartInput(durationMin, breakMin int) error {
	if durationMin < MinDurationMin || durationMin > MaxDurationMin {
		return &ValidationError{
			Field:  "duration",
			Reason: fmt.Sprintf("must be between %d and %d minutes", MinDurationMin, MaxDurationMin),
		}
	}
	if breakMin < 0 || breakMin > MaxBreakDurationMin {
		return &ValidationError{
			Field:  "break_duration",
			Reason: fmt.Sprintf("must be between 0 and %d minutes", MaxBreakDurationMin),
		}
	}
	return nil
}

// remainingMinutes reports whole minutes left in the competition window,
// rounded up; 0 means expired.
func remainingMinutes(c *models.Competition, now time.Time) int {
	deadline := c.StartedAt.Add(time.Duration(c.DurationMin) * time.Minute)
	left := deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	return int((left + time.Minute - 1) / time.Minute)
}

type rankedParticipant struct {
	ParticipantID uint
	UserID        uint
	Rank          int
}

// assignRanks orders participants by final score descending. Ties break on
// earlier session start, then lower user id, so the ordering is
// deterministic.
func assignRanks(participants []models.CompetitionParticipant, sessionStarts map[uint]time.Time) []rankedParticipant {
	ranked := make([]rankedParticipant, 0, len(participants))
	sorted := make([]models.CompetitionParticipant, len(participants))
	copy(sorted, participants)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		aStart, aOK := sessionStarts[a.UserID]
		bStart, bOK := sessionStarts[b.UserID]
		if aOK && bOK && !aStart.Equal(bStart) {
			return aStart.Before(bStart)
		}
		if aOK != bOK {
			return aOK
		}
		return a.UserID < b.UserID
	})

	for i, participant := range sorted {
		ranked = append(ranked, rankedParticipant{
			ParticipantID: participant.ID,
			UserID:        participant.UserID,
			Rank:          i + 1,
		})
	}
	return ranked
}
