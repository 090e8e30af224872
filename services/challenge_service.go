package services

import (
	"errors"
	"log"
	"math"
	"time"

	"focusroom/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ChallengeService keeps running contribution totals per (challenge, user)
// pair. It is called from competition-end processing and from the direct
// contribution endpoint, so every increment is a single atomic SQL update
// rather than a read-modify-write.
type ChallengeService struct {
	db     *gorm.DB
	outbox *Outbox
}

func NewChallengeService(db *gorm.DB, outbox *Outbox) *ChallengeService {
	return &ChallengeService{db: db, outbox: outbox}
}

type CreateChallengeRequest struct {
	Name   string  `json:"name" binding:"required"`
	Kind   string  `json:"kind" binding:"required,oneof=minutes sessions score"`
	Scope  string  `json:"scope" binding:"omitempty,oneof=personal group"`
	Target float64 `json:"target" binding:"required,gt=0"`
	RoomID *uint   `json:"room_id"`
}

type ProgressUpdate struct {
	ChallengeID uint    `json:"challenge_id"`
	UserID      uint    `json:"user_id"`
	Total       float64 `json:"total"`
	Percent     float64 `json:"percent"`
	Completed   bool    `json:"completed"`
}

func (s *ChallengeService) CreateChallenge(req *CreateChallengeRequest) (*models.Challenge, error) {
	scope := req.Scope
	if scope == "" {
		scope = models.ChallengeScopePersonal
	}
	if scope == models.ChallengeScopeGroup && req.RoomID == nil {
		return nil, &ValidationError{Field: "room_id", Reason: "group challenges need a room"}
	}

	challenge := models.Challenge{
		Name:   req.Name,
		Kind:   req.Kind,
		Scope:  scope,
		Target: req.Target,
		RoomID: req.RoomID,
		Active: true,
	}
	if err := s.db.Create(&challenge).Error; err != nil {
		return nil, err
	}
	return &challenge, nil
}

func (s *ChallengeService) ListChallenges() ([]models.Challenge, error) {
	var challenges []models.Challenge
	err := s.db.Where("active = ?", true).Find(&challenges).Error
	return challenges, err
}

// AddProgress applies one delta to the user's running total and reports
// the derived percentage. Crossing the target flips the completed flag
// exactly once, guarded by a compare-and-set so concurrent call sites
// cannot double-announce completion.
func (s *ChallengeService) AddProgress(challengeID, userID uint, delta float64) (*ProgressUpdate, error) {
	var challenge models.Challenge
	if err := s.db.Where("id = ? AND active = ?", challengeID, true).First(&challenge).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, err
	}

	var progress models.ChallengeProgress
	if err := s.db.Where(models.ChallengeProgress{ChallengeID: challengeID, UserID: userID}).
		FirstOrCreate(&progress).Error; err != nil {
		return nil, err
	}

	if err := s.db.Model(&models.ChallengeProgress{}).
		Where("id = ?", progress.ID).
		Update("total", gorm.Expr("total + ?", delta)).Error; err != nil {
		return nil, err
	}

	// Re-read: another call site may have raced our increment.
	if err := s.db.First(&progress, progress.ID).Error; err != nil {
		return nil, err
	}

	update := &ProgressUpdate{
		ChallengeID: challengeID,
		UserID:      userID,
		Total:       progress.Total,
		Percent:     progressPercent(progress.Total, challenge.Target),
		Completed:   progress.Completed,
	}

	if progress.Total >= challenge.Target && !progress.Completed {
		now := time.Now()
		res := s.db.Model(&models.ChallengeProgress{}).
			Where("id = ? AND completed = ?", progress.ID, false).
			Updates(map[string]interface{}{"completed": true, "completed_at": now})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected > 0 {
			update.Completed = true
			s.outbox.Enqueue(challengeChannel(&challenge), "challenge_completed", gin.H{
				"challenge_id": challengeID,
				"user_id":      userID,
				"total":        update.Total,
				"percent":      update.Percent,
			})
		}
	}

	s.outbox.Enqueue(challengeChannel(&challenge), "challenge_progress_updated", gin.H{
		"challenge_id": challengeID,
		"user_id":      userID,
		"total":        update.Total,
		"percent":      update.Percent,
	})

	return update, nil
}

// ApplyCompetitionResult routes one user's competition outcome into every
// matching active challenge. Best-effort: a failing tracker is logged and
// skipped.
func (s *ChallengeService) ApplyCompetitionResult(userID, roomID uint, minutes int, finalScore float64) {
	var challenges []models.Challenge
	err := s.db.Where("active = ? AND (scope = ? OR (scope = ? AND room_id = ?))",
		true, models.ChallengeScopePersonal, models.ChallengeScopeGroup, roomID).
		Find(&challenges).Error
	if err != nil {
		log.Printf("Failed to load challenges for user %d: %v", userID, err)
		return
	}

	for _, challenge := range challenges {
		var delta float64
		switch challenge.Kind {
		case models.ChallengeKindMinutes:
			delta = float64(minutes)
		case models.ChallengeKindSessions:
			delta = 1
		case models.ChallengeKindScore:
			delta = finalScore
		default:
			continue
		}
		if delta <= 0 {
			continue
		}
		if _, err := s.AddProgress(challenge.ID, userID, delta); err != nil {
			log.Printf("Failed to apply progress to challenge %d for user %d: %v", challenge.ID, userID, err)
		}
	}
}

func progressPercent(total, target float64) float64 {
	if target <= 0 {
		return 0
	}
	return math.Min(100, total/target*100)
}

func challengeChannel(challenge *models.Challenge) string {
	if challenge.Scope == models.ChallengeScopeGroup && challenge.RoomID != nil {
		return RoomChannel(*challenge.RoomID)
	}
	return "challenges"
}
