package handlers

import (
	"errors"
	"net/http"

	"focusroom/services"

	"github.com/gin-gonic/gin"
)

type CompetitionHandler struct {
	competitionService *services.CompetitionService
}

func NewCompetitionHandler(competitionService *services.CompetitionService) *CompetitionHandler {
	return &CompetitionHandler{
		competitionService: competitionService,
	}
}

// Start handles POST /api/rooms/:code/competition.
func (h *CompetitionHandler) Start(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req services.StartCompetitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	competition, participants, err := h.competitionService.Start(c.Param("code"), userID.(uint), &req)
	if err != nil {
		h.writeLifecycleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"competition":  competition,
		"participants": participants,
	})
}

// End handles POST /api/rooms/:code/competition/end.
func (h *CompetitionHandler) End(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	result, err := h.competitionService.End(c.Param("code"), userID.(uint))
	if err != nil {
		h.writeLifecycleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"competition_id": result.CompetitionID,
		"ended_at":       result.EndedAt,
		"ended_sessions": result.EndedSessions,
	})
}

// GetActive handles GET /api/rooms/:code/competition.
func (h *CompetitionHandler) GetActive(c *gin.Context) {
	competition, err := h.competitionService.GetActive(c.Param("code"))
	if err != nil {
		h.writeLifecycleError(c, err)
		return
	}

	c.JSON(http.StatusOK, competition)
}

// writeLifecycleError maps the lifecycle error taxonomy onto HTTP codes:
// validation 400, not-host 403, missing room/competition 404, running
// competition 409 with the remaining time, rolled-back creation 500 with
// the compensation named.
func (h *CompetitionHandler) writeLifecycleError(c *gin.Context, err error) {
	var validationErr *services.ValidationError
	var conflictErr *services.ConflictError
	var rollbackErr *services.RollbackError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error()})
	case errors.Is(err, services.ErrNotHost):
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the room host may manage the competition"})
	case errors.Is(err, services.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
	case errors.Is(err, services.ErrNoActiveCompetition):
		c.JSON(http.StatusNotFound, gin.H{"error": "No active competition"})
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":           "A competition is already running",
			"competition":     conflictErr.Competition,
			"timeLeftMinutes": conflictErr.TimeLeftMinutes,
		})
	case errors.As(err, &rollbackErr):
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  rollbackErr.Error(),
			"action": rollbackErr.Action,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
