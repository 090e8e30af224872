package services

import (
	"errors"
	"fmt"

	"focusroom/models"
)

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrNotHost             = errors.New("only the host may do this")
	ErrNoActiveCompetition = errors.New("no active competition for this room")
	ErrSessionNotFound     = errors.New("focus session not found")
	ErrChallengeNotFound   = errors.New("challenge not found")
)

// ValidationError rejects bad input before any state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError reports an active, unexpired competition blocking a new
// start. TimeLeftMinutes tells the caller when a retry can succeed.
type ConflictError struct {
	Competition     *models.Competition
	TimeLeftMinutes int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("competition %d still active, %d minutes left", e.Competition.ID, e.TimeLeftMinutes)
}

// RollbackError reports a multi-step creation that failed partway and was
// compensated. Action names the rollback step taken so the caller knows no
// orphan state remains.
type RollbackError struct {
	Action string
	Cause  error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("creation failed (%s): %v", e.Action, e.Cause)
}

func (e *RollbackError) Unwrap() error { return e.Cause }
