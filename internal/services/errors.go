package services

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("invalid session state")
	ErrNoMoreQuestions     = errors.New("no more questions")
	ErrSessionNotActive    = errors.New("session is not accepting answers")
	ErrInvalidAnswer       = errors.New("invalid answer")
	ErrDuplicateSubmission = errors.New("answer already recorded")
	ErrConcurrentUpdate    = errors.New("session was modified concurrently")
	ErrDeviceNotRegistered = errors.New("clicker device not registered")
	ErrInvalidInput        = errors.New("invalid input")
)

// errVersionConflict is internal: the conditional session update matched no row.
var errVersionConflict = errors.New("version conflict")

func notFound(err error, what string, id interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("load %s %v: %w", what, id, err)
}

// ErrorCode is a stable machine-readable name for the domain errors, used in
// API bodies and per-item batch outcomes.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrNoMoreQuestions):
		return "no_more_questions"
	case errors.Is(err, ErrSessionNotActive):
		return "session_not_active"
	case errors.Is(err, ErrInvalidAnswer):
		return "invalid_answer"
	case errors.Is(err, ErrDuplicateSubmission):
		return "already_recorded"
	case errors.Is(err, ErrConcurrentUpdate):
		return "concurrent_update"
	case errors.Is(err, ErrDeviceNotRegistered):
		return "device_not_registered"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal"
	}
}

// isDomainError reports whether err is one of the expected outcomes above,
// as opposed to a store or connectivity failure.
func isDomainError(err error) bool {
	code := ErrorCode(err)
	return code != "" && code != "internal"
}
