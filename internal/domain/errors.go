package domain

import "errors"

// Domain errors
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrPlayerNotFound   = errors.New("player not found")
	ErrQuestionNotFound = errors.New("question not found")

	// Validation errors, rejected before any store call
	ErrEmptyName        = errors.New("player name must not be empty")
	ErrNameTaken        = errors.New("player name already taken in session")
	ErrInvalidOption    = errors.New("chosen option index out of range")
	ErrAlreadySubmitted = errors.New("answer already submitted for question")
	ErrWrongPhase       = errors.New("operation not allowed in current phase")
	ErrNoQuestions      = errors.New("session has no questions loaded")

	// ErrStaleWrite means a guarded session write found the row no longer
	// matching the host's local copy; the caller must re-read before retry.
	ErrStaleWrite = errors.New("session state changed since last read")

	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalError  = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrPlayerNotFound) ||
		errors.Is(err, ErrQuestionNotFound)
}

// IsValidationError checks if an error is rejected client input rather
// than a transport or store failure
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyName) ||
		errors.Is(err, ErrNameTaken) ||
		errors.Is(err, ErrInvalidOption) ||
		errors.Is(err, ErrAlreadySubmitted) ||
		errors.Is(err, ErrWrongPhase) ||
		errors.Is(err, ErrNoQuestions) ||
		errors.Is(err, ErrInvalidRequest)
}
