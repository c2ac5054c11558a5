package game

import (
	stdsync "sync"

	"github.com/trivia-live/internal/domain"
)

// SubmissionState is the per-question lifecycle of one player's answer
type SubmissionState int

const (
	SubmissionUnset SubmissionState = iota
	SubmissionSubmitting
	SubmissionSubmitted
	SubmissionError
)

func (s SubmissionState) String() string {
	switch s {
	case SubmissionSubmitting:
		return "submitting"
	case SubmissionSubmitted:
		return "submitted"
	case SubmissionError:
		return "error"
	default:
		return "unset"
	}
}

// SubmissionEvent drives the submission state machine
type SubmissionEvent int

const (
	EventSubmit SubmissionEvent = iota
	EventSucceed
	EventFail
	EventReset
)

// NextSubmissionState is the pure transition function. It returns the
// next state and whether the event is legal from the current state.
func NextSubmissionState(state SubmissionState, event SubmissionEvent) (SubmissionState, bool) {
	switch event {
	case EventSubmit:
		// Legal from unset and from error (retry); never while a
		// submission is in flight or already landed.
		if state == SubmissionUnset || state == SubmissionError {
			return SubmissionSubmitting, true
		}
		return state, false
	case EventSucceed:
		if state == SubmissionSubmitting {
			return SubmissionSubmitted, true
		}
		return state, false
	case EventFail:
		if state == SubmissionSubmitting {
			return SubmissionError, true
		}
		return state, false
	case EventReset:
		return SubmissionUnset, true
	default:
		return state, false
	}
}

// SubmissionTracker guards one player's answers against duplicate
// submission. It double-gates: the per-question state machine rejects
// re-entry while submitting or submitted, and the answered set rejects
// indices that already landed, covering re-render races.
type SubmissionTracker struct {
	mu       stdsync.Mutex
	states   map[int]SubmissionState
	answered map[int]bool
}

// NewSubmissionTracker creates an empty tracker
func NewSubmissionTracker() *SubmissionTracker {
	return &SubmissionTracker{
		states:   make(map[int]SubmissionState),
		answered: make(map[int]bool),
	}
}

// Begin marks a question as submitting. It returns ErrAlreadySubmitted
// without any side effect when a submission is in flight or already
// landed for the index.
func (t *SubmissionTracker) Begin(questionIndex int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.answered[questionIndex] {
		return domain.ErrAlreadySubmitted
	}
	next, ok := NextSubmissionState(t.states[questionIndex], EventSubmit)
	if !ok {
		return domain.ErrAlreadySubmitted
	}
	t.states[questionIndex] = next
	return nil
}

// Succeed marks the in-flight submission as landed and adds the index to
// the answered set
func (t *SubmissionTracker) Succeed(questionIndex int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if next, ok := NextSubmissionState(t.states[questionIndex], EventSucceed); ok {
		t.states[questionIndex] = next
		t.answered[questionIndex] = true
	}
}

// Fail marks the in-flight submission as errored and removes the index
// from the answered set so the player may retry exactly once per failure
func (t *SubmissionTracker) Fail(questionIndex int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if next, ok := NextSubmissionState(t.states[questionIndex], EventFail); ok {
		t.states[questionIndex] = next
		delete(t.answered, questionIndex)
	}
}

// State returns the current submission state for a question index
func (t *SubmissionTracker) State(questionIndex int) SubmissionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[questionIndex]
}

// Reset clears all submission state, used on game restart
func (t *SubmissionTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states = make(map[int]SubmissionState)
	t.answered = make(map[int]bool)
}
