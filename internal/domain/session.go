package domain

import "time"

// Session is the single authoritative game-state record for one trivia game.
// All writes to it are serialized through the host's phase state machine;
// every other participant derives its state from snapshots of this row.
type Session struct {
	ID                   string     `json:"id"`
	Phase                Phase      `json:"phase"`
	CurrentQuestionIndex int        `json:"current_question_index"`
	QuestionStartTime    *time.Time `json:"question_start_time,omitempty"`
	ShuffledOptions      []string   `json:"shuffled_options,omitempty"`
	NumSponsorBreaks     int        `json:"num_sponsor_breaks"`
	PointsEnabled        bool       `json:"points_enabled"`
	Version              int64      `json:"version"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// SessionWrite is the mutable state a single phase transition persists.
// Phase, question index, start time and shuffle always travel together so
// that readers never observe a question without its shuffle.
type SessionWrite struct {
	Phase                Phase
	CurrentQuestionIndex int
	QuestionStartTime    *time.Time
	ShuffledOptions      []string
}

// SessionExpectation is the host's view of the row a guarded write must
// still match. A mismatch means another write got there first and the
// host must re-read before retrying.
type SessionExpectation struct {
	Phase                Phase
	CurrentQuestionIndex int
}

// CreateSessionRequest represents a request to create a new game session
type CreateSessionRequest struct {
	NumSponsorBreaks int  `json:"num_sponsor_breaks"`
	PointsEnabled    bool `json:"points_enabled"`
}
