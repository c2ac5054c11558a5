package domain

import "time"

// Answer is one player's submission for one question, append-only.
// The store enforces at most one row per (session, player, question).
type Answer struct {
	ID                int64     `json:"id"`
	SessionID         string    `json:"session_id"`
	PlayerID          string    `json:"player_id"`
	QuestionIndex     int       `json:"question_index"`
	ChosenOptionIndex int       `json:"chosen_option_index"`
	IsCorrect         bool      `json:"is_correct"`
	ResponseTimeMs    int64     `json:"response_time_ms"`
	PointsEarned      int64     `json:"points_earned"`
	AnsweredAt        time.Time `json:"answered_at"`
}

// AnswerSubmission represents a request to submit an answer. It arrives
// over HTTP from phone players and over Kafka from external channels.
type AnswerSubmission struct {
	SessionID      string `json:"session_id"`
	PlayerID       string `json:"player_id"`
	QuestionIndex  int    `json:"question_index"`
	OptionIndex    int    `json:"option_index"`
	ResponseTimeMs int64  `json:"response_time_ms"`
}

// PlayerAnswer is an answer joined with the answering player's name,
// used in per-question result views.
type PlayerAnswer struct {
	Answer
	PlayerName string `json:"player_name"`
}

// QuestionResults are the host-computed aggregates for one question.
// Fastest and Slowest consider correct answers only.
type QuestionResults struct {
	QuestionIndex int            `json:"question_index"`
	Correct       []PlayerAnswer `json:"correct"`
	Wrong         []PlayerAnswer `json:"wrong"`
	Fastest       *PlayerAnswer  `json:"fastest,omitempty"`
	Slowest       *PlayerAnswer  `json:"slowest,omitempty"`
}
