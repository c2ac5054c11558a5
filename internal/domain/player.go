package domain

import "time"

// Player represents one joined participant
type Player struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Name      string    `json:"name"`
	Score     int64     `json:"score"`
	Streak    int       `json:"streak"`
	JoinedAt  time.Time `json:"joined_at"`

	// Fan-out mirrors written by the host on each phase transition. A
	// rejoining player can render from these before the first session
	// snapshot arrives.
	CurrentPhase      Phase      `json:"current_phase"`
	CurrentQuestion   int        `json:"current_question"`
	QuestionStartTime *time.Time `json:"question_start_time,omitempty"`
	HasSubmitted      bool       `json:"has_submitted"`
	LastSeenAt        time.Time  `json:"last_seen_at"`
}

// JoinRequest represents a request to join a session
type JoinRequest struct {
	Name string `json:"name"`
}

// PodiumEntry is one row of the final scoreboard
type PodiumEntry struct {
	Rank     int64  `json:"rank"`
	PlayerID string `json:"player_id"`
	Name     string `json:"name,omitempty"`
	Score    int64  `json:"score"`
}
