package domain

import "time"

// ChangeKind identifies which row a change event describes
type ChangeKind string

const (
	ChangeSessionUpdate ChangeKind = "session_update"
	ChangePlayerJoin    ChangeKind = "player_join"
	ChangePlayerUpdate  ChangeKind = "player_update"
	ChangePlayerLeave   ChangeKind = "player_leave"

	// ChangePing carries no row; it keeps the push channel observably
	// alive so subscribers can distinguish "quiet" from "dead".
	ChangePing ChangeKind = "ping"
)

// ChangeEvent is a row-change notification published on a session's push
// channel after a committed store write. Delivery is at-least-once; the
// versioned applier on the receiving side makes application idempotent.
type ChangeEvent struct {
	Kind      ChangeKind `json:"kind"`
	SessionID string     `json:"session_id"`
	Session   *Session   `json:"session,omitempty"`
	Player    *Player    `json:"player,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}
