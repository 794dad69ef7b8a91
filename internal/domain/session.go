package domain

import "time"

type SessionState string

const (
	StateIdle          SessionState = "Idle"
	StateResolving     SessionState = "Resolving"
	StateTokenAcquired SessionState = "TokenAcquired"
	StateConnected     SessionState = "Connected"
	StateDisconnecting SessionState = "Disconnecting"
	StateFailed        SessionState = "Failed"
	// StateRemoved is only reported in SessionEvent once a row is gone.
	StateRemoved SessionState = "Removed"
)

// VoiceSession is a read-only snapshot of one room's session row.
type VoiceSession struct {
	RoomID      RoomID       `json:"room_id"`
	State       SessionState `json:"state"`
	MediaTarget *MediaTarget `json:"media_target,omitempty"`
	Connected   bool         `json:"connected"`
	JoinedAt    time.Time    `json:"joined_at,omitempty"`
	LastError   string       `json:"last_error,omitempty"`
}

// SessionEvent reports one lifecycle transition.
type SessionEvent struct {
	RoomID RoomID       `json:"room_id"`
	From   SessionState `json:"from"`
	To     SessionState `json:"to"`
	Error  string       `json:"error,omitempty"`
	Code   Code         `json:"code,omitempty"`
	At     time.Time    `json:"at"`
}

type JoinResult struct {
	Success bool
	Err     error
}

type LeaveResult struct {
	Success bool
	Err     error
}

type PlayResult struct {
	Success          bool
	DurationEstimate time.Duration
	Err              error
}
