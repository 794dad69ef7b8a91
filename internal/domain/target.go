package domain

import "time"

// MediaTarget holds the connectable parameters of a media room.
// SessionRoomName is deterministic for a given chat room id.
type MediaTarget struct {
	ServerBaseURL   string `json:"server_base_url"`
	SessionRoomName string `json:"session_room_name"`
	CallID          string `json:"call_id,omitempty"`
}

// SessionToken is a short-lived media credential. It lives for one connect
// attempt only and must never be persisted or logged.
type SessionToken struct {
	Endpoint  string
	Value     string
	ServerURL string
	ExpiresAt time.Time
}

func (t SessionToken) String() string { return "SessionToken(" + t.Endpoint + ")" }
