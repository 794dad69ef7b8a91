package domain

import (
	"strings"
	"unicode"
)

// RoomID is a chat room id such as "!abc:example.org".
type RoomID string

// Validate rejects ids the chat client could never know about.
func (r RoomID) Validate() error {
	if r == "" || !strings.HasPrefix(string(r), "!") {
		return ErrInvalidRoomID
	}
	return nil
}

// Sanitized strips every non-alphanumeric rune, giving a stable media room name.
func (r RoomID) Sanitized() string {
	return Sanitize(string(r))
}

func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		if c < unicode.MaxASCII && (unicode.IsLetter(c) || unicode.IsDigit(c)) {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// VoiceRoom is a room whose state currently describes a call.
type VoiceRoom struct {
	ID        RoomID       `json:"id"`
	Name      string       `json:"name"`
	Source    SourceKind   `json:"source"`
	Encrypted bool         `json:"encrypted"`
	Session   SessionState `json:"session,omitempty"`
}
