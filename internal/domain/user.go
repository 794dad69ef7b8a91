// Package domain contains entity without logic, just meta-data
package domain

import (
	"fmt"
	"strings"
)

const MaxUserIDLen = 255

var (
	ErrUserIDTooLong = fmt.Errorf("%w: too long", ErrInvalidUserID)
	ErrUserIDEmpty   = fmt.Errorf("%w: empty", ErrInvalidUserID)
)

// UserID is a chat user id such as "@alice:example.org".
type UserID string

// Validate rejects ids that cannot name a chat user.
func (u UserID) Validate() error {
	if len(u) == 0 {
		return ErrUserIDEmpty
	}
	if len(u) > MaxUserIDLen {
		return ErrUserIDTooLong
	}
	if !strings.HasPrefix(string(u), "@") || !strings.Contains(string(u), ":") {
		return ErrInvalidUserID
	}
	return nil
}

// NamedBy reports whether a call-member state key belongs to u.
// State keys are either the bare user id or "<user>_<device>" / "_<user>_<device>".
func (u UserID) NamedBy(stateKey string) bool {
	if u == "" || stateKey == "" {
		return false
	}
	s := string(u)
	return stateKey == s ||
		strings.HasPrefix(stateKey, s+"_") ||
		strings.HasPrefix(stateKey, "_"+s+"_")
}
