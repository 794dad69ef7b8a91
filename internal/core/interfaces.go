package core

import (
	"context"

	"github.com/dkeye/callbot/internal/domain"
)

// CallScanner finds the authoritative call descriptor of a room.
type CallScanner interface {
	Scan(roomID domain.RoomID) (domain.CallDescriptor, error)
	ScanRoom(room RoomStateView) (domain.CallDescriptor, error)
	// ScanForUser returns the call-member descriptor naming user, if any.
	ScanForUser(room RoomStateView, user domain.UserID) (domain.CallDescriptor, error)
	Members(room RoomStateView) []domain.CallMember
	FocusCalls(room RoomStateView) []domain.CallDescriptor
	Encrypted(room RoomStateView) bool
}

// TargetExtractor converts a descriptor into connectable parameters.
type TargetExtractor interface {
	Extract(d domain.CallDescriptor) (domain.MediaTarget, error)
}

// TokenBroker exchanges the chat credential for a media session token.
type TokenBroker interface {
	AcquireToken(ctx context.Context, credential string, roomID domain.RoomID, target domain.MediaTarget) (domain.SessionToken, error)
}
