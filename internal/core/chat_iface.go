package core

import (
	"context"

	"github.com/dkeye/callbot/internal/domain"
)

// Well-known chat state event types the scanner understands.
const (
	EventFocusCall        = "org.matrix.msc3401.call"
	EventCallMember       = "org.matrix.msc3401.call.member"
	EventCallMemberStable = "m.call.member"
	EventWidget           = "m.widget"
	EventModularWidget    = "im.vector.modular.widgets"
	EventRoomName         = "m.room.name"
	EventRoomMember       = "m.room.member"
	EventRoomEncryption   = "m.room.encryption"
)

// StateEvent is one piece of room state as delivered by the chat client.
type StateEvent interface {
	Type() string
	StateKey() string
	// Content may be nil or empty for redacted/cleared state.
	Content() map[string]any
}

// RoomStateView is a point-in-time view of a room's current state.
type RoomStateView interface {
	ID() domain.RoomID
	Name() string
	// StateEvents returns all events of eventType, ordered by state key.
	StateEvents(eventType string) []StateEvent
	StateEvent(eventType, stateKey string) (StateEvent, bool)
}

// ChatClient is the external chat client the core reads room state from.
// Owned by the adapter; the core never drives sync.
type ChatClient interface {
	Room(id domain.RoomID) (RoomStateView, bool)
	Rooms() []RoomStateView
	AccessToken() string
	UserID() domain.UserID
	JoinRoom(ctx context.Context, id domain.RoomID) error
}

type ChatEventKind int

const (
	ChatStateChanged ChatEventKind = iota
	ChatMembership
	ChatTimeline
	ChatSynced
)

// ChatEvent is what the chat adapter pushes on its single-producer stream.
type ChatEvent struct {
	Kind       ChatEventKind
	RoomID     domain.RoomID
	Type       string
	StateKey   string
	Sender     domain.UserID
	Membership string
}
