// Package scan extracts at most one authoritative call descriptor from a
// room's state, trying each detection strategy in priority order.
package scan

import (
	"fmt"
	"strings"

	"github.com/dkeye/callbot/internal/core"
	"github.com/dkeye/callbot/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultBaseURL = "https://call.element.io"

type Scanner struct {
	chat    core.ChatClient
	baseURL string
}

// NewScanner builds a Scanner. baseURL is used for synthesized locators.
func NewScanner(chat core.ChatClient, baseURL string) *Scanner {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Scanner{chat: chat, baseURL: strings.TrimRight(baseURL, "/")}
}

// Scan is a pure read. Missing or malformed state never fails a strategy;
// it only makes it miss.
func (s *Scanner) Scan(roomID domain.RoomID) (domain.CallDescriptor, error) {
	room, ok := s.chat.Room(roomID)
	if !ok || room == nil {
		return domain.CallDescriptor{}, fmt.Errorf("scan %s: %w", roomID, domain.ErrRoomNotFound)
	}
	return s.ScanRoom(room)
}

func (s *Scanner) ScanRoom(room core.RoomStateView) (domain.CallDescriptor, error) {
	for _, st := range strategies {
		if d, ok := st.fn(s, room); ok {
			log.Debug().Str("module", "scan").Str("room", string(room.ID())).
				Str("source", string(d.SourceKind)).Str("state_key", d.StateKey).Msg("call descriptor found")
			return d, nil
		}
	}
	return domain.CallDescriptor{}, fmt.Errorf("scan %s: %w", room.ID(), domain.ErrNoCallDescriptor)
}

func (s *Scanner) ScanForUser(room core.RoomStateView, user domain.UserID) (domain.CallDescriptor, error) {
	for _, ev := range sortedEvents(room, core.EventCallMember, core.EventCallMemberStable) {
		m, ok := parseMember(ev)
		if !ok || !user.NamedBy(m.StateKey) {
			continue
		}
		return s.memberDescriptor(room, ev, m), nil
	}
	return domain.CallDescriptor{}, fmt.Errorf("scan %s for %s: %w", room.ID(), user, domain.ErrNoCallDescriptor)
}

// Members lists every active call member of the room.
func (s *Scanner) Members(room core.RoomStateView) []domain.CallMember {
	var out []domain.CallMember
	for _, ev := range sortedEvents(room, core.EventCallMember, core.EventCallMemberStable) {
		if m, ok := parseMember(ev); ok {
			out = append(out, m)
		}
	}
	return out
}

func (s *Scanner) FocusCalls(room core.RoomStateView) []domain.CallDescriptor {
	var out []domain.CallDescriptor
	for _, ev := range sortedEvents(room, core.EventFocusCall) {
		c := ev.Content()
		if len(c) == 0 {
			continue
		}
		out = append(out, domain.CallDescriptor{
			RoomID:     room.ID(),
			SourceKind: domain.SourceFocusCall,
			Locator:    focusLocator(c),
			StateKey:   ev.StateKey(),
			CallID:     ev.StateKey(),
			RawContent: c,
		})
	}
	return out
}

func (s *Scanner) Encrypted(room core.RoomStateView) bool {
	ev, ok := room.StateEvent(core.EventRoomEncryption, "")
	return ok && ev != nil && len(ev.Content()) > 0
}
