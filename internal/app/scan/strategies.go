package scan

import (
	"net/url"
	"slices"
	"strings"

	"github.com/dkeye/callbot/internal/core"
	"github.com/dkeye/callbot/internal/domain"
)

// strategy inspects one room and reports a descriptor when its event shape matches.
type strategy struct {
	kind domain.SourceKind
	fn   func(s *Scanner, room core.RoomStateView) (domain.CallDescriptor, bool)
}

// strategies are tried in SourceKind priority order; the first match wins.
var strategies = byPriority([]strategy{
	{domain.SourceFocusCall, focusCall},
	{domain.SourceCallMember, callMember},
	{domain.SourceWidget, widget(core.EventWidget, domain.SourceWidget)},
	{domain.SourceLegacyWidget, widget(core.EventModularWidget, domain.SourceLegacyWidget)},
	{domain.SourceInferred, inferredByName},
})

func byPriority(list []strategy) []strategy {
	slices.SortStableFunc(list, func(a, b strategy) int {
		return a.kind.Priority() - b.kind.Priority()
	})
	return list
}

func focusLocator(c map[string]any) string {
	if f := obj(c, "focus"); f != nil {
		if u := str(f, "url"); u != "" {
			return u
		}
		if u := str(f, "livekit_service_url"); u != "" {
			return u
		}
	}
	for _, f := range parseFoci(list(c, "foci")) {
		if f.ServiceURL != "" {
			return f.ServiceURL
		}
	}
	return ""
}

func focusCall(s *Scanner, room core.RoomStateView) (domain.CallDescriptor, bool) {
	for _, ev := range sortedEvents(room, core.EventFocusCall) {
		c := ev.Content()
		loc := focusLocator(c)
		if loc == "" {
			continue
		}
		callID := str(c, "call_id")
		if callID == "" {
			callID = ev.StateKey()
		}
		return domain.CallDescriptor{
			RoomID:     room.ID(),
			SourceKind: domain.SourceFocusCall,
			Locator:    loc,
			StateKey:   ev.StateKey(),
			CallID:     callID,
			RawContent: c,
		}, true
	}
	return domain.CallDescriptor{}, false
}

func callMember(s *Scanner, room core.RoomStateView) (domain.CallDescriptor, bool) {
	var first *domain.CallDescriptor
	self := s.chat.UserID()
	for _, ev := range sortedEvents(room, core.EventCallMember, core.EventCallMemberStable) {
		m, ok := parseMember(ev)
		if !ok {
			continue
		}
		if self.NamedBy(m.StateKey) {
			return s.memberDescriptor(room, ev, m), true
		}
		if first == nil {
			if _, ok := m.LiveKit(); ok {
				d := s.memberDescriptor(room, ev, m)
				first = &d
			}
		}
	}
	if first != nil {
		return *first, true
	}
	return domain.CallDescriptor{}, false
}

func (s *Scanner) memberDescriptor(room core.RoomStateView, ev core.StateEvent, m domain.CallMember) domain.CallDescriptor {
	q := url.Values{}
	q.Set("roomId", string(room.ID()))
	if f, ok := m.LiveKit(); ok && f.Alias != "" && f.Alias != string(room.ID()) {
		q.Set("roomName", f.Alias)
	}
	return domain.CallDescriptor{
		RoomID:     room.ID(),
		SourceKind: domain.SourceCallMember,
		Locator:    s.baseURL + "/#/?" + q.Encode(),
		StateKey:   m.StateKey,
		CallID:     m.CallID,
		RawContent: ev.Content(),
	}
}

var (
	callURLHints  = []string{"element-call", "call.element.io", "jitsi"}
	callNameHints = []string{"call", "voice", "video"}
	callTypeHints = []string{"jitsi", "m.jitsi", "m.call", "io.element.call"}
)

func containsAny(s string, needles []string) bool {
	s = strings.ToLower(s)
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func isCallWidget(c map[string]any) (string, bool) {
	loc := str(c, "url")
	if loc == "" {
		loc = str(obj(c, "data"), "url")
	}
	if loc == "" {
		return "", false
	}
	typ := strings.ToLower(str(c, "type"))
	for _, t := range callTypeHints {
		if typ == t {
			return loc, true
		}
	}
	return loc, containsAny(loc, callURLHints) || containsAny(str(c, "name"), callNameHints)
}

func widget(eventType string, kind domain.SourceKind) func(*Scanner, core.RoomStateView) (domain.CallDescriptor, bool) {
	return func(s *Scanner, room core.RoomStateView) (domain.CallDescriptor, bool) {
		for _, ev := range sortedEvents(room, eventType) {
			c := ev.Content()
			loc, ok := isCallWidget(c)
			if !ok {
				continue
			}
			return domain.CallDescriptor{
				RoomID:     room.ID(),
				SourceKind: kind,
				Locator:    loc,
				StateKey:   ev.StateKey(),
				RawContent: c,
			}, true
		}
		return domain.CallDescriptor{}, false
	}
}

func inferredByName(s *Scanner, room core.RoomStateView) (domain.CallDescriptor, bool) {
	if !containsAny(room.Name(), callNameHints) {
		return domain.CallDescriptor{}, false
	}
	return domain.CallDescriptor{
		RoomID:     room.ID(),
		SourceKind: domain.SourceInferred,
		Locator:    s.baseURL + "/#/?roomId=" + url.QueryEscape(string(room.ID())),
	}, true
}
