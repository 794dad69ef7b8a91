package scan

import (
	"sort"

	"github.com/dkeye/callbot/internal/core"
	"github.com/dkeye/callbot/internal/domain"
)

// Content accessors never fail: malformed state is simply "no value".

func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func obj(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	o, _ := m[key].(map[string]any)
	return o
}

func list(m map[string]any, key string) []map[string]any {
	if m == nil {
		return nil
	}
	raw, _ := m[key].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if o, ok := v.(map[string]any); ok {
			out = append(out, o)
		}
	}
	return out
}

func sortedEvents(room core.RoomStateView, types ...string) []core.StateEvent {
	var out []core.StateEvent
	for _, t := range types {
		evs := room.StateEvents(t)
		sorted := make([]core.StateEvent, 0, len(evs))
		for _, ev := range evs {
			if ev != nil {
				sorted = append(sorted, ev)
			}
		}
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StateKey() < sorted[j].StateKey() })
		out = append(out, sorted...)
	}
	return out
}

func parseFoci(entries []map[string]any) []domain.Focus {
	foci := make([]domain.Focus, 0, len(entries))
	for _, f := range entries {
		typ := str(f, "type")
		if typ == "" {
			continue
		}
		svc := str(f, "livekit_service_url")
		if svc == "" {
			svc = str(f, "url")
		}
		foci = append(foci, domain.Focus{Type: typ, ServiceURL: svc, Alias: str(f, "livekit_alias")})
	}
	return foci
}

// parseMember reads both the session-per-event and the legacy
// "memberships" layouts. Empty content means the member left.
func parseMember(ev core.StateEvent) (domain.CallMember, bool) {
	c := ev.Content()
	if len(c) == 0 {
		return domain.CallMember{}, false
	}
	m := domain.CallMember{StateKey: ev.StateKey(), CallID: str(c, "call_id")}
	m.Foci = append(m.Foci, parseFoci(list(c, "foci_preferred"))...)
	m.Foci = append(m.Foci, parseFoci(list(c, "foci"))...)
	if active := obj(c, "focus_active"); active != nil {
		m.Foci = append(m.Foci, parseFoci([]map[string]any{active})...)
	}
	if memberships := list(c, "memberships"); len(memberships) > 0 {
		for _, ms := range memberships {
			if m.CallID == "" {
				m.CallID = str(ms, "call_id")
			}
			m.Foci = append(m.Foci, parseFoci(list(ms, "foci_active"))...)
		}
	} else if _, legacy := c["memberships"]; legacy {
		// legacy layout with an empty list is a departed member
		return domain.CallMember{}, false
	}
	return m, true
}
