package scan

import (
	"testing"

	"github.com/dkeye/callbot/internal/core"
	"github.com/dkeye/callbot/internal/core/coretest"
	"github.com/dkeye/callbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	bot  = domain.UserID("@bot:example.org")
	room = domain.RoomID("!room:example.org")
)

func livekitMember(alias string) map[string]any {
	return map[string]any{
		"application": "m.call",
		"call_id":     "",
		"foci_preferred": []any{
			map[string]any{"type": "livekit", "livekit_service_url": "https://jwt.example.org", "livekit_alias": alias},
		},
	}
}

func newScanner(r *coretest.Room) (*Scanner, *coretest.Chat) {
	chat := coretest.NewChat(bot, "secret")
	if r != nil {
		chat.Put(r)
	}
	return NewScanner(chat, "https://call.example/"), chat
}

func TestScan_RoomNotFound(t *testing.T) {
	s, _ := newScanner(nil)
	_, err := s.Scan(room)
	require.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestScan_NothingMatches(t *testing.T) {
	s, _ := newScanner(coretest.NewRoom(room, "General"))
	_, err := s.Scan(room)
	require.ErrorIs(t, err, domain.ErrNoCallDescriptor)
}

func TestScan_FocusCallWins(t *testing.T) {
	r := coretest.NewRoom(room, "Voice lounge").
		With(core.EventFocusCall, "call-1", map[string]any{"focus": map[string]any{"type": "livekit", "url": "https://call.example/#/?roomName=standup"}}).
		With(core.EventCallMember, "@alice:example.org", livekitMember("standup")).
		With(core.EventWidget, "w1", map[string]any{"url": "https://call.element.io/#/?roomId=x", "name": "Call"})
	s, _ := newScanner(r)

	d, err := s.Scan(room)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceFocusCall, d.SourceKind)
	assert.Equal(t, "call-1", d.StateKey)
	assert.Equal(t, "call-1", d.CallID)
	assert.Equal(t, "https://call.example/#/?roomName=standup", d.Locator)
}

func TestScan_FocusCallWithoutLocatorFallsThrough(t *testing.T) {
	r := coretest.NewRoom(room, "").
		With(core.EventFocusCall, "call-1", map[string]any{"m.intent": "m.room"}).
		With(core.EventCallMember, "@alice:example.org", livekitMember(""))
	s, _ := newScanner(r)

	d, err := s.Scan(room)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceCallMember, d.SourceKind)
}

func TestScan_CallMemberBeatsWidget(t *testing.T) {
	r := coretest.NewRoom(room, "").
		With(core.EventWidget, "w1", map[string]any{"url": "https://call.element.io/#/?roomId=x", "name": "Call"}).
		With(core.EventCallMember, "@alice:example.org", livekitMember("lk-room"))
	s, _ := newScanner(r)

	d, err := s.Scan(room)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceCallMember, d.SourceKind)
	assert.Equal(t, "@alice:example.org", d.StateKey)
	assert.Contains(t, d.Locator, "roomName=lk-room")
}

func TestScan_CallMemberPrefersBotEntry(t *testing.T) {
	r := coretest.NewRoom(room, "").
		With(core.EventCallMember, "@alice:example.org", livekitMember("a")).
		With(core.EventCallMember, "_@bot:example.org_DEVICE", map[string]any{"call_id": "c2", "foci_preferred": []any{}})
	s, _ := newScanner(r)

	d, err := s.Scan(room)
	require.NoError(t, err)
	assert.Equal(t, "_@bot:example.org_DEVICE", d.StateKey)
	assert.Equal(t, "c2", d.CallID)
}

func TestScan_CallMemberRequiresLiveKitFocus(t *testing.T) {
	r := coretest.NewRoom(room, "").
		With(core.EventCallMember, "@alice:example.org", map[string]any{"call_id": "", "foci_preferred": []any{map[string]any{"type": "mesh"}}}).
		With(core.EventCallMember, "@carol:example.org", map[string]any{})
	s, _ := newScanner(r)

	_, err := s.Scan(room)
	require.ErrorIs(t, err, domain.ErrNoCallDescriptor)
}

func TestScan_LegacyMembershipsLayout(t *testing.T) {
	r := coretest.NewRoom(room, "").
		With(core.EventCallMember, "@alice:example.org", map[string]any{
			"memberships": []any{map[string]any{
				"call_id":     "legacy",
				"foci_active": []any{map[string]any{"type": "livekit", "livekit_service_url": "https://jwt.example.org"}},
			}},
		})
	s, _ := newScanner(r)

	d, err := s.Scan(room)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceCallMember, d.SourceKind)
	assert.Equal(t, "legacy", d.CallID)
}

func TestScan_Widgets(t *testing.T) {
	tests := []struct {
		name    string
		evType  string
		content map[string]any
		want    domain.SourceKind
		found   bool
	}{
		{"element call url", core.EventWidget, map[string]any{"url": "https://call.element.io/#/?roomId=x"}, domain.SourceWidget, true},
		{"data url and voice name", core.EventWidget, map[string]any{"name": "Voice chat", "data": map[string]any{"url": "https://meet.example/room"}}, domain.SourceWidget, true},
		{"jitsi type", core.EventWidget, map[string]any{"type": "jitsi", "url": "https://meet.example/room"}, domain.SourceWidget, true},
		{"legacy modular", core.EventModularWidget, map[string]any{"url": "https://jitsi.example/x"}, domain.SourceLegacyWidget, true},
		{"unrelated widget", core.EventWidget, map[string]any{"url": "https://grafana.example", "name": "Dashboards"}, "", false},
		{"removed widget", core.EventWidget, map[string]any{}, "", false},
		{"malformed url field", core.EventWidget, map[string]any{"url": 42, "name": "call"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newScanner(coretest.NewRoom(room, "").With(tt.evType, "w", tt.content))
			d, err := s.Scan(room)
			if !tt.found {
				require.ErrorIs(t, err, domain.ErrNoCallDescriptor)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.SourceKind)
		})
	}
}

func TestScan_WidgetBeatsLegacy(t *testing.T) {
	r := coretest.NewRoom(room, "").
		With(core.EventModularWidget, "old", map[string]any{"url": "https://jitsi.example/x"}).
		With(core.EventWidget, "new", map[string]any{"url": "https://call.element.io/#/?roomName=n"})
	s, _ := newScanner(r)

	d, err := s.Scan(room)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceWidget, d.SourceKind)
	assert.Equal(t, "new", d.StateKey)
}

func TestScan_InferredByName(t *testing.T) {
	s, _ := newScanner(coretest.NewRoom(room, "Team VIDEO sync"))
	d, err := s.Scan(room)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceInferred, d.SourceKind)
	assert.Equal(t, "https://call.example/#/?roomId=%21room%3Aexample.org", d.Locator)
}

func TestScanForUser(t *testing.T) {
	r := coretest.NewRoom(room, "").
		With(core.EventCallMember, "@alice:example.org_PHONE", livekitMember("a")).
		With(core.EventCallMember, "@bob:example.org", map[string]any{})
	s, _ := newScanner(r)

	d, err := s.ScanForUser(r, "@alice:example.org")
	require.NoError(t, err)
	assert.Equal(t, "@alice:example.org_PHONE", d.StateKey)

	_, err = s.ScanForUser(r, "@bob:example.org")
	require.ErrorIs(t, err, domain.ErrNoCallDescriptor)
	_, err = s.ScanForUser(r, "@al:example.org")
	require.ErrorIs(t, err, domain.ErrNoCallDescriptor)
}

func TestMembersFocusCallsEncrypted(t *testing.T) {
	r := coretest.NewRoom(room, "").
		With(core.EventCallMember, "@alice:example.org", livekitMember("a")).
		With(core.EventCallMember, "@bob:example.org", map[string]any{}).
		With(core.EventFocusCall, "c", map[string]any{"focus": map[string]any{"url": "https://x"}}).
		With(core.EventRoomEncryption, "", map[string]any{"algorithm": "m.megolm.v1.aes-sha2"})
	s, _ := newScanner(r)

	members := s.Members(r)
	require.Len(t, members, 1)
	assert.Equal(t, "@alice:example.org", members[0].StateKey)
	require.Len(t, s.FocusCalls(r), 1)
	assert.True(t, s.Encrypted(r))
	assert.False(t, s.Encrypted(coretest.NewRoom(room, "")))
}

func TestStrategiesFollowSourcePriority(t *testing.T) {
	shuffled := byPriority([]strategy{
		{kind: domain.SourceInferred},
		{kind: domain.SourceWidget},
		{kind: domain.SourceFocusCall},
		{kind: domain.SourceLegacyWidget},
		{kind: domain.SourceCallMember},
	})
	var kinds []domain.SourceKind
	for _, st := range shuffled {
		kinds = append(kinds, st.kind)
	}
	want := []domain.SourceKind{domain.SourceFocusCall, domain.SourceCallMember, domain.SourceWidget, domain.SourceLegacyWidget, domain.SourceInferred}
	assert.Equal(t, want, kinds)

	for i := 1; i < len(strategies); i++ {
		assert.Less(t, strategies[i-1].kind.Priority(), strategies[i].kind.Priority())
	}
}
