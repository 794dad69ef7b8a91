package domain

// SourceKind names the detection strategy that produced a CallDescriptor.
type SourceKind string

const (
	SourceFocusCall    SourceKind = "FocusCallEvent"
	SourceCallMember   SourceKind = "CallMemberEvent"
	SourceWidget       SourceKind = "WidgetEvent"
	SourceLegacyWidget SourceKind = "LegacyModularWidget"
	SourceInferred     SourceKind = "InferredByName"
)

// Priority orders sources; lower wins when several match one room.
func (k SourceKind) Priority() int {
	switch k {
	case SourceFocusCall:
		return 0
	case SourceCallMember:
		return 1
	case SourceWidget:
		return 2
	case SourceLegacyWidget:
		return 3
	case SourceInferred:
		return 4
	default:
		return 99
	}
}

// CallDescriptor is the normalized result of scanning one room's state.
type CallDescriptor struct {
	RoomID     RoomID     `json:"room_id"`
	SourceKind SourceKind `json:"source_kind"`
	Locator    string     `json:"locator"`
	StateKey   string     `json:"state_key"`
	CallID     string     `json:"call_id,omitempty"`
	// RawContent is kept for diagnostics only.
	RawContent map[string]any `json:"raw_content,omitempty"`
}

// CallInfo is a diagnostic view of everything call-related in a room.
type CallInfo struct {
	RoomID     RoomID           `json:"room_id"`
	Descriptor *CallDescriptor  `json:"descriptor,omitempty"`
	FocusCalls []CallDescriptor `json:"focus_calls"`
	Members    []CallMember     `json:"members"`
	Encrypted  bool             `json:"encrypted"`
	BotSession *VoiceSession    `json:"bot_session,omitempty"`
}
