package domain

// CallMember is one participant advertised by a call-member state event.
// No transport or lifecycle logic here.
type CallMember struct {
	StateKey string  `json:"state_key"`
	CallID   string  `json:"call_id,omitempty"`
	Foci     []Focus `json:"foci,omitempty"`
}

// Focus is a call-routing endpoint embedded in call state.
type Focus struct {
	Type       string `json:"type"`
	ServiceURL string `json:"service_url,omitempty"`
	Alias      string `json:"alias,omitempty"`
}

const FocusTypeLiveKit = "livekit"

// LiveKit returns the first LiveKit focus advertised by the member.
func (m CallMember) LiveKit() (Focus, bool) {
	for _, f := range m.Foci {
		if f.Type == FocusTypeLiveKit {
			return f, true
		}
	}
	return Focus{}, false
}
