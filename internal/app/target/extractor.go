// Package target turns call descriptors into connectable media targets.
package target

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/dkeye/callbot/internal/domain"
)

// roomNameParams are the historical aliases of the room-name fragment
// parameter, most specific first.
var roomNameParams = []string{"roomName", "room", "r"}

type Extractor struct {
	defaultBaseURL string
}

func NewExtractor(defaultBaseURL string) *Extractor {
	return &Extractor{defaultBaseURL: strings.TrimRight(defaultBaseURL, "/")}
}

// Extract parses d's locator. InferredByName and empty locators fall back to
// a name derived from the chat room id.
func (e *Extractor) Extract(d domain.CallDescriptor) (domain.MediaTarget, error) {
	if d.SourceKind == domain.SourceInferred || strings.TrimSpace(d.Locator) == "" {
		return e.fallback(d)
	}

	u, err := url.Parse(strings.TrimSpace(d.Locator))
	if err != nil {
		return domain.MediaTarget{}, fmt.Errorf("extract %q: %w: %v", d.Locator, domain.ErrParse, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return domain.MediaTarget{}, fmt.Errorf("extract %q: %w: missing scheme or host", d.Locator, domain.ErrParse)
	}

	params := fragmentParams(u.EscapedFragment())
	t := domain.MediaTarget{
		ServerBaseURL: u.Scheme + "://" + u.Host,
		CallID:        d.CallID,
	}
	for _, key := range roomNameParams {
		if v := param(params, key); v != "" {
			t.SessionRoomName = v
			break
		}
	}
	if t.SessionRoomName == "" {
		// the fragment's roomId is often a template placeholder; only the
		// descriptor's room id is trusted
		t.SessionRoomName = d.RoomID.Sanitized()
	}
	if t.SessionRoomName == "" {
		return domain.MediaTarget{}, fmt.Errorf("extract %q: %w: no room name", d.Locator, domain.ErrParse)
	}
	return t, nil
}

func (e *Extractor) fallback(d domain.CallDescriptor) (domain.MediaTarget, error) {
	name := d.RoomID.Sanitized()
	if name == "" {
		return domain.MediaTarget{}, fmt.Errorf("extract %s: %w: no locator and no room id", d.SourceKind, domain.ErrParse)
	}
	return domain.MediaTarget{
		ServerBaseURL:   e.defaultBaseURL,
		SessionRoomName: name,
		CallID:          d.CallID,
	}, nil
}

// param returns the trimmed value of key. Unfilled widget template
// placeholders such as "$roomName" count as absent.
func param(values url.Values, key string) string {
	v := strings.TrimSpace(values.Get(key))
	if strings.HasPrefix(v, "$") {
		return ""
	}
	return v
}

// fragmentParams reads a fragment such as "/?roomId=a&roomName=b" as a query string.
func fragmentParams(fragment string) url.Values {
	if i := strings.IndexByte(fragment, '?'); i >= 0 {
		fragment = fragment[i+1:]
	}
	// ParseQuery keeps every pair it could decode even when it reports an error.
	values, _ := url.ParseQuery(fragment)
	return values
}
