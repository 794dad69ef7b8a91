package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dkeye/callbot/internal/domain"
)

const (
	wellKnownPath = "/.well-known/matrix/client"
	rtcFociKey    = "org.matrix.msc4143.rtc_foci"
	maxBodyBytes  = 1 << 20
)

type rtcFocus struct {
	Type              string `json:"type"`
	LiveKitServiceURL string `json:"livekit_service_url"`
}

// Discover returns the token service URL. Concurrent callers share one
// request; the result is cached only when a TTL is configured.
func (b *Broker) Discover(ctx context.Context) (string, error) {
	if ep, ok := b.cached(); ok {
		return ep, nil
	}
	ch := b.group.DoChan("discover", func() (any, error) {
		ep, err := b.discover(context.WithoutCancel(ctx))
		if err == nil {
			b.store(ep)
		}
		return ep, err
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", domain.NewBrokerError(domain.ReasonDiscoveryFailed, ctx.Err())
	}
}

func (b *Broker) cached() (string, bool) {
	if b.ttl <= 0 {
		return "", false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.endpoint == "" || b.now().Sub(b.cachedAt) >= b.ttl {
		return "", false
	}
	return b.endpoint, true
}

func (b *Broker) store(endpoint string) {
	if b.ttl <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endpoint = endpoint
	b.cachedAt = b.now()
}

func (b *Broker) discover(ctx context.Context) (string, error) {
	fail := func(err error) (string, error) {
		return "", domain.NewBrokerError(domain.ReasonDiscoveryFailed, err)
	}
	if b.homeserver == "" {
		return fail(errors.New("homeserver url not configured"))
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.homeserver+wellKnownPath, nil)
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := b.client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("well-known returned %s", resp.Status))
	}

	var doc map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&doc); err != nil {
		return fail(fmt.Errorf("decode well-known: %w", err))
	}
	raw, ok := doc[rtcFociKey]
	if !ok {
		return fail(fmt.Errorf("well-known has no %s", rtcFociKey))
	}
	var foci []rtcFocus
	if err := json.Unmarshal(raw, &foci); err != nil {
		return fail(fmt.Errorf("decode %s: %w", rtcFociKey, err))
	}
	for _, f := range foci {
		if f.Type == domain.FocusTypeLiveKit && f.LiveKitServiceURL != "" {
			return strings.TrimRight(f.LiveKitServiceURL, "/"), nil
		}
	}
	return fail(errors.New("no livekit focus advertised"))
}
