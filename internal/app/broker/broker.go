// Package broker exchanges the bot's chat credential for a media session
// token: it discovers the token service from the homeserver's well-known
// document, then posts the room and call ids to it.
package broker

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/callbot/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultRequestTimeout = 5 * time.Second
	MaxDiscoveryTTL       = 5 * time.Minute
)

type Config struct {
	HomeserverURL  string
	RequestTimeout time.Duration
	// DiscoveryTTL caches the discovered endpoint; zero disables the cache.
	DiscoveryTTL time.Duration
	HTTPClient   *http.Client
}

// Broker never retries; a failed acquisition is reported once.
type Broker struct {
	homeserver string
	timeout    time.Duration
	ttl        time.Duration
	client     *http.Client
	now        func() time.Time

	group singleflight.Group

	mu       sync.Mutex
	endpoint string
	cachedAt time.Time
}

func New(cfg Config) *Broker {
	b := &Broker{
		homeserver: strings.TrimRight(cfg.HomeserverURL, "/"),
		timeout:    cfg.RequestTimeout,
		ttl:        min(cfg.DiscoveryTTL, MaxDiscoveryTTL),
		client:     cfg.HTTPClient,
		now:        time.Now,
	}
	if b.timeout <= 0 {
		b.timeout = DefaultRequestTimeout
	}
	if b.client == nil {
		b.client = &http.Client{}
	}
	return b
}

// AcquireToken runs discovery then exchange. Both failures surface as
// *domain.BrokerError.
func (b *Broker) AcquireToken(ctx context.Context, credential string, roomID domain.RoomID, target domain.MediaTarget) (domain.SessionToken, error) {
	logger := log.With().Str("module", "broker").Str("room", string(roomID)).Logger()

	endpoint, err := b.Discover(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("token endpoint discovery failed")
		return domain.SessionToken{}, err
	}

	callID := target.CallID
	if callID == "" {
		callID = roomID.Sanitized()
	}
	tok, err := b.exchange(ctx, endpoint, credential, roomID, callID)
	if err != nil {
		logger.Warn().Err(err).Str("endpoint", endpoint).Msg("token exchange failed")
		return domain.SessionToken{}, err
	}
	logger.Info().Str("endpoint", endpoint).Time("expires_at", tok.ExpiresAt).Msg("session token acquired")
	return tok, nil
}
