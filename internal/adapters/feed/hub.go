// Package feed streams session transitions to websocket observers.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/callbot/internal/app"
	"github.com/dkeye/callbot/internal/core"
	"github.com/dkeye/callbot/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	DefaultReadLimit  = 4096
	DefaultPingPeriod = 54 * time.Second
	DefaultSendBuffer = 64
)

type Config struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

// Message is the envelope of every frame a subscriber receives.
type Message struct {
	Type     string                `json:"type"`
	Event    *domain.SessionEvent  `json:"event,omitempty"`
	Sessions []domain.VoiceSession `json:"sessions,omitempty"`
	Error    string                `json:"error,omitempty"`
}

type subscriber struct {
	conn    core.SignalConnection
	dropped int
}

type Hub struct {
	cfg      Config
	policy   app.Policy
	snapshot func() []domain.VoiceSession
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[string]*subscriber
}

// NewHub builds a hub. snapshot, when set, is sent to every new subscriber
// and on request.
func NewHub(cfg Config, policy app.Policy, snapshot func() []domain.VoiceSession) *Hub {
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = DefaultPingPeriod
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	if policy == nil {
		policy = app.SimplePolicy{MaxDropped: cfg.SendBuffer}
	}
	return &Hub{
		cfg:      cfg,
		policy:   policy,
		snapshot: snapshot,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		subs:     make(map[string]*subscriber),
	}
}

func (h *Hub) Add(conn core.SignalConnection) string {
	id := uuid.NewString()
	h.mu.Lock()
	h.subs[id] = &subscriber{conn: conn}
	n := len(h.subs)
	h.mu.Unlock()
	log.Info().Str("module", "feed").Str("sub", id).Int("subscribers", n).Msg("subscriber added")
	return id
}

func (h *Hub) Remove(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if ok {
		sub.conn.Close()
		log.Info().Str("module", "feed").Str("sub", id).Msg("subscriber removed")
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish is a session manager subscriber. It never blocks: a subscriber
// whose buffer is full loses the frame and is kicked once the policy says so.
func (h *Hub) Publish(ev domain.SessionEvent) {
	b, err := json.Marshal(Message{Type: "session", Event: &ev})
	if err != nil {
		log.Error().Err(err).Str("module", "feed").Msg("marshal event")
		return
	}

	var kicked []*subscriber
	h.mu.Lock()
	for id, sub := range h.subs {
		err := sub.conn.TrySend(b)
		switch {
		case err == nil:
			sub.dropped = 0
		case errors.Is(err, ErrBackpressure):
			sub.dropped++
			if h.policy.OnBackPressure(id, sub.dropped) == app.KickSubscriber {
				log.Warn().Str("module", "feed").Str("sub", id).Int("dropped", sub.dropped).Msg("kicking slow subscriber")
				delete(h.subs, id)
				kicked = append(kicked, sub)
			}
		default:
			delete(h.subs, id)
			kicked = append(kicked, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range kicked {
		sub.conn.Close()
	}
}

// Close drops every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*subscriber)
	h.mu.Unlock()
	for _, sub := range subs {
		sub.conn.Close()
	}
}

// Serve upgrades the request and runs the subscriber until the peer leaves
// or ctx ends.
func (h *Hub) Serve(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "feed").Msg("ws upgrade")
		return
	}
	conn := newWSConn("", ws, h.cfg.SendBuffer)
	id := h.Add(conn)
	conn.id = id

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		conn.readPump(h.cfg.ReadLimit, h.cfg.PingPeriod*10/9, func(data []byte) {
			h.handle(conn, data)
		})
		h.Remove(id)
	}()
	go conn.writePump(ctx, h.cfg.PingPeriod)

	h.sendSnapshot(conn)
}

func (h *Hub) handle(conn *wsConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Debug().Err(err).Str("module", "feed").Str("sub", conn.id).Msg("bad json")
		h.send(conn, Message{Type: "error", Error: "bad_payload"})
		return
	}
	switch env.Type {
	case "ping":
		h.send(conn, Message{Type: "pong"})
	case "sessions":
		h.sendSnapshot(conn)
	default:
		log.Warn().Str("module", "feed").Str("type", env.Type).Msg("unknown message")
		h.send(conn, Message{Type: "error", Error: "unknown_type"})
	}
}

func (h *Hub) sendSnapshot(conn core.SignalConnection) {
	if h.snapshot == nil {
		return
	}
	sessions := h.snapshot()
	if sessions == nil {
		sessions = []domain.VoiceSession{}
	}
	h.send(conn, Message{Type: "sessions", Sessions: sessions})
}

func (h *Hub) send(conn core.SignalConnection, m Message) {
	b, err := json.Marshal(m)
	if err != nil {
		log.Error().Err(err).Str("module", "feed").Msg("sendJSON marshal")
		return
	}
	_ = conn.TrySend(b)
}
