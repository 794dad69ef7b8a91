// Package orch owns the per-room voice session table. It drives each room
// through scan, extract, token exchange and media connect, and is the only
// writer of session state.
package orch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/callbot/internal/app"
	"github.com/dkeye/callbot/internal/core"
	"github.com/dkeye/callbot/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultPlayTimeout    = 10 * time.Second
)

type Config struct {
	Retry          app.RetryPolicy
	ConnectTimeout time.Duration
	PlayTimeout    time.Duration
}

type Orchestrator struct {
	Chat      core.ChatClient
	Scanner   core.CallScanner
	Extractor core.TargetExtractor
	Broker    core.TokenBroker
	Media     core.MediaClient

	cfg      Config
	registry *Registry
	sched    *Scheduler
	now      func() time.Time

	subMu  sync.RWMutex
	subs   map[int]func(domain.SessionEvent)
	nextID int
}

func New(chat core.ChatClient, scanner core.CallScanner, extractor core.TargetExtractor, broker core.TokenBroker, media core.MediaClient, cfg Config) *Orchestrator {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.PlayTimeout <= 0 {
		cfg.PlayTimeout = DefaultPlayTimeout
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = app.DefaultRetryPolicy()
	}
	return &Orchestrator{
		Chat:      chat,
		Scanner:   scanner,
		Extractor: extractor,
		Broker:    broker,
		Media:     media,
		cfg:       cfg,
		registry:  NewRegistry(),
		sched:     NewScheduler(),
		now:       time.Now,
		subs:      make(map[int]func(domain.SessionEvent)),
	}
}

// Subscribe registers fn for every session transition. fn runs on the
// transitioning goroutine and must not block.
func (o *Orchestrator) Subscribe(fn func(domain.SessionEvent)) (unsubscribe func()) {
	o.subMu.Lock()
	id := o.nextID
	o.nextID++
	o.subs[id] = fn
	o.subMu.Unlock()
	return func() {
		o.subMu.Lock()
		delete(o.subs, id)
		o.subMu.Unlock()
	}
}

func (o *Orchestrator) publish(ev domain.SessionEvent) {
	o.subMu.RLock()
	defer o.subMu.RUnlock()
	for _, fn := range o.subs {
		fn(ev)
	}
}

// fire moves s along its lifecycle and reports the transition.
func (o *Orchestrator) fire(ctx context.Context, s *session, event string) {
	from := s.state()
	if err := s.fsm.Event(context.WithoutCancel(ctx), event); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("room", string(s.roomID)).
			Str("event", event).Str("state", string(from)).Msg("invalid session transition")
		return
	}
	ev := domain.SessionEvent{RoomID: s.roomID, From: from, To: s.state(), At: o.now()}
	if err := s.err(); err != nil && ev.To == domain.StateFailed {
		ev.Error = err.Error()
		ev.Code = domain.CodeOf(err)
	}
	o.publish(ev)
}

func (o *Orchestrator) Schedule(room domain.RoomID, name string, delay time.Duration, fn func(ctx context.Context)) {
	o.sched.Schedule(room, name, delay, fn)
}

// Sessions returns a snapshot of every row.
func (o *Orchestrator) Sessions() []domain.VoiceSession {
	rows := o.registry.All()
	out := make([]domain.VoiceSession, 0, len(rows))
	for _, s := range rows {
		out = append(out, s.snapshot())
	}
	return out
}

func (o *Orchestrator) Session(roomID domain.RoomID) (domain.VoiceSession, bool) {
	s, ok := o.registry.Get(roomID)
	if !ok {
		return domain.VoiceSession{}, false
	}
	return s.snapshot(), true
}

// ListKnownVoiceRooms lists every visible room whose state currently
// describes a call, in the chat client's order.
func (o *Orchestrator) ListKnownVoiceRooms() []domain.VoiceRoom {
	var out []domain.VoiceRoom
	for _, view := range o.Chat.Rooms() {
		d, err := o.Scanner.ScanRoom(view)
		if err != nil {
			continue
		}
		vr := domain.VoiceRoom{
			ID:        view.ID(),
			Name:      view.Name(),
			Source:    d.SourceKind,
			Encrypted: o.Scanner.Encrypted(view),
		}
		if s, ok := o.registry.Get(view.ID()); ok {
			vr.Session = s.state()
		}
		out = append(out, vr)
	}
	return out
}

func (o *Orchestrator) CallInfo(roomID domain.RoomID) (domain.CallInfo, error) {
	if err := roomID.Validate(); err != nil {
		return domain.CallInfo{}, err
	}
	view, ok := o.Chat.Room(roomID)
	if !ok || view == nil {
		return domain.CallInfo{}, domain.ErrRoomNotFound
	}
	info := domain.CallInfo{
		RoomID:     roomID,
		FocusCalls: o.Scanner.FocusCalls(view),
		Members:    o.Scanner.Members(view),
		Encrypted:  o.Scanner.Encrypted(view),
	}
	if d, err := o.Scanner.ScanRoom(view); err == nil {
		info.Descriptor = &d
	}
	if s, ok := o.registry.Get(roomID); ok {
		snap := s.snapshot()
		info.BotSession = &snap
	}
	return info, nil
}

// FindSessionForUser returns the first visible room where user is a call
// member. Rooms are read from one snapshot; a miss is ErrNotFound.
func (o *Orchestrator) FindSessionForUser(user domain.UserID) (domain.RoomID, error) {
	if err := user.Validate(); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("user", string(user)).Msg("findSessionForUser called with invalid user id")
		return "", err
	}
	for _, view := range o.Chat.Rooms() {
		if ev, ok := view.StateEvent(core.EventRoomMember, string(user)); ok && ev != nil {
			if m, _ := ev.Content()["membership"].(string); m != "" && m != "join" {
				continue
			}
		}
		if _, err := o.Scanner.ScanForUser(view, user); err == nil {
			log.Debug().Str("module", "orch").Str("user", string(user)).Str("room", string(view.ID())).Msg("user found in call")
			return view.ID(), nil
		}
	}
	return "", domain.ErrNotFound
}

func invalid(op string, roomID domain.RoomID) error {
	err := roomID.Validate()
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("op", op).Str("room", string(roomID)).Msg("called with invalid room id")
	}
	return err
}

func canceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrJoinCanceled)
}
