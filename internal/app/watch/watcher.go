// Package watch reacts to the chat event stream: it accepts invites and
// schedules delayed call detection per room. Detection joins the configured
// voice room and leaves calls that ended.
package watch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dkeye/callbot/internal/core"
	"github.com/dkeye/callbot/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultDetectDelay = 2 * time.Second

const (
	taskInvite = "invite"
	taskDetect = "detect"
	taskSweep  = "sweep"
)

// Sessions is the part of the session manager the watcher drives.
type Sessions interface {
	Join(ctx context.Context, roomID domain.RoomID) (domain.JoinResult, error)
	Leave(ctx context.Context, roomID domain.RoomID) (domain.LeaveResult, error)
	Session(roomID domain.RoomID) (domain.VoiceSession, bool)
	ListKnownVoiceRooms() []domain.VoiceRoom
	Schedule(room domain.RoomID, name string, delay time.Duration, fn func(ctx context.Context))
}

type Config struct {
	DetectDelay time.Duration
	// VoiceRoomID is joined automatically whenever a call is detected in it.
	VoiceRoomID domain.RoomID
}

type Watcher struct {
	chat     core.ChatClient
	scanner  core.CallScanner
	sessions Sessions
	cfg      Config
	synced   atomic.Bool
}

func New(chat core.ChatClient, scanner core.CallScanner, sessions Sessions, cfg Config) *Watcher {
	if cfg.DetectDelay <= 0 {
		cfg.DetectDelay = DefaultDetectDelay
	}
	return &Watcher{chat: chat, scanner: scanner, sessions: sessions, cfg: cfg}
}

// Run consumes events until ctx ends or the stream closes.
func (w *Watcher) Run(ctx context.Context, events <-chan core.ChatEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.Handle(ev)
		}
	}
}

// Handle never blocks on the network; all work runs as scheduled tasks.
func (w *Watcher) Handle(ev core.ChatEvent) {
	switch ev.Kind {
	case core.ChatSynced:
		if w.synced.CompareAndSwap(false, true) {
			w.sessions.Schedule("", taskSweep, 0, w.sweep)
		}
	case core.ChatMembership:
		if ev.StateKey != string(w.chat.UserID()) {
			w.scheduleDetect(ev.RoomID)
			return
		}
		switch ev.Membership {
		case "invite":
			room := ev.RoomID
			w.sessions.Schedule(room, taskInvite, 0, func(ctx context.Context) { w.acceptInvite(ctx, room, ev.Sender) })
		case "leave", "ban":
			room := ev.RoomID
			w.sessions.Schedule(room, taskDetect, 0, func(ctx context.Context) { w.leave(ctx, room, "bot left chat room") })
		}
	case core.ChatStateChanged:
		if callRelated(ev.Type) {
			w.scheduleDetect(ev.RoomID)
		}
	}
}

func callRelated(eventType string) bool {
	switch eventType {
	case core.EventFocusCall, core.EventCallMember, core.EventCallMemberStable,
		core.EventWidget, core.EventModularWidget, core.EventRoomName:
		return true
	}
	return false
}

// scheduleDetect debounces detection: a burst of state changes in one room
// yields a single scan after the delay.
func (w *Watcher) scheduleDetect(room domain.RoomID) {
	w.sessions.Schedule(room, taskDetect, w.cfg.DetectDelay, func(ctx context.Context) { w.detect(ctx, room) })
}

func (w *Watcher) acceptInvite(ctx context.Context, room domain.RoomID, inviter domain.UserID) {
	logger := log.With().Str("module", "watch").Str("room", string(room)).Str("inviter", string(inviter)).Logger()
	if err := w.chat.JoinRoom(ctx, room); err != nil {
		logger.Warn().Err(err).Msg("accepting invite failed")
		return
	}
	logger.Info().Msg("accepted invite")
	w.scheduleDetect(room)
}

func (w *Watcher) detect(ctx context.Context, room domain.RoomID) {
	logger := log.With().Str("module", "watch").Str("room", string(room)).Logger()
	view, ok := w.chat.Room(room)
	if !ok {
		return
	}
	if w.scanner.Encrypted(view) {
		logger.Debug().Msg("encrypted room, skipping detection")
		return
	}
	sess, joined := w.sessions.Session(room)
	d, err := w.scanner.ScanRoom(view)
	if err != nil {
		if joined && sess.State == domain.StateConnected {
			w.leave(ctx, room, "call ended")
		}
		return
	}
	logger.Info().Str("source", string(d.SourceKind)).Msg("call detected")

	if room != w.cfg.VoiceRoomID || (joined && sess.State == domain.StateConnected) {
		return
	}
	res, err := w.sessions.Join(ctx, room)
	if err != nil || !res.Success {
		logger.Warn().Err(res.Err).Str("code", string(res.Code())).Msg("auto-join failed")
	}
}

func (w *Watcher) leave(ctx context.Context, room domain.RoomID, reason string) {
	res, err := w.sessions.Leave(ctx, room)
	if err != nil || !res.Success {
		return
	}
	log.Info().Str("module", "watch").Str("room", string(room)).Str("reason", reason).Msg("left call")
}

// sweep runs once after the first sync.
func (w *Watcher) sweep(ctx context.Context) {
	rooms := w.sessions.ListKnownVoiceRooms()
	for _, r := range rooms {
		log.Info().Str("module", "watch").Str("room", string(r.ID)).Str("name", r.Name).
			Str("source", string(r.Source)).Bool("encrypted", r.Encrypted).Msg("known voice room")
	}
	if w.cfg.VoiceRoomID == "" {
		return
	}
	if _, ok := w.chat.Room(w.cfg.VoiceRoomID); !ok {
		if err := w.chat.JoinRoom(ctx, w.cfg.VoiceRoomID); err != nil {
			log.Warn().Err(err).Str("module", "watch").Str("room", string(w.cfg.VoiceRoomID)).Msg("joining voice room failed")
			return
		}
	}
	w.detect(ctx, w.cfg.VoiceRoomID)
}
