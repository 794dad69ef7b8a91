package orch

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/callbot/internal/core"
	"github.com/dkeye/callbot/internal/domain"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog/log"
)

const (
	evResolve    = "resolve"
	evAcquire    = "acquire"
	evConnect    = "connect"
	evDisconnect = "disconnect"
	evFail       = "fail"
	evReset      = "reset"
)

func st(s domain.SessionState) string { return string(s) }

func newLifecycle(roomID domain.RoomID) *fsm.FSM {
	return fsm.NewFSM(
		st(domain.StateIdle),
		fsm.Events{
			{Name: evResolve, Src: []string{st(domain.StateIdle)}, Dst: st(domain.StateResolving)},
			{Name: evAcquire, Src: []string{st(domain.StateResolving)}, Dst: st(domain.StateTokenAcquired)},
			{Name: evConnect, Src: []string{st(domain.StateTokenAcquired)}, Dst: st(domain.StateConnected)},
			{Name: evDisconnect, Src: []string{st(domain.StateConnected)}, Dst: st(domain.StateDisconnecting)},
			{Name: evFail, Src: []string{st(domain.StateResolving), st(domain.StateTokenAcquired), st(domain.StateConnected)}, Dst: st(domain.StateFailed)},
			// a failed row is retried from Idle on the next join only
			{Name: evReset, Src: []string{st(domain.StateFailed)}, Dst: st(domain.StateIdle)},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				log.Debug().Str("module", "orch").Str("room", string(roomID)).
					Str("event", e.Event).Str("from", e.Src).Str("to", e.Dst).Msg("session transition")
			},
		},
	)
}

// roomLock is a mutex whose acquisition honours a context.
type roomLock chan struct{}

func newRoomLock() roomLock { return make(roomLock, 1) }

func (l roomLock) Lock(ctx context.Context) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (l roomLock) Unlock() { <-l }

// session is the authoritative row of one room. op serializes every
// read-modify-write sequence on the row; mu guards the fields for readers.
type session struct {
	roomID domain.RoomID
	op     roomLock
	play   roomLock
	fsm    *fsm.FSM
	// joiners is guarded by Registry.mu.
	joiners int

	mu       sync.RWMutex
	target   *domain.MediaTarget
	handle   core.MediaHandle
	joinedAt time.Time
	lastErr  error
	attempt  string
	cancel   context.CancelCauseFunc
	removed  bool
}

func newSession(roomID domain.RoomID) *session {
	return &session{
		roomID: roomID,
		op:     newRoomLock(),
		play:   newRoomLock(),
		fsm:    newLifecycle(roomID),
	}
}

func (s *session) state() domain.SessionState {
	return domain.SessionState(s.fsm.Current())
}

func (s *session) snapshot() domain.VoiceSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := domain.VoiceSession{
		RoomID:    s.roomID,
		State:     s.state(),
		Connected: s.handle != nil,
		JoinedAt:  s.joinedAt,
	}
	if s.target != nil {
		t := *s.target
		v.MediaTarget = &t
	}
	if s.lastErr != nil {
		v.LastError = s.lastErr.Error()
	}
	return v
}

// beginJoin stores the cancel func of an in-flight join.
func (s *session) beginJoin(attempt string, cancel context.CancelCauseFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt = attempt
	s.cancel = cancel
	s.lastErr = nil
}

func (s *session) endJoin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = nil
}

// abortJoin cancels the in-flight join, if any.
func (s *session) abortJoin(cause error) bool {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel(cause)
	return true
}

func (s *session) setTarget(t domain.MediaTarget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = &t
}

func (s *session) setHandle(h core.MediaHandle, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = h
	s.joinedAt = at
}

func (s *session) connectedHandle() (core.MediaHandle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.handle == nil || s.state() != domain.StateConnected {
		return nil, false
	}
	return s.handle, true
}

func (s *session) takeHandle() core.MediaHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.handle
	s.handle = nil
	return h
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}

func (s *session) err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *session) markRemoved() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = true
}

func (s *session) isRemoved() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.removed
}
