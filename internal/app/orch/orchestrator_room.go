package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/callbot/internal/app"
	"github.com/dkeye/callbot/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Join connects the bot to the call of roomID. It is a no-op success for a
// Connected row; a Failed row is retried from Idle. Only descriptor
// resolution is retried; the token exchange and media connect run once.
func (o *Orchestrator) Join(ctx context.Context, roomID domain.RoomID) (domain.JoinResult, error) {
	if err := invalid("join", roomID); err != nil {
		return domain.JoinResult{Err: err}, err
	}
	s := o.registry.Acquire(roomID)
	defer o.registry.Release(s)
	if err := s.op.Lock(ctx); err != nil {
		return domain.JoinResult{Err: err}, nil
	}
	defer s.op.Unlock()
	if s.isRemoved() {
		// a leave got the row first
		return domain.JoinResult{Err: domain.ErrJoinCanceled}, nil
	}
	return o.join(ctx, s), nil
}

func (o *Orchestrator) join(ctx context.Context, s *session) domain.JoinResult {
	switch s.state() {
	case domain.StateConnected:
		return domain.JoinResult{Success: true}
	case domain.StateFailed:
		o.fire(ctx, s, evReset)
	}

	attempt := uuid.NewString()
	logger := log.With().Str("module", "orch").Str("room", string(s.roomID)).Str("attempt", attempt).Logger()
	jctx, cancel := context.WithCancelCause(ctx)
	s.beginJoin(attempt, cancel)
	defer func() {
		s.endJoin()
		cancel(nil)
	}()

	o.fire(ctx, s, evResolve)
	desc, scans, err := app.Do(jctx, o.cfg.Retry, func(n int) (domain.CallDescriptor, error) {
		d, err := o.Scanner.Scan(s.roomID)
		if err != nil && n < o.cfg.Retry.Attempts && o.cfg.Retry.Retryable(err) {
			logger.Debug().Err(err).Int("scan", n).Dur("backoff", o.cfg.Retry.Delay(n)).Msg("no call descriptor yet")
		}
		return d, err
	})
	if err != nil {
		return o.failJoin(ctx, s, logger, err)
	}
	logger.Debug().Int("scans", scans).Str("source", string(desc.SourceKind)).Msg("call descriptor resolved")

	target, err := o.Extractor.Extract(desc)
	if err != nil {
		return o.failJoin(ctx, s, logger, err)
	}
	s.setTarget(target)

	tok, err := o.Broker.AcquireToken(jctx, o.Chat.AccessToken(), s.roomID, target)
	if cause := context.Cause(jctx); cause != nil {
		err = cause
	}
	if err != nil {
		return o.failJoin(ctx, s, logger, err)
	}
	o.fire(ctx, s, evAcquire)

	serverURL := tok.ServerURL
	if serverURL == "" {
		serverURL = target.ServerBaseURL
	}
	cctx, ccancel := context.WithTimeout(jctx, o.cfg.ConnectTimeout)
	handle, err := o.Media.Connect(cctx, serverURL, tok.Value, target.SessionRoomName)
	ccancel()
	if cause := context.Cause(jctx); cause != nil {
		if handle != nil {
			handle.Disconnect()
		}
		return o.failJoin(ctx, s, logger, cause)
	}
	if err != nil {
		return o.failJoin(ctx, s, logger, fmt.Errorf("%w: %v", domain.ErrMediaConnectFailed, err))
	}

	s.setHandle(handle, o.now())
	o.fire(ctx, s, evConnect)
	logger.Info().Str("server", serverURL).Str("media_room", target.SessionRoomName).Msg("joined call")
	return domain.JoinResult{Success: true}
}

func (o *Orchestrator) failJoin(ctx context.Context, s *session, logger zerolog.Logger, err error) domain.JoinResult {
	s.setErr(err)
	o.fire(ctx, s, evFail)
	ev := logger.Warn()
	if canceled(err) {
		ev = logger.Info()
	}
	ev.Err(err).Str("code", string(domain.CodeOf(err))).Msg("join failed")
	return domain.JoinResult{Err: err}
}

// Leave disconnects the media handle and removes the row. A join in flight
// for the room is abandoned. Leaving a room without a session, or whose join
// already failed, reports ErrNotInCall and touches no network.
func (o *Orchestrator) Leave(ctx context.Context, roomID domain.RoomID) (domain.LeaveResult, error) {
	if err := invalid("leave", roomID); err != nil {
		return domain.LeaveResult{Err: err}, err
	}
	s, ok := o.registry.Get(roomID)
	if !ok {
		return domain.LeaveResult{Err: domain.ErrNotInCall}, nil
	}
	aborted := s.abortJoin(domain.ErrJoinCanceled)
	if err := s.op.Lock(ctx); err != nil {
		return domain.LeaveResult{Err: err}, nil
	}
	if s.isRemoved() {
		s.op.Unlock()
		return domain.LeaveResult{Err: domain.ErrNotInCall}, nil
	}
	had := o.teardown(ctx, s)
	s.op.Unlock()
	o.sched.Cancel(roomID)

	if !had && !aborted {
		return domain.LeaveResult{Err: domain.ErrNotInCall}, nil
	}
	log.Info().Str("module", "orch").Str("room", string(roomID)).Bool("aborted_join", aborted).Msg("left call")
	return domain.LeaveResult{Success: true}, nil
}

// teardown must run under s.op. It reports whether a connection existed.
func (o *Orchestrator) teardown(ctx context.Context, s *session) bool {
	handle := s.takeHandle()
	if s.state() == domain.StateConnected {
		o.fire(ctx, s, evDisconnect)
	}
	if handle != nil {
		handle.Disconnect()
	}
	from := s.state()
	s.markRemoved()
	o.registry.Remove(s)
	o.publish(domain.SessionEvent{RoomID: s.roomID, From: from, To: domain.StateRemoved, At: o.now()})
	return handle != nil
}

// Reset disconnects and removes every row. It is the startup global reset.
func (o *Orchestrator) Reset(ctx context.Context) error {
	var errs []error
	for _, s := range o.registry.All() {
		s.abortJoin(domain.ErrJoinCanceled)
		if err := s.op.Lock(ctx); err != nil {
			errs = append(errs, fmt.Errorf("reset %s: %w", s.roomID, err))
			continue
		}
		if !s.isRemoved() {
			o.teardown(ctx, s)
		}
		s.op.Unlock()
		o.sched.Cancel(s.roomID)
	}
	return errors.Join(errs...)
}

// Shutdown stops scheduled tasks, then resets.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.sched.Stop()
	err := o.Reset(ctx)
	log.Info().Str("module", "orch").Err(err).Msg("session manager stopped")
	return err
}
