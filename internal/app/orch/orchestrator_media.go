package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/callbot/internal/core"
	"github.com/dkeye/callbot/internal/domain"
	"github.com/rs/zerolog/log"
)

// PlaySound publishes sound into the room's call, joining first when the
// room has no Connected row. The whole operation is bounded by the play
// timeout; a timeout leaves the connection in place.
func (o *Orchestrator) PlaySound(ctx context.Context, roomID domain.RoomID, sound []byte) (domain.PlayResult, error) {
	if err := invalid("playSound", roomID); err != nil {
		return domain.PlayResult{Err: err}, err
	}
	if len(sound) == 0 {
		return domain.PlayResult{Err: domain.ErrEmptySound}, nil
	}
	logger := log.With().Str("module", "orch").Str("room", string(roomID)).Logger()

	ctx, cancel := context.WithTimeoutCause(ctx, o.cfg.PlayTimeout, domain.ErrPlaybackTimeout)
	defer cancel()

	handle, ok := o.handleOf(roomID)
	if !ok {
		logger.Debug().Msg("no connected session, joining before playback")
		res, err := o.Join(ctx, roomID)
		if err != nil {
			return domain.PlayResult{Err: err}, err
		}
		if !res.Success {
			return domain.PlayResult{Err: playErr(ctx, res.Err)}, nil
		}
		if handle, ok = o.handleOf(roomID); !ok {
			return domain.PlayResult{Err: domain.ErrNotInCall}, nil
		}
	}

	s, _ := o.registry.Get(roomID)
	if s != nil {
		// plays of one room are queued
		if err := s.play.Lock(ctx); err != nil {
			return domain.PlayResult{Err: playErr(ctx, err)}, nil
		}
		defer s.play.Unlock()
	}

	start := o.now()
	played, err := handle.PublishTrack(ctx, core.AudioClip{Name: string(roomID), Data: sound})
	if err != nil {
		err = playErr(ctx, err)
		logger.Warn().Err(err).Str("code", string(domain.CodeOf(err))).Dur("elapsed", o.now().Sub(start)).Msg("playback failed")
		return domain.PlayResult{Err: err}, nil
	}
	logger.Info().Dur("duration", played).Msg("sound played")
	return domain.PlayResult{Success: true, DurationEstimate: played}, nil
}

// playErr reports a hit play deadline as ErrPlaybackTimeout.
func playErr(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), domain.ErrPlaybackTimeout) && !errors.Is(err, domain.ErrPlaybackTimeout) {
		return fmt.Errorf("%w: %v", domain.ErrPlaybackTimeout, err)
	}
	return err
}

func (o *Orchestrator) handleOf(roomID domain.RoomID) (core.MediaHandle, bool) {
	s, ok := o.registry.Get(roomID)
	if !ok {
		return nil, false
	}
	return s.connectedHandle()
}
