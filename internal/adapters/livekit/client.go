// Package livekit is the media client: it connects to a LiveKit room with
// a broker-issued token and plays Ogg/Opus clips as published audio tracks.
package livekit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/callbot/internal/core"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Client struct{}

func NewClient() *Client { return &Client{} }

// Connect joins roomName on serverURL. The SDK call does not take a
// context, so a connect that outlives ctx is torn down when it completes.
func (c *Client) Connect(ctx context.Context, serverURL, token, roomName string) (core.MediaHandle, error) {
	url := signalURL(serverURL)
	logger := log.With().Str("module", "adapters.livekit").Str("server", url).Str("media_room", roomName).Logger()

	type result struct {
		room *lksdk.Room
		err  error
	}
	done := make(chan result, 1)
	go func() {
		room, err := lksdk.ConnectToRoomWithToken(url, token, &lksdk.RoomCallback{
			OnDisconnected: func() {
				logger.Info().Msg("media room disconnected")
			},
		}, lksdk.WithAutoSubscribe(false))
		done <- result{room: room, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("connect %s: %w", url, res.err)
		}
		logger.Info().Str("participant", res.room.LocalParticipant.Identity()).Msg("connected to media room")
		return &Handle{room: res.room}, nil
	case <-ctx.Done():
		go func() {
			if res := <-done; res.room != nil {
				res.room.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
}

// signalURL maps the http(s) form of a server address to ws(s).
func signalURL(serverURL string) string {
	switch {
	case strings.HasPrefix(serverURL, "https://"):
		return "wss://" + strings.TrimPrefix(serverURL, "https://")
	case strings.HasPrefix(serverURL, "http://"):
		return "ws://" + strings.TrimPrefix(serverURL, "http://")
	default:
		return serverURL
	}
}

type Handle struct {
	room *lksdk.Room
	once sync.Once
}

func (h *Handle) PublishTrack(ctx context.Context, clip core.AudioClip) (time.Duration, error) {
	frames, err := decodeOgg(clip.Data)
	if err != nil {
		return 0, err
	}
	track, err := lksdk.NewLocalTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opusClockRate,
		Channels:  2,
	})
	if err != nil {
		return 0, fmt.Errorf("new local track: %w", err)
	}
	pub, err := h.room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{Name: clip.Name})
	if err != nil {
		return 0, fmt.Errorf("publish track: %w", err)
	}
	defer func() {
		if err := h.room.LocalParticipant.UnpublishTrack(pub.SID()); err != nil {
			log.Warn().Err(err).Str("module", "adapters.livekit").Msg("unpublish track failed")
		}
	}()

	played, err := play(ctx, track, frames)
	log.Debug().Str("module", "adapters.livekit").Str("clip", clip.Name).
		Dur("played", played).Dur("total", totalDuration(frames)).Msg("clip finished")
	return played, err
}

func (h *Handle) Disconnect() {
	h.once.Do(h.room.Disconnect)
}

var _ core.MediaClient = (*Client)(nil)
