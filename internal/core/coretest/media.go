package coretest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/callbot/internal/core"
)

type Connect struct {
	ServerURL string
	Token     string
	RoomName  string
}

// Media is a fake core.MediaClient recording every connect.
type Media struct {
	mu       sync.Mutex
	Connects []Connect
	Handles  []*Handle
	// Err fails every Connect when set.
	Err error
	// Block, when non-nil, makes Connect wait until it is closed or ctx ends.
	Block chan struct{}
	// PlayDelay makes PublishTrack take this long.
	PlayDelay time.Duration
}

func (m *Media) Connect(ctx context.Context, serverURL, token, roomName string) (core.MediaHandle, error) {
	m.mu.Lock()
	m.Connects = append(m.Connects, Connect{ServerURL: serverURL, Token: token, RoomName: roomName})
	block, err, delay := m.Block, m.Err, m.PlayDelay
	m.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	h := &Handle{playDelay: delay}
	m.mu.Lock()
	m.Handles = append(m.Handles, h)
	m.mu.Unlock()
	return h, nil
}

func (m *Media) ConnectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Connects)
}

func (m *Media) LastHandle() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Handles) == 0 {
		return nil
	}
	return m.Handles[len(m.Handles)-1]
}

type Handle struct {
	playDelay    time.Duration
	published    atomic.Int32
	disconnected atomic.Bool
}

func (h *Handle) PublishTrack(ctx context.Context, clip core.AudioClip) (time.Duration, error) {
	h.published.Add(1)
	if h.playDelay > 0 {
		select {
		case <-time.After(h.playDelay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return time.Duration(len(clip.Data)) * time.Millisecond, nil
}

func (h *Handle) Disconnect()        { h.disconnected.Store(true) }
func (h *Handle) Published() int     { return int(h.published.Load()) }
func (h *Handle) Disconnected() bool { return h.disconnected.Load() }

var _ core.MediaClient = (*Media)(nil)
