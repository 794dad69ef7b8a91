package core

import (
	"context"
	"time"
)

// AudioClip is an encoded sound payload (Ogg/Opus) ready to publish.
type AudioClip struct {
	Name string
	Data []byte
}

// MediaClient connects to a real-time media server. The transport is
// entirely the adapter's business.
type MediaClient interface {
	Connect(ctx context.Context, serverURL, token, roomName string) (MediaHandle, error)
}

type MediaHandle interface {
	// PublishTrack publishes clip as an audio track and blocks until it has
	// been played or ctx ends. It returns the played duration.
	PublishTrack(ctx context.Context, clip AudioClip) (time.Duration, error)
	// Disconnect should stop all underlying media resources.
	Disconnect()
}
