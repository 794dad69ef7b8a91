package livekit

import (
	"context"
	"math/rand/v2"
	"time"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/rtp"
)

const opusPayloadType = 111

// rtpWriter is satisfied by *lksdk.LocalTrack.
type rtpWriter interface {
	WriteRTP(p *rtp.Packet, opts *lksdk.SampleWriteOptions) error
}

// packetizer stamps consecutive Opus frames with RTP headers.
type packetizer struct {
	ssrc      uint32
	seq       uint16
	timestamp uint32
}

func newPacketizer() *packetizer {
	return &packetizer{
		ssrc:      rand.Uint32(),
		seq:       uint16(rand.Uint32()),
		timestamp: rand.Uint32(),
	}
}

func (p *packetizer) packet(f frame, marker bool) *rtp.Packet {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    opusPayloadType,
			SequenceNumber: p.seq,
			Timestamp:      p.timestamp,
			SSRC:           p.ssrc,
		},
		Payload: f.data,
	}
	p.seq++
	p.timestamp += f.samples
	return pkt
}

// play writes frames paced in real time until done or ctx ends. It returns
// the audio time actually sent.
func play(ctx context.Context, w rtpWriter, frames []frame) (time.Duration, error) {
	p := newPacketizer()
	var played time.Duration
	start := time.Now()
	for i, f := range frames {
		if err := w.WriteRTP(p.packet(f, i == 0), nil); err != nil {
			return played, err
		}
		played += f.duration
		// paced against the wall clock
		wait := time.Until(start.Add(played))
		if wait <= 0 {
			continue
		}
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return played, ctx.Err()
		}
	}
	return played, nil
}
