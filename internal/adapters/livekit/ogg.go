package livekit

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	opusClockRate    = 48000
	defaultFrameTime = 20 * time.Millisecond
)

var ErrNotOpus = errors.New("sound is not an Ogg/Opus stream")

// frame is one Ogg page of Opus audio and the time it covers.
type frame struct {
	data     []byte
	duration time.Duration
	samples  uint32
}

// decodeOgg splits an Ogg/Opus stream into pages. Durations come from the
// granule position deltas at 48kHz.
func decodeOgg(data []byte) ([]frame, error) {
	reader, _, err := oggreader.NewWith(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotOpus, err)
	}
	var (
		frames      []frame
		lastGranule uint64
	)
	for {
		page, header, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotOpus, err)
		}
		if len(page) == 0 || bytes.HasPrefix(page, []byte("OpusTags")) {
			continue
		}
		f := frame{data: page}
		if header.GranulePosition > lastGranule && header.GranulePosition-lastGranule < opusClockRate {
			f.samples = uint32(header.GranulePosition - lastGranule)
		} else {
			f.samples = uint32(defaultFrameTime * opusClockRate / time.Second)
		}
		f.duration = time.Duration(f.samples) * time.Second / opusClockRate
		lastGranule = header.GranulePosition
		frames = append(frames, f)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: no audio pages", ErrNotOpus)
	}
	return frames, nil
}

func totalDuration(frames []frame) time.Duration {
	var d time.Duration
	for _, f := range frames {
		d += f.duration
	}
	return d
}
