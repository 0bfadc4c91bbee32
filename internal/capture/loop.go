package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// Segment is one bounded slice of captured audio.
type Segment struct {
	Sequence   uint64
	Start      time.Time
	PCM        []byte
	SampleRate int
	Channels   int
}

func (s Segment) Duration() time.Duration {
	return Format{SampleRate: s.SampleRate, Channels: s.Channels}.Duration(len(s.PCM))
}

// Loop drives one open stream through a segmenter. It owns the stream for
// the duration of Run.
type Loop struct {
	Stream    Stream
	Segmenter Segmenter
	Format    Format
	// Sequence hands out segment numbers; a private counter is used when nil.
	Sequence *atomic.Uint64
	Clock    func() time.Time
}

// Run reads frames until ctx is cancelled, the stream ends, or the segmenter
// reports inactivity. Cancellation is checked between reads, so Run returns
// after the current blocking read completes. Pending audio is flushed on
// cancellation and end of stream.
func (l *Loop) Run(ctx context.Context, emit func(Segment)) error {
	if l.Sequence == nil {
		l.Sequence = new(atomic.Uint64)
	}
	if l.Clock == nil {
		l.Clock = time.Now
	}
	frameBytes := l.Format.FrameBytes()
	if frameBytes <= 0 {
		return fmt.Errorf("invalid frame size for format %+v", l.Format)
	}
	frame := make([]byte, frameBytes)

	for {
		if ctx.Err() != nil {
			l.flush(emit)
			return nil
		}
		if err := l.Stream.Read(frame); err != nil {
			l.flush(emit)
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		payload, err := l.Segmenter.Feed(frame)
		if err != nil {
			return err
		}
		if payload != nil {
			emit(l.segment(payload))
		}
	}
}

func (l *Loop) flush(emit func(Segment)) {
	if payload := l.Segmenter.Flush(); payload != nil {
		emit(l.segment(payload))
	}
}

func (l *Loop) segment(pcm []byte) Segment {
	end := l.Clock()
	return Segment{
		Sequence:   l.Sequence.Add(1),
		Start:      end.Add(-l.Format.Duration(len(pcm))),
		PCM:        pcm,
		SampleRate: l.Format.SampleRate,
		Channels:   l.Format.Channels,
	}
}
