package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/loqalabs/loqa-fillers/internal/config"
)

// ErrInactivityTimeout ends a silence-terminated capture loop that heard no
// speech for the configured timeout. Callers treat it as an implicit stop.
var ErrInactivityTimeout = errors.New("capture: inactivity timeout")

// Segmenter decides segment boundaries. Feed copies the frame it is given.
type Segmenter interface {
	// Feed consumes one frame and returns a completed segment payload, if any.
	Feed(frame []byte) ([]byte, error)
	// Flush returns and clears the pending partial segment.
	Flush() []byte
}

func NewSegmenter(cfg config.CaptureConfig) (Segmenter, error) {
	frame := time.Duration(cfg.FrameDurationMS) * time.Millisecond
	switch cfg.Segmentation {
	case "fixed":
		return NewFixedSegmenter(time.Duration(cfg.SegmentMS)*time.Millisecond, frame), nil
	case "silence":
		return NewSilenceSegmenter(SilenceOptions{
			Threshold:         cfg.EnergyThreshold,
			EndSilence:        time.Duration(cfg.EndSilenceMS) * time.Millisecond,
			PhraseLimit:       time.Duration(cfg.PhraseLimitMS) * time.Millisecond,
			InactivityTimeout: time.Duration(cfg.InactivityTimeoutMS) * time.Millisecond,
		}, frame), nil
	default:
		return nil, fmt.Errorf("unsupported segmentation %q", cfg.Segmentation)
	}
}

func framesIn(d, frame time.Duration) int {
	if frame <= 0 || d <= 0 {
		return 0
	}
	n := int(d / frame)
	if n < 1 {
		n = 1
	}
	return n
}

// FixedSegmenter emits a segment every N frames regardless of content.
type FixedSegmenter struct {
	perSegment int
	frames     int
	buf        []byte
}

func NewFixedSegmenter(segment, frame time.Duration) *FixedSegmenter {
	return &FixedSegmenter{perSegment: framesIn(segment, frame)}
}

func (s *FixedSegmenter) Feed(frame []byte) ([]byte, error) {
	s.buf = append(s.buf, frame...)
	s.frames++
	if s.frames < s.perSegment {
		return nil, nil
	}
	return s.Flush(), nil
}

func (s *FixedSegmenter) Flush() []byte {
	out := s.buf
	s.buf = nil
	s.frames = 0
	if len(out) == 0 {
		return nil
	}
	return out
}

type SilenceOptions struct {
	// Threshold is the RMS level, in 16-bit sample units, above which a
	// frame counts as speech.
	Threshold         float64
	EndSilence        time.Duration
	PhraseLimit       time.Duration
	InactivityTimeout time.Duration
}

// SilenceSegmenter starts a phrase on the first voiced frame and closes it
// after enough trailing silence or at the phrase limit.
type SilenceSegmenter struct {
	threshold      float64
	endFrames      int
	limitFrames    int
	inactiveFrames int

	inPhrase     bool
	phraseFrames int
	silentRun    int
	idle         int
	buf          []byte
}

func NewSilenceSegmenter(opts SilenceOptions, frame time.Duration) *SilenceSegmenter {
	return &SilenceSegmenter{
		threshold:      opts.Threshold,
		endFrames:      framesIn(opts.EndSilence, frame),
		limitFrames:    framesIn(opts.PhraseLimit, frame),
		inactiveFrames: framesIn(opts.InactivityTimeout, frame),
	}
}

func (s *SilenceSegmenter) Feed(frame []byte) ([]byte, error) {
	voiced := RMS(frame) >= s.threshold
	if !s.inPhrase {
		if !voiced {
			s.idle++
			if s.inactiveFrames > 0 && s.idle >= s.inactiveFrames {
				return nil, ErrInactivityTimeout
			}
			return nil, nil
		}
		s.inPhrase = true
		s.idle = 0
	}

	s.buf = append(s.buf, frame...)
	s.phraseFrames++
	if voiced {
		s.silentRun = 0
	} else {
		s.silentRun++
	}
	if (s.endFrames > 0 && s.silentRun >= s.endFrames) || (s.limitFrames > 0 && s.phraseFrames >= s.limitFrames) {
		return s.Flush(), nil
	}
	return nil, nil
}

func (s *SilenceSegmenter) Flush() []byte {
	out := s.buf
	s.buf = nil
	s.inPhrase = false
	s.phraseFrames = 0
	s.silentRun = 0
	if len(out) == 0 {
		return nil
	}
	return out
}

// RMS is the root-mean-square level of a PCM16LE buffer.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
