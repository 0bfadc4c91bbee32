package stt

import (
	"context"
	"errors"
)

// ErrNoSpeech is returned by backends that can tell a segment held nothing
// recognizable apart from a failed request.
var ErrNoSpeech = errors.New("stt: no speech recognized")

// TranscriptResult captures recognizer output.
type TranscriptResult struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts STT backends. Implementations must tolerate
// concurrent calls.
type Recognizer interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int) (TranscriptResult, error)
}
