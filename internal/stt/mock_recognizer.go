package stt

import (
	"context"
	"fmt"
	"sync"
)

type mockRecognizer struct {
	mu     sync.Mutex
	script []string
	next   int
}

// NewMockRecognizer replies with script entries in round-robin order. An
// empty entry is reported as no speech. With no script it describes the
// payload it was given.
func NewMockRecognizer(script ...string) Recognizer {
	return &mockRecognizer{script: append([]string(nil), script...)}
}

func (m *mockRecognizer) Transcribe(ctx context.Context, pcm []byte, _ int, _ int) (TranscriptResult, error) {
	if err := ctx.Err(); err != nil {
		return TranscriptResult{}, err
	}
	if len(m.script) == 0 {
		return TranscriptResult{Text: fmt.Sprintf("[transcript length=%d]", len(pcm))}, nil
	}
	m.mu.Lock()
	text := m.script[m.next%len(m.script)]
	m.next++
	m.mu.Unlock()
	if text == "" {
		return TranscriptResult{}, ErrNoSpeech
	}
	return TranscriptResult{Text: text, Confidence: 1}, nil
}
