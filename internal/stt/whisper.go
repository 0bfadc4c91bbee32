//go:build whisper

package stt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/loqalabs/loqa-fillers/internal/config"
)

const whisperSampleRate = 16000

// whisperRecognizer runs whisper.cpp in-process. The model is shared, so
// calls are serialized.
type whisperRecognizer struct {
	mu       sync.Mutex
	model    whisper.Model
	language string
}

func WhisperAvailable() bool { return true }

func NewWhisperRecognizer(cfg config.STTConfig) (*whisperRecognizer, error) {
	if strings.TrimSpace(cfg.ModelPath) == "" {
		return nil, errors.New("whisper mode requires stt.model_path")
	}
	model, err := whisper.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}
	return &whisperRecognizer{model: model, language: cfg.Language}, nil
}

func (w *whisperRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int) (TranscriptResult, error) {
	if sampleRate != whisperSampleRate {
		return TranscriptResult{}, fmt.Errorf("whisper needs %dHz audio, got %dHz", whisperSampleRate, sampleRate)
	}
	samples := monoFloat32(pcm, channels)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return TranscriptResult{}, err
	}
	if w.model == nil {
		return TranscriptResult{}, errors.New("whisper model closed")
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return TranscriptResult{}, err
	}
	wctx.SetTranslate(false)
	if w.language != "" {
		if err := wctx.SetLanguage(w.language); err != nil {
			return TranscriptResult{}, fmt.Errorf("set language: %w", err)
		}
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return TranscriptResult{}, err
	}

	var result strings.Builder
	for {
		segment, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return TranscriptResult{}, err
		}
		result.WriteString(segment.Text)
	}
	text := strings.TrimSpace(result.String())
	if text == "" || text == "[BLANK_AUDIO]" {
		return TranscriptResult{}, ErrNoSpeech
	}
	return TranscriptResult{Text: text}, nil
}

func (w *whisperRecognizer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.model != nil {
		err := w.model.Close()
		w.model = nil
		return err
	}
	return nil
}

func monoFloat32(pcm []byte, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	frames := len(pcm) / (2 * channels)
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * 2
			sum += float32(int16(binary.LittleEndian.Uint16(pcm[off:]))) / 32768
		}
		out[i] = sum / float32(channels)
	}
	return out
}
