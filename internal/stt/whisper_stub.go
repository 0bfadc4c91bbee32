//go:build !whisper

package stt

import (
	"errors"

	"github.com/loqalabs/loqa-fillers/internal/config"
)

func WhisperAvailable() bool { return false }

func NewWhisperRecognizer(config.STTConfig) (Recognizer, error) {
	return nil, errors.New("whisper support not compiled in; rebuild with -tags whisper")
}
