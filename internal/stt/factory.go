package stt

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loqalabs/loqa-fillers/internal/config"
)

// New builds the recognizer selected by cfg.Mode and wraps it in a Client.
func New(cfg config.STTConfig, logger *slog.Logger) (*Client, error) {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	var (
		rec Recognizer
		err error
	)
	switch cfg.Mode {
	case "mock":
		rec = NewMockRecognizer(cfg.MockScript...)
	case "exec":
		rec, err = NewExecRecognizer(cfg)
	case "http":
		rec = NewHTTPRecognizer(cfg, &http.Client{Timeout: timeout + 5*time.Second})
	case "whisper":
		var w Recognizer
		w, err = NewWhisperRecognizer(cfg)
		rec = w
	default:
		err = fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}
	return NewClient(rec, timeout, logger), nil
}
