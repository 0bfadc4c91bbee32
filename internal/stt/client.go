package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-fillers/internal/capture"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OutcomeKind classifies a transcription attempt.
type OutcomeKind int

const (
	Recognized OutcomeKind = iota
	NoSpeech
	TransientFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case Recognized:
		return "recognized"
	case NoSpeech:
		return "no_speech"
	case TransientFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Outcome is the classified result for one segment. Text is set only for
// Recognized, Err only for TransientFailure.
type Outcome struct {
	Kind       OutcomeKind
	Text       string
	Confidence float64
	Err        error
	Latency    time.Duration
}

// Client wraps a Recognizer with a per-call timeout, tracing, and outcome
// classification. It is safe for concurrent use.
type Client struct {
	recognizer Recognizer
	timeout    time.Duration
	logger     *slog.Logger
	tracer     trace.Tracer
}

func NewClient(recognizer Recognizer, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		recognizer: recognizer,
		timeout:    timeout,
		logger:     logger.With(slog.String("component", "stt")),
		tracer:     otel.Tracer("github.com/loqalabs/loqa-fillers/stt"),
	}
}

// Transcribe submits one segment. It never returns an error; failures are
// reported as TransientFailure outcomes.
func (c *Client) Transcribe(ctx context.Context, seg capture.Segment) Outcome {
	ctx, span := c.tracer.Start(ctx, "stt.transcribe", trace.WithAttributes(
		attribute.Int64("segment.sequence", int64(seg.Sequence)),
		attribute.Int("segment.bytes", len(seg.PCM)),
	))
	defer span.End()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	started := time.Now()
	result, err := c.recognizer.Transcribe(ctx, seg.PCM, seg.SampleRate, seg.Channels)
	out := classify(result, err)
	out.Latency = time.Since(started)

	span.SetAttributes(attribute.String("stt.outcome", out.Kind.String()))
	if out.Kind == TransientFailure {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
	}
	return out
}

func classify(result TranscriptResult, err error) Outcome {
	switch {
	case errors.Is(err, ErrNoSpeech):
		return Outcome{Kind: NoSpeech}
	case errors.Is(err, context.DeadlineExceeded):
		return Outcome{Kind: TransientFailure, Err: fmt.Errorf("transcription timed out: %w", err)}
	case err != nil:
		return Outcome{Kind: TransientFailure, Err: err}
	}
	text := strings.TrimSpace(result.Text)
	if text == "" {
		return Outcome{Kind: NoSpeech}
	}
	return Outcome{Kind: Recognized, Text: text, Confidence: result.Confidence}
}

// Close releases recognizer resources when the backend holds any.
func (c *Client) Close() error {
	if closer, ok := c.recognizer.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
