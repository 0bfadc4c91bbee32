package session

import (
	"context"

	"github.com/loqalabs/loqa-fillers/internal/stt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	segments       metric.Int64Counter
	transcriptions metric.Int64Counter
	occurrences    metric.Int64ObservableGauge
	registration   metric.Registration
}

func newMetrics(c *Controller) (*metrics, error) {
	meter := otel.Meter("github.com/loqalabs/loqa-fillers/session")
	m := &metrics{}
	var err error
	m.segments, err = meter.Int64Counter("fillers.segments.captured", metric.WithDescription("Audio segments handed to transcription"))
	if err != nil {
		return nil, err
	}
	m.transcriptions, err = meter.Int64Counter("fillers.transcriptions", metric.WithDescription("Transcription attempts by outcome"))
	if err != nil {
		return nil, err
	}
	m.occurrences, err = meter.Int64ObservableGauge("fillers.occurrences", metric.WithDescription("Filler occurrences per speaker and phrase"))
	if err != nil {
		return nil, err
	}
	m.registration, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		snap := c.Snapshot()
		for _, row := range snap.Rows {
			for _, phrase := range snap.Lexicon.Phrases() {
				obs.ObserveInt64(m.occurrences, int64(row.Counts[phrase]),
					metric.WithAttributes(attribute.String("speaker", row.Speaker), attribute.String("phrase", phrase)))
			}
		}
		return nil
	}, m.occurrences)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *metrics) segmentCaptured() {
	if m == nil {
		return
	}
	m.segments.Add(context.Background(), 1)
}

func (m *metrics) transcription(kind stt.OutcomeKind) {
	if m == nil {
		return
	}
	m.transcriptions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", kind.String())))
}

func (m *metrics) close() {
	if m == nil || m.registration == nil {
		return
	}
	_ = m.registration.Unregister()
}
