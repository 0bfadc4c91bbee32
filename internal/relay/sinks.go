package relay

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/loqalabs/loqa-fillers/internal/eventstore"
	"github.com/loqalabs/loqa-fillers/internal/protocol"
	"github.com/loqalabs/loqa-fillers/internal/session"
)

// Publisher is satisfied by *bus.Client.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// BusSink publishes events on the fillers.* subjects.
type BusSink struct {
	pub Publisher
}

func NewBusSink(pub Publisher) *BusSink { return &BusSink{pub: pub} }

func (s *BusSink) Name() string { return "bus" }

func (s *BusSink) Handle(_ context.Context, evt session.Event) error {
	switch evt.Kind {
	case session.EventTranscript:
		return s.pub.PublishJSON(protocol.SubjectTranscript, transcriptMessage(evt))
	case session.EventCounts:
		if evt.Snapshot == nil {
			return nil
		}
		return s.pub.PublishJSON(protocol.SubjectCounts, protocol.NewCountsSnapshot(evt.SessionID, *evt.Snapshot, evt.Time))
	case session.EventState, session.EventSpeaker:
		return s.pub.PublishJSON(protocol.SubjectState, stateMessage(evt))
	}
	return nil
}

// Recorder is satisfied by *eventstore.Store.
type Recorder interface {
	AppendSession(ctx context.Context, sessionID, device string) error
	AppendEvent(ctx context.Context, evt eventstore.Event) error
}

// StoreSink records transcripts and state changes. Counts are derivable
// from transcripts and are not stored.
type StoreSink struct {
	rec Recorder
}

func NewStoreSink(rec Recorder) *StoreSink { return &StoreSink{rec: rec} }

func (s *StoreSink) Name() string { return "eventstore" }

func (s *StoreSink) Handle(ctx context.Context, evt session.Event) error {
	var (
		typ     string
		payload any
	)
	switch evt.Kind {
	case session.EventTranscript:
		typ, payload = eventstore.TypeTranscript, transcriptMessage(evt)
	case session.EventState:
		if evt.State == session.Listening {
			if err := s.rec.AppendSession(ctx, evt.SessionID, evt.Device); err != nil {
				return err
			}
		}
		typ, payload = eventstore.TypeState, stateMessage(evt)
	case session.EventSpeaker:
		typ, payload = eventstore.TypeSpeaker, stateMessage(evt)
	default:
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.rec.AppendEvent(ctx, eventstore.Event{
		SessionID: evt.SessionID,
		Speaker:   evt.Speaker,
		Type:      typ,
		Sequence:  evt.Sequence,
		Payload:   data,
		CreatedAt: evt.Time,
	})
}

// LogSink writes transcripts to the structured log.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With(slog.String("component", "transcript"))}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Handle(_ context.Context, evt session.Event) error {
	switch evt.Kind {
	case session.EventTranscript:
		s.logger.Info("segment recognized",
			slog.String("speaker", evt.Speaker),
			slog.Uint64("sequence", evt.Sequence),
			slog.String("text", evt.Text))
	case session.EventCounts:
		attrs := []any{slog.String("speaker", evt.Speaker)}
		for phrase, n := range evt.Counts {
			attrs = append(attrs, slog.Int(phrase, n))
		}
		s.logger.Debug("counts updated", attrs...)
	}
	return nil
}

func transcriptMessage(evt session.Event) protocol.TranscriptEvent {
	return protocol.TranscriptEvent{
		SessionID: evt.SessionID,
		Speaker:   evt.Speaker,
		Text:      evt.Text,
		Sequence:  evt.Sequence,
		Timestamp: evt.Time.UTC(),
	}
}

func stateMessage(evt session.Event) protocol.StateChange {
	state := evt.State.String()
	if evt.Kind == session.EventSpeaker {
		state = "speaker"
	}
	return protocol.StateChange{
		SessionID: evt.SessionID,
		State:     state,
		Speaker:   evt.Speaker,
		Reason:    evt.Reason,
		Timestamp: evt.Time.UTC(),
	}
}
