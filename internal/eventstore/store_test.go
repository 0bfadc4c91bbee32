package eventstore

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-fillers/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTemp(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	cfg.Path = filepath.Join(t.TempDir(), "events.db")
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func transcriptEvent(t *testing.T, sessionID, speaker, text string, seq uint64) Event {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		t.Fatal(err)
	}
	return Event{SessionID: sessionID, Speaker: speaker, Type: TypeTranscript, Sequence: seq, Payload: payload}
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.AppendEvent(ctx, Event{SessionID: "s", Type: TypeState}); err != nil {
		t.Fatalf("ephemeral append should be a no-op: %v", err)
	}
	events, err := es.ListSessionEvents(ctx, "s", 10)
	if err != nil || events != nil {
		t.Fatalf("expected nothing stored, got %v %v", events, err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	es := openTemp(t, config.EventStoreConfig{RetentionMode: "session"})
	ctx := context.Background()

	if err := es.AppendSession(ctx, "session-123", "built-in mic"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.AppendEvent(ctx, transcriptEvent(t, "session-123", "Alice", "um hello", 4)); err != nil {
		t.Fatalf("append event: %v", err)
	}
	events, err := es.ListSessionEvents(ctx, "session-123", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Speaker != "Alice" || e.Sequence != 4 || e.Type != TypeTranscript || e.CreatedAt.IsZero() {
		t.Fatalf("unexpected event %+v", e)
	}

	sessions, err := es.ListSessions(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].Device != "built-in mic" {
		t.Fatalf("expected device to survive event insert, got %+v", sessions)
	}
}

func TestSessionTranscripts(t *testing.T) {
	es := openTemp(t, config.EventStoreConfig{RetentionMode: "session"})
	ctx := context.Background()

	for _, evt := range []Event{
		transcriptEvent(t, "s1", "Alice", "um you know", 1),
		{SessionID: "s1", Type: TypeState, Payload: json.RawMessage(`{"state":"idle"}`)},
		transcriptEvent(t, "s1", "Bob", "uh", 2),
		transcriptEvent(t, "s1", "Alice", "like um", 3),
		transcriptEvent(t, "s2", "Alice", "ignored", 1),
	} {
		if err := es.AppendEvent(ctx, evt); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	got, err := es.SessionTranscripts(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got["Alice"] != " um you know like um" || got["Bob"] != " uh" || len(got) != 2 {
		t.Fatalf("unexpected transcripts %q", got)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	es := openTemp(t, config.EventStoreConfig{RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1})
	ctx := context.Background()

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(ctx, "old-session", "mic"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{SessionID: "old-session", Type: TypeState}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(ctx, "new-session", "mic"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session pruned")
	}
	sessions, err := es.ListSessions(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "new-session" {
		t.Fatalf("unexpected sessions %+v", sessions)
	}
}
