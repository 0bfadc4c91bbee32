package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-fillers/internal/config"
	"github.com/loqalabs/loqa-fillers/internal/eventstore"
	"github.com/loqalabs/loqa-fillers/internal/filler"
	"github.com/loqalabs/loqa-fillers/internal/protocol"
	"github.com/loqalabs/loqa-fillers/internal/session"
	"github.com/loqalabs/loqa-fillers/internal/transcript"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type published struct {
	subject string
	value   any
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) PublishJSON(subject string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{subject, v})
	return f.err
}

func sampleEvents() []session.Event {
	store := transcript.NewStore()
	store.Append("Alice", "um you know")
	snap := store.SnapshotCounts(filler.Default())
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return []session.Event{
		{Kind: session.EventState, SessionID: "s1", State: session.Listening, Speaker: "Alice", Reason: session.ReasonStart, Device: "mic", Time: now},
		{Kind: session.EventTranscript, SessionID: "s1", Speaker: "Alice", Text: "um you know", Sequence: 1, Time: now},
		{Kind: session.EventCounts, SessionID: "s1", Speaker: "Alice", Counts: snap.Rows[0].Counts, Snapshot: &snap, Time: now},
		{Kind: session.EventSpeaker, SessionID: "s1", Speaker: "Bob", Reason: "switched", Time: now},
		{Kind: session.EventState, SessionID: "s1", State: session.Idle, Reason: session.ReasonStop, Time: now},
	}
}

func run(t *testing.T, r *Relay, events []session.Event) {
	t.Helper()
	ch := make(chan session.Event, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), ch)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not finish")
	}
}

func TestBusSinkSubjects(t *testing.T) {
	pub := &fakePublisher{}
	run(t, New(testLogger(), NewBusSink(pub)), sampleEvents())

	want := []string{
		protocol.SubjectState,
		protocol.SubjectTranscript,
		protocol.SubjectCounts,
		protocol.SubjectState,
		protocol.SubjectState,
	}
	if len(pub.msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(pub.msgs))
	}
	for i, subject := range want {
		if pub.msgs[i].subject != subject {
			t.Fatalf("message %d: expected %s, got %s", i, subject, pub.msgs[i].subject)
		}
	}
	counts, ok := pub.msgs[2].value.(protocol.CountsSnapshot)
	if !ok || counts.Rows[0].Counts["you know"] != 1 {
		t.Fatalf("unexpected counts payload %+v", pub.msgs[2].value)
	}
	speaker := pub.msgs[3].value.(protocol.StateChange)
	if speaker.State != "speaker" || speaker.Speaker != "Bob" {
		t.Fatalf("unexpected speaker payload %+v", speaker)
	}
}

func TestSinkFailureDoesNotStopOthers(t *testing.T) {
	failing := &fakePublisher{err: errors.New("nats down")}
	healthy := &fakePublisher{}
	run(t, New(testLogger(), NewBusSink(failing), NewBusSink(healthy), NewLogSink(testLogger())), sampleEvents())
	if len(healthy.msgs) != 5 {
		t.Fatalf("expected healthy sink to receive every event, got %d", len(healthy.msgs))
	}
}

func TestStoreSinkRecordsTimeline(t *testing.T) {
	es, err := eventstore.Open(context.Background(), config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "events.db"),
		RetentionMode: "session",
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = es.Close() })

	run(t, New(testLogger(), NewStoreSink(es)), sampleEvents())

	events, err := es.ListSessionEvents(context.Background(), "s1", 50)
	if err != nil {
		t.Fatal(err)
	}
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	want := []string{eventstore.TypeState, eventstore.TypeTranscript, eventstore.TypeSpeaker, eventstore.TypeState}
	if len(types) != len(want) {
		t.Fatalf("unexpected event types %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("unexpected event types %v", types)
		}
	}
	transcripts, err := es.SessionTranscripts(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if transcripts["Alice"] != " um you know" {
		t.Fatalf("unexpected transcripts %q", transcripts)
	}
	sessions, err := es.ListSessions(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].Device != "mic" {
		t.Fatalf("unexpected sessions %+v", sessions)
	}
}
