package transcript

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/loqalabs/loqa-fillers/internal/filler"
)

func TestNormalizeSpeaker(t *testing.T) {
	cases := map[string]string{
		"":            DefaultSpeaker,
		"   ":         DefaultSpeaker,
		" Alice ":     "Alice",
		"Bob Smith":   "Bob Smith",
		"Bob\tSmith":  "Bob Smith",
		"Ann\n\r Lee": "Ann Lee",
		"\t\n":        DefaultSpeaker,
	}
	for in, want := range cases {
		if got := NormalizeSpeaker(in); got != want {
			t.Fatalf("NormalizeSpeaker(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAppendConcatenatesWithSpace(t *testing.T) {
	s := NewStore()
	s.Append("alice", "a")
	s.Append("alice", "b")
	text, ok := s.Text("alice")
	if !ok {
		t.Fatal("expected transcript for alice")
	}
	if text != " a b" {
		t.Fatalf("unexpected transcript %q", text)
	}
}

func TestAddSpeakerIsIdempotent(t *testing.T) {
	s := NewStore()
	if !s.AddSpeaker("alice") {
		t.Fatal("expected first add to create")
	}
	s.Append("alice", "um")
	if s.AddSpeaker("alice") {
		t.Fatal("expected second add to be a no-op")
	}
	if text, _ := s.Text("alice"); text != " um" {
		t.Fatalf("add speaker must not clear text, got %q", text)
	}
	if got := s.Speakers(); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("unexpected speakers %v", got)
	}
}

func TestConcurrentAppendsKeepEveryPiece(t *testing.T) {
	s := NewStore()
	const writers = 16
	const perWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				s.Append("alice", fmt.Sprintf("w%d-%d", w, i))
			}
		}(w)
	}
	wg.Wait()

	text, _ := s.Text("alice")
	if strings.Contains(text, "  ") {
		t.Fatalf("found empty piece in transcript")
	}
	pieces := strings.Fields(text)
	if len(pieces) != writers*perWriter {
		t.Fatalf("expected %d pieces, got %d", writers*perWriter, len(pieces))
	}
	seen := make(map[string]bool, len(pieces))
	for _, p := range pieces {
		seen[p] = true
	}
	for w := 0; w < writers; w++ {
		for i := 0; i < perWriter; i++ {
			if !seen[fmt.Sprintf("w%d-%d", w, i)] {
				t.Fatalf("missing piece w%d-%d", w, i)
			}
		}
	}
}

func TestSnapshotIsolatesSpeakers(t *testing.T) {
	lex := filler.Default()
	s := NewStore()
	s.Append("bob", "um like")
	before, _ := s.SnapshotCounts(lex).For("bob")

	s.Append("alice", "um um um you know")
	after, _ := s.SnapshotCounts(lex).For("bob")

	for _, phrase := range lex.Phrases() {
		if before[phrase] != after[phrase] {
			t.Fatalf("bob's %q changed from %d to %d", phrase, before[phrase], after[phrase])
		}
	}
	alice, ok := s.SnapshotCounts(lex).For("alice")
	if !ok || alice["um"] != 3 || alice["you know"] != 1 {
		t.Fatalf("unexpected alice counts %v", alice)
	}
}

func TestSnapshotNeverSeesPartialAppend(t *testing.T) {
	lex, err := filler.NewLexicon("umumumumumumumum")
	if err != nil {
		t.Fatal(err)
	}
	phrase := lex.Phrases()[0]
	s := NewStore()
	s.AddSpeaker("alice")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			s.Append("alice", phrase)
		}
	}()

	for {
		select {
		case <-done:
			final, _ := s.SnapshotCounts(lex).For("alice")
			if final[phrase] != 500 {
				t.Fatalf("expected 500 matches, got %d", final[phrase])
			}
			return
		default:
		}
		s.mu.RLock()
		e := s.entries["alice"]
		s.mu.RUnlock()
		e.mu.Lock()
		text := e.text.String()
		e.mu.Unlock()
		if len(text)%(len(phrase)+1) != 0 {
			t.Fatalf("observed partial append: length %d", len(text))
		}
		_ = s.SnapshotCounts(lex)
	}
}

func TestResetClearsEverything(t *testing.T) {
	s := NewStore()
	s.Append("alice", "um")
	s.Reset()
	if s.Len() != 0 {
		t.Fatalf("expected empty store, got %d speakers", s.Len())
	}
	if _, ok := s.Text("alice"); ok {
		t.Fatal("expected alice to be gone")
	}
	if rows := s.SnapshotCounts(filler.Default()).Rows; len(rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(rows))
	}
}

func TestAppendAfterResetLandsInNewRegistry(t *testing.T) {
	s := NewStore()
	stale, _ := s.getOrCreate("alice")
	s.Reset()

	if _, ok := stale.append("lost"); ok {
		t.Fatal("append to a discarded entry must be refused")
	}
	if full := s.Append("alice", "late"); full != " late" {
		t.Fatalf("Append returned %q", full)
	}
	if text, ok := s.Text("alice"); !ok || text != " late" {
		t.Fatalf("expected late text in the new registry, got %q (%v)", text, ok)
	}
}

func TestSnapshotMapCopies(t *testing.T) {
	s := NewStore()
	s.Append("alice", "um")
	snap := s.SnapshotCounts(filler.Default())
	m := snap.Map()
	m["alice"]["um"] = 99
	if counts, _ := snap.For("alice"); counts["um"] != 1 {
		t.Fatalf("map must not alias snapshot counts")
	}
}
