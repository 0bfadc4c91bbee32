// Package transcript holds the per-speaker append-only transcripts of a
// session and derives filler count snapshots from them.
package transcript

import (
	"strings"
	"sync"

	"github.com/loqalabs/loqa-fillers/internal/filler"
)

// DefaultSpeaker labels text captured while no speaker is named.
const DefaultSpeaker = "Unknown"

// NormalizeSpeaker collapses every whitespace run, tabs and newlines
// included, to a single space and substitutes DefaultSpeaker for blanks.
// Normalized labels are safe as a TSV cell.
func NormalizeSpeaker(name string) string {
	if fields := strings.Fields(name); len(fields) > 0 {
		return strings.Join(fields, " ")
	}
	return DefaultSpeaker
}

type entry struct {
	mu   sync.Mutex
	text strings.Builder
	// dead is set by Reset; appends must then go to the new registry.
	dead bool
}

// append reports false when the entry was discarded by Reset.
func (e *entry) append(text string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return "", false
	}
	e.text.WriteByte(' ')
	e.text.WriteString(text)
	return e.text.String(), true
}

// Store is a registry of speaker transcripts. Appends to one speaker are
// serialized by that speaker's lock; the registry lock only guards
// creation and enumeration.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

func (s *Store) getOrCreate(speaker string) (*entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[speaker]
	s.mu.RUnlock()
	if ok {
		return e, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[speaker]; ok {
		return e, false
	}
	e = &entry{}
	s.entries[speaker] = e
	s.order = append(s.order, speaker)
	return e, true
}

// AddSpeaker creates an empty transcript for speaker if none exists and
// reports whether it did.
func (s *Store) AddSpeaker(speaker string) bool {
	_, created := s.getOrCreate(speaker)
	return created
}

// Append concatenates " "+text onto the speaker's transcript and returns
// the transcript including it. An append racing Reset lands in the new
// registry.
func (s *Store) Append(speaker, text string) string {
	for {
		e, _ := s.getOrCreate(speaker)
		if full, ok := e.append(text); ok {
			return full
		}
	}
}

// Text returns the speaker's transcript as of now.
func (s *Store) Text(speaker string) (string, bool) {
	s.mu.RLock()
	e, ok := s.entries[speaker]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.text.String(), true
}

// Speakers lists speakers in creation order.
func (s *Store) Speakers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Reset drops every transcript.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		e.mu.Lock()
		e.dead = true
		e.mu.Unlock()
	}
	s.entries = make(map[string]*entry)
	s.order = nil
}

// SnapshotCounts copies each transcript under its own lock and counts
// fillers over the copies. Each row reflects whole appends only.
func (s *Store) SnapshotCounts(lex filler.Lexicon) Snapshot {
	s.mu.RLock()
	speakers := append([]string(nil), s.order...)
	entries := make([]*entry, len(speakers))
	for i, spk := range speakers {
		entries[i] = s.entries[spk]
	}
	s.mu.RUnlock()

	snap := Snapshot{Lexicon: lex, Rows: make([]Row, 0, len(speakers))}
	for i, e := range entries {
		e.mu.Lock()
		text := e.text.String()
		e.mu.Unlock()
		snap.Rows = append(snap.Rows, Row{Speaker: speakers[i], Counts: filler.Count(text, lex)})
	}
	return snap
}
