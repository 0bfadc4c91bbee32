package protocol

import (
	"time"

	"github.com/loqalabs/loqa-fillers/internal/filler"
	"github.com/loqalabs/loqa-fillers/internal/transcript"
)

// NewCountsSnapshot flattens a snapshot into its wire form.
func NewCountsSnapshot(sessionID string, snap transcript.Snapshot, ts time.Time) CountsSnapshot {
	phrases := snap.Lexicon.Phrases()
	rows := make([]SpeakerCounts, 0, len(snap.Rows))
	for _, row := range snap.Rows {
		counts := make(map[string]int, len(phrases))
		for _, p := range phrases {
			counts[p] = row.Counts[p]
		}
		rows = append(rows, SpeakerCounts{Speaker: row.Speaker, Counts: counts})
	}
	return CountsSnapshot{SessionID: sessionID, Phrases: phrases, Rows: rows, Timestamp: ts.UTC()}
}

// Snapshot rebuilds a transcript snapshot from its wire form.
func (c CountsSnapshot) Snapshot() (transcript.Snapshot, error) {
	lex, err := filler.NewLexicon(c.Phrases...)
	if err != nil {
		return transcript.Snapshot{}, err
	}
	rows := make([]transcript.Row, 0, len(c.Rows))
	for _, row := range c.Rows {
		counts := make(filler.Counts, len(c.Phrases))
		for _, p := range lex.Phrases() {
			counts[p] = row.Counts[p]
		}
		rows = append(rows, transcript.Row{Speaker: row.Speaker, Counts: counts})
	}
	return transcript.Snapshot{Lexicon: lex, Rows: rows}, nil
}
