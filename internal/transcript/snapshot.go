package transcript

import "github.com/loqalabs/loqa-fillers/internal/filler"

// Snapshot is a recomputed point-in-time view of filler counts per speaker.
type Snapshot struct {
	Lexicon filler.Lexicon
	Rows    []Row
}

// Row holds one speaker's counts.
type Row struct {
	Speaker string
	Counts  filler.Counts
}

// For returns the counts of speaker.
func (s Snapshot) For(speaker string) (filler.Counts, bool) {
	for _, row := range s.Rows {
		if row.Speaker == speaker {
			return row.Counts, true
		}
	}
	return nil, false
}

// Map converts the snapshot into speaker -> phrase -> count.
func (s Snapshot) Map() map[string]map[string]int {
	out := make(map[string]map[string]int, len(s.Rows))
	for _, row := range s.Rows {
		counts := make(map[string]int, len(row.Counts))
		for k, v := range row.Counts {
			counts[k] = v
		}
		out[row.Speaker] = counts
	}
	return out
}
