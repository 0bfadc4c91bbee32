package filler

import "strings"

// Counts maps a filler phrase to its number of occurrences.
type Counts map[string]int

// Count returns, for every phrase of lex, the number of non-overlapping
// case-insensitive substring occurrences in text. Scanning resumes after the
// end of each match. Phrases with no match are present with a zero count.
func Count(text string, lex Lexicon) Counts {
	normalized := strings.ToLower(text)
	counts := make(Counts, len(lex.phrases))
	for _, phrase := range lex.phrases {
		counts[phrase] = strings.Count(normalized, phrase)
	}
	return counts
}

// Total sums all phrase counts.
func (c Counts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// Ordered returns the counts in lexicon order.
func (c Counts) Ordered(lex Lexicon) []int {
	out := make([]int, len(lex.phrases))
	for i, phrase := range lex.phrases {
		out[i] = c[phrase]
	}
	return out
}
