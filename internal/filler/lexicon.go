// Package filler counts verbal filler phrases in transcribed speech.
package filler

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultPhrases is the lexicon used when none is configured.
var DefaultPhrases = []string{"um", "uh", "i think", "you know", "like"}

// Lexicon is an ordered, immutable set of lower-cased filler phrases.
// Order is presentation order only.
type Lexicon struct {
	phrases []string
}

func NewLexicon(phrases ...string) (Lexicon, error) {
	if len(phrases) == 0 {
		return Lexicon{}, errors.New("lexicon must not be empty")
	}
	seen := make(map[string]struct{}, len(phrases))
	out := make([]string, 0, len(phrases))
	for i, p := range phrases {
		norm := strings.ToLower(strings.TrimSpace(p))
		if norm == "" {
			return Lexicon{}, fmt.Errorf("lexicon entry %d is empty", i)
		}
		if _, dup := seen[norm]; dup {
			return Lexicon{}, fmt.Errorf("duplicate lexicon entry %q", norm)
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return Lexicon{phrases: out}, nil
}

// Default returns the built-in lexicon.
func Default() Lexicon {
	lex, _ := NewLexicon(DefaultPhrases...)
	return lex
}

// Phrases returns a copy of the phrases in lexicon order.
func (l Lexicon) Phrases() []string {
	return append([]string(nil), l.phrases...)
}

func (l Lexicon) Len() int { return len(l.phrases) }
