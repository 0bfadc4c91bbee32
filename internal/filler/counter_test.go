package filler

import (
	"reflect"
	"testing"
)

func TestCountLiteral(t *testing.T) {
	lex := Default()
	got := Count("Um, I think you know, um, like, yes.", lex)
	want := Counts{"um": 2, "uh": 0, "i think": 1, "you know": 1, "like": 1}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected counts: got %v want %v", got, want)
	}
}

func TestCountEmptyTextIsAllZero(t *testing.T) {
	lex := Default()
	got := Count("", lex)
	if len(got) != lex.Len() {
		t.Fatalf("expected %d phrases, got %d", lex.Len(), len(got))
	}
	for phrase, n := range got {
		if n != 0 {
			t.Fatalf("expected zero for %q, got %d", phrase, n)
		}
	}
}

func TestCountNonOverlapping(t *testing.T) {
	cases := []struct {
		text   string
		phrase string
		want   int
	}{
		{"umumum", "um", 3},
		{"ummmum", "um", 2},
		{"aaaa", "aa", 2},
		{"aaa", "aa", 1},
		{"UMUM um", "umum", 1},
		{"do you knowledge", "you know", 1},
		{"unlikely", "like", 1},
	}
	for _, tc := range cases {
		lex, err := NewLexicon(tc.phrase)
		if err != nil {
			t.Fatalf("lexicon: %v", err)
		}
		if got := Count(tc.text, lex)[tc.phrase]; got != tc.want {
			t.Fatalf("Count(%q, %q) = %d, want %d", tc.text, tc.phrase, got, tc.want)
		}
	}
}

func TestCountIsDeterministic(t *testing.T) {
	lex := Default()
	text := "uh like um you know like"
	first := Count(text, lex)
	second := Count(text, lex)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical results, got %v and %v", first, second)
	}
	if first.Total() != 5 {
		t.Fatalf("expected total 5, got %d", first.Total())
	}
	if got := first.Ordered(lex); !reflect.DeepEqual(got, []int{1, 1, 0, 1, 2}) {
		t.Fatalf("unexpected ordered counts: %v", got)
	}
}

func TestNewLexiconValidation(t *testing.T) {
	if _, err := NewLexicon(); err == nil {
		t.Fatal("expected error for empty lexicon")
	}
	if _, err := NewLexicon("um", "  "); err == nil {
		t.Fatal("expected error for blank entry")
	}
	if _, err := NewLexicon("um", "UM"); err == nil {
		t.Fatal("expected error for duplicate entry")
	}
	lex, err := NewLexicon(" You Know ", "Um")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := lex.Phrases(); !reflect.DeepEqual(got, []string{"you know", "um"}) {
		t.Fatalf("unexpected phrases: %v", got)
	}
}
