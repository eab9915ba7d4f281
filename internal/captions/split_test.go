package captions

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitIntoSubtitles_PrefersClauseBreak(t *testing.T) {
	text := "The committee met on Tuesday to review the budget, and then the chair adjourned the meeting early"
	chunks := SplitIntoSubtitles(text, 80)

	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d: %q", len(chunks), chunks)
	}
	if chunks[0] != "The committee met on Tuesday to review the budget," {
		t.Errorf("Expected a break after the comma, got %q", chunks[0])
	}
	if chunks[1] != "and then the chair adjourned the meeting early" {
		t.Errorf("Unexpected second chunk %q", chunks[1])
	}
}

func TestSplitIntoSubtitles_IgnoresEarlyPunctuation(t *testing.T) {
	// The only comma sits in the first 40% of the window, so the last space wins
	text := "Yes, " + strings.TrimSpace(strings.Repeat("alpha ", 16))
	chunks := SplitIntoSubtitles(text, 80)

	if strings.HasSuffix(chunks[0], ",") {
		t.Errorf("Expected the early comma to be ignored, got %q", chunks[0])
	}
	if !strings.HasSuffix(chunks[0], "alpha") {
		t.Errorf("Expected a word boundary break, got %q", chunks[0])
	}
}

func TestSplitIntoSubtitles_HardBreak(t *testing.T) {
	text := strings.Repeat("x", 170)
	chunks := SplitIntoSubtitles(text, 80)

	want := []int{80, 80, 10}
	if len(chunks) != len(want) {
		t.Fatalf("Expected %d chunks, got %d", len(want), len(chunks))
	}
	for i, n := range want {
		if len(chunks[i]) != n {
			t.Errorf("Chunk %d: expected %d chars, got %d", i, n, len(chunks[i]))
		}
	}
}

func TestSplitIntoSubtitles_RoundTrip(t *testing.T) {
	texts := []string{
		"Short one.",
		strings.Repeat("lorem ipsum dolor sit amet, ", 12),
		"Hello there! How are you doing today; I hope fine. " + strings.Repeat("word ", 40),
		strings.Repeat("ש", 200),
		"שלום עולם, " + strings.Repeat("טקסט ארוך מאוד ", 12),
	}

	strip := func(s string) string { return strings.Join(strings.Fields(s), "") }

	for _, text := range texts {
		text = strings.TrimSpace(text)
		chunks := SplitIntoSubtitles(text, 80)

		for _, c := range chunks {
			if c == "" {
				t.Errorf("Empty chunk for %q", text)
			}
			if n := utf8.RuneCountInString(c); n > 80 {
				t.Errorf("Chunk longer than 80 characters (%d): %q", n, c)
			}
		}
		if strip(strings.Join(chunks, " ")) != strip(text) {
			t.Errorf("Chunks do not reassemble the text %q: %q", text, chunks)
		}
	}
}

func TestEndsSentence(t *testing.T) {
	tests := []struct {
		text     string
		expected bool
	}{
		{"hello world.", true},
		{"really?", true},
		{"stop!", true},
		{`he said "go."`, true},
		{"it's 'done.'", true},
		{"quoted.”", true},
		{"hebrew.״", true},
		{"clause;", false},
		{"list,", false},
		{"no punctuation", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := EndsSentence(tt.text); got != tt.expected {
			t.Errorf("EndsSentence(%q) = %v, expected %v", tt.text, got, tt.expected)
		}
	}
}
