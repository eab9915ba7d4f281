// Package export renders a session transcript as SRT, WebVTT or plain text.
package export

import (
	"unicode/utf8"

	"github.com/lexiqai/caption-gateway/internal/transcript"
)

const (
	// MaxSegmentChars is the longest text a segment grows to before a new one starts
	MaxSegmentChars = 42
	// MaxSegmentSpanMs is the longest a segment may span, start to last token end
	MaxSegmentSpanMs = 5000
	// defaultTokenMs is assumed for tokens without an end time
	defaultTokenMs = 500
)

// Segment is one caption-file cue
type Segment struct {
	StartMs int64
	EndMs   int64
	Text    string
}

// BuildSegments groups original-language final tokens with a known start into
// cues. A token starts a new cue when it would push the text past
// MaxSegmentChars or the cue past MaxSegmentSpanMs.
func BuildSegments(tokens []transcript.ExportToken) []Segment {
	var segs []Segment
	var cur Segment

	for _, tk := range tokens {
		if tk.IsTranslation || tk.StartMs == nil {
			continue
		}

		start := *tk.StartMs
		end := start + defaultTokenMs
		if tk.EndMs != nil {
			end = *tk.EndMs
		}

		if utf8.RuneCountInString(cur.Text)+utf8.RuneCountInString(tk.Text) > MaxSegmentChars || end-cur.StartMs > MaxSegmentSpanMs {
			if cur.Text != "" {
				segs = append(segs, cur)
			}
			cur = Segment{StartMs: start, EndMs: end, Text: tk.Text}
			continue
		}

		if cur.Text == "" {
			cur.StartMs = start
		}
		cur.Text += tk.Text
		cur.EndMs = end
	}

	if cur.Text != "" {
		segs = append(segs, cur)
	}
	return segs
}
