package transcript

import (
	"strings"

	"github.com/lexiqai/caption-gateway/internal/recognition"
)

// Kind classifies a token's text
type Kind int

const (
	KindNormal   Kind = iota // Regular text
	KindEndpoint             // <end>: utterance boundary
	KindNoise                // <unk> or <silence>: dropped
)

// Classify returns the control classification of a token's text
func Classify(text string) Kind {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "<end>":
		return KindEndpoint
	case "<unk>", "<silence>":
		return KindNoise
	default:
		return KindNormal
	}
}

// Delta is what one recognition message contributed
type Delta struct {
	NewFinalText   string // Finalized text of the display stream
	NewPartialText string // Non-final text of the display stream, this message only
	EndpointHit    bool
	ExportTokens   []ExportToken // Final tokens of both streams with timestamps
	StreamFinished bool
	Final          *Snapshot // Set with StreamFinished
}

// Empty reports whether the delta carries nothing to act on
func (d Delta) Empty() bool {
	return d.NewFinalText == "" && d.NewPartialText == "" && !d.EndpointHit &&
		len(d.ExportTokens) == 0 && !d.StreamFinished
}

// Processor converts recognition messages into deltas and writes the history
type Processor struct {
	history   *History
	translate bool
}

// NewProcessor creates a processor writing into history. When translate is
// set the display stream is the translation, otherwise the original.
func NewProcessor(history *History, translate bool) *Processor {
	return &Processor{history: history, translate: translate}
}

// History returns the history the processor writes
func (p *Processor) History() *History {
	return p.history
}

// Process handles one message
func (p *Processor) Process(resp *recognition.Response) Delta {
	var d Delta
	if resp == nil {
		return d
	}

	var finalOrig, finalTrans, partialOrig, partialTrans strings.Builder

	for _, tok := range resp.Tokens {
		if tok.Text == "" {
			continue
		}
		switch Classify(tok.Text) {
		case KindEndpoint:
			d.EndpointHit = true
			continue
		case KindNoise:
			continue
		}

		translation := tok.IsTranslation()
		if tok.IsFinal {
			if translation {
				finalTrans.WriteString(tok.Text)
			} else {
				finalOrig.WriteString(tok.Text)
			}
			p.history.appendFinal(tok.Text, translation)
			d.ExportTokens = append(d.ExportTokens, ExportToken{
				Text:          tok.Text,
				IsTranslation: translation,
				StartMs:       tok.StartMs,
				EndMs:         tok.EndMs,
			})
			continue
		}

		if translation {
			partialTrans.WriteString(tok.Text)
		} else {
			partialOrig.WriteString(tok.Text)
		}
	}

	p.history.appendTokens(d.ExportTokens)

	if p.translate {
		d.NewFinalText = finalTrans.String()
		d.NewPartialText = partialTrans.String()
	} else {
		d.NewFinalText = finalOrig.String()
		d.NewPartialText = partialOrig.String()
	}

	if resp.Finished {
		snap := p.history.Snapshot()
		d.StreamFinished = true
		d.Final = &snap
	}

	return d
}
