package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lexiqai/caption-gateway/internal/transcript"
)

// Format is an export file format
type Format string

const (
	FormatSRT Format = "srt"
	FormatVTT Format = "vtt"
	FormatTXT Format = "txt"
)

var (
	// ErrEmptyTranscript is returned when there is nothing to export
	ErrEmptyTranscript = errors.New("no transcript")

	// ErrNoTimestamps is returned for subtitle formats when no token carries a start time
	ErrNoTimestamps = errors.New("no timestamp data, try TXT export")

	// ErrUnknownFormat is returned by ParseFormat
	ErrUnknownFormat = errors.New("unknown export format")
)

// ParseFormat parses "srt", "vtt" or "txt" (case-insensitive)
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatSRT, FormatVTT, FormatTXT:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// ContentType returns the MIME type served for the format
func (f Format) ContentType() string {
	if f == FormatVTT {
		return "text/vtt; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}

// Filename returns the download name for the format
func (f Format) Filename() string {
	return "transcript." + string(f)
}

// Render renders snap in format f. generated stamps the TXT header.
func Render(f Format, snap transcript.Snapshot, generated time.Time) (string, error) {
	switch f {
	case FormatSRT, FormatVTT:
		if snap.Original == "" {
			return "", ErrEmptyTranscript
		}
		segs := BuildSegments(snap.Tokens)
		if len(segs) == 0 {
			return "", ErrNoTimestamps
		}
		if f == FormatSRT {
			return SRT(segs), nil
		}
		return WebVTT(segs), nil
	case FormatTXT:
		if snap.Original == "" && snap.Translation == "" {
			return "", ErrEmptyTranscript
		}
		return Text(snap, generated), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
	}
}

// SRT renders segments as a SubRip file
func SRT(segs []Segment) string {
	return cues(segs, ',')
}

// WebVTT renders segments as a WebVTT file
func WebVTT(segs []Segment) string {
	return "WEBVTT\n\n" + cues(segs, '.')
}

func cues(segs []Segment, msSep byte) string {
	parts := make([]string, 0, len(segs))
	for i, s := range segs {
		parts = append(parts, fmt.Sprintf("%d\n%s --> %s\n%s\n",
			i+1, timestamp(s.StartMs, msSep), timestamp(s.EndMs, msSep), strings.TrimSpace(s.Text)))
	}
	return strings.Join(parts, "\n")
}

// timestamp formats ms as HH:MM:SS<sep>mmm
func timestamp(ms int64, sep byte) string {
	if ms < 0 {
		ms = 0
	}
	h := ms / 3600000
	m := ms % 3600000 / 60000
	s := ms % 60000 / 1000
	l := ms % 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, l)
}

// Text renders the plain transcript with a translation section when present
func Text(snap transcript.Snapshot, generated time.Time) string {
	var b strings.Builder
	b.WriteString("Caption Gateway Transcript\n")
	fmt.Fprintf(&b, "%s\n", generated.Format("2006-01-02 15:04:05"))
	b.WriteString(strings.Repeat("=", 50))
	fmt.Fprintf(&b, "\n\n%s\n", snap.Original)
	if snap.Translation != "" {
		fmt.Fprintf(&b, "\n── Translation ──\n%s\n", snap.Translation)
	}
	return b.String()
}
