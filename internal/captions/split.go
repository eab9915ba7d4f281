package captions

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// sentenceEnd matches text ending a sentence, optionally followed by a closing quote
var sentenceEnd = regexp.MustCompile(`[.!?]["'\x{201d}\x{05f4}]?$`)

// EndsSentence reports whether trimmed text ends with . ! or ? (optionally quoted)
func EndsSentence(text string) bool {
	return sentenceEnd.MatchString(text)
}

// SplitIntoSubtitles cuts text into chunks of at most max characters. Each cut
// prefers a clause break (". ! ? ; ," followed by a space) in the last 60% of
// the window, then the last space past 30% of it, then a hard break at max.
func SplitIntoSubtitles(text string, max int) []string {
	if max <= 0 {
		return []string{text}
	}

	var result []string
	remaining := []rune(text)
	for len(remaining) > max {
		segment := remaining[:max]
		breakAt := -1

		for i := len(segment) - 1; float64(i) > float64(max)*0.4; i-- {
			if strings.ContainsRune(".!?;,", segment[i]) && i+1 < len(segment) && segment[i+1] == ' ' {
				breakAt = i + 2
				break
			}
		}

		if breakAt == -1 {
			lastSpace := lastIndexRune(segment, ' ')
			if float64(lastSpace) > float64(max)*0.3 {
				breakAt = lastSpace + 1
			} else {
				breakAt = max
			}
		}

		if chunk := strings.TrimSpace(string(remaining[:breakAt])); chunk != "" {
			result = append(result, chunk)
		}
		remaining = []rune(strings.TrimSpace(string(remaining[breakAt:])))
	}

	if len(remaining) > 0 {
		result = append(result, string(remaining))
	}
	return result
}

// tail returns the last max characters of text
func tail(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[len(runes)-max:])
}

func lastIndexRune(runes []rune, r rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}
