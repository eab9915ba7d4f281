package session

import (
	"errors"
	"strings"
)

var (
	// ErrNoActiveCaptureTarget is returned when a start request names no owner
	ErrNoActiveCaptureTarget = errors.New("no active capture target")

	// ErrIneligibleSource is returned for sources that cannot be captured, such as browser-internal pages
	ErrIneligibleSource = errors.New("cannot capture this page")

	// ErrMissingStreamHandle is returned when a start request carries no audio source
	ErrMissingStreamHandle = errors.New("missing capture stream")

	// ErrStartCancelled is returned by Start when the session was stopped before its handshake completed
	ErrStartCancelled = errors.New("session stopped while starting")
)

var privilegedPrefixes = []string{"chrome://", "chrome-extension://"}

func isPrivilegedURL(url string) bool {
	for _, prefix := range privilegedPrefixes {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}
