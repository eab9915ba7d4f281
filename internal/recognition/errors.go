package recognition

import (
	"errors"
	"fmt"
)

var (
	// ErrHandshakeTimeout is returned when the stream is not open within the handshake timeout
	ErrHandshakeTimeout = errors.New("recognition handshake timed out")

	// ErrTransportClosed is returned when the stream closed abnormally or is used after Close
	ErrTransportClosed = errors.New("recognition transport closed")

	// ErrMaxRetriesExceeded is returned when reconnection attempts are exhausted
	ErrMaxRetriesExceeded = errors.New("recognition reconnect attempts exceeded")
)

// ServiceError is an error reported in-band by the recognition service
type ServiceError struct {
	Code    int
	Message string
}

func (e *ServiceError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "API error"
	}
	return fmt.Sprintf("recognition service error %d: %s", e.Code, msg)
}

// Fatal reports whether the error ends the session without reconnecting
func (e *ServiceError) Fatal() bool {
	return e.Code >= 400
}

func serviceErrorFrom(resp *Response) *ServiceError {
	if resp == nil || resp.ErrorCode == 0 {
		return nil
	}
	return &ServiceError{Code: resp.ErrorCode, Message: resp.ErrorMessage}
}
