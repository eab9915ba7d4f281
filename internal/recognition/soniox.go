package recognition

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultSonioxURL is the real-time transcription endpoint
const DefaultSonioxURL = "wss://stt-rt.soniox.com/transcribe-websocket"

const closeWriteTimeout = time.Second

// Stream is one open recognition websocket. Receive is called from a single
// reader goroutine; WriteAudio and Close may be called concurrently with it.
type Stream interface {
	// WriteAudio sends one binary audio frame
	WriteAudio(chunk []byte) error

	// Receive blocks for the next message. It returns io.EOF when the
	// service closed the stream normally; any other error is an abnormal close.
	Receive() (*Response, error)

	// Close ends the audio (empty frame then a normal close) and releases the connection
	Close() error
}

// Dialer opens recognition streams. The configuration message is part of the
// handshake: a returned Stream has already sent it.
type Dialer interface {
	Dial(ctx context.Context, cfg SessionConfig) (Stream, error)
}

// SonioxDialer dials the Soniox real-time websocket API
type SonioxDialer struct {
	URL    string
	Dialer *websocket.Dialer
}

// NewSonioxDialer creates a dialer for url, falling back to DefaultSonioxURL
func NewSonioxDialer(url string) *SonioxDialer {
	if url == "" {
		url = DefaultSonioxURL
	}
	return &SonioxDialer{URL: url, Dialer: websocket.DefaultDialer}
}

// Dial opens the websocket and sends the configuration message
func (d *SonioxDialer) Dial(ctx context.Context, cfg SessionConfig) (Stream, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to recognition service: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if err := conn.WriteJSON(newConfigMessage(cfg)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send recognition config: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	return &sonioxStream{conn: conn}, nil
}

type sonioxStream struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *sonioxStream) WriteAudio(chunk []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, chunk)
}

func (s *sonioxStream) Receive() (*Response, error) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("%w: %v", ErrTransportClosed, err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			// Unparseable frames are skipped, the stream stays usable
			continue
		}
		return &resp, nil
	}
}

func (s *sonioxStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		deadline := time.Now().Add(closeWriteTimeout)
		_ = s.conn.SetWriteDeadline(deadline)
		_ = s.conn.WriteMessage(websocket.BinaryMessage, []byte{})
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		s.writeMu.Unlock()

		err = s.conn.Close()
	})
	return err
}
