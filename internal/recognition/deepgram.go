package recognition

import (
	"context"
	"fmt"
	"io"
	"sync"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/lexiqai/caption-gateway/internal/observability"
)

// endpointMarker is the control token signalling the end of an utterance
const endpointMarker = "<end>"

// messageCallbackHandler embeds the SDK default handler and overrides the
// callbacks the stream needs
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	stream *deepgramStream
}

// Message maps a Deepgram result onto the token protocol
func (m *messageCallbackHandler) Message(msg *msginterfaces.MessageResponse) error {
	if resp := m.stream.translate(msg); resp != nil {
		m.stream.deliver(resp, nil)
	}
	return nil
}

// Error surfaces a Deepgram error as an abnormal close
func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	m.stream.deliver(nil, fmt.Errorf("%w: deepgram %s: %s", ErrTransportClosed, errorResponse.ErrMsg, errorResponse.Description))
	return nil
}

// Close ends the stream normally
func (m *messageCallbackHandler) Close(closeResponse *msginterfaces.CloseResponse) error {
	m.stream.deliver(nil, io.EOF)
	return nil
}

// DeepgramDialer opens Deepgram live transcription streams. Results are mapped
// onto the token protocol: each result becomes one token and speech_final
// becomes an endpoint marker. Translation is not supported by this backend.
type DeepgramDialer struct {
	APIKey string
	Model  string
}

// NewDeepgramDialer creates a Deepgram dialer
func NewDeepgramDialer(apiKey, model string) *DeepgramDialer {
	return &DeepgramDialer{APIKey: apiKey, Model: model}
}

// Dial connects to Deepgram with interim results and endpointing enabled
func (d *DeepgramDialer) Dial(ctx context.Context, cfg SessionConfig) (Stream, error) {
	logger := observability.Component("deepgram")

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = d.APIKey
	}
	if cfg.TargetLanguage != "" {
		logger.Warn().Str("target_language", cfg.TargetLanguage).Msg("Translation is not supported by the deepgram backend, ignoring")
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.Model,
		Language:       cfg.LanguageHint,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Endpointing:    fmt.Sprintf("%d", maxEndpointDelayMs),
	}

	stream := &deepgramStream{
		responses: make(chan deepgramEvent, 64),
		done:      make(chan struct{}),
	}
	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		stream:                 stream,
	}

	// The SDK ties the socket to its context, so the stream outlives the
	// handshake context and only inherits its cancellation until connected.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	client, err := listenClient.NewWSUsingCallback(streamCtx, apiKey, nil, tOptions, callback)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create deepgram client: %w", err)
	}

	stop := context.AfterFunc(ctx, cancel)
	connected := client.Connect()
	if !stop() {
		cancel()
		return nil, ctx.Err()
	}
	if !connected {
		cancel()
		return nil, fmt.Errorf("failed to connect to deepgram")
	}
	stream.client = client
	stream.cancel = cancel

	logger.Info().Str("model", d.Model).Str("language", cfg.LanguageHint).Msg("Deepgram stream opened")
	return stream, nil
}

type deepgramEvent struct {
	resp *Response
	err  error
}

type deepgramStream struct {
	client    *listenClient.WSCallback
	cancel    context.CancelFunc
	responses chan deepgramEvent
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	hasOutput bool
}

// translate turns one result into a token response, nil when there is nothing to report
func (s *deepgramStream) translate(msg *msginterfaces.MessageResponse) *Response {
	if msg == nil || len(msg.Channel.Alternatives) == 0 {
		return nil
	}

	alt := msg.Channel.Alternatives[0]
	resp := &Response{}

	if alt.Transcript != "" {
		text := alt.Transcript
		s.mu.Lock()
		if s.hasOutput {
			text = " " + text
		}
		if msg.IsFinal {
			s.hasOutput = true
		}
		s.mu.Unlock()

		start := msg.Start
		end := msg.Start + msg.Duration
		if len(alt.Words) > 0 && msg.Duration == 0 {
			start = alt.Words[0].Start
			end = alt.Words[len(alt.Words)-1].End
		}
		startMs := int64(start * 1000)
		endMs := int64(end * 1000)

		resp.Tokens = append(resp.Tokens, Token{
			Text:    text,
			IsFinal: msg.IsFinal,
			StartMs: &startMs,
			EndMs:   &endMs,
		})
	}

	if msg.IsFinal && msg.SpeechFinal {
		resp.Tokens = append(resp.Tokens, Token{Text: endpointMarker, IsFinal: true})
	}

	if len(resp.Tokens) == 0 {
		return nil
	}
	return resp
}

func (s *deepgramStream) deliver(resp *Response, err error) {
	select {
	case s.responses <- deepgramEvent{resp: resp, err: err}:
	case <-s.done:
	}
}

func (s *deepgramStream) WriteAudio(chunk []byte) error {
	_, err := s.client.Write(chunk)
	return err
}

func (s *deepgramStream) Receive() (*Response, error) {
	select {
	case ev := <-s.responses:
		return ev.resp, ev.err
	case <-s.done:
		return nil, io.EOF
	}
}

func (s *deepgramStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.client.Finish()
		s.cancel()
	})
	return nil
}
