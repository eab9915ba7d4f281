package recognition

// SessionConfig is what a session needs to open a recognition stream
type SessionConfig struct {
	APIKey         string
	Model          string
	LanguageHint   string // Source language hint, empty for auto-detection
	TargetLanguage string // One-way translation target, empty to disable
	ContextText    string // Free text describing the content (names, jargon)

	minimal bool // Credentials check: key, model and audio format only
}

// configMessage is the first text frame sent after the websocket opens
type configMessage struct {
	APIKey                       string             `json:"api_key"`
	Model                        string             `json:"model"`
	AudioFormat                  string             `json:"audio_format"`
	EnableEndpointDetection      bool               `json:"enable_endpoint_detection,omitempty"`
	EnableLanguageIdentification bool               `json:"enable_language_identification,omitempty"`
	EnableSpeakerDiarization     bool               `json:"enable_speaker_diarization,omitempty"`
	MaxEndpointDelayMs           int                `json:"max_endpoint_delay_ms,omitempty"`
	LanguageHints                []string           `json:"language_hints,omitempty"`
	Context                      *contextConfig     `json:"context,omitempty"`
	Translation                  *translationConfig `json:"translation,omitempty"`
}

type contextConfig struct {
	Text string `json:"text"`
}

type translationConfig struct {
	Type           string `json:"type"`
	TargetLanguage string `json:"target_language"`
}

const maxEndpointDelayMs = 500

func newConfigMessage(cfg SessionConfig) configMessage {
	msg := configMessage{
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		AudioFormat: "auto",
	}
	if cfg.minimal {
		return msg
	}
	msg.EnableEndpointDetection = true
	msg.EnableLanguageIdentification = true
	msg.EnableSpeakerDiarization = true
	msg.MaxEndpointDelayMs = maxEndpointDelayMs
	if cfg.LanguageHint != "" {
		msg.LanguageHints = []string{cfg.LanguageHint}
	}
	if cfg.ContextText != "" {
		msg.Context = &contextConfig{Text: cfg.ContextText}
	}
	if cfg.TargetLanguage != "" {
		msg.Translation = &translationConfig{Type: "one_way", TargetLanguage: cfg.TargetLanguage}
	}
	return msg
}

// TranslationStatusTranslation marks a token belonging to the translated stream
const TranslationStatusTranslation = "translation"

// Token is one recognized unit as sent by the service. Text carries its own
// leading whitespace.
type Token struct {
	Text              string `json:"text"`
	IsFinal           bool   `json:"is_final"`
	TranslationStatus string `json:"translation_status,omitempty"`
	StartMs           *int64 `json:"start_ms,omitempty"`
	EndMs             *int64 `json:"end_ms,omitempty"`
}

// IsTranslation reports whether the token belongs to the translation stream
func (t Token) IsTranslation() bool {
	return t.TranslationStatus == TranslationStatusTranslation
}

// Response is one inbound message from the service
type Response struct {
	Tokens       []Token `json:"tokens,omitempty"`
	Finished     bool    `json:"finished,omitempty"`
	ErrorCode    int     `json:"error_code,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

// State is the advisory connection state reported to observers
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRecording:
		return "recording"
	default:
		return "unknown"
	}
}
