package realtime

import "encoding/json"

// Config describes the upstream realtime endpoint and session defaults.
type Config struct {
	URL                  string
	APIKey               string
	Model                string
	MaxReconnectAttempts int
}

// TurnDetection is the server VAD configuration sent in session.update.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// Transcription enables input audio transcription.
type Transcription struct {
	Enabled bool   `json:"enabled"`
	Model   string `json:"model"`
}

// Tool is a function tool advertised to the model.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// SessionSettings is the mutable part of the upstream session. It is
// resent via session.update after every (re)connect.
type SessionSettings struct {
	Modalities              []string       `json:"modalities"`
	Instructions            string         `json:"instructions"`
	Voice                   string         `json:"voice"`
	InputAudioFormat        string         `json:"input_audio_format"`
	OutputAudioFormat       string         `json:"output_audio_format"`
	InputAudioTranscription *Transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection `json:"turn_detection,omitempty"`
	Tools                   []Tool         `json:"tools"`
	ToolChoice              string         `json:"tool_choice"`
	Temperature             float64        `json:"temperature"`
}

// DefaultSettings mirrors the session the integration always opens:
// duplex text+audio, pcm16 both ways, whisper transcription, server VAD.
func DefaultSettings(instructions, voice string, temperature float64) SessionSettings {
	return SessionSettings{
		Modalities:        []string{"text", "audio"},
		Instructions:      instructions,
		Voice:             voice,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		InputAudioTranscription: &Transcription{
			Enabled: true,
			Model:   "whisper-1",
		},
		TurnDetection: &TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
		},
		Tools:       []Tool{},
		ToolChoice:  "auto",
		Temperature: temperature,
	}
}

// FunctionCall is a completed tool invocation from the model.
type FunctionCall struct {
	CallID    string
	Name      string
	Arguments json.RawMessage
}

// APIError is an error event from the upstream API.
type APIError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e == nil {
		return "realtime api error"
	}
	if e.Code != "" {
		return "realtime api error " + e.Code + ": " + e.Message
	}
	return "realtime api error: " + e.Message
}

// Callbacks receive upstream events. Nil members are skipped. All
// callbacks run on the client's read goroutine.
type Callbacks struct {
	OnSessionCreated func(sessionID string)
	OnSessionUpdated func()
	OnTextDelta      func(delta string)
	OnAudioDelta     func(pcm []byte)
	OnTranscript     func(text string)
	OnSpeechStarted  func()
	OnSpeechStopped  func()
	OnFunctionCall   func(call FunctionCall)
	OnResponseDone   func()
	OnAPIError       func(err *APIError)
	OnError          func(err error)
	// OnDisconnect fires when the connection drops; terminal is true
	// once reconnect attempts are exhausted.
	OnDisconnect func(terminal bool)
}

// serverEvent is the envelope shared by all upstream events. Only the
// fields the bridge consumes are decoded.
type serverEvent struct {
	Type       string          `json:"type"`
	Delta      string          `json:"delta"`
	Text       string          `json:"text"`
	Transcript string          `json:"transcript"`
	CallID     string          `json:"call_id"`
	Name       string          `json:"name"`
	Arguments  json.RawMessage `json:"arguments"`
	ItemID     string          `json:"item_id"`
	Session    struct {
		ID string `json:"id"`
	} `json:"session"`
	Error *APIError `json:"error"`
}
