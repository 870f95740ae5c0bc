package realtime

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func newTestClient(callbacks Callbacks) *Client {
	cfg := Config{
		URL:    "wss://example.invalid/v1/realtime",
		APIKey: "sk-test",
		Model:  "gpt-4o-realtime-preview",
	}
	return NewClient(cfg, DefaultSettings("prompt", "alloy", 0.7), callbacks, zap.NewNop())
}

func TestHandleEventTextDelta(t *testing.T) {
	var got string
	c := newTestClient(Callbacks{OnTextDelta: func(delta string) { got += delta }})

	c.handleEvent([]byte(`{"type":"response.text.delta","delta":"Hel"}`))
	c.handleEvent([]byte(`{"type":"response.audio_transcript.delta","delta":"lo"}`))

	if got != "Hello" {
		t.Fatalf("text=%q, want %q", got, "Hello")
	}
}

func TestHandleEventAudioDelta(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0xff, 0x7f}
	var got []byte
	c := newTestClient(Callbacks{OnAudioDelta: func(b []byte) { got = b }})

	encoded := base64.StdEncoding.EncodeToString(pcm)
	c.handleEvent([]byte(`{"type":"response.audio.delta","delta":"` + encoded + `"}`))

	if string(got) != string(pcm) {
		t.Fatalf("audio=%v, want %v", got, pcm)
	}
}

func TestHandleEventAudioDeltaBadBase64(t *testing.T) {
	var audio []byte
	var gotErr error
	c := newTestClient(Callbacks{
		OnAudioDelta: func(b []byte) { audio = b },
		OnError:      func(err error) { gotErr = err },
	})

	c.handleEvent([]byte(`{"type":"response.audio.delta","delta":"%%%"}`))

	if audio != nil {
		t.Fatal("OnAudioDelta fired for invalid base64")
	}
	if gotErr == nil {
		t.Fatal("OnError not fired for invalid base64")
	}
}

func TestHandleEventFunctionCall(t *testing.T) {
	var call FunctionCall
	c := newTestClient(Callbacks{OnFunctionCall: func(fc FunctionCall) { call = fc }})

	c.handleEvent([]byte(`{"type":"response.function_call_arguments.done","call_id":"call_1","name":"turn_on","arguments":"{\"entity_id\":\"light.kitchen\"}"}`))

	if call.CallID != "call_1" {
		t.Fatalf("CallID=%q, want call_1", call.CallID)
	}
	if call.Name != "turn_on" {
		t.Fatalf("Name=%q, want turn_on", call.Name)
	}
}

func TestHandleEventSessionAndLifecycle(t *testing.T) {
	var sessionID string
	started, stopped, done := false, false, false
	c := newTestClient(Callbacks{
		OnSessionCreated: func(id string) { sessionID = id },
		OnSpeechStarted:  func() { started = true },
		OnSpeechStopped:  func() { stopped = true },
		OnResponseDone:   func() { done = true },
	})

	c.handleEvent([]byte(`{"type":"session.created","session":{"id":"sess_42"}}`))
	c.handleEvent([]byte(`{"type":"input_audio_buffer.speech_started"}`))
	c.handleEvent([]byte(`{"type":"input_audio_buffer.speech_stopped"}`))
	c.handleEvent([]byte(`{"type":"response.done"}`))

	if sessionID != "sess_42" {
		t.Fatalf("sessionID=%q, want sess_42", sessionID)
	}
	if !started || !stopped || !done {
		t.Fatalf("started=%v stopped=%v done=%v, want all true", started, stopped, done)
	}
}

func TestHandleEventAPIError(t *testing.T) {
	var apiErr *APIError
	c := newTestClient(Callbacks{OnAPIError: func(err *APIError) { apiErr = err }})

	c.handleEvent([]byte(`{"type":"error","error":{"type":"invalid_request_error","code":"bad","message":"nope"}}`))

	if apiErr == nil {
		t.Fatal("OnAPIError not fired")
	}
	if apiErr.Code != "bad" {
		t.Fatalf("Code=%q, want bad", apiErr.Code)
	}
}

func TestDefaultSettings(t *testing.T) {
	settings := DefaultSettings("be nice", "nova", 0.9)
	if settings.Voice != "nova" || settings.Instructions != "be nice" {
		t.Fatalf("settings=%+v", settings)
	}
	if settings.InputAudioFormat != "pcm16" || settings.OutputAudioFormat != "pcm16" {
		t.Fatal("audio formats must default to pcm16")
	}
	if settings.TurnDetection == nil || settings.TurnDetection.Type != "server_vad" {
		t.Fatal("server_vad turn detection missing")
	}
	if settings.InputAudioTranscription == nil || settings.InputAudioTranscription.Model != "whisper-1" {
		t.Fatal("whisper transcription missing")
	}
	if settings.ToolChoice != "auto" {
		t.Fatalf("ToolChoice=%q, want auto", settings.ToolChoice)
	}
}

func TestNextBackoff(t *testing.T) {
	if got := nextBackoff(time.Second); got != 2*time.Second {
		t.Fatalf("nextBackoff(1s)=%v, want 2s", got)
	}
	if got := nextBackoff(40 * time.Second); got != 30*time.Second {
		t.Fatalf("nextBackoff(40s)=%v, want 30s", got)
	}
}

func TestSendWithoutConnection(t *testing.T) {
	c := newTestClient(Callbacks{})
	if c.Connected() {
		t.Fatal("client should not report connected before Connect")
	}
	if err := c.CommitAudio(t.Context()); err != ErrNotConnected {
		t.Fatalf("CommitAudio error=%v, want ErrNotConnected", err)
	}
}

// The server drops the first connection right after its session.update
// arrives; the client has to redial and replay the settings.
func TestReconnectReplaysSessionUpdate(t *testing.T) {
	var mu sync.Mutex
	connCount := 0
	updates := make(chan string, 4)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		mu.Lock()
		connCount++
		first := connCount == 1
		mu.Unlock()
		for {
			var msg struct {
				Type    string          `json:"type"`
				Session SessionSettings `json:"session"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "session.update" {
				updates <- msg.Session.Instructions
				if first {
					return
				}
			}
		}
	}))
	defer server.Close()

	cfg := Config{
		URL:                  "ws" + strings.TrimPrefix(server.URL, "http"),
		APIKey:               "sk-test",
		Model:                "gpt-4o-realtime-preview",
		MaxReconnectAttempts: 3,
	}
	client := NewClient(cfg, DefaultSettings("stay helpful", "alloy", 0.7), Callbacks{}, zap.NewNop())
	client.Connect(t.Context())
	defer client.Close()

	for i := 0; i < 2; i++ {
		select {
		case instructions := <-updates:
			if instructions != "stay helpful" {
				t.Fatalf("instructions=%q", instructions)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("session.update %d never arrived", i+1)
		}
	}
	if !client.Connected() {
		t.Fatal("client should be connected after redialing")
	}
}
