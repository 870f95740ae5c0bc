package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrNotConnected is returned for sends without a live connection.
var ErrNotConnected = errors.New("realtime connection not ready")

// ErrReconnectExhausted is reported once the bounded reconnect loop
// gives up.
var ErrReconnectExhausted = errors.New("realtime reconnect attempts exhausted")

const baseReconnectDelay = time.Second

// Client maintains one websocket session against the realtime API,
// reconnecting with doubling backoff and replaying session.update
// after every successful connect.
type Client struct {
	cfg       Config
	logger    *zap.Logger
	callbacks Callbacks

	mu       sync.Mutex
	conn     *websocket.Conn
	closed   bool
	settings SessionSettings
	writeMu  sync.Mutex
}

// NewClient builds a client; Connect starts it.
func NewClient(cfg Config, settings SessionSettings, callbacks Callbacks, logger *zap.Logger) *Client {
	return &Client{
		cfg:       cfg,
		logger:    logger,
		callbacks: callbacks,
		settings:  settings,
	}
}

// Connect starts the connection loop in the background.
func (c *Client) Connect(ctx context.Context) {
	go c.run(ctx)
}

// Close tears the connection down permanently.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}

// Settings returns a copy of the current session settings.
func (c *Client) Settings() SessionSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// UpdateSettings mutates the session settings and pushes a
// session.update when connected.
func (c *Client) UpdateSettings(ctx context.Context, mutate func(*SessionSettings)) error {
	c.mu.Lock()
	mutate(&c.settings)
	settings := c.settings
	connected := c.conn != nil
	c.mu.Unlock()
	if !connected {
		return nil
	}
	return c.sendJSON(ctx, map[string]any{
		"type":    "session.update",
		"session": settings,
	})
}

// AppendAudio streams one mic chunk into the input audio buffer.
func (c *Client) AppendAudio(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	return c.sendJSON(ctx, map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm),
	})
}

// CommitAudio closes the current input buffer as one user turn.
func (c *Client) CommitAudio(ctx context.Context) error {
	return c.sendJSON(ctx, map[string]any{"type": "input_audio_buffer.commit"})
}

// ClearAudio drops any uncommitted input audio.
func (c *Client) ClearAudio(ctx context.Context) error {
	return c.sendJSON(ctx, map[string]any{"type": "input_audio_buffer.clear"})
}

// SendUserText submits a typed user turn and requests a response.
func (c *Client) SendUserText(ctx context.Context, text string) error {
	item := map[string]any{
		"type": "message",
		"role": "user",
		"content": []map[string]any{
			{"type": "input_text", "text": text},
		},
	}
	if err := c.sendJSON(ctx, map[string]any{
		"type": "conversation.item.create",
		"item": item,
	}); err != nil {
		return err
	}
	return c.CreateResponse(ctx)
}

// AddContext injects a conversation item without requesting a response.
func (c *Client) AddContext(ctx context.Context, role, content string) error {
	item := map[string]any{
		"type": "message",
		"role": role,
		"content": []map[string]any{
			{"type": "text", "text": content},
		},
	}
	return c.sendJSON(ctx, map[string]any{
		"type": "conversation.item.create",
		"item": item,
	})
}

// SendFunctionOutput returns a tool result correlated by call id and
// asks the model to continue.
func (c *Client) SendFunctionOutput(ctx context.Context, callID string, output []byte) error {
	item := map[string]any{
		"type":    "function_call_output",
		"call_id": callID,
		"output":  string(output),
	}
	if err := c.sendJSON(ctx, map[string]any{
		"type": "conversation.item.create",
		"item": item,
	}); err != nil {
		return err
	}
	return c.CreateResponse(ctx)
}

// CreateResponse asks the model to produce a response now.
func (c *Client) CreateResponse(ctx context.Context) error {
	return c.sendJSON(ctx, map[string]any{"type": "response.create"})
}

// CancelResponse aborts the in-flight response. Used for barge-in.
func (c *Client) CancelResponse(ctx context.Context) error {
	return c.sendJSON(ctx, map[string]any{"type": "response.cancel"})
}

// Connected reports whether a live connection exists.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) sendJSON(ctx context.Context, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(payload)
}

func (c *Client) run(ctx context.Context) {
	delay := baseReconnectDelay
	attempts := 0
	for {
		if ctx.Err() != nil || c.isClosed() {
			return
		}
		c.logger.Info("realtime connecting",
			zap.String("url", c.cfg.URL),
			zap.String("model", c.cfg.Model),
			zap.Int("attempt", attempts),
		)
		if err := c.connectOnce(ctx); err != nil {
			c.reportError(err)
			c.logger.Warn("realtime connect failed", zap.Error(err))
			attempts++
			if c.exhausted(attempts) {
				c.notifyDisconnect(true)
				return
			}
			c.notifyDisconnect(false)
			if !sleepCtx(ctx, delay) {
				return
			}
			delay = nextBackoff(delay)
			continue
		}
		c.logger.Info("realtime connected", zap.String("model", c.cfg.Model))
		delay = baseReconnectDelay
		attempts = 0
		if err := c.readLoop(); err != nil {
			if c.isClosed() || ctx.Err() != nil {
				return
			}
			c.reportError(err)
			c.logger.Warn("realtime connection lost", zap.Error(err))
			attempts++
			if c.exhausted(attempts) {
				c.notifyDisconnect(true)
				return
			}
			c.notifyDisconnect(false)
			if !sleepCtx(ctx, delay) {
				return
			}
			delay = nextBackoff(delay)
		}
	}
}

func (c *Client) exhausted(attempts int) bool {
	max := c.cfg.MaxReconnectAttempts
	if max <= 0 {
		max = 5
	}
	return attempts >= max
}

func (c *Client) connectOnce(ctx context.Context) error {
	if c.cfg.URL == "" {
		return errors.New("realtime url is empty")
	}
	endpoint, err := url.Parse(c.cfg.URL)
	if err != nil {
		return err
	}
	query := endpoint.Query()
	query.Set("model", c.cfg.Model)
	endpoint.RawQuery = query.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint.String(), headers)
	if err != nil {
		return err
	}
	conn.SetPingHandler(func(appData string) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return errors.New("client closed")
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	settings := c.settings
	c.mu.Unlock()

	return c.sendJSON(ctx, map[string]any{
		"type":    "session.update",
		"session": settings,
	})
}

func (c *Client) readLoop() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()
			return err
		}
		c.handleEvent(data)
	}
}

func (c *Client) handleEvent(data []byte) {
	var event serverEvent
	if err := json.Unmarshal(data, &event); err != nil {
		c.reportError(err)
		return
	}

	switch event.Type {
	case "session.created":
		if c.callbacks.OnSessionCreated != nil {
			c.callbacks.OnSessionCreated(event.Session.ID)
		}
	case "session.updated":
		if c.callbacks.OnSessionUpdated != nil {
			c.callbacks.OnSessionUpdated()
		}
	case "response.text.delta", "response.audio_transcript.delta":
		if event.Delta != "" && c.callbacks.OnTextDelta != nil {
			c.callbacks.OnTextDelta(event.Delta)
		}
	case "response.audio.delta":
		if event.Delta == "" || c.callbacks.OnAudioDelta == nil {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(event.Delta)
		if err != nil {
			c.reportError(err)
			return
		}
		if len(pcm) > 0 {
			c.callbacks.OnAudioDelta(pcm)
		}
	case "conversation.item.input_audio_transcription.completed":
		if event.Transcript != "" && c.callbacks.OnTranscript != nil {
			c.callbacks.OnTranscript(event.Transcript)
		}
	case "input_audio_buffer.speech_started":
		if c.callbacks.OnSpeechStarted != nil {
			c.callbacks.OnSpeechStarted()
		}
	case "input_audio_buffer.speech_stopped":
		if c.callbacks.OnSpeechStopped != nil {
			c.callbacks.OnSpeechStopped()
		}
	case "response.function_call_arguments.done":
		if c.callbacks.OnFunctionCall != nil {
			c.callbacks.OnFunctionCall(FunctionCall{
				CallID:    event.CallID,
				Name:      event.Name,
				Arguments: event.Arguments,
			})
		}
	case "response.done":
		if c.callbacks.OnResponseDone != nil {
			c.callbacks.OnResponseDone()
		}
	case "error":
		if event.Error != nil && c.callbacks.OnAPIError != nil {
			c.callbacks.OnAPIError(event.Error)
		}
	}
}

func (c *Client) reportError(err error) {
	if c.callbacks.OnError != nil {
		c.callbacks.OnError(err)
	}
}

func (c *Client) notifyDisconnect(terminal bool) {
	if terminal {
		c.reportError(ErrReconnectExhausted)
	}
	if c.callbacks.OnDisconnect != nil {
		c.callbacks.OnDisconnect(terminal)
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	return closed
}

func nextBackoff(delay time.Duration) time.Duration {
	if delay >= 30*time.Second {
		return 30 * time.Second
	}
	return delay * 2
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
