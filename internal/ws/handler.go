package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	appconfig "github.com/pogojam/HomeAssistantVoiceAssistant/internal/config"
	"github.com/pogojam/HomeAssistantVoiceAssistant/internal/homeassistant"
	"github.com/pogojam/HomeAssistantVoiceAssistant/internal/tools"
)

// Handler owns all active satellite sessions.
type Handler struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader
	config   appconfig.Config
	tools    *tools.Dispatcher
	profiles []appconfig.VoiceProfile
	sessions map[string]*session
	mu       sync.Mutex
}

type incomingMessage struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
	Voice       string `json:"voice,omitempty"`
	Mode        string `json:"mode,omitempty"`
	AudioFormat string `json:"audio_format,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty"`
	Channels    int    `json:"channels,omitempty"`
}

// NewHandler builds the session handler. Voice profiles are scanned
// once at startup; home control tools are wired only when enabled.
func NewHandler(logger *zap.Logger, cfg appconfig.Config) *Handler {
	h := &Handler{
		logger:   logger,
		config:   cfg,
		sessions: make(map[string]*session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	if cfg.EnableHomeControl && cfg.HomeAssistant.URL != "" {
		haTimeout := time.Duration(cfg.HomeAssistant.Timeout) * time.Second
		ha := homeassistant.New(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, haTimeout)
		h.tools = tools.New(ha, logger)
	}

	if cfg.ProfilesDir != "" {
		profiles, err := appconfig.ScanProfiles(cfg.ProfilesDir)
		if err != nil {
			logger.Warn("voice profile scan failed", zap.Error(err))
		} else {
			h.profiles = profiles
			logger.Info("voice profiles loaded", zap.Int("count", len(profiles)))
		}
	}

	return h
}

// Handle upgrades one satellite connection and runs its read loop
// until the satellite goes away.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := newSession(h, conn, uuid.NewString())

	sess.logger.Info("satellite session opened",
		zap.String("session_id", sess.id),
		zap.String("audio_format", sess.audioFormat),
		zap.Int("sample_rate", sess.sampleRate),
		zap.Int("channels", sess.channels),
	)

	// The assistant client must exist before the session is visible
	// to the service endpoints.
	sess.connectUpstream(ctx)
	h.registerSession(sess)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			sess.logger.Debug("satellite connection closed", zap.Error(err))
			break
		}
		sess.touch()
		if msgType == websocket.BinaryMessage {
			sess.handleMicFrame(ctx, data)
			continue
		}
		var msg incomingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			sess.sendJSON(map[string]any{"type": "error", "message": "invalid json"})
			continue
		}
		if msg.Type != "heartbeat" {
			sess.logger.Debug("satellite message",
				zap.String("session_id", sess.id),
				zap.String("type", msg.Type),
			)
		}
		sess.dispatchIncoming(ctx, msg)
	}

	sess.close(ctx)
	sess.logger.Info("satellite session closed", zap.String("session_id", sess.id))
	h.unregisterSession(sess.id)
}

func (h *Handler) registerSession(sess *session) {
	h.mu.Lock()
	h.sessions[sess.id] = sess
	h.mu.Unlock()
}

func (h *Handler) unregisterSession(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

func (h *Handler) activeSessions() []*session {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := make([]*session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		list = append(list, sess)
	}
	return list
}

// SessionCount reports the number of connected satellites.
func (h *Handler) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// UpstreamCount reports how many sessions hold a live assistant
// connection.
func (h *Handler) UpstreamCount() int {
	count := 0
	for _, sess := range h.activeSessions() {
		if sess.upstream != nil && sess.upstream.Connected() {
			count++
		}
	}
	return count
}

// StartConversation starts listening on every connected satellite.
// Backs the start_conversation service endpoint.
func (h *Handler) StartConversation(ctx context.Context) int {
	sessions := h.activeSessions()
	for _, sess := range sessions {
		sess.startConversation(ctx, "")
	}
	return len(sessions)
}

// StopConversation ends the conversation on every connected satellite.
func (h *Handler) StopConversation(ctx context.Context) int {
	sessions := h.activeSessions()
	for _, sess := range sessions {
		sess.stopConversation(ctx)
	}
	return len(sessions)
}

// ClearContext clears conversation context on every connected
// satellite.
func (h *Handler) ClearContext(ctx context.Context) int {
	sessions := h.activeSessions()
	for _, sess := range sessions {
		sess.clearContext(ctx)
	}
	return len(sessions)
}

// SetSystemPrompt replaces the session instructions on every connected
// satellite.
func (h *Handler) SetSystemPrompt(ctx context.Context, prompt string) int {
	sessions := h.activeSessions()
	for _, sess := range sessions {
		sess.setSystemPrompt(ctx, prompt)
	}
	return len(sessions)
}

func (h *Handler) findProfile(name string) (appconfig.VoiceProfile, bool) {
	return appconfig.FindProfile(h.profiles, name)
}
