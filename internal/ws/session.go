package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	godepsopus "github.com/godeps/opus"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	appconfig "github.com/pogojam/HomeAssistantVoiceAssistant/internal/config"
	"github.com/pogojam/HomeAssistantVoiceAssistant/internal/realtime"
	"github.com/pogojam/HomeAssistantVoiceAssistant/internal/session/fsm"
	"github.com/pogojam/HomeAssistantVoiceAssistant/internal/storage"
	"github.com/pogojam/HomeAssistantVoiceAssistant/internal/tools"
	"github.com/pogojam/HomeAssistantVoiceAssistant/pkg/audio"
)

const (
	formatPCM16 = "pcm16"
	formatPCM   = "pcm"
	formatOpus  = "opus"

	toolCallTimeout = 15 * time.Second

	// 120 ms at 48 kHz, the largest opus packet a decoder can yield.
	maxOpusFrameSamples = 5760

	// Local barge-in heuristic for satellites that never send
	// interrupt-signal: this many consecutive mic frames above the
	// RMS threshold while the assistant is speaking cancel playback.
	bargeInRMS    = 1200.0
	bargeInFrames = 3
)

type session struct {
	conn    *websocket.Conn
	sendMu  sync.Mutex
	logger  *zap.Logger
	handler *Handler
	machine *fsm.Machine

	upstream *realtime.Client
	id       string

	timerMu sync.Mutex
	timer   *time.Timer
	timeout time.Duration

	mu            sync.Mutex
	audioFormat   string
	sampleRate    int
	channels      int
	frameDuration int
	frameSamples  int
	upstreamRate  int
	upstreamFrame int

	// Written only from the satellite read goroutine.
	loudFrames int

	inConversation bool
	responseText   string
	audioActive    bool
	dropOutput     bool
	micErrored     bool
	transcriptUID  string
	responsePCM    []int16
	clipSeq        int

	outResampler *audio.StreamResampler
	micResampler *audio.StreamResampler
	outPending   []int16
	opusEnc      *godepsopus.Encoder
	opusDec      *godepsopus.Decoder
	opusBuf      []byte
	opusPCM      []int16
}

func newSession(h *Handler, conn *websocket.Conn, id string) *session {
	cfg := h.config
	sess := &session{
		conn:          conn,
		logger:        h.logger,
		handler:       h,
		machine:       fsm.New(),
		id:            id,
		audioFormat:   fallbackString(cfg.SatelliteAudioFormat, formatPCM16),
		sampleRate:    fallbackInt(cfg.SatelliteSampleRate, 16000),
		channels:      fallbackInt(cfg.SatelliteChannels, 1),
		frameDuration: fallbackInt(cfg.SatelliteFrameDuration, 20),
		upstreamRate:  fallbackInt(cfg.OutputSampleRate, 24000),
	}
	if cfg.ConversationTimeout > 0 {
		sess.timeout = time.Duration(cfg.ConversationTimeout) * time.Second
		sess.timer = time.AfterFunc(sess.timeout, sess.onConversationTimeout)
	}
	if err := sess.initCodecs(); err != nil {
		sess.logger.Warn("audio codec init failed, falling back to pcm16 passthrough",
			zap.String("session_id", sess.id),
			zap.Error(err),
		)
		sess.audioFormat = formatPCM16
		sess.sampleRate = sess.upstreamRate
		_ = sess.initCodecs()
	}
	return sess
}

// initCodecs rebuilds resamplers and opus codecs for the negotiated
// satellite audio parameters. Caller holds no locks during startup;
// hello renegotiation takes s.mu.
func (s *session) initCodecs() error {
	s.closeCodecs()
	s.frameSamples = s.sampleRate * s.frameDuration / 1000
	if s.frameSamples <= 0 {
		s.frameSamples = s.sampleRate / 50
	}
	s.upstreamFrame = s.upstreamRate * s.frameDuration / 1000

	if s.sampleRate != s.upstreamRate {
		out, err := audio.NewStreamResampler(s.upstreamRate, s.sampleRate)
		if err != nil {
			return err
		}
		mic, err := audio.NewStreamResampler(s.sampleRate, s.upstreamRate)
		if err != nil {
			out.Close()
			return err
		}
		s.outResampler = out
		s.micResampler = mic
	}

	if s.audioFormat == formatOpus {
		enc, err := godepsopus.NewEncoder(s.sampleRate, s.channels, godepsopus.AppAudio)
		if err != nil {
			return err
		}
		dec, err := godepsopus.NewDecoder(s.sampleRate, s.channels)
		if err != nil {
			return err
		}
		s.opusEnc = enc
		s.opusDec = dec
		s.opusBuf = make([]byte, 4000)
		s.opusPCM = make([]int16, maxOpusFrameSamples*s.channels)
	}
	return nil
}

func (s *session) closeCodecs() {
	if s.outResampler != nil {
		s.outResampler.Close()
		s.outResampler = nil
	}
	if s.micResampler != nil {
		s.micResampler.Close()
		s.micResampler = nil
	}
	s.opusEnc = nil
	s.opusDec = nil
	s.outPending = nil
}

func (s *session) connectUpstream(ctx context.Context) {
	cfg := s.handler.config

	prompt := fallbackString(cfg.SystemPrompt, appconfig.DefaultSystemPrompt)
	settings := realtime.DefaultSettings(prompt, cfg.Voice, cfg.Temperature)
	if s.handler.tools != nil {
		settings.Tools = tools.Definitions()
	}

	rtCfg := realtime.Config{
		URL:                  cfg.RealtimeURL,
		APIKey:               cfg.APIKey,
		Model:                fallbackString(cfg.Model, appconfig.DefaultModel),
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}

	callbacks := realtime.Callbacks{
		OnSessionCreated: func(sessionID string) {
			s.logger.Info("assistant session created",
				zap.String("session_id", s.id),
				zap.String("upstream_session", sessionID),
			)
		},
		OnTextDelta: func(delta string) {
			s.touch()
			s.applyTextDelta(delta)
		},
		OnAudioDelta: func(pcm []byte) {
			s.touch()
			s.handleModelAudio(pcm)
		},
		OnTranscript: func(text string) {
			s.touch()
			s.sendJSON(map[string]any{"type": "transcription", "text": text})
			s.recordTranscript("user", text, "")
		},
		OnSpeechStarted: func() {
			s.touch()
			if s.machine.Speaking() {
				s.interrupt(ctx)
			}
		},
		OnSpeechStopped: func() {
			s.machine.OnAudioCommit()
		},
		OnFunctionCall: func(call realtime.FunctionCall) {
			s.handleFunctionCall(ctx, call)
		},
		OnResponseDone: func() {
			s.finishResponse()
		},
		OnAPIError: func(apiErr *realtime.APIError) {
			s.logger.Warn("assistant api error",
				zap.String("session_id", s.id),
				zap.String("code", apiErr.Code),
				zap.String("message", apiErr.Message),
			)
			s.sendJSON(map[string]any{"type": "error", "message": apiErr.Message})
		},
		OnError: func(err error) {
			s.logger.Warn("assistant error", zap.String("session_id", s.id), zap.Error(err))
		},
		OnDisconnect: func(terminal bool) {
			if !terminal {
				s.sendJSON(map[string]any{"type": "error", "message": "assistant connection interrupted, reconnecting"})
				return
			}
			s.sendJSON(map[string]any{"type": "error", "message": "assistant connection lost"})
			s.sendJSON(map[string]any{"type": "goodbye"})
			s.machine.OnStop()
			_ = s.conn.Close()
		},
	}

	s.upstream = realtime.NewClient(rtCfg, settings, callbacks, s.logger)
	s.upstream.Connect(ctx)
}

func (s *session) close(ctx context.Context) {
	s.timerMu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerMu.Unlock()
	if s.upstream != nil {
		s.upstream.Close()
	}
	s.mu.Lock()
	s.closeCodecs()
	s.mu.Unlock()
}

func (s *session) touch() {
	s.timerMu.Lock()
	if s.timer != nil {
		s.timer.Reset(s.timeout)
	}
	s.timerMu.Unlock()
}

func (s *session) onConversationTimeout() {
	s.mu.Lock()
	active := s.inConversation
	s.mu.Unlock()
	if !active {
		return
	}
	s.logger.Info("conversation timed out", zap.String("session_id", s.id))
	s.stopConversation(context.Background())
}

func (s *session) startConversation(ctx context.Context, mode string) {
	if mode != "" {
		s.machine.SetMode(mode)
	}
	s.mu.Lock()
	already := s.inConversation
	s.inConversation = true
	s.mu.Unlock()
	if already {
		return
	}

	if dir := s.handler.config.TranscriptDir; dir != "" {
		uid, err := storage.CreateTranscript(dir, s.id)
		if err != nil {
			s.logger.Warn("transcript create failed", zap.Error(err))
		} else {
			s.mu.Lock()
			s.transcriptUID = uid
			s.mu.Unlock()
		}
	}

	s.machine.OnListenStart()
	s.sendJSON(map[string]any{"type": "control", "text": "conversation-start"})
	s.touch()
}

func (s *session) stopConversation(ctx context.Context) {
	s.mu.Lock()
	active := s.inConversation
	s.inConversation = false
	s.responseText = ""
	s.audioActive = false
	s.dropOutput = false
	if s.outResampler != nil {
		s.outResampler.Discard()
	}
	s.outPending = nil
	s.responsePCM = nil
	s.mu.Unlock()

	if !active {
		s.machine.OnStop()
		return
	}
	if s.upstream != nil {
		if err := s.upstream.CancelResponse(ctx); err != nil {
			s.logger.Debug("response cancel on stop failed", zap.Error(err))
		}
		if err := s.upstream.ClearAudio(ctx); err != nil {
			s.logger.Debug("audio clear on stop failed", zap.Error(err))
		}
	}
	s.machine.OnStop()
	s.sendJSON(map[string]any{"type": "control", "text": "conversation-end"})
}

// clearContext abandons the current exchange, rotates the transcript
// and re-sends the session instructions as a conversation item so the
// model keeps its persona across the reset.
func (s *session) clearContext(ctx context.Context) {
	s.interrupt(ctx)
	if s.upstream != nil {
		if err := s.upstream.ClearAudio(ctx); err != nil {
			s.logger.Debug("audio clear failed", zap.Error(err))
		}
	}
	s.mu.Lock()
	s.responseText = ""
	s.mu.Unlock()

	if dir := s.handler.config.TranscriptDir; dir != "" {
		uid, err := storage.CreateTranscript(dir, s.id)
		if err != nil {
			s.logger.Warn("transcript create failed", zap.Error(err))
		} else {
			s.mu.Lock()
			s.transcriptUID = uid
			s.mu.Unlock()
		}
	}

	if s.upstream != nil {
		if instructions := s.upstream.Settings().Instructions; instructions != "" {
			if err := s.upstream.AddContext(ctx, "system", instructions); err != nil {
				s.logger.Debug("context reseed failed", zap.Error(err))
			}
		}
	}
}

func (s *session) setSystemPrompt(ctx context.Context, prompt string) {
	if prompt == "" || s.upstream == nil {
		return
	}
	err := s.upstream.UpdateSettings(ctx, func(settings *realtime.SessionSettings) {
		settings.Instructions = prompt
	})
	if err != nil {
		s.sendJSON(map[string]any{"type": "error", "message": err.Error()})
	}
}

func (s *session) setVoice(ctx context.Context, name string) {
	if name == "" || s.upstream == nil {
		return
	}
	if appconfig.IsValidVoice(name) {
		err := s.upstream.UpdateSettings(ctx, func(settings *realtime.SessionSettings) {
			settings.Voice = name
		})
		if err != nil {
			s.sendJSON(map[string]any{"type": "error", "message": err.Error()})
		}
		return
	}

	profile, ok := s.handler.findProfile(name)
	if !ok {
		s.sendJSON(map[string]any{"type": "error", "message": "unknown voice or profile: " + name})
		return
	}
	err := s.upstream.UpdateSettings(ctx, func(settings *realtime.SessionSettings) {
		if profile.Voice != "" {
			settings.Voice = profile.Voice
		}
		if profile.SystemPrompt != "" {
			settings.Instructions = profile.SystemPrompt
		}
		if profile.Temperature != nil {
			settings.Temperature = *profile.Temperature
		}
	})
	if err != nil {
		s.sendJSON(map[string]any{"type": "error", "message": err.Error()})
	}
}

// handleMicFrame forwards one binary mic frame upstream. A frame
// arriving while idle implicitly starts the conversation.
func (s *session) handleMicFrame(ctx context.Context, data []byte) {
	if len(data) == 0 {
		return
	}
	if s.machine.State() == fsm.StateIdle {
		s.startConversation(ctx, "")
	}

	s.mu.Lock()
	samples, err := s.decodeMicFrame(data)
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("mic frame decode failed", zap.String("session_id", s.id), zap.Error(err))
		s.sendJSON(map[string]any{"type": "error", "message": err.Error()})
		return
	}
	if s.channels == 2 {
		samples = downmixStereo(samples)
	}
	level := micLevel(samples)
	err = s.forwardMicSamples(ctx, samples)
	s.mu.Unlock()

	if s.machine.Speaking() && level >= bargeInRMS {
		s.loudFrames++
		if s.loudFrames >= bargeInFrames {
			s.loudFrames = 0
			s.interrupt(ctx)
		}
	} else {
		s.loudFrames = 0
	}

	if err != nil {
		if !s.micErrored {
			s.micErrored = true
			s.sendJSON(map[string]any{"type": "error", "message": err.Error()})
		}
		s.logger.Debug("mic forward failed", zap.String("session_id", s.id), zap.Error(err))
		return
	}
	s.micErrored = false

	switch s.machine.State() {
	case fsm.StateIdle, fsm.StateInterrupted:
		s.machine.OnListenStart()
	}
}

func (s *session) decodeMicFrame(data []byte) ([]int16, error) {
	if s.audioFormat == formatOpus && s.opusDec != nil {
		n, err := s.opusDec.Decode(data, s.opusPCM)
		if err != nil {
			return nil, err
		}
		return s.opusPCM[:n*s.channels], nil
	}
	return audio.BytesToInt16(data), nil
}

func (s *session) forwardMicSamples(ctx context.Context, samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	if s.micResampler == nil {
		return s.appendUpstream(ctx, samples)
	}
	if err := s.micResampler.AppendPCM(samples); err != nil {
		return err
	}
	return s.drainMicResampler(ctx)
}

func (s *session) drainMicResampler(ctx context.Context) error {
	for {
		frame, ok := s.micResampler.PopFrame(s.upstreamFrame)
		if !ok {
			return nil
		}
		err := s.appendUpstream(ctx, frame)
		audio.ReleaseInt16(frame)
		if err != nil {
			return err
		}
	}
}

// appendUpstream sends one mic frame as pcm16 bytes from the pool. The
// upstream client base64 encodes before returning, so reuse is safe.
func (s *session) appendUpstream(ctx context.Context, samples []int16) error {
	buf := audio.AcquireBytes(len(samples) * 2)
	err := s.upstream.AppendAudio(ctx, audio.Int16ToBytesInto(buf, samples))
	audio.ReleaseBytes(buf)
	return err
}

// micLevel measures the RMS amplitude of one decoded mic frame.
func micLevel(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	buf := audio.AcquireBytes(len(samples) * 2)
	level := audio.RMS(audio.Int16ToBytesInto(buf, samples))
	audio.ReleaseBytes(buf)
	return level
}

// micAudioEnd commits the buffered input as one user turn and asks for
// a response. With server VAD active this is the manual path.
func (s *session) micAudioEnd(ctx context.Context) {
	s.mu.Lock()
	if s.micResampler != nil {
		if err := s.micResampler.Flush(); err != nil {
			s.logger.Warn("mic flush failed", zap.Error(err))
		}
		if err := s.drainMicResampler(ctx); err != nil {
			s.logger.Debug("mic drain failed", zap.Error(err))
		}
		if tail := s.micResampler.PopRemainderPadded(s.upstreamFrame); tail != nil {
			if err := s.appendUpstream(ctx, tail); err != nil {
				s.logger.Debug("mic tail send failed", zap.Error(err))
			}
			audio.ReleaseInt16(tail)
		}
	}
	s.mu.Unlock()

	if err := s.upstream.CommitAudio(ctx); err != nil {
		s.sendJSON(map[string]any{"type": "error", "message": err.Error()})
		return
	}
	if err := s.upstream.CreateResponse(ctx); err != nil {
		s.sendJSON(map[string]any{"type": "error", "message": err.Error()})
		return
	}
	s.machine.OnAudioCommit()
}

func (s *session) textInput(ctx context.Context, text string) {
	if text == "" {
		return
	}
	if s.machine.State() == fsm.StateIdle {
		s.startConversation(ctx, "")
	}
	s.recordTranscript("user", text, "")
	if err := s.upstream.SendUserText(ctx, text); err != nil {
		s.sendJSON(map[string]any{"type": "error", "message": err.Error()})
		return
	}
	s.machine.OnResponseStart()
}

func (s *session) applyTextDelta(delta string) {
	s.mu.Lock()
	if s.responseText == "" {
		switch s.machine.State() {
		case fsm.StateIdle, fsm.StateListening:
			s.machine.OnResponseStart()
		}
	}
	s.responseText += delta
	text := s.responseText
	s.mu.Unlock()
	s.sendJSON(map[string]any{"type": "response-text", "text": text})
}

func (s *session) handleModelAudio(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropOutput {
		return
	}
	if !s.audioActive {
		s.audioActive = true
		s.machine.OnSpeakStart()
		s.sendJSON(map[string]any{
			"type":        "audio-start",
			"format":      s.audioFormat,
			"sample_rate": s.sampleRate,
			"channels":    s.channels,
		})
	}
	s.emitModelSamples(audio.BytesToInt16(pcm))
}

// emitModelSamples frames mono model output for the satellite leg.
// Caller holds s.mu.
func (s *session) emitModelSamples(samples []int16) {
	if s.outResampler != nil {
		if err := s.outResampler.AppendPCM(samples); err != nil {
			s.logger.Warn("output resample failed", zap.Error(err))
			return
		}
		for {
			frame, ok := s.outResampler.PopFrame(s.frameSamples)
			if !ok {
				return
			}
			s.writeAudioFrame(frame)
			audio.ReleaseInt16(frame)
		}
	}
	if s.audioFormat == formatOpus {
		s.outPending = append(s.outPending, samples...)
		for len(s.outPending) >= s.frameSamples {
			frame := s.outPending[:s.frameSamples]
			s.outPending = s.outPending[s.frameSamples:]
			s.writeAudioFrame(frame)
		}
		return
	}
	s.writeAudioFrame(samples)
}

// writeAudioFrame encodes and sends one mono frame at the satellite
// rate. Caller holds s.mu.
func (s *session) writeAudioFrame(frame []int16) {
	if len(frame) == 0 {
		return
	}
	if s.handler.config.TranscriptDir != "" && s.transcriptUID != "" {
		s.responsePCM = append(s.responsePCM, frame...)
	}
	out := frame
	if s.channels == 2 {
		out = upmixMono(frame)
		defer audio.ReleaseInt16(out)
	}
	if s.audioFormat == formatOpus && s.opusEnc != nil {
		n, err := s.opusEnc.Encode(out, s.opusBuf)
		if err != nil {
			s.logger.Warn("opus encode failed", zap.Error(err))
			return
		}
		s.sendBinary(s.opusBuf[:n])
		return
	}
	buf := audio.AcquireBytes(len(out) * 2)
	s.sendBinary(audio.Int16ToBytesInto(buf, out))
	audio.ReleaseBytes(buf)
}

func (s *session) finishResponse() {
	s.mu.Lock()
	if !s.dropOutput && s.outResampler != nil {
		if err := s.outResampler.Flush(); err != nil {
			s.logger.Debug("output flush failed", zap.Error(err))
		}
		for {
			frame, ok := s.outResampler.PopFrame(s.frameSamples)
			if !ok {
				break
			}
			s.writeAudioFrame(frame)
			audio.ReleaseInt16(frame)
		}
		if tail := s.outResampler.PopRemainderPadded(s.frameSamples); tail != nil {
			s.writeAudioFrame(tail)
			audio.ReleaseInt16(tail)
		}
	}
	if !s.dropOutput && len(s.outPending) > 0 {
		tail := audio.AcquireInt16(s.frameSamples)
		copy(tail, s.outPending)
		for i := len(s.outPending); i < s.frameSamples; i++ {
			tail[i] = 0
		}
		s.outPending = s.outPending[:0]
		s.writeAudioFrame(tail)
		audio.ReleaseInt16(tail)
	}

	wasAudio := s.audioActive
	dropped := s.dropOutput
	s.audioActive = false
	s.dropOutput = false
	text := s.responseText
	s.responseText = ""
	rate := s.sampleRate
	uid := s.transcriptUID
	var clip []int16
	seq := 0
	if !dropped && len(s.responsePCM) > 0 {
		clip = s.responsePCM
		s.responsePCM = nil
		s.clipSeq++
		seq = s.clipSeq
	} else {
		s.responsePCM = nil
	}
	s.mu.Unlock()

	if wasAudio {
		s.sendJSON(map[string]any{"type": "audio-end"})
	}
	if text != "" {
		s.recordTranscript("assistant", text, "")
	}
	if clip != nil && uid != "" {
		wav := audio.WrapWAV(audio.Int16ToBytes(clip), rate, 1)
		if _, err := storage.SaveAudioClip(s.handler.config.TranscriptDir, s.id, uid, seq, wav); err != nil {
			s.logger.Warn("audio clip save failed", zap.Error(err))
		}
	}
	s.machine.OnResponseDone()
	s.touch()
}

// interrupt implements barge-in: cancel the in-flight response, drop
// everything queued for playback, and go back to listening. Safe to
// call twice.
func (s *session) interrupt(ctx context.Context) {
	s.mu.Lock()
	if s.dropOutput {
		s.mu.Unlock()
		return
	}
	state := s.machine.State()
	active := s.audioActive || state == fsm.StateSpeaking || state == fsm.StateProcessing
	if !active {
		s.mu.Unlock()
		return
	}
	s.dropOutput = true
	if s.outResampler != nil {
		s.outResampler.Discard()
	}
	s.outPending = nil
	wasAudio := s.audioActive
	s.audioActive = false
	s.mu.Unlock()

	if s.upstream != nil {
		if err := s.upstream.CancelResponse(ctx); err != nil {
			s.logger.Debug("response cancel failed", zap.Error(err))
		}
	}
	if wasAudio {
		s.sendJSON(map[string]any{"type": "audio-end"})
	}
	s.sendJSON(map[string]any{"type": "control", "text": "interrupted"})
	s.machine.OnInterrupt()
	s.machine.OnListenStart()
	s.logger.Info("barge-in", zap.String("session_id", s.id))
}

func (s *session) handleFunctionCall(ctx context.Context, call realtime.FunctionCall) {
	s.touch()

	var output json.RawMessage
	status := "completed"
	content := ""

	if s.handler.tools == nil {
		output = json.RawMessage(`{"error":"home control is disabled"}`)
		status = "error"
		content = "home control is disabled"
	} else {
		s.sendToolStatus(call.CallID, call.Name, "running", "")
		callCtx, cancel := context.WithTimeout(ctx, toolCallTimeout)
		output = s.handler.tools.Execute(callCtx, call.Name, call.Arguments)
		cancel()
		if msg, failed := toolError(output); failed {
			status = "error"
			content = msg
		}
	}

	s.sendToolStatus(call.CallID, call.Name, status, content)
	s.recordTranscript("tool", string(output), call.Name)

	if err := s.upstream.SendFunctionOutput(ctx, call.CallID, output); err != nil {
		s.logger.Warn("function output send failed",
			zap.String("session_id", s.id),
			zap.String("tool", call.Name),
			zap.Error(err),
		)
		s.sendJSON(map[string]any{"type": "error", "message": err.Error()})
	}
}

func (s *session) sendToolStatus(toolID, toolName, status, content string) {
	s.sendJSON(map[string]any{
		"type":      "tool-call-status",
		"tool_id":   toolID,
		"tool_name": toolName,
		"status":    status,
		"content":   content,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *session) recordTranscript(role, text, tool string) {
	dir := s.handler.config.TranscriptDir
	if dir == "" {
		return
	}
	s.mu.Lock()
	uid := s.transcriptUID
	s.mu.Unlock()
	if uid == "" {
		return
	}
	entry := storage.TranscriptEntry{Role: role, Text: text, Tool: tool}
	if err := storage.AppendEntry(dir, s.id, uid, entry); err != nil {
		s.logger.Warn("transcript append failed", zap.Error(err))
	}
}

func (s *session) hello(msg incomingMessage) {
	s.mu.Lock()
	if msg.AudioFormat != "" {
		switch msg.AudioFormat {
		case formatPCM16, formatPCM, formatOpus:
			s.audioFormat = msg.AudioFormat
		default:
			s.mu.Unlock()
			s.sendJSON(map[string]any{"type": "error", "message": "unsupported audio_format: " + msg.AudioFormat})
			return
		}
	}
	if msg.SampleRate > 0 {
		s.sampleRate = msg.SampleRate
	}
	if msg.Channels == 1 || msg.Channels == 2 {
		s.channels = msg.Channels
	}
	err := s.initCodecs()
	format := s.audioFormat
	rate := s.sampleRate
	channels := s.channels
	duration := s.frameDuration
	s.mu.Unlock()

	if err != nil {
		s.sendJSON(map[string]any{"type": "error", "message": err.Error()})
		return
	}
	s.sendJSON(map[string]any{
		"type":             "hello-ack",
		"audio_format":     format,
		"sample_rate":      rate,
		"channels":         channels,
		"frame_duration":   duration,
		"protocol_version": s.handler.config.SatelliteProtocolVersion,
	})
}

func (s *session) sendJSON(payload any) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.conn.WriteJSON(payload); err != nil {
		s.logger.Debug("ws send failed", zap.Error(err))
	}
}

func (s *session) sendBinary(data []byte) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		s.logger.Debug("ws binary send failed", zap.Error(err))
	}
}

func fallbackString(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func fallbackInt(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

// downmixStereo averages interleaved stereo into mono in place.
func downmixStereo(samples []int16) []int16 {
	frames := len(samples) / 2
	for i := 0; i < frames; i++ {
		left := int32(samples[2*i])
		right := int32(samples[2*i+1])
		samples[i] = int16((left + right) / 2)
	}
	return samples[:frames]
}

// upmixMono duplicates mono samples into interleaved stereo. The
// returned slice comes from the int16 pool.
func upmixMono(samples []int16) []int16 {
	out := audio.AcquireInt16(len(samples) * 2)
	for i, sample := range samples {
		out[2*i] = sample
		out[2*i+1] = sample
	}
	return out
}

func toolError(output json.RawMessage) (string, bool) {
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(output, &parsed); err != nil {
		return "", false
	}
	return parsed.Error, parsed.Error != ""
}
