package ws

import (
	"context"

	"go.uber.org/zap"
)

type incomingHandler func(context.Context, incomingMessage)

func (s *session) dispatchIncoming(ctx context.Context, msg incomingMessage) {
	handlers := map[string]incomingHandler{
		"hello":              s.onHello,
		"start-conversation": s.onStartConversation,
		"stop-conversation":  s.onStopConversation,
		"text-input":         s.onTextInput,
		"mic-audio-end":      s.onMicAudioEnd,
		"interrupt-signal":   s.onInterruptSignal,
		"clear-context":      s.onClearContext,
		"set-system-prompt":  s.onSetSystemPrompt,
		"set-voice":          s.onSetVoice,
		"heartbeat":          s.onNoop,
	}

	if handler, ok := handlers[msg.Type]; ok {
		handler(ctx, msg)
		return
	}
	s.logger.Debug("ws unknown message type",
		zap.String("session_id", s.id),
		zap.String("type", msg.Type),
	)
}

func (s *session) onHello(_ context.Context, msg incomingMessage) {
	s.hello(msg)
}

func (s *session) onStartConversation(ctx context.Context, msg incomingMessage) {
	s.startConversation(ctx, msg.Mode)
}

func (s *session) onStopConversation(ctx context.Context, _ incomingMessage) {
	s.stopConversation(ctx)
}

func (s *session) onTextInput(ctx context.Context, msg incomingMessage) {
	s.textInput(ctx, msg.Text)
}

func (s *session) onMicAudioEnd(ctx context.Context, _ incomingMessage) {
	s.micAudioEnd(ctx)
}

func (s *session) onInterruptSignal(ctx context.Context, _ incomingMessage) {
	s.interrupt(ctx)
}

func (s *session) onClearContext(ctx context.Context, _ incomingMessage) {
	s.clearContext(ctx)
}

func (s *session) onSetSystemPrompt(ctx context.Context, msg incomingMessage) {
	s.setSystemPrompt(ctx, msg.Prompt)
}

func (s *session) onSetVoice(ctx context.Context, msg incomingMessage) {
	s.setVoice(ctx, msg.Voice)
}

func (s *session) onNoop(_ context.Context, _ incomingMessage) {}
