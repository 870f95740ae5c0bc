package fsm

import (
	"fmt"
	"strings"
	"sync"
)

// State is the high-level turn state of one satellite conversation.
type State string

const (
	StateIdle        State = "idle"
	StateListening   State = "listening"
	StateProcessing  State = "processing"
	StateSpeaking    State = "speaking"
	StateInterrupted State = "interrupted"
)

// Mode controls where the machine lands after a response completes.
type Mode string

const (
	// ModeAuto returns to listening so server VAD can open the next turn.
	ModeAuto Mode = "auto"
	// ModeManual returns to idle and waits for an explicit start.
	ModeManual Mode = "manual"
)

// Machine is a deterministic, lock-protected turn state machine.
type Machine struct {
	mu    sync.RWMutex
	state State
	mode  Mode
}

// New creates a machine in idle/auto.
func New() *Machine {
	return &Machine{
		state: StateIdle,
		mode:  ModeAuto,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Mode returns the current mode.
func (m *Machine) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// SetMode updates the completion policy.
func (m *Machine) SetMode(mode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch strings.TrimSpace(strings.ToLower(mode)) {
	case string(ModeManual):
		m.mode = ModeManual
	default:
		m.mode = ModeAuto
	}
}

// OnListenStart marks mic audio flowing upstream.
func (m *Machine) OnListenStart() {
	m.transition(StateListening)
}

// OnAudioCommit marks the input buffer committed and a turn pending.
func (m *Machine) OnAudioCommit() {
	m.transition(StateProcessing)
}

// OnResponseStart marks a model response in flight.
func (m *Machine) OnResponseStart() {
	m.transition(StateProcessing)
}

// OnSpeakStart marks output audio streaming to the satellite.
func (m *Machine) OnSpeakStart() {
	m.transition(StateSpeaking)
}

// OnResponseDone ends the turn according to mode policy.
func (m *Machine) OnResponseDone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.mode {
	case ModeManual:
		m.state = StateIdle
	default:
		m.state = StateListening
	}
}

// OnInterrupt marks a barge-in. Calling it twice is harmless.
func (m *Machine) OnInterrupt() {
	m.transition(StateInterrupted)
}

// OnStop forces the machine back to idle.
func (m *Machine) OnStop() {
	m.transition(StateIdle)
}

// Speaking reports whether output audio is currently streaming.
func (m *Machine) Speaking() bool {
	return m.State() == StateSpeaking
}

// Force sets state unconditionally, rejecting unknown states.
func (m *Machine) Force(state State) error {
	switch state {
	case StateIdle, StateListening, StateProcessing, StateSpeaking, StateInterrupted:
		m.transition(state)
		return nil
	default:
		return fmt.Errorf("invalid state: %s", state)
	}
}

func (m *Machine) transition(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}
