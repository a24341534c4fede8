package conversation

import (
	"context"
	"sync"
)

// MockProvider is a scriptable Provider for tests. Simulate* methods inject
// events exactly as a real backend would deliver them.
type MockProvider struct {
	events *emitter

	mu     sync.Mutex
	state  ConnectionState
	closed bool

	// Captured inputs
	sentAudio [][]byte
	sentText  []string
	lastOpts  SessionOptions

	// Failure injection
	connectErr error

	caps       Capabilities
	finishOnce sync.Once
}

// NewMockProvider creates a mock with streaming-RPC shaped capabilities.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		events: newEmitter(),
		state:  StateDisconnected,
		caps: Capabilities{
			Name:                   "mock",
			InputSampleRate:        16000,
			OutputSampleRate:       24000,
			SupportsUserTranscript: true,
			SupportsTextInput:      true,
		},
	}
}

// FailConnect makes the next Connect return err.
func (m *MockProvider) FailConnect(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErr = err
}

// Connect transitions straight to connected.
func (m *MockProvider) Connect(ctx context.Context, opts SessionOptions) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	if m.connectErr != nil {
		err := m.connectErr
		m.mu.Unlock()
		return err
	}
	m.state = StateConnected
	m.lastOpts = opts
	m.mu.Unlock()

	m.events.emit(Event{Type: EventConnectionChange, State: StateConnecting})
	m.events.emit(Event{Type: EventConnectionChange, State: StateConnected})

	return nil
}

// Close ends the session and closes the events channel. Idempotent.
func (m *MockProvider) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.state = StateDisconnected
	m.mu.Unlock()

	m.finishOnce.Do(func() {
		m.events.emit(Event{Type: EventConnectionChange, State: StateDisconnected})
		m.events.close()
	})

	return nil
}

// IsConnected returns true if Connect succeeded and Close was not called.
func (m *MockProvider) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

// SendAudio records the frame.
func (m *MockProvider) SendAudio(pcm []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return ErrNotConnected
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	m.sentAudio = append(m.sentAudio, buf)
	return nil
}

// SendText records the message.
func (m *MockProvider) SendText(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return ErrNotConnected
	}
	m.sentText = append(m.sentText, text)
	return nil
}

// Events returns the event stream.
func (m *MockProvider) Events() <-chan Event {
	return m.events.ch
}

// Capabilities returns the mock's capabilities.
func (m *MockProvider) Capabilities() Capabilities {
	return m.caps
}

// SetCapabilities overrides the mock's capabilities.
func (m *MockProvider) SetCapabilities(caps Capabilities) {
	m.caps = caps
}

// SentAudio returns all frames passed to SendAudio.
func (m *MockProvider) SentAudio() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sentAudio))
	copy(out, m.sentAudio)
	return out
}

// SentText returns all messages passed to SendText.
func (m *MockProvider) SentText() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sentText))
	copy(out, m.sentText)
	return out
}

// LastSessionOptions returns the options passed to the last Connect.
func (m *MockProvider) LastSessionOptions() SessionOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOpts
}

// SimulateTextDelta injects an assistant text delta.
func (m *MockProvider) SimulateTextDelta(text string) {
	m.events.emit(Event{Type: EventTextDelta, Text: text})
}

// SimulateAudioChunk injects assistant audio.
func (m *MockProvider) SimulateAudioChunk(pcm []byte) {
	m.events.emit(Event{Type: EventAudioChunk, Audio: pcm, SampleRate: m.caps.OutputSampleRate})
}

// SimulateTurnComplete injects a turn-complete marker.
func (m *MockProvider) SimulateTurnComplete() {
	m.events.emit(Event{Type: EventTurnComplete})
}

// SimulateUserTranscript injects a finalized user transcript.
func (m *MockProvider) SimulateUserTranscript(text string) {
	m.events.emit(Event{Type: EventUserTranscript, Text: text})
}

// SimulateInterrupted injects a barge-in.
func (m *MockProvider) SimulateInterrupted() {
	m.events.emit(Event{Type: EventInterrupted})
}

// SimulateFatalError injects a fatal error and closes the stream, as a real
// provider does when the connection is lost.
func (m *MockProvider) SimulateFatalError(err error) {
	m.mu.Lock()
	m.state = StateDisconnected
	m.mu.Unlock()

	m.finishOnce.Do(func() {
		m.events.emit(Event{Type: EventError, Err: err})
		m.events.emit(Event{Type: EventConnectionChange, State: StateDisconnected})
		m.events.close()
	})
}

// Ensure MockProvider implements Provider.
var _ Provider = (*MockProvider)(nil)
