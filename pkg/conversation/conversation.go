// Package conversation provides a unified interface for realtime voice
// conversation backends. It supports two incompatible transports behind one
// Provider interface: a JSON-framed WebSocket streaming RPC and a binary TLV
// raw socket.
//
// The package abstracts the transport differences (framing, handshake,
// turn-completion signaling, sample rates) into a normalized Event stream.
//
// Example usage:
//
//	provider, err := conversation.NewStreamRPC(
//	    conversation.WithAPIKey(os.Getenv("VOICELOOP_API_KEY")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	if err := provider.Connect(ctx, conversation.SessionOptions{
//	    SystemInstruction: "You are a patient language tutor.",
//	}); err != nil {
//	    log.Fatal(err)
//	}
//
//	go func() {
//	    for audio := range microphoneStream {
//	        provider.SendAudio(audio)
//	    }
//	}()
//
//	for ev := range provider.Events() {
//	    switch ev.Type {
//	    case conversation.EventTextDelta:
//	        fmt.Print(ev.Text)
//	    case conversation.EventAudioChunk:
//	        // Schedule for playback
//	    }
//	}
package conversation

import (
	"context"
)

// Provider defines the interface for realtime voice conversation backends.
// Implementations handle the full conversation loop: audio up, normalized
// events down.
type Provider interface {
	// Connect establishes the connection and performs the backend handshake.
	// The provider is ready once Connect returns; events begin arriving on
	// Events immediately after.
	Connect(ctx context.Context, opts SessionOptions) error

	// Close shuts down the connection and releases resources.
	// After Close the events channel is closed. A closed provider cannot be
	// reconnected; create a new one instead.
	Close() error

	// IsConnected returns true if the provider has an active connection.
	IsConnected() bool

	// SendAudio streams one frame of audio to the backend.
	// Audio must be PCM16 mono little-endian at the provider's input sample
	// rate. Returns ErrNotConnected when no connection is active; nothing is
	// queued.
	SendAudio(pcm []byte) error

	// SendText injects a typed user message into the conversation.
	SendText(text string) error

	// Events returns the normalized event stream.
	// The channel is closed after Close or a fatal connection error.
	Events() <-chan Event

	// Capabilities returns what this provider supports.
	Capabilities() Capabilities
}

// Capabilities describes a provider's fixed properties.
type Capabilities struct {
	// Name identifies the backend ("streamrpc" or "rawsocket").
	Name string

	// InputSampleRate is the required microphone sample rate in Hz.
	InputSampleRate int

	// OutputSampleRate is the sample rate of received audio in Hz.
	OutputSampleRate int

	// SupportsUserTranscript indicates the backend transcribes user speech.
	SupportsUserTranscript bool

	// SupportsTextInput indicates the backend accepts typed messages.
	SupportsTextInput bool
}

// SessionOptions configures a conversation session at Connect time.
type SessionOptions struct {
	// SystemInstruction is the system prompt for the session.
	SystemInstruction string

	// Voice overrides the configured TTS voice for this session.
	Voice string

	// Language is the language code (e.g., "en", "es").
	Language string
}

// ConnectionState represents the provider connection state.
type ConnectionState int

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected ConnectionState = iota
	// StateConnecting indicates the connection is being established.
	StateConnecting
	// StateConnected indicates an active, handshaken connection.
	StateConnected
	// StateClosing indicates a shutdown is in progress.
	StateClosing
)

// String returns a human-readable connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}
