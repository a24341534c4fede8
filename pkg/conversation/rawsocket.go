package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/verbably/voiceloop/pkg/protocol"
)

// The raw-socket backend runs everything at 24 kHz.
const rawSocketRate = 24000

// RawSocket implements Provider over a plain TCP connection with binary TLV
// framing.
//
// The session opens with a handshake packet carrying the JSON session config,
// answered by a ready event. Outbound audio travels as sequenced binary
// packets; inbound audio packets carry raw PCM, and event packets signal
// per-modality completion. There is no single turn marker on the wire:
// turn-complete is derived from the text-done event.
type RawSocket struct {
	cfg    *Config
	events *emitter

	mu     sync.RWMutex
	state  ConnectionState
	closed bool

	conn     net.Conn
	writeMu  sync.Mutex
	loopDone chan struct{}

	streamID uint32
	sequence atomic.Uint32

	finishOnce sync.Once
}

// NewRawSocket creates a raw-socket provider.
func NewRawSocket(opts ...Option) (*RawSocket, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.RawSocketAddr == "" {
		return nil, fmt.Errorf("conversation: raw socket address is required")
	}

	return &RawSocket{
		cfg:    cfg,
		events: newEmitter(),
		state:  StateDisconnected,
	}, nil
}

// handshakeConfig is the JSON body of the handshake packet.
type handshakeConfig struct {
	Model             string `json:"model"`
	Voice             string `json:"voice"`
	SystemInstruction string `json:"system_instruction"`
	SampleRate        int    `json:"sample_rate"`
}

// rawEvent is the JSON body of an event packet, both directions.
type rawEvent struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

// Raw-socket event types.
const (
	rawEventReady          = "ready"
	rawEventTextDelta      = "response.text.delta"
	rawEventTextDone       = "response.text.done"
	rawEventAudioDone      = "response.audio.done"
	rawEventUserTranscript = "input.transcript.done"
	rawEventSpeechStarted  = "speech.started"
	rawEventError          = "error"
	rawEventInputText      = "input.text"
)

// Connect dials the backend and performs the handshake.
func (r *RawSocket) Connect(ctx context.Context, opts SessionOptions) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.state != StateDisconnected {
		r.mu.Unlock()
		return ErrAlreadyConnected
	}
	r.state = StateConnecting
	r.mu.Unlock()
	r.events.emit(Event{Type: EventConnectionChange, State: StateConnecting})

	dialer := net.Dialer{Timeout: r.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", r.cfg.RawSocketAddr)
	if err != nil {
		r.setDisconnected()
		return NewConnectionError("dial failed", err)
	}

	r.mu.Lock()
	r.conn = conn
	r.streamID = uint32(time.Now().UnixNano())
	r.mu.Unlock()

	voice := opts.Voice
	if voice == "" {
		voice = r.cfg.Voice
	}
	body, err := json.Marshal(handshakeConfig{
		Model:             r.cfg.Model,
		Voice:             voice,
		SystemInstruction: opts.SystemInstruction,
		SampleRate:        rawSocketRate,
	})
	if err != nil {
		conn.Close()
		r.setDisconnected()
		return NewConnectionError("handshake encode failed", err)
	}

	packet, err := protocol.EncodeHandshake(r.streamID, body)
	if err != nil {
		conn.Close()
		r.setDisconnected()
		return NewConnectionError("handshake encode failed", err)
	}
	if err := r.writePacket(packet); err != nil {
		conn.Close()
		r.setDisconnected()
		return NewConnectionError("handshake send failed", err)
	}

	if err := r.awaitReady(conn); err != nil {
		conn.Close()
		r.setDisconnected()
		return err
	}

	r.mu.Lock()
	r.state = StateConnected
	r.loopDone = make(chan struct{})
	r.mu.Unlock()
	r.events.emit(Event{Type: EventConnectionChange, State: StateConnected})

	go r.readLoop()

	r.cfg.Logger.Info("rawsocket connected",
		"addr", r.cfg.RawSocketAddr,
		"stream_id", r.streamID,
	)

	return nil
}

func (r *RawSocket) awaitReady(conn net.Conn) error {
	conn.SetReadDeadline(time.Now().Add(r.cfg.ConnectTimeout))
	defer conn.SetReadDeadline(time.Time{})

	p, err := protocol.ReadPacket(conn)
	if err != nil {
		return NewConnectionError("handshake read failed", err)
	}
	if p.Header.PacketType != protocol.PacketTypeEvent {
		return NewConnectionError("handshake not acknowledged", nil)
	}

	var ev rawEvent
	if err := json.Unmarshal(p.JSON, &ev); err != nil {
		return NewConnectionError("handshake decode failed", err)
	}
	if ev.Type != rawEventReady {
		return NewConnectionError(fmt.Sprintf("unexpected handshake reply %q", ev.Type), nil)
	}

	return nil
}

func (r *RawSocket) readLoop() {
	var loopErr error

	for {
		p, err := protocol.ReadPacket(r.conn)
		if err != nil {
			r.mu.RLock()
			closing := r.state == StateClosing || r.closed
			r.mu.RUnlock()
			if !closing {
				loopErr = NewConnectionError("connection lost", err)
			}
			break
		}

		events, fatal, err := decodeRawSocketPacket(p)
		if err != nil {
			r.cfg.Logger.Warn("rawsocket packet skipped",
				"packet", p.Header.String(),
				"error", err,
			)
			continue
		}
		for _, ev := range events {
			r.events.emit(ev)
		}
		if fatal != nil {
			loopErr = fatal
			break
		}
	}

	r.finish(loopErr)
	close(r.loopDone)
}

func (r *RawSocket) finish(err error) {
	r.finishOnce.Do(func() {
		if err != nil {
			r.cfg.Logger.Error("rawsocket session failed", "error", err)
			r.events.emit(Event{Type: EventError, Err: err})
		}

		r.mu.Lock()
		r.state = StateDisconnected
		if r.conn != nil {
			r.conn.Close()
		}
		r.mu.Unlock()

		r.events.emit(Event{Type: EventConnectionChange, State: StateDisconnected})
		r.events.close()
	})
}

func (r *RawSocket) setDisconnected() {
	r.mu.Lock()
	r.state = StateDisconnected
	r.mu.Unlock()
	r.events.emit(Event{Type: EventConnectionChange, State: StateDisconnected})
}

// Close shuts down the connection. Idempotent.
func (r *RawSocket) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.state = StateClosing
	conn := r.conn
	loopDone := r.loopDone
	r.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if loopDone != nil {
		<-loopDone
	} else {
		r.finish(nil)
	}

	return nil
}

// IsConnected returns true if the session is active.
func (r *RawSocket) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state == StateConnected
}

// SendAudio streams one PCM16 frame as a sequenced audio packet.
func (r *RawSocket) SendAudio(pcm []byte) error {
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return ErrInvalidAudio
	}
	if !r.IsConnected() {
		return ErrNotConnected
	}

	packet, err := protocol.EncodeAudio(r.streamID, r.sequence.Add(1), pcm, protocol.FlagNone)
	if err != nil {
		return err
	}

	return r.writePacket(packet)
}

// SendText injects a typed user message as an event packet.
func (r *RawSocket) SendText(text string) error {
	if !r.IsConnected() {
		return ErrNotConnected
	}

	body, err := json.Marshal(rawEvent{Type: rawEventInputText, Text: text})
	if err != nil {
		return err
	}
	packet, err := protocol.EncodeEvent(r.streamID, body)
	if err != nil {
		return err
	}

	return r.writePacket(packet)
}

func (r *RawSocket) writePacket(packet []byte) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout))
	return protocol.WritePacket(r.conn, packet)
}

// Events returns the normalized event stream.
func (r *RawSocket) Events() <-chan Event {
	return r.events.ch
}

// Capabilities returns the raw-socket backend properties.
func (r *RawSocket) Capabilities() Capabilities {
	return Capabilities{
		Name:                   "rawsocket",
		InputSampleRate:        rawSocketRate,
		OutputSampleRate:       rawSocketRate,
		SupportsUserTranscript: true,
		SupportsTextInput:      true,
	}
}

// decodeRawSocketPacket maps one TLV packet to normalized events.
//
// Audio packets become audio chunks. Event packets signal per-modality
// completion: the text-done event doubles as the turn marker, audio-done is
// bookkeeping only, and speech-started maps to an interruption. A backend
// error event is fatal. Unknown event types are ignored.
func decodeRawSocketPacket(p *protocol.Packet) (events []Event, fatal error, err error) {
	switch p.Header.PacketType {
	case protocol.PacketTypeAudio:
		if len(p.Audio.PCM) == 0 {
			return nil, nil, nil
		}
		return []Event{{Type: EventAudioChunk, Audio: p.Audio.PCM, SampleRate: rawSocketRate}}, nil, nil

	case protocol.PacketTypeEvent:
		var ev rawEvent
		if jsonErr := json.Unmarshal(p.JSON, &ev); jsonErr != nil {
			return nil, nil, &ProtocolError{Backend: "rawsocket", Detail: "malformed event JSON", Cause: jsonErr}
		}

		switch ev.Type {
		case rawEventTextDelta:
			return []Event{{Type: EventTextDelta, Text: ev.Text}}, nil, nil
		case rawEventTextDone:
			return []Event{{Type: EventTurnComplete}}, nil, nil
		case rawEventAudioDone:
			return nil, nil, nil
		case rawEventUserTranscript:
			return []Event{{Type: EventUserTranscript, Text: ev.Text}}, nil, nil
		case rawEventSpeechStarted:
			return []Event{{Type: EventInterrupted}}, nil, nil
		case rawEventError:
			return nil, NewConnectionError(fmt.Sprintf("backend error: %s", ev.Message), nil), nil
		default:
			return nil, nil, nil
		}

	default:
		return nil, nil, &ProtocolError{
			Backend: "rawsocket",
			Detail:  fmt.Sprintf("unexpected packet %s", p.Header.String()),
		}
	}
}

// Ensure RawSocket implements Provider.
var _ Provider = (*RawSocket)(nil)
