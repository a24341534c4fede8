package conversation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Default streaming-RPC WebSocket endpoint.
	defaultStreamRPCURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	// Default conversation model.
	defaultModel = "models/gemini-2.0-flash-exp"

	// The streaming-RPC backend takes 16 kHz input and returns 24 kHz audio.
	streamRPCInputRate  = 16000
	streamRPCOutputRate = 24000
)

// StreamRPC implements Provider over a JSON-framed WebSocket streaming RPC.
//
// The session opens with a setup message answered by a setupComplete ack.
// Outbound audio travels as base64 media chunks; inbound serverContent
// messages interleave text deltas, inline audio, transcriptions, and the
// explicit turnComplete marker.
type StreamRPC struct {
	cfg    *Config
	events *emitter

	mu     sync.RWMutex
	state  ConnectionState
	closed bool

	ws       *websocket.Conn
	writeMu  sync.Mutex
	loopDone chan struct{}

	finishOnce sync.Once
}

// NewStreamRPC creates a streaming-RPC provider.
func NewStreamRPC(opts ...Option) (*StreamRPC, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	return &StreamRPC{
		cfg:    cfg,
		events: newEmitter(),
		state:  StateDisconnected,
	}, nil
}

// Connect dials the WebSocket endpoint and performs the setup handshake.
func (s *StreamRPC) Connect(ctx context.Context, opts SessionOptions) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.state = StateConnecting
	s.mu.Unlock()
	s.events.emit(Event{Type: EventConnectionChange, State: StateConnecting})

	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.ConnectTimeout}
	url := fmt.Sprintf("%s?key=%s", s.cfg.StreamRPCURL, s.cfg.APIKey)

	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		s.setDisconnected()
		return NewConnectionError("dial failed", err)
	}

	s.mu.Lock()
	s.ws = ws
	s.mu.Unlock()

	if err := s.sendSetup(opts); err != nil {
		ws.Close()
		s.setDisconnected()
		return NewConnectionError("setup send failed", err)
	}

	if err := s.awaitSetupComplete(); err != nil {
		ws.Close()
		s.setDisconnected()
		return err
	}

	s.mu.Lock()
	s.state = StateConnected
	s.loopDone = make(chan struct{})
	s.mu.Unlock()
	s.events.emit(Event{Type: EventConnectionChange, State: StateConnected})

	go s.readLoop()

	s.cfg.Logger.Info("streamrpc connected", "model", s.cfg.Model)

	return nil
}

func (s *StreamRPC) sendSetup(opts SessionOptions) error {
	voice := opts.Voice
	if voice == "" {
		voice = s.cfg.Voice
	}

	setup := map[string]any{
		"setup": map[string]any{
			"model": s.cfg.Model,
			"generationConfig": map[string]any{
				"responseModalities": []string{"AUDIO"},
				"speechConfig": map[string]any{
					"voiceConfig": map[string]any{
						"prebuiltVoiceConfig": map[string]any{
							"voiceName": voice,
						},
					},
				},
			},
			"systemInstruction": map[string]any{
				"parts": []map[string]any{
					{"text": opts.SystemInstruction},
				},
			},
			"inputAudioTranscription":  map[string]any{},
			"outputAudioTranscription": map[string]any{},
		},
	}

	return s.writeJSON(setup)
}

func (s *StreamRPC) awaitSetupComplete() error {
	s.ws.SetReadDeadline(time.Now().Add(s.cfg.ConnectTimeout))
	defer s.ws.SetReadDeadline(time.Time{})

	_, data, err := s.ws.ReadMessage()
	if err != nil {
		return NewConnectionError("handshake read failed", err)
	}

	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return NewConnectionError("handshake decode failed", err)
	}
	if msg.SetupComplete == nil {
		return NewConnectionError("handshake not acknowledged", nil)
	}

	return nil
}

func (s *StreamRPC) readLoop() {
	var loopErr error

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			s.mu.RLock()
			closing := s.state == StateClosing || s.closed
			s.mu.RUnlock()
			if !closing {
				loopErr = NewConnectionError("connection lost", err)
			}
			break
		}

		events, err := decodeStreamRPCMessage(data)
		if err != nil {
			// Malformed payloads are skipped, never fatal.
			s.cfg.Logger.Warn("streamrpc message skipped", "error", err)
			continue
		}
		for _, ev := range events {
			s.events.emit(ev)
		}
	}

	s.finish(loopErr)
	close(s.loopDone)
}

// finish ends the session exactly once: an optional Error event, the final
// state transition, then channel close.
func (s *StreamRPC) finish(err error) {
	s.finishOnce.Do(func() {
		if err != nil {
			s.cfg.Logger.Error("streamrpc session failed", "error", err)
			s.events.emit(Event{Type: EventError, Err: err})
		}

		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()

		s.events.emit(Event{Type: EventConnectionChange, State: StateDisconnected})
		s.events.close()
	})
}

func (s *StreamRPC) setDisconnected() {
	s.mu.Lock()
	s.state = StateDisconnected
	s.mu.Unlock()
	s.events.emit(Event{Type: EventConnectionChange, State: StateDisconnected})
}

// Close shuts down the connection. Idempotent.
func (s *StreamRPC) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state = StateClosing
	ws := s.ws
	loopDone := s.loopDone
	s.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
	if loopDone != nil {
		<-loopDone
	} else {
		s.finish(nil)
	}

	return nil
}

// IsConnected returns true if the session is active.
func (s *StreamRPC) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateConnected
}

// SendAudio streams one PCM16 frame as a base64 media chunk.
func (s *StreamRPC) SendAudio(pcm []byte) error {
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return ErrInvalidAudio
	}
	if !s.IsConnected() {
		return ErrNotConnected
	}

	msg := map[string]any{
		"realtimeInput": map[string]any{
			"mediaChunks": []map[string]any{
				{
					"mimeType": fmt.Sprintf("audio/pcm;rate=%d", streamRPCInputRate),
					"data":     base64.StdEncoding.EncodeToString(pcm),
				},
			},
		},
	}

	return s.writeJSON(msg)
}

// SendText injects a typed user turn.
func (s *StreamRPC) SendText(text string) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}

	msg := map[string]any{
		"clientContent": map[string]any{
			"turns": []map[string]any{
				{
					"role": "user",
					"parts": []map[string]any{
						{"text": text},
					},
				},
			},
			"turnComplete": true,
		},
	}

	return s.writeJSON(msg)
}

func (s *StreamRPC) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return s.ws.WriteJSON(v)
}

// Events returns the normalized event stream.
func (s *StreamRPC) Events() <-chan Event {
	return s.events.ch
}

// Capabilities returns the streaming-RPC backend properties.
func (s *StreamRPC) Capabilities() Capabilities {
	return Capabilities{
		Name:                   "streamrpc",
		InputSampleRate:        streamRPCInputRate,
		OutputSampleRate:       streamRPCOutputRate,
		SupportsUserTranscript: true,
		SupportsTextInput:      true,
	}
}

// Wire shapes of inbound streaming-RPC messages.

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete"`
	ServerContent *serverContent `json:"serverContent"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn"`
	TurnComplete        bool           `json:"turnComplete"`
	Interrupted         bool           `json:"interrupted"`
	InputTranscription  *transcription `json:"inputTranscription"`
	OutputTranscription *transcription `json:"outputTranscription"`
}

type modelTurn struct {
	Parts []contentPart `json:"parts"`
}

type contentPart struct {
	Text       string      `json:"text"`
	InlineData *inlineData `json:"inlineData"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type transcription struct {
	Text string `json:"text"`
}

// decodeStreamRPCMessage maps one wire message to zero or more normalized
// events. Unknown message shapes produce no events and no error.
func decodeStreamRPCMessage(data []byte) ([]Event, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &ProtocolError{Backend: "streamrpc", Detail: "malformed JSON", Cause: err}
	}

	sc := msg.ServerContent
	if sc == nil {
		return nil, nil
	}

	var events []Event

	// Interruption precedes any leftover turn content so the consumer flushes
	// playback before handling stragglers.
	if sc.Interrupted {
		events = append(events, Event{Type: EventInterrupted})
	}

	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.Text != "" {
				events = append(events, Event{Type: EventTextDelta, Text: part.Text})
			}
			if part.InlineData != nil && part.InlineData.Data != "" {
				pcm, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					return nil, &ProtocolError{Backend: "streamrpc", Detail: "bad audio base64", Cause: err}
				}
				events = append(events, Event{Type: EventAudioChunk, Audio: pcm, SampleRate: streamRPCOutputRate})
			}
		}
	}

	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		events = append(events, Event{Type: EventTextDelta, Text: sc.OutputTranscription.Text})
	}

	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		events = append(events, Event{Type: EventUserTranscript, Text: sc.InputTranscription.Text})
	}

	if sc.TurnComplete {
		events = append(events, Event{Type: EventTurnComplete})
	}

	return events, nil
}

// Ensure StreamRPC implements Provider.
var _ Provider = (*StreamRPC)(nil)
