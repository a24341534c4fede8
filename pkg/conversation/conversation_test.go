package conversation

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestConnectionStateString(t *testing.T) {
	cases := map[ConnectionState]string{
		StateDisconnected:   "disconnected",
		StateConnecting:     "connecting",
		StateConnected:      "connected",
		StateClosing:        "closing",
		ConnectionState(99): "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}

func TestEventTypeString(t *testing.T) {
	cases := map[EventType]string{
		EventTextDelta:        "text_delta",
		EventAudioChunk:       "audio_chunk",
		EventTurnComplete:     "turn_complete",
		EventUserTranscript:   "user_transcript",
		EventInterrupted:      "interrupted",
		EventConnectionChange: "connection_change",
		EventError:            "error",
		EventType(99):         "unknown",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", typ, got, want)
		}
	}
}

func TestEmitterDropsOldestWhenFull(t *testing.T) {
	e := newEmitter()

	for i := 0; i < eventBufferSize+10; i++ {
		e.emit(Event{Type: EventTextDelta, Text: "x"})
	}
	// A stalled consumer never blocks emit; the newest event is retained.
	e.emit(Event{Type: EventTurnComplete})

	var last Event
	drained := 0
	for {
		select {
		case ev := <-e.ch:
			last = ev
			drained++
			continue
		default:
		}
		break
	}

	if drained != eventBufferSize {
		t.Errorf("drained %d events, want %d", drained, eventBufferSize)
	}
	if last.Type != EventTurnComplete {
		t.Errorf("last event = %v, want turn_complete", last.Type)
	}
}

func TestErrorTypes(t *testing.T) {
	t.Run("connection error unwraps", func(t *testing.T) {
		cause := errors.New("boom")
		err := NewConnectionError("dial failed", cause)
		if !errors.Is(err, cause) {
			t.Error("ConnectionError does not unwrap to cause")
		}
		if !IsFatal(err) {
			t.Error("IsFatal(ConnectionError) = false")
		}
	})

	t.Run("protocol error is not fatal", func(t *testing.T) {
		err := &ProtocolError{Backend: "rawsocket", Detail: "bad json"}
		if IsFatal(err) {
			t.Error("IsFatal(ProtocolError) = true")
		}
	})

	t.Run("not connected helpers", func(t *testing.T) {
		if !IsNotConnected(ErrNotConnected) || !IsNotConnected(ErrClosed) {
			t.Error("IsNotConnected misses sentinels")
		}
		if IsNotConnected(errors.New("other")) {
			t.Error("IsNotConnected matches unrelated error")
		}
	})
}

func TestMockProvider(t *testing.T) {
	m := NewMockProvider()

	if err := m.SendAudio([]byte{0, 0}); err != ErrNotConnected {
		t.Errorf("SendAudio before Connect = %v, want ErrNotConnected", err)
	}

	if err := m.Connect(context.Background(), SessionOptions{SystemInstruction: "hi"}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := m.Connect(context.Background(), SessionOptions{}); err != ErrAlreadyConnected {
		t.Errorf("second Connect = %v, want ErrAlreadyConnected", err)
	}
	if m.LastSessionOptions().SystemInstruction != "hi" {
		t.Errorf("LastSessionOptions = %+v", m.LastSessionOptions())
	}

	if err := m.SendAudio([]byte{1, 2}); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}
	if err := m.SendText("hola"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if len(m.SentAudio()) != 1 || len(m.SentText()) != 1 {
		t.Errorf("captured %d audio, %d text; want 1 and 1", len(m.SentAudio()), len(m.SentText()))
	}

	m.SimulateTextDelta("Hel")
	m.SimulateTurnComplete()

	var types []EventType
	deadline := time.After(time.Second)
	for len(types) < 4 { // connecting, connected, text delta, turn complete
		select {
		case ev := <-m.Events():
			types = append(types, ev.Type)
		case <-deadline:
			t.Fatalf("timed out, got %v", types)
		}
	}
	if types[2] != EventTextDelta || types[3] != EventTurnComplete {
		t.Errorf("types = %v", types)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if err := m.Connect(context.Background(), SessionOptions{}); err != ErrClosed {
		t.Errorf("Connect after Close = %v, want ErrClosed", err)
	}
}

func TestMockProviderFatalError(t *testing.T) {
	m := NewMockProvider()
	if err := m.Connect(context.Background(), SessionOptions{}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	m.SimulateFatalError(NewConnectionError("connection lost", nil))

	var sawError bool
	for ev := range m.Events() {
		if ev.Type == EventError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("no Error event before channel close")
	}
	if m.IsConnected() {
		t.Error("IsConnected = true after fatal error")
	}
}
