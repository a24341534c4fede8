package conversation

// EventType discriminates the Event sum type.
type EventType int

const (
	// EventTextDelta carries an incremental piece of assistant text.
	EventTextDelta EventType = iota
	// EventAudioChunk carries PCM16 assistant audio for playback.
	EventAudioChunk
	// EventTurnComplete marks the end of one assistant turn.
	EventTurnComplete
	// EventUserTranscript carries a finalized transcript of user speech.
	EventUserTranscript
	// EventInterrupted signals the user barged in over assistant audio.
	EventInterrupted
	// EventConnectionChange reports a connection state transition.
	EventConnectionChange
	// EventError reports a fatal provider error. The events channel closes
	// after this event.
	EventError
)

// String returns a human-readable event type.
func (t EventType) String() string {
	switch t {
	case EventTextDelta:
		return "text_delta"
	case EventAudioChunk:
		return "audio_chunk"
	case EventTurnComplete:
		return "turn_complete"
	case EventUserTranscript:
		return "user_transcript"
	case EventInterrupted:
		return "interrupted"
	case EventConnectionChange:
		return "connection_change"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one normalized occurrence on the conversation stream. Exactly one
// payload field is meaningful per Type.
type Event struct {
	Type EventType

	// Text is set for EventTextDelta and EventUserTranscript.
	Text string

	// Audio is set for EventAudioChunk: raw PCM16 mono little-endian.
	Audio []byte

	// SampleRate is set for EventAudioChunk.
	SampleRate int

	// State is set for EventConnectionChange.
	State ConnectionState

	// Err is set for EventError.
	Err error
}

// eventBufferSize bounds the events channel. A full buffer drops the oldest
// pending event so a stalled consumer cannot block the read loop.
const eventBufferSize = 256

// emitter is the shared event delivery mechanism of both providers.
type emitter struct {
	ch chan Event
}

func newEmitter() *emitter {
	return &emitter{ch: make(chan Event, eventBufferSize)}
}

// emit delivers an event without ever blocking the caller. When the buffer is
// full the oldest pending event is discarded to make room.
func (e *emitter) emit(ev Event) {
	for {
		select {
		case e.ch <- ev:
			return
		default:
			select {
			case <-e.ch:
			default:
			}
		}
	}
}

func (e *emitter) close() {
	close(e.ch)
}
