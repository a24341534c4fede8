// Package session coordinates one realtime voice conversation: microphone
// capture in, normalized provider events out, transcript accumulation, and
// gapless playback with barge-in handling.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verbably/voiceloop/internal/metrics"
	"github.com/verbably/voiceloop/pkg/audio"
	"github.com/verbably/voiceloop/pkg/audioio"
	"github.com/verbably/voiceloop/pkg/conversation"
	"github.com/verbably/voiceloop/pkg/playback"
)

// Controller errors.
var (
	// ErrNotActive indicates an operation that requires an active session.
	ErrNotActive = errors.New("session: not active")

	// ErrAlreadyActive indicates Connect was called on a live session.
	ErrAlreadyActive = errors.New("session: already active")
)

// State is the controller lifecycle state.
type State int

const (
	// StateIdle means no session is running.
	StateIdle State = iota
	// StateConnecting means the provider handshake is in progress.
	StateConnecting
	// StateActive means the session is live; the mic may be on or off.
	StateActive
	// StateEnding means teardown is in progress.
	StateEnding
)

// String returns a human-readable state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	default:
		return "unknown"
	}
}

// Callbacks deliver live session activity to the surrounding app. All fields
// are optional. Callbacks fire on the controller's dispatch goroutine and
// must not block.
type Callbacks struct {
	// OnAssistantText receives each assistant text delta for live display.
	OnAssistantText func(delta string)

	// OnTurn receives each finalized turn, user and assistant alike.
	OnTurn func(turn Turn)

	// OnStateChange receives controller state transitions.
	OnStateChange func(state State)

	// OnError receives session errors.
	OnError func(err error)
}

// Controller owns one voice session end to end: the provider connection, the
// capture source, the playback scheduler, and the transcript.
//
// Transcript accumulators are touched only on the dispatch goroutine that
// consumes provider events, so they need no locking. The finalized turn list
// is guarded because Turns may be read from any goroutine.
type Controller struct {
	id        string
	provider  conversation.Provider
	source    audioio.Source
	scheduler *playback.Scheduler
	logger    *slog.Logger
	callbacks Callbacks
	endPolicy EndPolicy
	latency   *LatencyCollector

	// Dispatch-goroutine state, unsynchronized by design.
	assistant Accumulator
	user      Accumulator

	mu           sync.Mutex
	state        State
	micOn        bool
	turns        []Turn
	dispatchDone chan struct{}
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithCallbacks sets the live-activity callbacks.
func WithCallbacks(cb Callbacks) ControllerOption {
	return func(c *Controller) {
		c.callbacks = cb
	}
}

// WithEndPolicy sets the auto-end policy consulted after each finalized
// assistant turn.
func WithEndPolicy(p EndPolicy) ControllerOption {
	return func(c *Controller) {
		c.endPolicy = p
	}
}

// NewController creates a controller over the given provider, capture source,
// and playback scheduler. The controller takes ownership of all three and
// closes them on Disconnect.
func NewController(provider conversation.Provider, source audioio.Source, scheduler *playback.Scheduler, logger *slog.Logger, opts ...ControllerOption) *Controller {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		id:        uuid.NewString(),
		provider:  provider,
		source:    source,
		scheduler: scheduler,
		latency:   NewLatencyCollector(),
		state:     StateIdle,
	}
	c.logger = logger.With("component", "session", "session_id", c.id)

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ID returns the session identifier.
func (c *Controller) ID() string {
	return c.id
}

// State returns the current controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the provider session and starts event dispatch.
func (c *Controller) Connect(ctx context.Context, systemInstruction string) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	c.state = StateConnecting
	c.mu.Unlock()
	c.notifyState(StateConnecting)

	err := c.provider.Connect(ctx, conversation.SessionOptions{
		SystemInstruction: systemInstruction,
	})
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		c.notifyState(StateIdle)
		return err
	}

	c.mu.Lock()
	c.state = StateActive
	c.dispatchDone = make(chan struct{})
	c.mu.Unlock()
	c.notifyState(StateActive)

	metrics.SessionStarted()
	go c.dispatch()

	c.logger.Info("session connected", "backend", c.provider.Capabilities().Name)

	return nil
}

// dispatch is the single consumer of provider events. All accumulator access
// happens here.
func (c *Controller) dispatch() {
	defer close(c.dispatchDone)

	for ev := range c.provider.Events() {
		switch ev.Type {
		case conversation.EventTextDelta:
			c.assistant.Append(ev.Text)
			c.latency.MarkFirstText()
			if c.callbacks.OnAssistantText != nil {
				c.callbacks.OnAssistantText(ev.Text)
			}

		case conversation.EventAudioChunk:
			c.latency.MarkFirstAudio()
			metrics.AudioReceived(len(ev.Audio))
			_, err := c.scheduler.Enqueue(playback.Chunk{
				PCM:        ev.Audio,
				SampleRate: ev.SampleRate,
			})
			if err != nil {
				// One bad chunk is dropped; the stream continues.
				c.logger.Warn("audio chunk dropped", "error", err)
				metrics.RecordError("playback")
			}

		case conversation.EventTurnComplete:
			c.finalizeAssistantTurn()

		case conversation.EventUserTranscript:
			c.finalizeUserTurn(ev.Text)

		case conversation.EventInterrupted:
			c.scheduler.Flush()
			metrics.Interruption()
			c.logger.Debug("barge-in, playback flushed")

		case conversation.EventConnectionChange:
			c.logger.Debug("connection state", "state", ev.State.String())

		case conversation.EventError:
			c.logger.Error("session error", "error", ev.Err)
			metrics.RecordError(c.provider.Capabilities().Name)
			if c.callbacks.OnError != nil {
				c.callbacks.OnError(ev.Err)
			}
		}
	}

	// The events channel closed: either our own Disconnect or a fatal
	// provider error. Ensure teardown runs either way.
	go c.Disconnect()
}

// finalizeAssistantTurn flushes the assistant accumulator into a turn. An
// empty accumulator finalizes nothing.
func (c *Controller) finalizeAssistantTurn() {
	text, ok := c.assistant.Take()
	if !ok {
		return
	}

	turn := c.appendTurn(RoleAssistant, text)
	if d := c.latency.MarkTurnDone(); d > 0 {
		metrics.TurnLatency(d)
	}

	if c.endPolicy != nil && c.endPolicy.ShouldEnd(turn) {
		c.logger.Info("auto-end policy triggered")
		go c.Disconnect()
	}
}

// finalizeUserTurn funnels the transcript through the user accumulator and
// flushes it: user transcripts arrive finalized, so the event is its own turn
// boundary, independent of assistant turn state.
func (c *Controller) finalizeUserTurn(transcript string) {
	c.user.Append(transcript)
	text, ok := c.user.Take()
	if !ok {
		return
	}
	c.appendTurn(RoleUser, text)
	c.latency.MarkUserDone()
}

func (c *Controller) appendTurn(role Role, text string) Turn {
	turn := Turn{Role: role, Text: text, Timestamp: time.Now()}

	c.mu.Lock()
	c.turns = append(c.turns, turn)
	c.mu.Unlock()

	metrics.TurnFinalized(string(role))
	if c.callbacks.OnTurn != nil {
		c.callbacks.OnTurn(turn)
	}

	return turn
}

// ToggleMicrophone starts or stops microphone forwarding. Rejected while the
// session is not active.
func (c *Controller) ToggleMicrophone(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return false, ErrNotActive
	}

	if c.micOn {
		c.micOn = false
		c.mu.Unlock()
		if err := c.source.Stop(); err != nil {
			return false, err
		}
		c.logger.Info("microphone off")
		return false, nil
	}

	c.micOn = true
	c.mu.Unlock()

	if err := c.source.Start(ctx); err != nil {
		c.mu.Lock()
		c.micOn = false
		c.mu.Unlock()
		if errors.Is(err, audioio.ErrPermissionDenied) && c.callbacks.OnError != nil {
			c.callbacks.OnError(err)
		}
		return false, err
	}

	go c.pumpMicrophone()

	c.logger.Info("microphone on")
	return true, nil
}

// pumpMicrophone forwards captured frames to the provider. Frames arriving
// while the provider is not connected are dropped, never queued.
func (c *Controller) pumpMicrophone() {
	for frame := range c.source.Stream() {
		if !c.provider.IsConnected() {
			continue
		}

		pcm := frame.Bytes()
		if err := c.provider.SendAudio(pcm); err != nil {
			if conversation.IsNotConnected(err) {
				continue
			}
			c.logger.Warn("audio send failed", "error", err)
			continue
		}
		metrics.AudioSent(len(pcm))

		if level := audio.RMS(frame.Samples); level > 0.5 {
			c.logger.Debug("mic level high", "rms", level)
		}
	}
}

// SendText injects a typed user message into the conversation.
func (c *Controller) SendText(text string) error {
	c.mu.Lock()
	active := c.state == StateActive
	c.mu.Unlock()
	if !active {
		return ErrNotActive
	}
	return c.provider.SendText(text)
}

// Disconnect tears the session down: stops the mic, flushes playback, closes
// the provider, and waits for dispatch to drain. Safe to call repeatedly and
// from any state.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	if c.state == StateIdle || c.state == StateEnding {
		c.mu.Unlock()
		return nil
	}
	c.state = StateEnding
	c.micOn = false
	done := c.dispatchDone
	c.mu.Unlock()
	c.notifyState(StateEnding)

	c.source.Stop()
	c.scheduler.Flush()
	c.provider.Close()

	if done != nil {
		<-done
	}

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
	c.notifyState(StateIdle)

	metrics.SessionEnded()
	c.logger.Info("session ended", "turns", len(c.Turns()))

	return nil
}

// Turns returns a copy of the finalized transcript in speaking order.
func (c *Controller) Turns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Latency returns the per-turn latency collector.
func (c *Controller) Latency() *LatencyCollector {
	return c.latency
}

func (c *Controller) notifyState(s State) {
	if c.callbacks.OnStateChange != nil {
		c.callbacks.OnStateChange(s)
	}
}
