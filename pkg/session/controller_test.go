package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/verbably/voiceloop/pkg/audioio"
	"github.com/verbably/voiceloop/pkg/conversation"
	"github.com/verbably/voiceloop/pkg/playback"
)

type testSession struct {
	c        *Controller
	provider *conversation.MockProvider
	source   *audioio.MockSource
	sink     *audioio.MockSink
}

func newTestSession(t *testing.T, opts ...ControllerOption) *testSession {
	t.Helper()

	cfg := audioio.Config{
		Backend:    audioio.BackendMock,
		SampleRate: 16000,
		Channels:   1,
		FrameSize:  160,
	}

	provider := conversation.NewMockProvider()
	source := audioio.NewMockSource(cfg, nil)
	sink := audioio.NewMockSink(cfg, nil)
	if err := sink.Start(context.Background()); err != nil {
		t.Fatalf("sink Start failed: %v", err)
	}
	scheduler := playback.NewScheduler(sink, nil)

	c := NewController(provider, source, scheduler, nil, opts...)
	t.Cleanup(func() {
		c.Disconnect()
		scheduler.Close()
		sink.Close()
		source.Close()
	})

	return &testSession{c: c, provider: provider, source: source, sink: sink}
}

// waitFor polls until cond is true or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectLifecycle(t *testing.T) {
	ts := newTestSession(t)

	if ts.c.State() != StateIdle {
		t.Fatalf("initial state = %v, want idle", ts.c.State())
	}
	if ts.c.ID() == "" {
		t.Error("session ID is empty")
	}

	if err := ts.c.Connect(context.Background(), "be a tutor"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if ts.c.State() != StateActive {
		t.Errorf("state after Connect = %v, want active", ts.c.State())
	}
	if got := ts.provider.LastSessionOptions().SystemInstruction; got != "be a tutor" {
		t.Errorf("system instruction = %q", got)
	}

	if err := ts.c.Connect(context.Background(), "again"); err != ErrAlreadyActive {
		t.Errorf("second Connect = %v, want ErrAlreadyActive", err)
	}
}

func TestConnectFailureReturnsToIdle(t *testing.T) {
	ts := newTestSession(t)
	wantErr := conversation.NewConnectionError("dial failed", nil)
	ts.provider.FailConnect(wantErr)

	err := ts.c.Connect(context.Background(), "")
	if !errors.Is(err, wantErr) {
		t.Fatalf("Connect error = %v, want %v", err, wantErr)
	}
	if ts.c.State() != StateIdle {
		t.Errorf("state after failed Connect = %v, want idle", ts.c.State())
	}
}

func TestAssistantTurnAccumulation(t *testing.T) {
	ts := newTestSession(t)
	if err := ts.c.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	ts.provider.SimulateTextDelta("Hel")
	ts.provider.SimulateTextDelta("lo!")
	ts.provider.SimulateTurnComplete()

	waitFor(t, "assistant turn", func() bool { return len(ts.c.Turns()) == 1 })

	turns := ts.c.Turns()
	if turns[0].Role != RoleAssistant {
		t.Errorf("role = %v, want assistant", turns[0].Role)
	}
	if turns[0].Text != "Hello!" {
		t.Errorf("text = %q, want %q", turns[0].Text, "Hello!")
	}
	if turns[0].Timestamp.IsZero() {
		t.Error("timestamp not set")
	}

	// The accumulator reset: another boundary without deltas adds nothing.
	ts.provider.SimulateTurnComplete()
	ts.provider.SimulateUserTranscript("marker")
	waitFor(t, "marker turn", func() bool { return len(ts.c.Turns()) == 2 })
	if ts.c.Turns()[1].Role != RoleUser {
		t.Errorf("empty turn-complete produced a turn: %+v", ts.c.Turns())
	}
}

func TestEmptyTurnCompleteIsNoOp(t *testing.T) {
	ts := newTestSession(t)
	if err := ts.c.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	ts.provider.SimulateTurnComplete()
	ts.provider.SimulateTurnComplete()

	time.Sleep(50 * time.Millisecond)
	if got := len(ts.c.Turns()); got != 0 {
		t.Errorf("turns = %d, want 0", got)
	}
}

func TestUserTranscriptIndependentOfAssistantTurn(t *testing.T) {
	ts := newTestSession(t)
	if err := ts.c.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// Assistant is mid-turn when the user transcript lands.
	ts.provider.SimulateTextDelta("I was say")
	ts.provider.SimulateUserTranscript("check in please")

	waitFor(t, "user turn", func() bool { return len(ts.c.Turns()) == 1 })
	if ts.c.Turns()[0].Role != RoleUser || ts.c.Turns()[0].Text != "check in please" {
		t.Errorf("turn = %+v", ts.c.Turns()[0])
	}

	// The assistant turn still finalizes afterward, in order.
	ts.provider.SimulateTextDelta("ing")
	ts.provider.SimulateTurnComplete()
	waitFor(t, "assistant turn", func() bool { return len(ts.c.Turns()) == 2 })

	turns := ts.c.Turns()
	if turns[1].Role != RoleAssistant || turns[1].Text != "I was saying" {
		t.Errorf("turn = %+v", turns[1])
	}
}

func TestEmptyUserTranscriptIsNoOp(t *testing.T) {
	ts := newTestSession(t)
	if err := ts.c.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	ts.provider.SimulateUserTranscript("")
	ts.provider.SimulateUserTranscript("hola")

	waitFor(t, "user turn", func() bool { return len(ts.c.Turns()) == 1 })

	// The empty transcript left the accumulator empty; only the real one
	// finalized.
	turns := ts.c.Turns()
	if turns[0].Role != RoleUser || turns[0].Text != "hola" {
		t.Errorf("turn = %+v", turns[0])
	}
}

func TestInterruptionFlushesPlaybackPreservingTurns(t *testing.T) {
	ts := newTestSession(t)
	if err := ts.c.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	ts.provider.SimulateTextDelta("done turn")
	ts.provider.SimulateTurnComplete()
	waitFor(t, "finalized turn", func() bool { return len(ts.c.Turns()) == 1 })

	ts.provider.SimulateAudioChunk(make([]byte, 48000))
	ts.provider.SimulateInterrupted()

	waitFor(t, "playback flush", func() bool { return ts.sink.Clears() == 1 })
	if got := len(ts.c.Turns()); got != 1 {
		t.Errorf("turns after interruption = %d, want 1 (finalized turns preserved)", got)
	}
}

func TestAudioChunksReachScheduler(t *testing.T) {
	ts := newTestSession(t)
	if err := ts.c.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	ts.provider.SimulateAudioChunk(make([]byte, 4800))
	waitFor(t, "scheduled audio", func() bool { return len(ts.sink.Written()) == 1 })

	// A malformed chunk is dropped without breaking the stream.
	ts.provider.SimulateAudioChunk(make([]byte, 3))
	ts.provider.SimulateAudioChunk(make([]byte, 4800))
	waitFor(t, "second good chunk", func() bool { return len(ts.sink.Written()) == 2 })
}

func TestToggleMicrophone(t *testing.T) {
	ts := newTestSession(t)

	t.Run("rejected while idle", func(t *testing.T) {
		if _, err := ts.c.ToggleMicrophone(context.Background()); err != ErrNotActive {
			t.Errorf("ToggleMicrophone while idle = %v, want ErrNotActive", err)
		}
	})

	if err := ts.c.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	t.Run("on then off", func(t *testing.T) {
		on, err := ts.c.ToggleMicrophone(context.Background())
		if err != nil || !on {
			t.Fatalf("toggle on = (%v, %v), want (true, nil)", on, err)
		}

		// Frames flow to the provider while connected.
		waitFor(t, "forwarded audio", func() bool { return len(ts.provider.SentAudio()) > 0 })

		on, err = ts.c.ToggleMicrophone(context.Background())
		if err != nil || on {
			t.Fatalf("toggle off = (%v, %v), want (false, nil)", on, err)
		}
	})
}

func TestSendText(t *testing.T) {
	ts := newTestSession(t)

	if err := ts.c.SendText("hola"); err != ErrNotActive {
		t.Errorf("SendText while idle = %v, want ErrNotActive", err)
	}

	if err := ts.c.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := ts.c.SendText("hola"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if got := ts.provider.SentText(); len(got) != 1 || got[0] != "hola" {
		t.Errorf("SentText = %v", got)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	ts := newTestSession(t)
	if err := ts.c.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := ts.c.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if ts.c.State() != StateIdle {
		t.Errorf("state = %v, want idle", ts.c.State())
	}

	if err := ts.c.Disconnect(); err != nil {
		t.Fatalf("second Disconnect failed: %v", err)
	}
	if ts.c.State() != StateIdle {
		t.Errorf("state after second Disconnect = %v, want idle", ts.c.State())
	}
}

func TestFatalProviderErrorEndsSession(t *testing.T) {
	var gotErr error
	errCh := make(chan error, 1)

	ts := newTestSession(t, WithCallbacks(Callbacks{
		OnError: func(err error) {
			select {
			case errCh <- err:
			default:
			}
		},
	}))
	if err := ts.c.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	ts.provider.SimulateFatalError(conversation.NewConnectionError("connection lost", nil))

	select {
	case gotErr = <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("OnError never fired")
	}
	var connErr *conversation.ConnectionError
	if !errors.As(gotErr, &connErr) {
		t.Errorf("error = %v, want ConnectionError", gotErr)
	}

	waitFor(t, "idle state", func() bool { return ts.c.State() == StateIdle })
}

func TestAutoEndPolicy(t *testing.T) {
	ts := newTestSession(t, WithEndPolicy(NewFarewellPolicy("goodbye", "hasta luego")))
	if err := ts.c.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	ts.provider.SimulateTextDelta("Great work today. Goodbye!")
	ts.provider.SimulateTurnComplete()

	waitFor(t, "auto-end", func() bool { return ts.c.State() == StateIdle })

	turns := ts.c.Turns()
	if len(turns) != 1 || turns[0].Text != "Great work today. Goodbye!" {
		t.Errorf("turns = %+v", turns)
	}
}

func TestLiveCallbacks(t *testing.T) {
	deltas := make(chan string, 10)
	states := make(chan State, 10)

	ts := newTestSession(t, WithCallbacks(Callbacks{
		OnAssistantText: func(d string) { deltas <- d },
		OnStateChange:   func(s State) { states <- s },
	}))

	if err := ts.c.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	ts.provider.SimulateTextDelta("live")

	select {
	case d := <-deltas:
		if d != "live" {
			t.Errorf("delta = %q", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnAssistantText never fired")
	}

	// Connecting then Active were reported in order.
	if s := <-states; s != StateConnecting {
		t.Errorf("first state = %v, want connecting", s)
	}
	if s := <-states; s != StateActive {
		t.Errorf("second state = %v, want active", s)
	}
}
