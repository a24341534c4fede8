package session

import (
	"sync"
	"time"
)

// TurnTiming holds latency measurements for one assistant turn, measured
// from the moment the user's transcript finalized.
type TurnTiming struct {
	UserDoneTime   time.Time // User transcript finalized
	FirstTextTime  time.Time // First assistant text delta
	FirstAudioTime time.Time // First assistant audio chunk
	TurnDoneTime   time.Time // Assistant turn finalized

	FirstTextLatency  time.Duration
	FirstAudioLatency time.Duration
	TotalLatency      time.Duration
}

// LatencyCollector measures per-turn response latency. It is goroutine-safe.
type LatencyCollector struct {
	mu      sync.Mutex
	current TurnTiming
	history []TurnTiming
}

// NewLatencyCollector creates an empty collector.
func NewLatencyCollector() *LatencyCollector {
	return &LatencyCollector{history: make([]TurnTiming, 0, 100)}
}

// MarkUserDone starts timing a new turn. The reference point for all
// latencies is the finalized user transcript.
func (l *LatencyCollector) MarkUserDone() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = TurnTiming{UserDoneTime: time.Now()}
}

// MarkFirstText records the first assistant text delta of the turn.
func (l *LatencyCollector) MarkFirstText() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.current.FirstTextTime.IsZero() {
		return
	}
	l.current.FirstTextTime = time.Now()
	if !l.current.UserDoneTime.IsZero() {
		l.current.FirstTextLatency = l.current.FirstTextTime.Sub(l.current.UserDoneTime)
	}
}

// MarkFirstAudio records the first assistant audio chunk of the turn.
func (l *LatencyCollector) MarkFirstAudio() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.current.FirstAudioTime.IsZero() {
		return
	}
	l.current.FirstAudioTime = time.Now()
	if !l.current.UserDoneTime.IsZero() {
		l.current.FirstAudioLatency = l.current.FirstAudioTime.Sub(l.current.UserDoneTime)
	}
}

// MarkTurnDone closes out the turn and archives it. Returns the total
// latency, or zero when no user reference point exists.
func (l *LatencyCollector) MarkTurnDone() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.current.TurnDoneTime = time.Now()
	if !l.current.UserDoneTime.IsZero() {
		l.current.TotalLatency = l.current.TurnDoneTime.Sub(l.current.UserDoneTime)
	}

	l.history = append(l.history, l.current)
	if len(l.history) > 100 {
		l.history = l.history[1:]
	}

	total := l.current.TotalLatency
	l.current = TurnTiming{}
	return total
}

// History returns a copy of archived turn timings.
func (l *LatencyCollector) History() []TurnTiming {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TurnTiming, len(l.history))
	copy(out, l.history)
	return out
}

// Average returns the mean total latency over archived turns that have one.
func (l *LatencyCollector) Average() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	var sum time.Duration
	var n int
	for _, t := range l.history {
		if t.TotalLatency > 0 {
			sum += t.TotalLatency
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / time.Duration(n)
}
