// Package playback schedules received audio chunks onto a shared timeline so
// consecutive chunks play gaplessly even when they arrive in bursts.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/verbably/voiceloop/pkg/audio"
	"github.com/verbably/voiceloop/pkg/audioio"
)

// Scheduler errors.
var (
	// ErrSchedulerClosed indicates the scheduler has been closed.
	ErrSchedulerClosed = errors.New("playback: scheduler closed")
)

// Chunk is one block of PCM16 audio to schedule for playback.
type Chunk struct {
	// PCM is raw little-endian PCM16 audio.
	PCM []byte

	// SampleRate is the sample rate of the chunk in Hz.
	SampleRate int
}

// Duration returns the playout duration of the chunk.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	samples := len(c.PCM) / 2
	return time.Duration(float64(samples) / float64(c.SampleRate) * float64(time.Second))
}

// Scheduler places audio chunks on a monotonic timeline.
//
// Each chunk starts at max(now, end of previous chunk), so chunks that arrive
// faster than real time queue back to back with no gaps, and a chunk arriving
// after a silence starts immediately. Flush cancels everything pending and
// resets the timeline, which is how barge-in cuts assistant audio.
type Scheduler struct {
	sink   audioio.Sink
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	closed    bool
	nextStart time.Time
	timers    map[int64]*time.Timer
	nextID    int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the scheduler's clock. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler creates a scheduler that plays chunks through sink.
func NewScheduler(sink audioio.Sink, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		sink:   sink,
		logger: logger.With("component", "playback"),
		now:    time.Now,
		timers: make(map[int64]*time.Timer),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Enqueue schedules a chunk for playback and returns its start time.
//
// A malformed chunk (empty, odd byte length, non-positive rate) is rejected
// without touching the timeline, so the next valid chunk schedules normally.
func (s *Scheduler) Enqueue(chunk Chunk) (time.Time, error) {
	if len(chunk.PCM) == 0 {
		return time.Time{}, fmt.Errorf("playback: empty chunk")
	}
	if len(chunk.PCM)%2 != 0 {
		return time.Time{}, fmt.Errorf("playback: odd PCM16 byte length %d", len(chunk.PCM))
	}
	if chunk.SampleRate <= 0 {
		return time.Time{}, fmt.Errorf("playback: invalid sample rate %d", chunk.SampleRate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return time.Time{}, ErrSchedulerClosed
	}

	now := s.now()
	start := now
	if s.nextStart.After(now) {
		start = s.nextStart
	}
	s.nextStart = start.Add(chunk.Duration())

	frame := audioio.Frame{
		Samples:    audio.BytesToSamples(chunk.PCM),
		SampleRate: chunk.SampleRate,
		Channels:   1,
	}

	id := s.nextID
	s.nextID++

	delay := start.Sub(now)
	s.timers[id] = time.AfterFunc(delay, func() {
		s.play(id, frame)
	})

	return start, nil
}

func (s *Scheduler) play(id int64, frame audioio.Frame) {
	s.mu.Lock()
	_, pending := s.timers[id]
	delete(s.timers, id)
	closed := s.closed
	s.mu.Unlock()

	// A flush between arming and firing removes the timer entry.
	if !pending || closed {
		return
	}

	if err := s.sink.Write(context.Background(), frame); err != nil {
		s.logger.Error("playback write failed", "error", err)
	}
}

// Flush cancels all pending chunks, clears the sink buffer, and resets the
// timeline to now. Safe to call when nothing is scheduled.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.nextStart = s.now()
	closed := s.closed
	s.mu.Unlock()

	if !closed {
		if err := s.sink.Clear(); err != nil {
			s.logger.Warn("sink clear failed", "error", err)
		}
	}
}

// Pending returns the number of chunks scheduled but not yet played.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// NextStart returns when the next enqueued chunk would begin playing.
func (s *Scheduler) NextStart() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextStart.IsZero() {
		return s.now()
	}
	return s.nextStart
}

// Close flushes pending chunks and rejects further enqueues.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	return nil
}
