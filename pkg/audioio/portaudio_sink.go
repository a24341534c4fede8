package audioio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// PortAudioSink plays audio through the default output device.
//
// Writes are synchronous: each call pushes the frame to the device in
// buffer-sized chunks and returns when the device has accepted them. The
// playback scheduler provides the timing; the sink just renders. Clear cuts
// an in-flight frame between chunks, so barge-in stops audible output within
// one device buffer.
type PortAudioSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex // lifecycle fields
	writeMu sync.Mutex // serializes device writes
	running bool
	closed  bool
	stream  *portaudio.Stream
	buf     []int16

	// gen moves on Clear and Stop; the chunked write loop re-checks it so a
	// frame already being rendered stops instead of playing to completion.
	gen    atomic.Int64
	writes sync.WaitGroup

	framesWritten  atomic.Int64
	samplesWritten atomic.Int64
}

// NewPortAudioSink creates a PortAudio-backed playback sink.
func NewPortAudioSink(cfg Config, logger *slog.Logger) (*PortAudioSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PortAudioSink{
		cfg:    cfg,
		logger: logger.With("component", "audioio.portaudio_sink"),
	}, nil
}

// Start acquires the output device.
func (p *PortAudioSink) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrSourceClosed
	}
	if p.running {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	p.buf = make([]int16, p.cfg.FrameSize*p.cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(0, p.cfg.Channels, float64(p.cfg.SampleRate), len(p.buf), p.buf)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	p.stream = stream
	p.running = true

	p.logger.Info("speaker output started",
		"sample_rate", p.cfg.SampleRate,
		"frame_size", p.cfg.FrameSize,
	)

	return nil
}

// Write renders one frame to the device. It returns early, without error,
// when Clear or Stop cuts the frame mid-way.
func (p *PortAudioSink) Write(ctx context.Context, frame Frame) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrSourceClosed
	}
	stream, buf := p.stream, p.buf
	p.writes.Add(1)
	p.mu.Unlock()
	defer p.writes.Done()

	if err := writeChunked(ctx, frame.Samples, buf, stream.Write, &p.gen, p.gen.Load()); err != nil {
		return err
	}

	p.framesWritten.Add(1)
	p.samplesWritten.Add(int64(len(frame.Samples)))

	return nil
}

// writeChunked pushes samples to the device in fixed-size chunks, padding the
// tail chunk with silence. It stops early, without error, when gen moves past
// start: Clear or Stop cut the remainder of the frame.
func writeChunked(ctx context.Context, samples, buf []int16, write func() error, gen *atomic.Int64, start int64) error {
	for len(samples) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if gen.Load() != start {
			return nil
		}

		n := copy(buf, samples)
		samples = samples[n:]
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}

		if err := write(); err != nil {
			if gen.Load() != start {
				// Abort unblocked the in-flight device write.
				return nil
			}
			return fmt.Errorf("audioio: device write failed: %w", err)
		}
	}
	return nil
}

// Clear cuts playback immediately: the generation bump stops the chunked
// write loop and Abort drops whatever the device had already accepted. The
// stream restarts so the next write plays.
func (p *PortAudioSink) Clear() error {
	p.gen.Add(1)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}
	if err := p.stream.Abort(); err != nil {
		return fmt.Errorf("audioio: playback abort failed: %w", err)
	}
	if err := p.stream.Start(); err != nil {
		return fmt.Errorf("audioio: playback restart failed: %w", err)
	}
	return nil
}

// Stop halts playback and releases the device. Idempotent. An in-flight
// Write is cut and drained before the stream closes.
func (p *PortAudioSink) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	stream := p.stream
	p.mu.Unlock()

	p.gen.Add(1)
	stream.Abort()
	p.writes.Wait()

	p.mu.Lock()
	stream.Close()
	p.stream = nil
	p.mu.Unlock()
	portaudio.Terminate()

	p.logger.Info("speaker output stopped")
	return nil
}

// Config returns the audio configuration.
func (p *PortAudioSink) Config() Config {
	return p.cfg
}

// Name returns "portaudio".
func (p *PortAudioSink) Name() string {
	return "portaudio"
}

// Close releases resources.
func (p *PortAudioSink) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	return p.Stop()
}

// Stats returns sink statistics.
func (p *PortAudioSink) Stats() SinkStats {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()

	return SinkStats{
		FramesWritten:  p.framesWritten.Load(),
		SamplesWritten: p.samplesWritten.Load(),
		Running:        running,
		Backend:        "portaudio",
	}
}

// Ensure PortAudioSink implements SinkWithStats.
var _ SinkWithStats = (*PortAudioSink)(nil)
