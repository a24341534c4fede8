package audioio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/verbably/voiceloop/pkg/audio"
)

// fallbackRate is used when the device refuses the requested capture rate.
// 48 kHz is universally supported; frames are resampled down to the target.
const fallbackRate = 48000

// PortAudioSource captures microphone audio through PortAudio.
type PortAudioSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	stream   *portaudio.Stream
	buf      []float32
	openRate int
	streamCh chan Frame
	stopCh   chan struct{}
	doneCh   chan struct{}

	framesRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// NewPortAudioSource creates a PortAudio-backed capture source.
func NewPortAudioSource(cfg Config, logger *slog.Logger) (*PortAudioSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PortAudioSource{
		cfg:    cfg,
		logger: logger.With("component", "audioio.portaudio"),
	}, nil
}

// Start acquires the microphone and begins delivering frames.
func (p *PortAudioSource) Start(ctx context.Context) error {
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

	if err := p.openStreamLocked(p.cfg.SampleRate); err != nil {
		// Some devices only expose their native rate. Capture at 48 kHz
		// and resample down to the rate the backend mandates.
		p.logger.Warn("device refused capture rate, falling back",
			"requested", p.cfg.SampleRate,
			"fallback", fallbackRate,
		)
		if err := p.openStreamLocked(fallbackRate); err != nil {
			portaudio.Terminate()
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
	}

	if err := p.stream.Start(); err != nil {
		p.stream.Close()
		p.stream = nil
		portaudio.Terminate()
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	p.running = true
	p.streamCh = make(chan Frame, 10)
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go p.captureLoop(ctx)

	p.logger.Info("microphone capture started",
		"sample_rate", p.cfg.SampleRate,
		"device_rate", p.openRate,
		"frame_size", p.cfg.FrameSize,
	)

	return nil
}

func (p *PortAudioSource) openStreamLocked(rate int) error {
	// Size the device buffer so each read yields one frame at the target
	// rate after any resampling.
	bufLen := p.cfg.FrameSize
	if rate != p.cfg.SampleRate {
		bufLen = p.cfg.FrameSize * rate / p.cfg.SampleRate
	}
	p.buf = make([]float32, bufLen)

	var stream *portaudio.Stream
	var err error
	if p.cfg.Device == "" {
		stream, err = portaudio.OpenDefaultStream(p.cfg.Channels, 0, float64(rate), len(p.buf), p.buf)
	} else {
		var dev *portaudio.DeviceInfo
		devices, derr := portaudio.Devices()
		if derr != nil {
			return derr
		}
		dev, err = findInputDevice(devices, p.cfg.Device)
		if err != nil {
			return err
		}
		params := portaudio.LowLatencyParameters(dev, nil)
		params.Input.Channels = p.cfg.Channels
		params.SampleRate = float64(rate)
		params.FramesPerBuffer = len(p.buf)
		stream, err = portaudio.OpenStream(params, p.buf)
	}
	if err != nil {
		return err
	}

	p.stream = stream
	p.openRate = rate
	return nil
}

// findInputDevice resolves a configured device name against the available
// input devices. Matching is case-insensitive and accepts substrings, since
// PortAudio device names vary across hosts ("USB Audio (hw:1,0)").
func findInputDevice(devices []*portaudio.DeviceInfo, name string) (*portaudio.DeviceInfo, error) {
	want := strings.ToLower(name)
	for _, dev := range devices {
		if dev.MaxInputChannels == 0 {
			continue
		}
		if strings.Contains(strings.ToLower(dev.Name), want) {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("audioio: no input device matching %q", name)
}

func (p *PortAudioSource) captureLoop(ctx context.Context) {
	defer close(p.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		if err := p.stream.Read(); err != nil {
			select {
			case <-p.stopCh:
				// Expected during teardown.
			default:
				p.logger.Error("capture read failed", "error", err)
			}
			return
		}

		pcm := audio.FloatToPCM16(p.buf)
		if p.openRate != p.cfg.SampleRate {
			pcm = audio.ResampleBytes(pcm, p.openRate, p.cfg.SampleRate)
		}

		frame := Frame{
			Samples:    audio.BytesToSamples(pcm),
			SampleRate: p.cfg.SampleRate,
			Channels:   p.cfg.Channels,
		}

		// Never deliver after teardown begins, even if a frame is ready.
		select {
		case <-p.stopCh:
			return
		case p.streamCh <- frame:
			p.framesRead.Add(1)
			p.samplesRead.Add(int64(len(frame.Samples)))
		default:
			p.overruns.Add(1)
			p.logger.Debug("capture buffer full, dropping frame")
		}
	}
}

// Stop halts capture and releases the device. Idempotent.
func (p *PortAudioSource) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	p.running = false

	close(p.stopCh)

	if p.stream != nil {
		p.stream.Abort()
		<-p.doneCh
		p.stream.Close()
		p.stream = nil
	}
	portaudio.Terminate()

	close(p.streamCh)

	p.logger.Info("microphone capture stopped")
	return nil
}

// Stream returns the captured frame channel.
func (p *PortAudioSource) Stream() <-chan Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streamCh
}

// Config returns the audio configuration.
func (p *PortAudioSource) Config() Config {
	return p.cfg
}

// Name returns "portaudio".
func (p *PortAudioSource) Name() string {
	return "portaudio"
}

// Close releases resources.
func (p *PortAudioSource) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	return p.Stop()
}

// Stats returns source statistics.
func (p *PortAudioSource) Stats() SourceStats {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()

	return SourceStats{
		FramesRead:  p.framesRead.Load(),
		SamplesRead: p.samplesRead.Load(),
		Overruns:    p.overruns.Load(),
		Running:     running,
		Backend:     "portaudio",
	}
}

// Ensure PortAudioSource implements SourceWithStats.
var _ SourceWithStats = (*PortAudioSource)(nil)
