// Package audioio provides microphone capture and speaker output for the
// voice engine.
//
// Capture backends:
//   - PortAudio - default input device on desktop platforms
//   - Mock - CI/testing without hardware
//
// Each protocol backend mandates its own capture rate (16 kHz for the
// streaming-RPC backend, 24 kHz for the raw-socket backend), so the rate is
// always supplied by the caller rather than defaulted here per device.
package audioio

import (
	"fmt"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendPortAudio uses PortAudio for cross-platform capture.
	BackendPortAudio Backend = "portaudio"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Config holds audio capture configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the capture rate in Hz. Must match the rate the active
	// protocol backend expects (16000 or 24000).
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels. Always 1 (mono) for both
	// protocol backends.
	Channels int `yaml:"channels" json:"channels"`

	// FrameSize is the number of samples delivered per capture frame.
	FrameSize int `yaml:"frame_size" json:"frame_size"`

	// Device is the platform-specific input device identifier.
	// Empty selects the system default.
	Device string `yaml:"device" json:"device"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:    BackendPortAudio,
		SampleRate: 16000,
		Channels:   1,
		FrameSize:  4096,
		Device:     "",
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", c.Channels)
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("frame_size must be positive, got %d", c.FrameSize)
	}
	return nil
}

// FrameBytes returns the size of one frame in bytes (int16 samples).
func (c *Config) FrameBytes() int {
	return c.FrameSize * c.Channels * 2
}
