// Package config loads voiceloop configuration from the environment.
package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice engine.
type Config struct {
	// Backend selects the protocol adapter: "streamrpc" or "rawsocket".
	Backend string `envconfig:"VOICE_BACKEND" default:"streamrpc"`

	// StreamRPC backend (JSON-framed WebSocket streaming RPC).
	StreamRPCURL    string `envconfig:"STREAMRPC_URL" default:"wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"`
	StreamRPCAPIKey string `envconfig:"STREAMRPC_API_KEY"`

	// RawSocket backend (binary TLV audio socket).
	RawSocketAddr string `envconfig:"RAWSOCKET_ADDR" default:"localhost:9600"`

	// Session defaults. Model and voice are passed through to the backend
	// unvalidated; each backend has its own identifier namespace.
	Model             string `envconfig:"VOICE_MODEL" default:""`
	Voice             string `envconfig:"VOICE_NAME" default:""`
	SystemInstruction string `envconfig:"SYSTEM_INSTRUCTION" default:"You are a friendly spoken-language tutor. Keep replies short and conversational."`

	// Audio configuration.
	MicDevice      string `envconfig:"MIC_DEVICE" default:""`
	FrameSize      int    `envconfig:"MIC_FRAME_SIZE" default:"4096"` // samples per capture frame
	ConnectTimeout int    `envconfig:"CONNECT_TIMEOUT" default:"10"`  // seconds

	// Observability.
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	MetricsPort    string `envconfig:"METRICS_PORT" default:"9091"`
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if one exists, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks backend selection and backend-specific required fields.
func (c *Config) Validate() error {
	switch c.Backend {
	case "streamrpc":
		if c.StreamRPCAPIKey == "" {
			return fmt.Errorf("STREAMRPC_API_KEY is required for the streamrpc backend")
		}
	case "rawsocket":
		if c.RawSocketAddr == "" {
			return fmt.Errorf("RAWSOCKET_ADDR is required for the rawsocket backend")
		}
	default:
		return fmt.Errorf("unknown backend %q (want streamrpc or rawsocket)", c.Backend)
	}

	if c.FrameSize <= 0 {
		return fmt.Errorf("MIC_FRAME_SIZE must be positive, got %d", c.FrameSize)
	}

	return nil
}
