package conversation

import (
	"log/slog"
	"time"
)

// Config holds configuration for conversation providers.
type Config struct {
	// APIKey authenticates against the streaming-RPC backend.
	APIKey string

	// Model is the conversation model to use.
	Model string

	// Voice is the default TTS voice.
	Voice string

	// StreamRPCURL overrides the default streaming-RPC WebSocket endpoint.
	StreamRPCURL string

	// RawSocketAddr is the host:port of the raw-socket backend.
	RawSocketAddr string

	// ConnectTimeout bounds dial plus handshake.
	ConnectTimeout time.Duration

	// WriteTimeout bounds individual message writes.
	WriteTimeout time.Duration

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Model:          defaultModel,
		Voice:          "Puck",
		StreamRPCURL:   defaultStreamRPCURL,
		RawSocketAddr:  "localhost:9600",
		ConnectTimeout: 10 * time.Second,
		WriteTimeout:   10 * time.Second,
		Logger:         slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Option is a functional option for configuring providers.
type Option func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithModel sets the conversation model.
func WithModel(model string) Option {
	return func(c *Config) {
		c.Model = model
	}
}

// WithVoice sets the TTS voice.
func WithVoice(voice string) Option {
	return func(c *Config) {
		c.Voice = voice
	}
}

// WithStreamRPCURL overrides the streaming-RPC endpoint.
func WithStreamRPCURL(url string) Option {
	return func(c *Config) {
		c.StreamRPCURL = url
	}
}

// WithRawSocketAddr sets the raw-socket backend address.
func WithRawSocketAddr(addr string) Option {
	return func(c *Config) {
		c.RawSocketAddr = addr
	}
}

// WithConnectTimeout sets the dial + handshake timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ConnectTimeout = d
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
