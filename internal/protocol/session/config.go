package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/streamctl/internal/protocol/frame"
)

var ErrInvalidConfig = errors.New("session: invalid config")

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport/session defaults.
// ReadTimeout applies to each read; zero waits indefinitely.
// MaxConnectAttempts <= 0 means a single attempt.
type Config struct {
	ConnectTimeout     time.Duration
	ReadTimeout        time.Duration
	MaxPayloadBytes    uint32
	MaxConnectAttempts int
	Backoff            BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     5 * time.Second,
		ReadTimeout:        30 * time.Second,
		MaxPayloadBytes:    frame.DefaultLimits().MaxPayloadBytes,
		MaxConnectAttempts: 1,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero-valued durations and backoff from DefaultConfig.
// ReadTimeout and MaxPayloadBytes keep their zero meaning (disabled).
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.MaxConnectAttempts <= 0 {
		c.MaxConnectAttempts = 1
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}

func (c Config) Validate() error {
	if c.ReadTimeout < 0 {
		return fmt.Errorf("%w: read_timeout must not be negative", ErrInvalidConfig)
	}
	if c.Backoff.Multiplier < 0 {
		return fmt.Errorf("%w: backoff multiplier must not be negative", ErrInvalidConfig)
	}
	return nil
}

func (c Config) Limits() frame.Limits {
	return frame.Limits{MaxPayloadBytes: c.MaxPayloadBytes}
}
