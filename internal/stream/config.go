package stream

import (
	"strings"
	"time"

	"github.com/danmuck/streamctl/internal/api"
)

const (
	DefaultIdleTimeout  = 20 * time.Second
	DefaultIssueField   = "connection_issue"
	DefaultMaxLineBytes = 1 << 20
)

// BackoffConfig defines reconnect backoff behavior. The delay before the
// Nth reconnect is Base * Multiplier^N.
type BackoffConfig struct {
	Base       time.Duration
	Multiplier float64
	// MaxDelay caps the delay when positive. Zero leaves growth unbounded.
	MaxDelay time.Duration
	// ResetOnConnect zeroes the attempt counter whenever a session opens.
	ResetOnConnect bool
}

// Config defines stream session defaults.
type Config struct {
	URL          string
	IdleTimeout  time.Duration
	IssueField   string
	Compression  bool
	MaxLineBytes int
	Backoff      BackoffConfig
}

// DefaultConfig returns the reference behavior: 20s idle timeout and a
// 2^attempt second backoff that never resets.
func DefaultConfig() Config {
	return Config{
		URL:          api.DefaultStreamURL,
		IdleTimeout:  DefaultIdleTimeout,
		IssueField:   DefaultIssueField,
		MaxLineBytes: DefaultMaxLineBytes,
		Backoff: BackoffConfig{
			Base:       time.Second,
			Multiplier: 2.0,
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.URL) == "" {
		c.URL = d.URL
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if strings.TrimSpace(c.IssueField) == "" {
		c.IssueField = d.IssueField
	}
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = d.MaxLineBytes
	}
	if c.Backoff.Base <= 0 {
		c.Backoff.Base = d.Backoff.Base
	}
	if c.Backoff.Multiplier < 1.0 {
		c.Backoff.Multiplier = d.Backoff.Multiplier
	}
	return c
}
