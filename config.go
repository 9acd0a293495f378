package monarch

import (
	"errors"
	"time"
)

// Config defines all tunables for the client. Zero values are filled from
// [defaultConfig] by the builder; instances are treated as immutable after
// [Builder.Build].
type Config struct {
	// BaseURL is the remote API root, without trailing slash.
	BaseURL string

	Session   SessionConfig
	Retry     RetryConfig
	Transport TransportConfig
	Metrics   MetricsConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls staleness tracking and at-rest persistence.
type SessionConfig struct {
	// StaleThreshold is the unused-age beyond which a session must be
	// revalidated before use.
	StaleThreshold time.Duration

	// FilePath locates the persisted session when the default file store is
	// used. Ignored when the builder supplies a custom store.
	FilePath string

	// Passphrase keys the session codec. Empty selects the documented weak
	// default passphrase.
	Passphrase string

	// AllowPlaintext switches the default store to the JSON codec, leaving
	// the bearer token readable at rest. Never enabled implicitly; the
	// client logs when it is in effect.
	AllowPlaintext bool
}

/*
====================================
RETRY CONFIG
====================================
*/

// RetryConfig is the declarative retry table input for Network, Server, and
// RateLimited failures. Validation-class failures get zero extra attempts by
// construction (the executor never consults this table for them).
type RetryConfig struct {
	// MaxAttempts is the number of retried sends after the first.
	MaxAttempts int

	BaseDelay         time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration

	// JitterFraction randomizes each delay by ±fraction.
	JitterFraction float64
}

/*
====================================
TRANSPORT CONFIG
====================================
*/

// TransportConfig bounds individual network calls.
type TransportConfig struct {
	// RequestTimeout is the per-call budget applied at every network
	// suspension point, distinct from any caller deadline.
	RequestTimeout time.Duration

	UserAgent string
}

// MetricsConfig toggles counter collection.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the documented defaults. Callers tweaking a few
// fields should start from this value.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		BaseURL: "https://api.monarchmoney.com",
		Session: SessionConfig{
			StaleThreshold: time.Hour,
			FilePath:       "",
		},
		Retry: RetryConfig{
			MaxAttempts:       3,
			BaseDelay:         time.Second,
			BackoffMultiplier: 2,
			MaxDelay:          30 * time.Second,
			JitterFraction:    0.2,
		},
		Transport: TransportConfig{
			RequestTimeout: 30 * time.Second,
			UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Validate rejects configurations the retry invariants cannot hold under.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("BaseURL must not be empty")
	}
	if c.Retry.MaxAttempts < 0 {
		return errors.New("Retry.MaxAttempts must not be negative")
	}
	if c.Retry.BaseDelay < 0 {
		return errors.New("Retry.BaseDelay must not be negative")
	}
	if c.Retry.BackoffMultiplier < 1 {
		return errors.New("Retry.BackoffMultiplier must be >= 1 so delays never decrease")
	}
	if c.Retry.MaxDelay > 0 && c.Retry.MaxDelay < c.Retry.BaseDelay {
		return errors.New("Retry.MaxDelay must not undercut Retry.BaseDelay")
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction >= 1 {
		return errors.New("Retry.JitterFraction must be in [0, 1)")
	}
	if c.Session.StaleThreshold < 0 {
		return errors.New("Session.StaleThreshold must not be negative")
	}
	if c.Transport.RequestTimeout <= 0 {
		return errors.New("Transport.RequestTimeout must be positive")
	}
	return nil
}

// fillDefaults replaces zero values with the documented defaults without
// touching explicit settings.
func fillDefaults(c Config) Config {
	def := defaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	if c.Session.StaleThreshold == 0 {
		c.Session.StaleThreshold = def.Session.StaleThreshold
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = def.Retry.BaseDelay
	}
	if c.Retry.BackoffMultiplier == 0 {
		c.Retry.BackoffMultiplier = def.Retry.BackoffMultiplier
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = def.Retry.MaxDelay
	}
	if c.Retry.JitterFraction == 0 {
		c.Retry.JitterFraction = def.Retry.JitterFraction
	}
	if c.Transport.RequestTimeout == 0 {
		c.Transport.RequestTimeout = def.Transport.RequestTimeout
	}
	if c.Transport.UserAgent == "" {
		c.Transport.UserAgent = def.Transport.UserAgent
	}
	return c
}
