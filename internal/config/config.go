// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Keep fields unexported where possible and use functional options.
// - Provide New(...Option) initializer to build a Config with defaults.
// - All future functions must accept context.Context as the first parameter.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"context"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DatabaseURL points at the Postgres store. Empty selects the
	// in-memory store.
	DatabaseURL string `koanf:"database_url"`

	// TargetURL is the remote-control surface of the external race
	// simulation. Empty delegates every race to the simulator.
	TargetURL string `koanf:"target_url"`

	// RaceDurationSec configures the simulated race length.
	RaceDurationSec int `koanf:"race_duration_sec"`

	// PollIntervalMS and PollCap bound the automation poll loop.
	PollIntervalMS int `koanf:"poll_interval_ms"`
	PollCap        int `koanf:"poll_cap"`

	// NarrationBackend selects the provider: canned, vision.
	NarrationBackend string `koanf:"narration_backend"`

	// NarrationURL, NarrationAPIKey and NarrationModel configure the
	// vision backend.
	NarrationURL    string `koanf:"narration_url"`
	NarrationAPIKey string `koanf:"narration_api_key"`
	NarrationModel  string `koanf:"narration_model"`

	// MediaUploadURL is the media store endpoint; MediaDir is the local
	// fallback directory when the media store is unavailable.
	MediaUploadURL string `koanf:"media_upload_url"`
	MediaDir       string `koanf:"media_dir"`

	// ChainBuffer bounds each per-race commentary chain.
	ChainBuffer int `koanf:"chain_buffer"`

	// HeartbeatSec sets the live stream ping interval.
	HeartbeatSec int `koanf:"heartbeat_sec"`
}

// New creates a Config using provided options. Context is accepted first to
// satisfy the project-wide convention; it is reserved for future use (e.g.,
// loading from env/files) and is currently unused.
func New(_ context.Context) *Config {
	c := &Config{
		LogLevel:         "info",
		Addr:             ":9090",
		DatabaseURL:      "",
		TargetURL:        "",
		RaceDurationSec:  35,
		PollIntervalMS:   300,
		PollCap:          150,
		NarrationBackend: "canned",
		NarrationModel:   "omni-vision-1",
		MediaDir:         "media",
		ChainBuffer:      64,
		HeartbeatSec:     5,
	}
	return c
}
