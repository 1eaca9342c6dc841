package narration

import (
	"net/http"
	"time"
)

// Default provider configuration constants.
const (
	defaultTimeout = 15 * time.Second
	defaultModel   = "omni-vision-1"
)

// settings is shared backend configuration filled by options.
type settings struct {
	apiURL     string
	apiKey     string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	seed       int64
}

// Option applies a configuration option to a provider backend.
type Option func(*settings)

// WithEndpoint sets the generation service URL.
func WithEndpoint(url string) Option {
	return func(s *settings) {
		s.apiURL = url
	}
}

// WithAPIKey sets the generation service credential.
func WithAPIKey(key string) Option {
	return func(s *settings) {
		s.apiKey = key
	}
}

// WithModel sets the generation model identifier.
func WithModel(model string) Option {
	return func(s *settings) {
		if model != "" {
			s.model = model
		}
	}
}

// WithTimeout bounds a single generation call.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// WithSeed makes concept picking deterministic, mainly for tests.
func WithSeed(seed int64) Option {
	return func(s *settings) {
		s.seed = seed
	}
}

func newSettings(opts ...Option) *settings {
	s := &settings{
		model:   defaultModel,
		timeout: defaultTimeout,
		seed:    time.Now().UnixNano(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{Timeout: s.timeout}
	}
	return s
}
