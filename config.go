package fanout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mrafieir/mpi-fanout/policy"
	"github.com/viant/afs"
	"gopkg.in/yaml.v3"
)

// Config is a serialisable representation of the engine configuration. It can
// be populated from JSON or YAML. The zero-value is useful – all nested fields
// inherit their package defaults.

type Config struct {
	Transport  TransportConfig  `json:"transport" yaml:"transport"`
	Dispatcher DispatcherConfig `json:"dispatcher" yaml:"dispatcher"`
	Policy     *policy.Config   `json:"policy,omitempty" yaml:"policy,omitempty"`
	// Silent suppresses the startup line and per-task failure logging.
	Silent bool `json:"silent,omitempty" yaml:"silent,omitempty"`
}

type TransportConfig struct {
	// BufferSize caps each in-process sender to receiver channel.
	BufferSize int `json:"bufferSize" yaml:"bufferSize"`
	// BaseURL, when set, selects the filesystem transport spool root for
	// groups assembled from this config.
	BaseURL string `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`
	// PollIntervalMs is the filesystem transport sweep interval.
	PollIntervalMs int `json:"pollIntervalMs,omitempty" yaml:"pollIntervalMs,omitempty"`
}

// PollInterval returns the sweep interval as a duration.
func (t *TransportConfig) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalMs) * time.Millisecond
}

type DispatcherConfig struct {
	// Window is how many tasks a single worker may hold at once.
	Window int `json:"window" yaml:"window"`
}

// DefaultConfig returns a Config populated with the same default values the
// individual service constructors use. Callers may modify the returned struct
// before passing it to New.
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			BufferSize:     1024,
			PollIntervalMs: 20,
		},
		Dispatcher: DispatcherConfig{
			Window: 1,
		},
	}
}

// Validate returns aggregated error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.Transport.BufferSize < 1 {
		return fmt.Errorf("transport.bufferSize must be > 0")
	}
	if c.Transport.PollIntervalMs < 0 {
		return fmt.Errorf("transport.pollIntervalMs must be >= 0")
	}
	if c.Dispatcher.Window < 1 {
		return fmt.Errorf("dispatcher.window must be > 0")
	}
	if c.Policy != nil {
		switch {
		case c.Policy.Mode == "",
			strings.EqualFold(c.Policy.Mode, policy.ModeCollect),
			strings.EqualFold(c.Policy.Mode, policy.ModeFailFast):
		default:
			return fmt.Errorf("unsupported policy.mode: %q", c.Policy.Mode)
		}
	}
	return nil
}

// NewConfigFromYAML decodes a Config from YAML bytes. Fields absent from the
// document keep their defaults.
func NewConfigFromYAML(data []byte) (*Config, error) {
	ret := DefaultConfig()
	if err := yaml.Unmarshal(data, ret); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := ret.Validate(); err != nil {
		return nil, err
	}
	return ret, nil
}

// NewConfigFromURL loads a YAML Config from the supplied URL (file, embed or
// any other scheme the storage layer understands).
func NewConfigFromURL(ctx context.Context, fs afs.Service, URL string) (*Config, error) {
	if fs == nil {
		fs = afs.New()
	}
	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %v: %w", URL, err)
	}
	return NewConfigFromYAML(data)
}
