// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package spdy

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the session-construction options named in §6 External
// Interfaces: max_concurrent_streams, initial_recv_window_size,
// enable_server_push, send_goaway_on_shutdown.
type Config struct {
	MaxConcurrentStreams  uint32 `yaml:"max_concurrent_streams"`
	InitialRecvWindowSize uint32 `yaml:"initial_recv_window_size"`
	EnableServerPush      bool   `yaml:"enable_server_push"`
	SendGoawayOnShutdown  bool   `yaml:"send_goaway_on_shutdown"`
}

// DefaultConfig returns the configuration this core falls back to absent
// an explicit file; max_concurrent_streams=100 matches the teacher's
// session.maxStreams default.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrentStreams:  100,
		InitialRecvWindowSize: 64 << 10,
		EnableServerPush:      false,
		SendGoawayOnShutdown:  true,
	}
}

// LoadConfig reads a YAML config file and overlays it onto DefaultConfig,
// so a file only needs to name the options it wants to override.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "spdy: open config file")
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "spdy: decode config file")
	}
	return cfg, nil
}

// Validate checks the invariants §6 places on a Config's fields.
func (c *Config) Validate() error {
	if c.MaxConcurrentStreams == 0 {
		return errors.New("spdy: max_concurrent_streams must be positive")
	}
	if c.InitialRecvWindowSize == 0 || c.InitialRecvWindowSize > 0x7fffffff {
		return errors.New("spdy: initial_recv_window_size must be in [1, 2^31-1]")
	}
	return nil
}
