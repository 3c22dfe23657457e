package server

import (
	"fmt"
	"os"
	"time"

	"github.com/zeusync/treesync/internal/core/observability/log"
	"github.com/zeusync/treesync/internal/core/state"
	"github.com/zeusync/treesync/internal/core/tree"
	"github.com/zeusync/treesync/internal/transport"
)

// ListenerConfig binds one transport.
type ListenerConfig struct {
	Transport transport.Kind `yaml:"transport"`
	Addr      string         `yaml:"addr"`
}

// Config holds hub configuration
type Config struct {
	Listeners []ListenerConfig `yaml:"listeners"`
	// MaxClients caps concurrent connections; zero means no limit.
	MaxClients int `yaml:"max_clients"`
	// MessageTimeout bounds each frame write.
	MessageTimeout time.Duration `yaml:"message_timeout"`
	// ClientTimeout disconnects clients that stay silent longer.
	ClientTimeout time.Duration `yaml:"client_timeout"`
	// InitialState is a JSON or YAML file holding the hub's starting tree.
	InitialState string `yaml:"initial_state"`
}

// DefaultServerConfig returns default hub configuration
func DefaultServerConfig() Config {
	return Config{
		Listeners: []ListenerConfig{
			{Transport: transport.KindWebsocket, Addr: "127.0.0.1:8080"},
		},
		MaxClients:     10_000,
		MessageTimeout: 10 * time.Second,
		ClientTimeout:  5 * time.Minute,
	}
}

func (c Config) Validate() error {
	if len(c.Listeners) == 0 {
		return fmt.Errorf("%w: no listeners", ErrInvalidConfig)
	}
	for i, l := range c.Listeners {
		if !l.Transport.Valid() {
			return fmt.Errorf("%w: listener %d: unknown transport %q", ErrInvalidConfig, i, l.Transport)
		}
		if l.Addr == "" {
			return fmt.Errorf("%w: listener %d: empty address", ErrInvalidConfig, i)
		}
	}
	if c.MaxClients < 0 {
		return fmt.Errorf("%w: negative max_clients", ErrInvalidConfig)
	}
	if c.MessageTimeout <= 0 {
		return fmt.Errorf("%w: message_timeout must be positive", ErrInvalidConfig)
	}
	if c.ClientTimeout <= 0 {
		return fmt.Errorf("%w: client_timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// LoadState builds the hub's state from the configured initial state file,
// or an empty map when none is configured.
func LoadState(config Config, logger log.Log) (*state.State, error) {
	if logger == nil {
		logger = log.Nop()
	}
	if config.InitialState == "" {
		return state.Empty(state.WithLogger(logger), state.WithoutChangeLog()), nil
	}
	data, err := os.ReadFile(config.InitialState)
	if err != nil {
		return nil, err
	}
	// YAML is a superset of JSON
	init, err := tree.ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", config.InitialState, err)
	}
	return state.New(init, state.WithLogger(logger), state.WithoutChangeLog())
}
