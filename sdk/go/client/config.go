package client

import (
	"fmt"
	"time"

	"github.com/zeusync/treesync/internal/transport"
)

// Config holds configuration for the client
type Config struct {
	Transport transport.Kind `yaml:"transport"`
	HubAddr   string         `yaml:"hub_addr"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// AnswerTimeout bounds one exchange, from sending the patch to receiving
	// the hub's answer. An exchange that times out triggers a resync.
	AnswerTimeout time.Duration `yaml:"answer_timeout"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() Config {
	return Config{
		Transport:      transport.KindWebsocket,
		HubAddr:        "127.0.0.1:8080",
		ConnectTimeout: 10 * time.Second,
		AnswerTimeout:  5 * time.Second,
		PollInterval:   time.Second,
	}
}

func (c Config) Validate() error {
	if !c.Transport.Valid() {
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}
	if c.HubAddr == "" {
		return fmt.Errorf("%w: empty hub_addr", ErrInvalidConfig)
	}
	if c.ConnectTimeout <= 0 || c.AnswerTimeout <= 0 || c.PollInterval <= 0 {
		return fmt.Errorf("%w: timeouts and poll_interval must be positive", ErrInvalidConfig)
	}
	return nil
}
