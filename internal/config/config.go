// Package config loads the YAML file shared by the hub and client commands.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/treesync/internal/core/observability/log"
	"github.com/zeusync/treesync/internal/server"
	"github.com/zeusync/treesync/sdk/go/client"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the whole configuration file. Sections that are missing keep
// their defaults.
type Config struct {
	Log    log.Config    `yaml:"log"`
	Hub    server.Config `yaml:"hub"`
	Client client.Config `yaml:"client"`
}

func Default() Config {
	return Config{
		Log:    log.DefaultConfig(),
		Hub:    server.DefaultServerConfig(),
		Client: client.DefaultClientConfig(),
	}
}

// Load reads and validates the file at path. An empty path yields the
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log: %v", ErrInvalidConfig, err)
	}
	if c.Log.Encoding != "json" && c.Log.Encoding != "console" {
		return fmt.Errorf("%w: log: unknown encoding %q", ErrInvalidConfig, c.Log.Encoding)
	}
	if err := c.Hub.Validate(); err != nil {
		return fmt.Errorf("%w: hub: %w", ErrInvalidConfig, err)
	}
	if err := c.Client.Validate(); err != nil {
		return fmt.Errorf("%w: client: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Encode renders c as YAML.
func (c Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
