package injector

import (
	"github.com/zeusync/treesync/internal/core/observability/log"
	"github.com/zeusync/treesync/internal/core/state"
	"github.com/zeusync/treesync/internal/server"
	"github.com/zeusync/treesync/sdk/go/client"
)

// ProvideLogger builds the process logger and flushes it on cleanup.
func ProvideLogger(cfg log.Config) (log.Log, func(), error) {
	logger, err := log.NewWithConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	return logger, func() { _ = logger.Sync() }, nil
}

func ProvideHub(cfg server.Config, st *state.State, logger log.Log) (*server.Server, func()) {
	srv := server.NewServer(cfg, st, logger)
	return srv, func() { _ = srv.Close() }
}

func ProvideClient(cfg client.Config, logger log.Log) (*client.Client, func(), error) {
	c, err := client.NewClient(cfg, client.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return c, func() { _ = c.Close() }, nil
}
