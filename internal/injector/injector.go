//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/treesync/internal/config"
	"github.com/zeusync/treesync/internal/server"
	"github.com/zeusync/treesync/sdk/go/client"
)

func InitializeHub(cfg config.Config) (*server.Server, func(), error) {
	wire.Build(
		wire.FieldsOf(new(config.Config), "Log", "Hub"),
		ProvideLogger,
		server.LoadState,
		ProvideHub,
	)
	return nil, nil, nil
}

func InitializeClient(cfg config.Config) (*client.Client, func(), error) {
	wire.Build(
		wire.FieldsOf(new(config.Config), "Log", "Client"),
		ProvideLogger,
		ProvideClient,
	)
	return nil, nil, nil
}
