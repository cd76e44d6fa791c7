//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/wsclient/internal/server"
	"github.com/zeusync/wsclient/sdk/go/client"
)

func InitializeClient(cfg client.Config) (*client.Client, error) {
	wire.Build(ClientSet)
	return nil, nil
}

func InitializeServer(cfg server.Config) (*server.Server, error) {
	wire.Build(ServerSet)
	return nil, nil
}
