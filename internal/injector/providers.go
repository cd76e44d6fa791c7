// Package injector wires clients and servers from their configuration.
package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/wsclient/internal/core/observability/log"
	"github.com/zeusync/wsclient/internal/core/protocol"
	"github.com/zeusync/wsclient/internal/server"
	"github.com/zeusync/wsclient/sdk/go/client"
)

var ClientSet = wire.NewSet(ProvideClientLogger, ProvideClientTransport, ProvideClient)

var ServerSet = wire.NewSet(ProvideServerLogger, ProvideServer)

func ProvideClientLogger(cfg client.Config) (log.Log, error) {
	return provideLogger(cfg.LogLevel)
}

func ProvideClientTransport(cfg client.Config, logger log.Log) protocol.Transport {
	return client.NewTransport(cfg, logger)
}

func ProvideClient(cfg client.Config, logger log.Log, transport protocol.Transport) (*client.Client, error) {
	return client.NewClient(cfg, client.WithLogger(logger), client.WithTransport(transport))
}

func ProvideServerLogger(cfg server.Config) (log.Log, error) {
	return provideLogger(cfg.LogLevel)
}

func ProvideServer(cfg server.Config, logger log.Log) (*server.Server, error) {
	return server.NewServer(cfg, logger)
}

func provideLogger(level string) (log.Log, error) {
	l, err := log.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return log.New(l), nil
}
