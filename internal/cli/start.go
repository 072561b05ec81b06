package cli

import (
	"context"
	"log/slog"

	"github.com/cruciblehq/popbuild/internal"
	"github.com/cruciblehq/popbuild/internal/server"
)

// Represents the 'popbuild start' command.
type StartCmd struct {
	Address        string `help:"Containerd socket address." default:"${containerd_address}" env:"POPBUILD_CONTAINERD_ADDRESS"`
	Namespace      string `help:"Containerd namespace." default:"${containerd_namespace}" env:"POPBUILD_CONTAINERD_NAMESPACE"`
	MetricsAddress string `help:"Serve Prometheus metrics on this address." placeholder:"HOST:PORT" env:"POPBUILD_METRICS_ADDRESS"`
}

// Executes the start command.
//
// Starts the daemon on a Unix domain socket and blocks until the context is
// cancelled (e.g. via SIGINT or SIGTERM) or a shutdown command is received.
func (c *StartCmd) Run(ctx context.Context) error {
	srv, err := server.New(server.Config{
		SocketPath:          RootCmd.Socket,
		ContainerdAddress:   c.Address,
		ContainerdNamespace: c.Namespace,
		MetricsAddress:      c.MetricsAddress,
	})
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		return err
	}

	slog.Info(internal.Name + " is running")

	select {
	case <-ctx.Done():
	case <-srv.Done():
	}

	slog.Info("shutting down")
	return srv.Stop()
}
