// Package client sends commands to the popbuild daemon.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/cruciblehq/popbuild/internal/paths"
	"github.com/cruciblehq/popbuild/internal/protocol"
)

var (
	ErrUnavailable = errors.New("daemon unavailable")
	ErrResponse    = errors.New("invalid daemon response")
)

// Connects to the daemon socket.
type Client struct {
	socketPath string
}

// Creates a client for socketPath. Empty uses [paths.Socket].
func New(socketPath string) *Client {
	if socketPath == "" {
		socketPath = paths.Socket()
	}
	return &Client{socketPath: socketPath}
}

// Sends a build request and waits for the result.
func (c *Client) Build(ctx context.Context, req *protocol.BuildRequest) (*protocol.BuildResult, error) {
	return call[protocol.BuildResult](ctx, c, protocol.CmdBuild, req)
}

// Queries the daemon status.
func (c *Client) Status(ctx context.Context) (*protocol.StatusResult, error) {
	return call[protocol.StatusResult](ctx, c, protocol.CmdStatus, nil)
}

// Asks the daemon to stop.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := call[struct{}](ctx, c, protocol.CmdShutdown, nil)
	return err
}

// Performs one request-response exchange.
//
// An error response is returned as a *protocol.ErrorResult. Cancelling ctx
// closes the connection, which cancels the request on the daemon.
func call[T any](ctx context.Context, c *Client, cmd protocol.Command, payload any) (*T, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	data, err := protocol.Encode(cmd, payload)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrResponse, err)
	}

	env, raw, err := protocol.Decode(line)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResponse, err)
	}

	switch env.Command {
	case protocol.CmdOK:
		return protocol.DecodePayload[T](raw)
	case protocol.CmdError:
		result, err := protocol.DecodePayload[protocol.ErrorResult](raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrResponse, err)
		}
		return nil, result
	default:
		return nil, fmt.Errorf("%w: unexpected command %q", ErrResponse, env.Command)
	}
}
