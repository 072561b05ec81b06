// Package server implements the popbuild daemon.
//
// The daemon listens on a Unix domain socket for JSON-encoded commands
// from the popbuild CLI. Each connection carries a single request-response
// exchange: the client sends a newline-delimited JSON envelope, the
// server dispatches the command, and writes the result back before
// closing the connection.
//
// Supported commands are build, status and shutdown. Builds are delegated
// to the build package and run one at a time, since the stage containers
// of a build are named after the resource. When a metrics address is
// configured, build counters and durations are served to Prometheus.
//
// Example usage:
//
//	srv, err := server.New(server.Config{
//	    ContainerdAddress:   "/run/containerd/containerd.sock",
//	    ContainerdNamespace: "popbuild",
//	    MetricsAddress:      "127.0.0.1:9464",
//	})
//	if err != nil {
//	    return err
//	}
//
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop()
//
//	<-srv.Done()
package server
