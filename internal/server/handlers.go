package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cruciblehq/popbuild/internal"
	"github.com/cruciblehq/popbuild/internal/build"
	"github.com/cruciblehq/popbuild/internal/config"
	"github.com/cruciblehq/popbuild/internal/metrics"
	"github.com/cruciblehq/popbuild/internal/protocol"
)

// Handles a build command.
//
// Builds run one at a time; a request waits for the running build to finish.
// The request is cancelled if the client disconnects while waiting or
// building.
func (s *Server) handleBuild(ctx context.Context, conn net.Conn, payload json.RawMessage) {
	opts, err := buildOptions(payload)
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	if err := ctx.Err(); err != nil {
		slog.Info("build abandoned by client")
		return
	}

	s.setBuilding(true)
	start := time.Now()
	result, err := s.run(ctx, opts)
	s.record(err, time.Since(start))

	if err != nil {
		slog.Error("build failed", "error", err)
		s.respond(conn, protocol.CmdError, errorResult(err))
		return
	}

	res := &protocol.BuildResult{
		Archive:  result.Archive,
		Tag:      result.Tag,
		Platform: result.Platform,
		Phase:    string(result.Phase),
		Duration: result.Duration.Round(time.Millisecond).String(),
	}
	if result.Toolchain != nil {
		res.Toolchain = result.Toolchain.Toolchain
		res.Branch = string(result.Toolchain.Branch)
	}

	s.respond(conn, protocol.CmdOK, res)
}

// Decodes a build request into build options.
//
// The daemon does not share the client's working directory, so the source
// tree and output must be absolute.
func buildOptions(payload json.RawMessage) (build.Options, error) {
	req, err := protocol.DecodePayload[protocol.BuildRequest](payload)
	if err != nil {
		return build.Options{}, err
	}

	pipeline := config.Default()
	if req.Pipeline != "" {
		if pipeline, err = config.Parse([]byte(req.Pipeline)); err != nil {
			return build.Options{}, err
		}
	}

	switch {
	case !filepath.IsAbs(pipeline.Source):
		return build.Options{}, wrapf(ErrBadRequest, "source %q must be absolute", pipeline.Source)
	case !filepath.IsAbs(req.Output):
		return build.Options{}, wrapf(ErrBadRequest, "output %q must be absolute", req.Output)
	}

	return build.Options{
		Pipeline: pipeline,
		Output:   req.Output,
		Tag:      req.Tag,
	}, nil
}

// Converts a build error into an error response carrying the failing step.
func errorResult(err error) *protocol.ErrorResult {
	res := &protocol.ErrorResult{Message: err.Error()}

	var buildErr *build.BuildError
	if errors.As(err, &buildErr) {
		res.Phase = string(buildErr.Reached)
	}

	var stepErr *build.StepError
	if errors.As(err, &stepErr) {
		res.Sequence = stepErr.Sequence
		res.Step = stepErr.Step
		res.ExitCode = stepErr.ExitCode
	}

	return res
}

func (s *Server) setBuilding(building bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.building = building
}

// Updates the counters and metrics for a finished build.
func (s *Server) record(err error, d time.Duration) {
	outcome, phase := metrics.OutcomeSuccess, string(build.PhaseReady)
	if err != nil {
		outcome, phase = metrics.OutcomeFailure, string(build.PhaseStart)

		var buildErr *build.BuildError
		if errors.As(err, &buildErr) {
			phase = string(buildErr.Reached)
		}
	}

	s.metrics.ObserveBuild(outcome, phase, d)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.building = false
	s.builds++
	if err != nil {
		s.failures++
	}
	s.lastOutcome = outcome
}

// Handles a status command.
func (s *Server) handleStatus(conn net.Conn) {
	s.mu.Lock()
	status := &protocol.StatusResult{
		Running:     true,
		Version:     internal.VersionString(),
		Pid:         os.Getpid(),
		Uptime:      time.Since(s.startedAt).Truncate(time.Second).String(),
		Building:    s.building,
		Builds:      s.builds,
		Failures:    s.failures,
		LastOutcome: s.lastOutcome,
	}
	s.mu.Unlock()

	s.respond(conn, protocol.CmdOK, status)
}

// Handles a shutdown command.
func (s *Server) handleShutdown(conn net.Conn) {
	s.respond(conn, protocol.CmdOK, nil)
	slog.Info("shutdown requested")

	go func() {
		s.Stop()
	}()
}
