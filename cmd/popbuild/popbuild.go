package main

import (
	"log/slog"
	"os"

	"github.com/cruciblehq/popbuild/internal"
	"github.com/cruciblehq/popbuild/internal/cli"
	"github.com/cruciblehq/popbuild/internal/logging"
)

// Builds pop container images, either directly or through the build daemon.
//
// Exits with status 1 when the command fails. Build failures carry the last
// phase reached in the logged error.
func main() {
	handler := logging.NewHandler()
	handler.SetLevel(initialLevel())
	slog.SetDefault(slog.New(handler.WithGroup(internal.Name)))

	wd, _ := os.Getwd()
	slog.Debug("starting",
		"version", internal.VersionString(),
		"pid", os.Getpid(),
		"cwd", wd,
		"args", os.Args[1:],
	)

	if err := cli.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

// Level used until flags are parsed, taken from build-time linker flags.
func initialLevel() slog.Level {
	switch {
	case internal.IsDebug():
		return slog.LevelDebug
	case internal.IsQuiet():
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
