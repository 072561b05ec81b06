package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/cruciblehq/popbuild/internal"
	"github.com/cruciblehq/popbuild/internal/logging"
	"github.com/cruciblehq/popbuild/internal/runtime"
)

// Represents the root command for popbuild.
var RootCmd struct {
	Quiet   bool   `short:"q" env:"POPBUILD_QUIET" help:"Suppress informational output."`
	Verbose bool   `short:"v" env:"POPBUILD_VERBOSE" help:"Enable verbose output."`
	Debug   bool   `short:"d" env:"POPBUILD_DEBUG" help:"Enable debug output."`
	Socket  string `short:"s" env:"POPBUILD_SOCKET" help:"Override the default Unix socket path." placeholder:"PATH"`
	Config  string `short:"c" env:"POPBUILD_CONFIG" help:"Pipeline file. Defaults to ${pipeline_file} when present." placeholder:"PATH" type:"path"`

	Build    BuildCmd    `cmd:"" help:"Build the image against the local containerd."`
	Plan     PlanCmd     `cmd:"" help:"Print the build steps without running them."`
	Start    StartCmd    `cmd:"" help:"Start the build daemon."`
	Submit   SubmitCmd   `cmd:"" help:"Submit a build to the daemon."`
	Status   StatusCmd   `cmd:"" help:"Show daemon status."`
	Shutdown ShutdownCmd `cmd:"" help:"Stop the daemon."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`
}

// Parses arguments, configures logging, and runs the selected subcommand.
func Execute() error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("Packages the pop CLI as a container image.\n\nCompiles pop in a builder container, copies the binary into a minimal runtime image, bootstraps its dependencies and exports the result."),
		kong.UsageOnError(),
		kong.Vars{
			"version":              internal.VersionString(),
			"pipeline_file":        pipelineFile(),
			"containerd_address":   runtime.DefaultAddress,
			"containerd_namespace": runtime.DefaultNamespace,
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	configureLogger()

	return kongCtx.Run()
}

// Configures the global logger based on CLI flags.
func configureLogger() {
	handler, ok := slog.Default().Handler().(*logging.Handler)
	if !ok {
		return // Not a logging.Handler, nothing to configure
	}

	debug := RootCmd.Debug || internal.IsDebug()
	quiet := RootCmd.Quiet || internal.IsQuiet()
	verbose := RootCmd.Verbose || internal.IsVerbose()

	// Configure formatter
	formatter := logging.NewPrettyFormatter(os.Stderr)
	formatter.SetVerbose(verbose)

	// Configure handler
	if debug {
		handler.SetLevel(slog.LevelDebug)
	} else if quiet {
		handler.SetLevel(slog.LevelWarn)
	} else {
		handler.SetLevel(slog.LevelInfo)
	}

	// Commit
	handler.SetFormatter(formatter)
	handler.SetStream(os.Stderr)
	handler.Flush()
}
