// Parses flags and configures logging for the popbuild command.
//
// The command accepts the following global flags:
//
//	-q, --quiet     Suppress informational output.
//	-v, --verbose   Enable verbose output.
//	-d, --debug     Enable debug output.
//	-s, --socket    Unix socket path of the daemon.
//	-c, --config    Pipeline file.
//
// Flags override build-time defaults set via linker flags and can also be set
// through POPBUILD_* environment variables. After parsing, the global logger
// is reconfigured to reflect the final level and verbosity before the
// selected subcommand runs.
//
// The build and plan subcommands work locally. The start subcommand runs the
// build daemon, and submit, status and shutdown talk to it.
package cli
