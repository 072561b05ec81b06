package internal

import (
	"strconv"
	"sync/atomic"
)

// Output mode flags. Seeded from linker variables and overridden by CLI flags.
var (
	quiet   atomic.Bool
	debug   atomic.Bool
	verbose atomic.Bool
)

func init() {
	seed(&quiet, rawQuiet)
	seed(&debug, rawDebug)
	seed(&verbose, rawVerbose)
}

// Stores a parsed linker variable. Unparseable values leave the flag unset.
func seed(flag *atomic.Bool, raw string) {
	if v, err := strconv.ParseBool(raw); err == nil {
		flag.Store(v)
	}
}

// Enables or disables quiet mode.
func SetQuiet(enabled bool) { quiet.Store(enabled) }

// Returns true if quiet mode is enabled.
func IsQuiet() bool { return quiet.Load() }

// Enables or disables debug mode.
func SetDebug(enabled bool) { debug.Store(enabled) }

// Returns true if debug mode is enabled.
func IsDebug() bool { return debug.Load() }

// Enables or disables verbose output.
func SetVerbose(enabled bool) { verbose.Store(enabled) }

// Returns true if verbose output is enabled.
func IsVerbose() bool { return verbose.Load() }
