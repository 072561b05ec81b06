// Package logging provides the slog handler used by popbuild.
//
// The handler buffers every record until [Handler.Flush] is called. This lets
// the program log from the first line of main, before command-line flags have
// decided the final level, format and output stream. Once flushed, buffered
// records that pass the final level are written and later records are written
// directly.
//
// Example usage:
//
//	h := logging.NewHandler()
//	slog.SetDefault(slog.New(h.WithGroup("popbuild")))
//
//	// ... parse flags ...
//
//	h.SetLevel(slog.LevelDebug)
//	h.SetFormatter(logging.NewPrettyFormatter(os.Stderr))
//	h.Flush()
package logging
