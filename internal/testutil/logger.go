package testutil

import (
	"testing"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/slogtest"
)

// Logger returns a debug level test logger. Error logs do not fail the test:
// several abort paths are expected to log at error level.
func Logger(t testing.TB) slog.Logger {
	return slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}).Leveled(slog.LevelDebug)
}
