package logger

import (
	"context"
	"fmt"
	"os"
)

type stderrLoggerOutlet struct{}

func (stderrLoggerOutlet) WriteEntry(ctx context.Context, entry Entry) error {
	fmt.Fprintf(os.Stderr, "%#v\n", entry)
	return nil
}

// NewStderrDebugLogger returns a Logger that writes every entry, Debug and
// above, to os.Stderr. Intended for the rpcping/rpcstat demo binaries and
// ad-hoc debugging, not for production outlets (those should use a
// timeout-respecting, rate-limited outlet instead).
func NewStderrDebugLogger() *Logger {
	outlets := NewOutlets()
	outlets.Add(&stderrLoggerOutlet{}, Debug)
	return NewLogger(outlets, 100)
}
