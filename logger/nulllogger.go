package logger

// NewNullLogger returns a Logger with no outlets attached: every log call
// is a no-op. Used as the default when a caller (e.g. transport.GetLogger)
// has no logger configured.
func NewNullLogger() *Logger {
	return NewLogger(NewOutlets(), 0)
}
