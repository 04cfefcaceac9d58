package log

import "context"

// Fields carries structured key/value pairs for a log entry.
type Fields = map[string]any

// Logger is the structured logger handed to the session engine.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Fields)
	Info(ctx context.Context, msg string, fields ...Fields)
	Warn(ctx context.Context, msg string, fields ...Fields)
	Error(ctx context.Context, msg string, err error, fields ...Fields)
	Fatal(ctx context.Context, msg string, err error, fields ...Fields)
	// With returns a logger that adds fields to every entry.
	With(fields Fields) Logger
}
