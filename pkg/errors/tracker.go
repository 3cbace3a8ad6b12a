package errors

import (
	"context"
)

// Tracker reports failures to an external error tracking service
type Tracker interface {
	// CaptureError sends an error; tags carry command name, actor and entity ids
	CaptureError(ctx context.Context, err error, tags map[string]string) error

	// CaptureMessage sends a message at the given level
	CaptureMessage(ctx context.Context, message string, level Level, tags map[string]string) error

	// AddBreadcrumb records a workflow step leading up to a later error
	AddBreadcrumb(ctx context.Context, message string, category string, level Level, data map[string]interface{})

	// Flush waits for pending events to be sent
	Flush(ctx context.Context) error
}

// Level represents the severity level of an error or message
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelFatal   Level = "fatal"
)

// String returns the string representation of the level
func (l Level) String() string {
	return string(l)
}
