package logging

import (
	"context"
	"os"
)

var exit = os.Exit

// Fatal logs msg at error level through l and terminates the process.
func Fatal(ctx context.Context, l Logger, msg string, args ...any) {
	l.Error(ctx, msg, args...)
	exit(1)
}
