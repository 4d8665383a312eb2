package resilience

import (
	"context"
	"errors"
	"os"
)

// classifyError buckets an error for log attributes. Unlike the original
// classifier this has no network-transport cases: the core never performs
// network I/O itself, only local filesystem access for rollback persistence
// and the chunk store.
func classifyError(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.Canceled):
		return "context_cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "context_deadline"
	case errors.Is(err, ErrIntegrityFailure):
		return "integrity"
	case errors.Is(err, ErrIOFailure):
		return "io"
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return "io"
	}
	return "unknown"
}
