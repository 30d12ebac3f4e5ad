package processor

import (
	"errors"
	"strings"

	"pdsync/internal/model"
)

// errTimeout is returned by withTimeout when a Client call exceeds its
// budget; always classified TRANSIENT_NETWORK regardless of the wrapped
// call's own error text.
var errTimeout = errors.New("processor: operation timed out")

// classify maps a Client/local error to spec.md §4.4's error classes. The
// Client interface (core.Client) does not surface HTTP status codes or
// typed errors — MemoryClient and HTTPClient both return plain errors — so
// classification here is necessarily keyword-based against error text.
// This is a stand-in for a real DriveClient's typed error surface; a
// production HTTPClient implementation would classify from status codes
// directly rather than by string matching.
func classify(err error) model.ErrorClass {
	if err == nil {
		return model.ErrPermanent
	}
	if errors.Is(err, errTimeout) {
		return model.ErrTransientNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return model.ErrRateLimited
	case strings.Contains(msg, "connection") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "reset") || strings.Contains(msg, "eof") ||
		strings.Contains(msg, "5xx") || strings.Contains(msg, "unavailable"):
		return model.ErrTransientNetwork
	case strings.Contains(msg, "integrity") || strings.Contains(msg, "checksum") ||
		strings.Contains(msg, "revision conflict") || strings.Contains(msg, "409"):
		return model.ErrReuploadNeeded
	default:
		// Conservative default: block rather than retry forever on an
		// error shape this table doesn't recognize.
		return model.ErrPermanent
	}
}
