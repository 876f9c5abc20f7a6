// internal/retrieval/backend.go
package retrieval

import (
	"context"
	"errors"
	"strings"

	"product-discovery-workers/internal/models"
)

// Backend is one pluggable retrieval source. Implementations normalize
// their native result shape into models.RetrievedItem and must never
// fabricate a price or rating for items that lack one.
type Backend interface {
	Kind() models.BackendKind
	Search(ctx context.Context, call models.PlannedCall) ([]models.RetrievedItem, error)
}

var (
	// ErrUnavailable marks a transient backend failure worth one retry.
	ErrUnavailable = errors.New("BACKEND_UNAVAILABLE")
)

// IsTransient reports whether a search error is worth retrying once.
// Empty results are not errors and are never retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "status 5")
}
