package audit

import (
	"context"
	"time"

	dErrors "panelbot/pkg/domain-errors"
)

// ErrNotFound keeps storage-specific 404s consistent across implementations.
var ErrNotFound = dErrors.New(dErrors.CodeNotFound, "record not found")

// Store is the append-only security-event log. Events are never updated or
// deleted; history queries return the user's events newest first.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByUser(ctx context.Context, userID string, since time.Time) ([]Event, error)
}
