package history

import (
	"context"
	"time"
)

// Repository persists the append-only transaction history.
type Repository interface {
	// LatestEntryDate returns the newest recorded transaction date, or nil
	// when the history is empty.
	LatestEntryDate(ctx context.Context) (*time.Time, error)

	// ReplaceSince deletes every entry dated on or after cutoff and writes
	// the re-derived entries in their place. Entries before the cutoff are
	// never touched.
	ReplaceSince(ctx context.Context, cutoff time.Time, entries []Entry) error
}
