package engine

import "context"

// RunRepository persists run summaries.
type RunRepository interface {
	Insert(ctx context.Context, rs *RunSummary) error
	// ListRecent pages through runs newest first and reports the total count.
	ListRecent(ctx context.Context, limit, offset int) ([]*RunSummary, int, error)
}
