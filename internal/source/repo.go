package source

import "context"

// Repository reads the practice-management source tables. Implementations
// must never write to them.
type Repository interface {
	// LoadExtract reads every AR-relevant source row in one pass.
	LoadExtract(ctx context.Context) (*Extract, error)
}
