package snapshot

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Snapshot is one patient's AR position at the close of one evaluation
// date. Rows are append-only: once a (snapshot_date, patient_id) pair is
// committed it is never mutated, and the next day's row is derived from it.
type Snapshot struct {
	SnapshotDate time.Time
	PatientID    int64

	TotalARBalance decimal.Decimal
	Bucket0to30    decimal.Decimal
	Bucket31to60   decimal.Decimal
	Bucket61to90   decimal.Decimal
	Bucket90Plus   decimal.Decimal

	PatientResponsibility   decimal.Decimal
	InsuranceResponsibility decimal.Decimal

	OpenProcedures int
	ActiveClaims   int

	// Prior-day counterparts; nil when no earlier snapshot exists.
	PreviousSnapshotDate *time.Time
	PreviousTotal        *decimal.Decimal

	BalanceChange    decimal.Decimal
	BalanceChangePct decimal.Decimal

	CollectionEfficiency30 decimal.Decimal
	CollectionEfficiency60 decimal.Decimal
	CollectionEfficiency90 decimal.Decimal

	RunID     uuid.UUID
	CreatedAt time.Time
}

// BucketTotal sums the four aging buckets.
func (s *Snapshot) BucketTotal() decimal.Decimal {
	return s.Bucket0to30.Add(s.Bucket31to60).Add(s.Bucket61to90).Add(s.Bucket90Plus)
}
