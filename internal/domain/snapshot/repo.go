package snapshot

import (
	"context"
	"time"
)

// PriorRepository is the single forward-time dependency edge of the
// snapshot chain: it resolves a patient's most recent committed snapshot
// strictly before a date. The builder never reads anything newer.
type PriorRepository interface {
	LatestBefore(ctx context.Context, patientID int64, date time.Time) (*Snapshot, error)
}

// Repository persists snapshots. Upsert must be keyed on
// (snapshot_date, patient_id) so a re-run of an already-snapshotted date
// with unchanged inputs rewrites identical rows instead of duplicating or
// deleting anything.
type Repository interface {
	PriorRepository
	Upsert(ctx context.Context, snaps []*Snapshot) error
	ListByDate(ctx context.Context, date time.Time) ([]*Snapshot, error)
}
