package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/brightsmile-dental/ar-engine/internal/domain/fault"
)

// RunStatus is the terminal state of an engine run.
type RunStatus string

const (
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
)

// RunSummary is the accounting record of a single engine run. One row is
// persisted per run, successful or not, so operators can audit what each
// nightly pass read, wrote and rejected.
type RunSummary struct {
	RunID      uuid.UUID
	AsOf       time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Status     RunStatus

	PatientsProcessed     int
	TransactionsProcessed int
	BalancesWritten       int
	SnapshotsWritten      int
	HistoryEntriesWritten int
	DuplicateClaimsSeen   int

	RejectsByReason map[fault.Reason]int

	// Error is empty for successful runs.
	Error string
}

// TotalRejects sums the per-reason reject counts.
func (rs *RunSummary) TotalRejects() int {
	n := 0
	for _, c := range rs.RejectsByReason {
		n += c
	}
	return n
}
