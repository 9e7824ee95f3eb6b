package balance

import "context"

// Repository persists the derived procedure_balances table. The table is
// wholly owned by the aggregator: every run replaces its contents inside
// the run transaction.
type Repository interface {
	Replace(ctx context.Context, balances []ProcedureBalance) error
	ListByPatient(ctx context.Context, patientID int64) ([]ProcedureBalance, error)
}
