package history

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightsmile-dental/ar-engine/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns a Repository backed by the ar_ledger_entries table.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) LatestEntryDate(ctx context.Context) (*time.Time, error) {
	var latest *time.Time
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT MAX(transaction_date) FROM ar_ledger_entries`).Scan(&latest)
	if err != nil {
		return nil, err
	}
	return latest, nil
}

func (r *repoPG) ReplaceSince(ctx context.Context, cutoff time.Time, entries []Entry) error {
	if _, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM ar_ledger_entries WHERE transaction_date >= $1`, cutoff); err != nil {
		return err
	}
	for _, e := range entries {
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO ar_ledger_entries (
				patient_id, procedure_id, transaction_date, amount,
				transaction_type, payment_ref, adjustment_ref,
				transaction_category, balance_impact, insurance_transaction_flag)
			VALUES ($1,$2,$3,$4::numeric,$5,$6,$7,$8,$9,$10)`,
			e.PatientID, e.ProcedureID, e.Date, e.Amount.String(),
			string(e.Type), e.PaymentRef, e.AdjustmentRef,
			e.Category, string(e.Impact), e.InsuranceFlag)
		if err != nil {
			return err
		}
	}
	return nil
}
