package balance

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/brightsmile-dental/ar-engine/internal/domain/aging"
	"github.com/brightsmile-dental/ar-engine/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns a Repository backed by the procedure_balances table.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) Replace(ctx context.Context, balances []ProcedureBalance) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM procedure_balances`); err != nil {
		return err
	}
	for _, b := range balances {
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO procedure_balances (
				patient_id, procedure_id, provider_id,
				fee, insurance_payment_amount, patient_payment_amount,
				total_adjustment_amount, current_balance,
				patient_responsibility, insurance_pending_amount,
				responsible_party, claim_id, include_in_ar,
				reference_date, days_outstanding, aging_bucket)
			VALUES ($1,$2,$3,$4::numeric,$5::numeric,$6::numeric,$7::numeric,
				$8::numeric,$9::numeric,$10::numeric,$11,$12,$13,$14,$15,$16)`,
			b.PatientID, b.ProcedureID, b.ProviderID,
			b.Fee.String(), b.InsurancePaid.String(), b.PatientPaid.String(),
			b.AdjustmentTotal.String(), b.CurrentBalance.String(),
			b.PatientResponsibility.String(), b.InsurancePending.String(),
			string(b.ResponsibleParty), b.ClaimID, b.IncludeInAR,
			b.ReferenceDate, b.DaysOutstanding, string(b.AgingBucket))
		if err != nil {
			return err
		}
	}
	return nil
}

const balCols = `patient_id, procedure_id, provider_id,
	fee::float8, insurance_payment_amount::float8, patient_payment_amount::float8,
	total_adjustment_amount::float8, current_balance::float8,
	patient_responsibility::float8, insurance_pending_amount::float8,
	responsible_party, claim_id, include_in_ar,
	reference_date, days_outstanding, aging_bucket`

func (r *repoPG) ListByPatient(ctx context.Context, patientID int64) ([]ProcedureBalance, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+balCols+`
		FROM procedure_balances
		WHERE patient_id = $1
		ORDER BY procedure_id`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []ProcedureBalance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func scanBalance(row pgx.Row) (ProcedureBalance, error) {
	var b ProcedureBalance
	var fee, insPaid, patPaid, adj, cur, patResp, insPending float64
	var party, bucket string
	err := row.Scan(&b.PatientID, &b.ProcedureID, &b.ProviderID,
		&fee, &insPaid, &patPaid, &adj, &cur, &patResp, &insPending,
		&party, &b.ClaimID, &b.IncludeInAR,
		&b.ReferenceDate, &b.DaysOutstanding, &bucket)
	if err != nil {
		return b, err
	}
	b.Fee = decimal.NewFromFloat(fee)
	b.InsurancePaid = decimal.NewFromFloat(insPaid)
	b.PatientPaid = decimal.NewFromFloat(patPaid)
	b.AdjustmentTotal = decimal.NewFromFloat(adj)
	b.CurrentBalance = decimal.NewFromFloat(cur)
	b.PatientResponsibility = decimal.NewFromFloat(patResp)
	b.InsurancePending = decimal.NewFromFloat(insPending)
	b.ResponsibleParty = ResponsibleParty(party)
	b.AgingBucket = aging.Bucket(bucket)
	return b, nil
}
