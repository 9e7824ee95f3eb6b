package source

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/brightsmile-dental/ar-engine/internal/domain/fault"
)

// sentinelAmount is the placeholder the practice-management system writes
// into monetary columns it has not determined yet.
const sentinelAmount = -1.0

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns a Repository backed by the source schema in Postgres.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) LoadExtract(ctx context.Context) (*Extract, error) {
	ex := &Extract{}

	if err := r.loadProcedures(ctx, ex); err != nil {
		return nil, fmt.Errorf("load procedures: %w", err)
	}
	if err := r.loadPayments(ctx, ex); err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}
	if err := r.loadAdjustments(ctx, ex); err != nil {
		return nil, fmt.Errorf("load adjustments: %w", err)
	}
	if err := r.loadClaims(ctx, ex); err != nil {
		return nil, fmt.Errorf("load claims: %w", err)
	}

	return ex, nil
}

func (r *repoPG) loadProcedures(ctx context.Context, ex *Extract) error {
	rows, err := r.pool.Query(ctx, `
		SELECT procedure_id, patient_id, provider_id, procedure_date,
		       fee::float8, status
		FROM procedures
		ORDER BY procedure_id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var p Procedure
		var fee *float64
		if err := rows.Scan(&p.ProcedureID, &p.PatientID, &p.ProviderID,
			&p.Date, &fee, &p.Status); err != nil {
			return err
		}
		p.Fee = decodeAmount(fee, &ex.Faults, fault.Fault{
			Reason:      fault.SentinelValue,
			PatientID:   p.PatientID,
			ProcedureID: p.ProcedureID,
			Detail:      "procedure fee undetermined",
		})
		ex.Procedures = append(ex.Procedures, p)
	}
	return rows.Err()
}

func (r *repoPG) loadPayments(ctx context.Context, ex *Extract) error {
	rows, err := r.pool.Query(ctx, `
		SELECT payment_id, patient_id, COALESCE(procedure_id, 0), payment_date,
		       amount::float8, payer_type = 'INSURANCE', include_in_ar,
		       COALESCE(payment_category, '')
		FROM payment_allocations
		ORDER BY payment_id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var p Payment
		var amount float64
		if err := rows.Scan(&p.PaymentID, &p.PatientID, &p.ProcedureID, &p.Date,
			&amount, &p.FromInsurance, &p.IncludeInAR, &p.Category); err != nil {
			return err
		}
		p.Amount = decimal.NewFromFloat(amount)
		ex.Payments = append(ex.Payments, p)
	}
	return rows.Err()
}

func (r *repoPG) loadAdjustments(ctx context.Context, ex *Extract) error {
	rows, err := r.pool.Query(ctx, `
		SELECT adjustment_id, patient_id, COALESCE(procedure_id, 0), adjustment_date,
		       amount::float8, COALESCE(category, ''), procedure_adjustment,
		       retroactive, include_in_ar
		FROM adjustments
		ORDER BY adjustment_id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var a Adjustment
		var amount float64
		if err := rows.Scan(&a.AdjustmentID, &a.PatientID, &a.ProcedureID, &a.Date,
			&amount, &a.Category, &a.AffectsProcedure, &a.Retroactive,
			&a.IncludeInAR); err != nil {
			return err
		}
		a.Amount = decimal.NewFromFloat(amount)
		ex.Adjustments = append(ex.Adjustments, a)
	}
	return rows.Err()
}

func (r *repoPG) loadClaims(ctx context.Context, ex *Extract) error {
	rows, err := r.pool.Query(ctx, `
		SELECT claim_id, patient_id, COALESCE(procedure_id, 0), status,
		       date_sent, date_received, insurance_estimate::float8
		FROM claims
		ORDER BY claim_id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var c Claim
		var estimate *float64
		var sent, received *time.Time
		if err := rows.Scan(&c.ClaimID, &c.PatientID, &c.ProcedureID, &c.Status,
			&sent, &received, &estimate); err != nil {
			return err
		}
		c.DateSent = sent
		c.DateReceived = received
		c.InsuranceEstimate = decodeAmount(estimate, &ex.Faults, fault.Fault{
			Reason:      fault.SentinelValue,
			PatientID:   c.PatientID,
			ProcedureID: c.ProcedureID,
			Detail:      "insurance estimate undetermined",
		})
		ex.Claims = append(ex.Claims, c)
	}
	return rows.Err()
}

// decodeAmount converts a nullable source amount to a decimal, turning the
// -1.0 placeholder into an absent value and recording the recognition.
func decodeAmount(v *float64, faults *[]fault.Fault, f fault.Fault) *decimal.Decimal {
	if v == nil {
		return nil
	}
	if *v == sentinelAmount {
		*faults = append(*faults, f)
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}
