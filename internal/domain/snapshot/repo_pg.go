package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/brightsmile-dental/ar-engine/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns a Repository backed by the aging_snapshots table.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const snapCols = `snapshot_date, patient_id, total_ar_balance,
	bucket_0_30, bucket_31_60, bucket_61_90, bucket_90_plus,
	patient_responsibility, insurance_responsibility,
	open_procedures_count, active_claims_count,
	previous_snapshot_date, previous_total,
	ar_balance_change, ar_balance_change_pct,
	collection_efficiency_30, collection_efficiency_60, collection_efficiency_90,
	run_id, created_at`

func (r *repoPG) Upsert(ctx context.Context, snaps []*Snapshot) error {
	for _, s := range snaps {
		var prevTotal *string
		if s.PreviousTotal != nil {
			v := s.PreviousTotal.String()
			prevTotal = &v
		}
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO aging_snapshots (`+snapCols+`)
			VALUES ($1,$2,$3::numeric,$4::numeric,$5::numeric,$6::numeric,$7::numeric,
				$8::numeric,$9::numeric,$10,$11,$12,$13::numeric,$14::numeric,$15::numeric,
				$16::numeric,$17::numeric,$18::numeric,$19,NOW())
			ON CONFLICT (snapshot_date, patient_id) DO UPDATE SET
				total_ar_balance = EXCLUDED.total_ar_balance,
				bucket_0_30 = EXCLUDED.bucket_0_30,
				bucket_31_60 = EXCLUDED.bucket_31_60,
				bucket_61_90 = EXCLUDED.bucket_61_90,
				bucket_90_plus = EXCLUDED.bucket_90_plus,
				patient_responsibility = EXCLUDED.patient_responsibility,
				insurance_responsibility = EXCLUDED.insurance_responsibility,
				open_procedures_count = EXCLUDED.open_procedures_count,
				active_claims_count = EXCLUDED.active_claims_count,
				previous_snapshot_date = EXCLUDED.previous_snapshot_date,
				previous_total = EXCLUDED.previous_total,
				ar_balance_change = EXCLUDED.ar_balance_change,
				ar_balance_change_pct = EXCLUDED.ar_balance_change_pct,
				collection_efficiency_30 = EXCLUDED.collection_efficiency_30,
				collection_efficiency_60 = EXCLUDED.collection_efficiency_60,
				collection_efficiency_90 = EXCLUDED.collection_efficiency_90,
				run_id = EXCLUDED.run_id`,
			s.SnapshotDate, s.PatientID, s.TotalARBalance.String(),
			s.Bucket0to30.String(), s.Bucket31to60.String(), s.Bucket61to90.String(), s.Bucket90Plus.String(),
			s.PatientResponsibility.String(), s.InsuranceResponsibility.String(),
			s.OpenProcedures, s.ActiveClaims,
			s.PreviousSnapshotDate, prevTotal,
			s.BalanceChange.String(), s.BalanceChangePct.String(),
			s.CollectionEfficiency30.String(), s.CollectionEfficiency60.String(), s.CollectionEfficiency90.String(),
			s.RunID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) LatestBefore(ctx context.Context, patientID int64, date time.Time) (*Snapshot, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+selectCols+`
		FROM aging_snapshots
		WHERE patient_id = $1 AND snapshot_date < $2
		ORDER BY snapshot_date DESC
		LIMIT 1`, patientID, date)

	s, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (r *repoPG) ListByDate(ctx context.Context, date time.Time) ([]*Snapshot, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+selectCols+`
		FROM aging_snapshots
		WHERE snapshot_date = $1
		ORDER BY patient_id`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

const selectCols = `snapshot_date, patient_id, total_ar_balance::float8,
	bucket_0_30::float8, bucket_31_60::float8, bucket_61_90::float8, bucket_90_plus::float8,
	patient_responsibility::float8, insurance_responsibility::float8,
	open_procedures_count, active_claims_count,
	previous_snapshot_date, previous_total::float8,
	ar_balance_change::float8, ar_balance_change_pct::float8,
	collection_efficiency_30::float8, collection_efficiency_60::float8, collection_efficiency_90::float8,
	run_id, created_at`

func scanSnapshot(row pgx.Row) (*Snapshot, error) {
	var s Snapshot
	var total, b0, b31, b61, b90, patResp, insResp float64
	var change, changePct, eff30, eff60, eff90 float64
	var prevTotal *float64
	err := row.Scan(&s.SnapshotDate, &s.PatientID, &total,
		&b0, &b31, &b61, &b90,
		&patResp, &insResp,
		&s.OpenProcedures, &s.ActiveClaims,
		&s.PreviousSnapshotDate, &prevTotal,
		&change, &changePct,
		&eff30, &eff60, &eff90,
		&s.RunID, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.TotalARBalance = decimal.NewFromFloat(total)
	s.Bucket0to30 = decimal.NewFromFloat(b0)
	s.Bucket31to60 = decimal.NewFromFloat(b31)
	s.Bucket61to90 = decimal.NewFromFloat(b61)
	s.Bucket90Plus = decimal.NewFromFloat(b90)
	s.PatientResponsibility = decimal.NewFromFloat(patResp)
	s.InsuranceResponsibility = decimal.NewFromFloat(insResp)
	if prevTotal != nil {
		d := decimal.NewFromFloat(*prevTotal)
		s.PreviousTotal = &d
	}
	s.BalanceChange = decimal.NewFromFloat(change)
	s.BalanceChangePct = decimal.NewFromFloat(changePct)
	s.CollectionEfficiency30 = decimal.NewFromFloat(eff30)
	s.CollectionEfficiency60 = decimal.NewFromFloat(eff60)
	s.CollectionEfficiency90 = decimal.NewFromFloat(eff90)
	return &s, nil
}
