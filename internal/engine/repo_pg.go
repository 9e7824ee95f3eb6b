package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightsmile-dental/ar-engine/internal/domain/fault"
	"github.com/brightsmile-dental/ar-engine/internal/platform/db"
)

type runRepoPG struct {
	pool *pgxpool.Pool
}

// NewRunRepoPG returns a RunRepository backed by Postgres.
func NewRunRepoPG(pool *pgxpool.Pool) RunRepository {
	return &runRepoPG{pool: pool}
}

func (r *runRepoPG) conn(ctx context.Context) db.Queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *runRepoPG) Insert(ctx context.Context, rs *RunSummary) error {
	rejects, err := json.Marshal(rs.RejectsByReason)
	if err != nil {
		return fmt.Errorf("marshal rejects: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO ar_runs (
			run_id, as_of, started_at, finished_at, status,
			patients_processed, transactions_processed, balances_written,
			snapshots_written, history_entries_written, duplicate_claims_seen,
			rejects_by_reason, error
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12::jsonb,$13)`,
		rs.RunID, rs.AsOf, rs.StartedAt, rs.FinishedAt, string(rs.Status),
		rs.PatientsProcessed, rs.TransactionsProcessed, rs.BalancesWritten,
		rs.SnapshotsWritten, rs.HistoryEntriesWritten, rs.DuplicateClaimsSeen,
		rejects, rs.Error)
	if err != nil {
		return fmt.Errorf("insert ar_run: %w", err)
	}
	return nil
}

func (r *runRepoPG) ListRecent(ctx context.Context, limit, offset int) ([]*RunSummary, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM ar_runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count ar_runs: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT run_id, as_of, started_at, finished_at, status,
		       patients_processed, transactions_processed, balances_written,
		       snapshots_written, history_entries_written, duplicate_claims_seen,
		       rejects_by_reason, error
		FROM ar_runs
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list ar_runs: %w", err)
	}
	defer rows.Close()

	var out []*RunSummary
	for rows.Next() {
		var (
			rs      RunSummary
			status  string
			rejects []byte
		)
		if err := rows.Scan(&rs.RunID, &rs.AsOf, &rs.StartedAt, &rs.FinishedAt, &status,
			&rs.PatientsProcessed, &rs.TransactionsProcessed, &rs.BalancesWritten,
			&rs.SnapshotsWritten, &rs.HistoryEntriesWritten, &rs.DuplicateClaimsSeen,
			&rejects, &rs.Error); err != nil {
			return nil, 0, fmt.Errorf("scan ar_run: %w", err)
		}
		rs.Status = RunStatus(status)
		if len(rejects) > 0 {
			if err := json.Unmarshal(rejects, &rs.RejectsByReason); err != nil {
				return nil, 0, fmt.Errorf("unmarshal rejects: %w", err)
			}
		}
		if rs.RejectsByReason == nil {
			rs.RejectsByReason = map[fault.Reason]int{}
		}
		out = append(out, &rs)
	}
	return out, total, rows.Err()
}
