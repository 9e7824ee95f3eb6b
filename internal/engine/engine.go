package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/brightsmile-dental/ar-engine/internal/domain/balance"
	"github.com/brightsmile-dental/ar-engine/internal/domain/fault"
	"github.com/brightsmile-dental/ar-engine/internal/domain/history"
	"github.com/brightsmile-dental/ar-engine/internal/domain/invariant"
	"github.com/brightsmile-dental/ar-engine/internal/domain/ledger"
	"github.com/brightsmile-dental/ar-engine/internal/domain/snapshot"
	"github.com/brightsmile-dental/ar-engine/internal/platform/db"
	"github.com/brightsmile-dental/ar-engine/internal/source"
)

const (
	DefaultWorkers         = 4
	DefaultRejectThreshold = 100
)

// TxRunner executes fn inside a single database transaction. The engine
// routes every write of a run through one TxRunner call so the derived
// tables move between consistent states atomically.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// NewPoolTxRunner adapts a pgx pool to a TxRunner.
func NewPoolTxRunner(pool *pgxpool.Pool) TxRunner {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.RunInTx(ctx, pool, fn)
	}
}

// Config carries the run-shaping knobs.
type Config struct {
	// Workers is the size of the per-patient fan-out pool.
	Workers int
	// LookbackDays is the history re-derivation window.
	LookbackDays int
	// RejectThreshold aborts the run when total rejected rows exceed it.
	// Zero disables the check.
	RejectThreshold int
}

// Engine drives one full derivation pass: load, unify, aggregate, snapshot,
// verify, commit.
type Engine struct {
	src       source.Repository
	balances  balance.Repository
	snapshots snapshot.Repository
	history   history.Repository
	runs      RunRepository
	inTx      TxRunner
	log       zerolog.Logger
	cfg       Config
}

func New(src source.Repository, bals balance.Repository, snaps snapshot.Repository,
	hist history.Repository, runs RunRepository, inTx TxRunner, logger zerolog.Logger, cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = history.DefaultLookbackDays
	}
	return &Engine{
		src:       src,
		balances:  bals,
		snapshots: snaps,
		history:   hist,
		runs:      runs,
		inTx:      inTx,
		log:       logger,
		cfg:       cfg,
	}
}

// Run executes one derivation pass evaluated as of the given date. It
// returns the run summary in both outcomes; a non-nil error means nothing
// was committed except the failed run record.
func (e *Engine) Run(ctx context.Context, asOf time.Time) (*RunSummary, error) {
	rs := &RunSummary{
		RunID:           uuid.New(),
		AsOf:            asOf,
		StartedAt:       time.Now().UTC(),
		RejectsByReason: map[fault.Reason]int{},
	}
	e.log.Info().Str("run_id", rs.RunID.String()).Time("as_of", asOf).Msg("engine run started")

	runErr := e.run(ctx, asOf, rs)
	if runErr != nil {
		rs.Status = RunFailed
		rs.Error = runErr.Error()
		rs.FinishedAt = time.Now().UTC()
		// The failed run record is written outside the aborted transaction.
		if err := e.runs.Insert(ctx, rs); err != nil {
			e.log.Warn().Err(err).Str("run_id", rs.RunID.String()).Msg("failed to record failed run")
		}
	}
	recordRunMetrics(rs)

	evt := e.log.Info()
	if runErr != nil {
		evt = e.log.Error().Err(runErr)
	}
	evt.Str("run_id", rs.RunID.String()).
		Str("status", string(rs.Status)).
		Int("patients", rs.PatientsProcessed).
		Int("transactions", rs.TransactionsProcessed).
		Int("snapshots", rs.SnapshotsWritten).
		Int("rejects", rs.TotalRejects()).
		Dur("elapsed", rs.FinishedAt.Sub(rs.StartedAt)).
		Msg("engine run finished")
	return rs, runErr
}

func (e *Engine) run(ctx context.Context, asOf time.Time, rs *RunSummary) error {
	ex, err := e.src.LoadExtract(ctx)
	if err != nil {
		return fmt.Errorf("load source extract: %w", err)
	}
	faults := append([]fault.Fault(nil), ex.Faults...)

	txns, unifyFaults := ledger.Unify(ex)
	faults = append(faults, unifyFaults...)
	rs.TransactionsProcessed = len(txns)
	rs.DuplicateClaimsSeen = balance.CountDuplicateClaims(ex.Claims)

	shards := shardByPatient(ex, txns)
	rs.PatientsProcessed = len(shards)

	allBalances, snaps, aggFaults, err := e.processPatients(ctx, asOf, rs.RunID, shards)
	if err != nil {
		return err
	}
	faults = append(faults, aggFaults...)

	for _, f := range faults {
		rs.RejectsByReason[f.Reason]++
		e.log.Warn().
			Str("reason", string(f.Reason)).
			Int64("patient_id", f.PatientID).
			Int64("procedure_id", f.ProcedureID).
			Str("detail", f.Detail).
			Msg("source row rejected")
	}
	if e.cfg.RejectThreshold > 0 && rs.TotalRejects() > e.cfg.RejectThreshold {
		return fmt.Errorf("rejected rows (%d) exceed threshold (%d)", rs.TotalRejects(), e.cfg.RejectThreshold)
	}

	if err := invariant.CheckAll(allBalances, snaps); err != nil {
		return fmt.Errorf("pre-commit verification: %w", err)
	}

	return e.inTx(ctx, func(ctx context.Context) error {
		if err := e.balances.Replace(ctx, allBalances); err != nil {
			return err
		}
		if err := e.snapshots.Upsert(ctx, snaps); err != nil {
			return err
		}
		latest, err := e.history.LatestEntryDate(ctx)
		if err != nil {
			return err
		}
		cutoff := history.RefreshWindow(latest, e.cfg.LookbackDays)
		entries := history.Build(txns, cutoff)
		if err := e.history.ReplaceSince(ctx, cutoff, entries); err != nil {
			return err
		}
		rs.BalancesWritten = len(allBalances)
		rs.SnapshotsWritten = len(snaps)
		rs.HistoryEntriesWritten = len(entries)
		rs.Status = RunSucceeded
		rs.FinishedAt = time.Now().UTC()
		return e.runs.Insert(ctx, rs)
	})
}

// patientShard is one patient's slice of the extract and unified ledger.
type patientShard struct {
	ex   *source.Extract
	txns []ledger.Transaction
}

func shardByPatient(ex *source.Extract, txns []ledger.Transaction) map[int64]*patientShard {
	shards := make(map[int64]*patientShard)
	get := func(patientID int64) *patientShard {
		if patientID == 0 {
			return nil
		}
		sh, ok := shards[patientID]
		if !ok {
			sh = &patientShard{ex: &source.Extract{}}
			shards[patientID] = sh
		}
		return sh
	}
	for _, p := range ex.Procedures {
		if sh := get(p.PatientID); sh != nil {
			sh.ex.Procedures = append(sh.ex.Procedures, p)
		}
	}
	for _, p := range ex.Payments {
		if sh := get(p.PatientID); sh != nil {
			sh.ex.Payments = append(sh.ex.Payments, p)
		}
	}
	for _, a := range ex.Adjustments {
		if sh := get(a.PatientID); sh != nil {
			sh.ex.Adjustments = append(sh.ex.Adjustments, a)
		}
	}
	for _, c := range ex.Claims {
		if sh := get(c.PatientID); sh != nil {
			sh.ex.Claims = append(sh.ex.Claims, c)
		}
	}
	for _, tx := range txns {
		if sh := get(tx.PatientID); sh != nil {
			sh.txns = append(sh.txns, tx)
		}
	}
	return shards
}

type patientResult struct {
	patientID int64
	balances  []balance.ProcedureBalance
	snap      *snapshot.Snapshot
	faults    []fault.Fault
	err       error
}

// processPatients fans the shards across the worker pool. Each worker
// aggregates balances and builds the snapshot for whole patients, so no
// patient's state is ever split across goroutines.
func (e *Engine) processPatients(ctx context.Context, asOf time.Time, runID uuid.UUID,
	shards map[int64]*patientShard) ([]balance.ProcedureBalance, []*snapshot.Snapshot, []fault.Fault, error) {

	ids := make([]int64, 0, len(shards))
	for id := range shards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	builder := snapshot.NewBuilder(e.snapshots)
	jobs := make(chan int64)
	results := make(chan patientResult, len(ids))

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pid := range jobs {
				sh := shards[pid]
				bals, fs := balance.Aggregate(sh.ex, sh.txns, asOf)
				snap, err := builder.Build(ctx, pid, asOf, bals, sh.txns)
				if snap != nil {
					snap.RunID = runID
				}
				results <- patientResult{patientID: pid, balances: bals, snap: snap, faults: fs, err: err}
			}
		}()
	}

feed:
	for _, pid := range ids {
		select {
		case jobs <- pid:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	byPatient := make(map[int64]patientResult, len(ids))
	for res := range results {
		if res.err != nil {
			return nil, nil, nil, fmt.Errorf("patient %d: %w", res.patientID, res.err)
		}
		byPatient[res.patientID] = res
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, err
	}

	var (
		allBalances []balance.ProcedureBalance
		snaps       []*snapshot.Snapshot
		faults      []fault.Fault
	)
	for _, pid := range ids {
		res := byPatient[pid]
		allBalances = append(allBalances, res.balances...)
		snaps = append(snaps, res.snap)
		faults = append(faults, res.faults...)
	}
	return allBalances, snaps, faults, nil
}
