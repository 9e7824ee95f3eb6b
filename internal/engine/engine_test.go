package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/brightsmile-dental/ar-engine/internal/domain/balance"
	"github.com/brightsmile-dental/ar-engine/internal/domain/fault"
	"github.com/brightsmile-dental/ar-engine/internal/domain/history"
	"github.com/brightsmile-dental/ar-engine/internal/domain/ledger"
	"github.com/brightsmile-dental/ar-engine/internal/domain/snapshot"
	"github.com/brightsmile-dental/ar-engine/internal/source"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

type mockSource struct {
	ex  *source.Extract
	err error
}

func (m *mockSource) LoadExtract(ctx context.Context) (*source.Extract, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.ex, nil
}

type mockBalanceRepo struct {
	mu           sync.Mutex
	rows         []balance.ProcedureBalance
	replaceCalls int
}

func (m *mockBalanceRepo) Replace(ctx context.Context, balances []balance.ProcedureBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append([]balance.ProcedureBalance(nil), balances...)
	m.replaceCalls++
	return nil
}

func (m *mockBalanceRepo) ListByPatient(ctx context.Context, patientID int64) ([]balance.ProcedureBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []balance.ProcedureBalance
	for _, b := range m.rows {
		if b.PatientID == patientID {
			out = append(out, b)
		}
	}
	return out, nil
}

type snapKey struct {
	date      string
	patientID int64
}

type mockSnapshotRepo struct {
	mu    sync.Mutex
	snaps map[snapKey]*snapshot.Snapshot
}

func newMockSnapshotRepo() *mockSnapshotRepo {
	return &mockSnapshotRepo{snaps: map[snapKey]*snapshot.Snapshot{}}
}

func (m *mockSnapshotRepo) LatestBefore(ctx context.Context, patientID int64, date time.Time) (*snapshot.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *snapshot.Snapshot
	for _, s := range m.snaps {
		if s.PatientID != patientID || !s.SnapshotDate.Before(date) {
			continue
		}
		if latest == nil || s.SnapshotDate.After(latest.SnapshotDate) {
			latest = s
		}
	}
	return latest, nil
}

func (m *mockSnapshotRepo) Upsert(ctx context.Context, snaps []*snapshot.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range snaps {
		cp := *s
		m.snaps[snapKey{s.SnapshotDate.Format("2006-01-02"), s.PatientID}] = &cp
	}
	return nil
}

func (m *mockSnapshotRepo) ListByDate(ctx context.Context, date time.Time) ([]*snapshot.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*snapshot.Snapshot
	for _, s := range m.snaps {
		if s.SnapshotDate.Equal(date) {
			out = append(out, s)
		}
	}
	return out, nil
}

type mockHistoryRepo struct {
	entries    []history.Entry
	lastCutoff time.Time
}

func (m *mockHistoryRepo) LatestEntryDate(ctx context.Context) (*time.Time, error) {
	var latest *time.Time
	for i := range m.entries {
		d := m.entries[i].Date
		if latest == nil || d.After(*latest) {
			latest = &d
		}
	}
	return latest, nil
}

func (m *mockHistoryRepo) ReplaceSince(ctx context.Context, cutoff time.Time, entries []history.Entry) error {
	m.lastCutoff = cutoff
	var kept []history.Entry
	for _, e := range m.entries {
		if e.Date.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	m.entries = append(kept, entries...)
	return nil
}

type mockRunRepo struct {
	runs []*RunSummary
}

func (m *mockRunRepo) Insert(ctx context.Context, rs *RunSummary) error {
	cp := *rs
	m.runs = append(m.runs, &cp)
	return nil
}

func (m *mockRunRepo) ListRecent(ctx context.Context, limit, offset int) ([]*RunSummary, int, error) {
	return m.runs, len(m.runs), nil
}

type fixture struct {
	src   *mockSource
	bals  *mockBalanceRepo
	snaps *mockSnapshotRepo
	hist  *mockHistoryRepo
	runs  *mockRunRepo
	eng   *Engine
}

func newFixture(ex *source.Extract, cfg Config) *fixture {
	f := &fixture{
		src:   &mockSource{ex: ex},
		bals:  &mockBalanceRepo{},
		snaps: newMockSnapshotRepo(),
		hist:  &mockHistoryRepo{},
		runs:  &mockRunRepo{},
	}
	passthrough := func(ctx context.Context, fn func(ctx context.Context) error) error {
		return fn(ctx)
	}
	f.eng = New(f.src, f.bals, f.snaps, f.hist, f.runs, passthrough, zerolog.Nop(), cfg)
	return f
}

var asOf = time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

func twoPatientExtract() *source.Extract {
	return &source.Extract{
		Procedures: []source.Procedure{
			{ProcedureID: 101, PatientID: 1, Date: asOf.AddDate(0, 0, -45), Fee: decPtr("1000.00"), Status: "C"},
			{ProcedureID: 201, PatientID: 2, Date: asOf.AddDate(0, 0, -10), Fee: decPtr("200.00"), Status: "C"},
		},
		Payments: []source.Payment{
			{PaymentID: 11, PatientID: 1, ProcedureID: 101, Date: asOf.AddDate(0, 0, -20),
				Amount: dec("500.00"), FromInsurance: true, IncludeInAR: true, Category: "EFT"},
		},
	}
}

func TestRunHappyPath(t *testing.T) {
	f := newFixture(twoPatientExtract(), Config{Workers: 2})

	rs, err := f.eng.Run(context.Background(), asOf)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rs.Status != RunSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED", rs.Status)
	}
	if rs.PatientsProcessed != 2 {
		t.Errorf("patients = %d, want 2", rs.PatientsProcessed)
	}
	if rs.TransactionsProcessed != 3 {
		t.Errorf("transactions = %d, want 3", rs.TransactionsProcessed)
	}
	if rs.BalancesWritten != 2 || f.bals.replaceCalls != 1 {
		t.Errorf("balances written = %d (calls %d), want 2 (1)", rs.BalancesWritten, f.bals.replaceCalls)
	}
	if rs.SnapshotsWritten != 2 {
		t.Errorf("snapshots = %d, want 2", rs.SnapshotsWritten)
	}
	if rs.HistoryEntriesWritten != 3 {
		t.Errorf("history entries = %d, want 3", rs.HistoryEntriesWritten)
	}

	s1 := f.snaps.snaps[snapKey{"2026-03-15", 1}]
	if s1 == nil {
		t.Fatal("patient 1 snapshot not upserted")
	}
	if !s1.TotalARBalance.Equal(dec("500.00")) {
		t.Errorf("patient 1 total = %s, want 500.00", s1.TotalARBalance)
	}
	if s1.RunID != rs.RunID {
		t.Errorf("snapshot run_id = %s, want %s", s1.RunID, rs.RunID)
	}

	if len(f.runs.runs) != 1 || f.runs.runs[0].Status != RunSucceeded {
		t.Fatalf("run record = %+v, want one SUCCEEDED row", f.runs.runs)
	}
}

func TestRunOrdersOutputDeterministically(t *testing.T) {
	ex := &source.Extract{}
	for pid := int64(1); pid <= 20; pid++ {
		ex.Procedures = append(ex.Procedures, source.Procedure{
			ProcedureID: pid * 100, PatientID: pid,
			Date: asOf.AddDate(0, 0, -int(pid)), Fee: decPtr("100.00"), Status: "C",
		})
	}
	f := newFixture(ex, Config{Workers: 5})
	if _, err := f.eng.Run(context.Background(), asOf); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, b := range f.bals.rows {
		if b.PatientID != int64(i+1) {
			t.Fatalf("row %d is patient %d, want %d", i, b.PatientID, i+1)
		}
	}
}

func TestRunRecordsFailureOnLoadError(t *testing.T) {
	f := newFixture(nil, Config{})
	f.src.err = errors.New("source unavailable")

	rs, err := f.eng.Run(context.Background(), asOf)
	if err == nil {
		t.Fatal("expected error")
	}
	if rs.Status != RunFailed || rs.Error == "" {
		t.Fatalf("summary = %+v, want FAILED with error text", rs)
	}
	if f.bals.replaceCalls != 0 {
		t.Error("balances must not be written on a failed run")
	}
	if len(f.runs.runs) != 1 || f.runs.runs[0].Status != RunFailed {
		t.Fatalf("run record = %+v, want one FAILED row", f.runs.runs)
	}
}

func TestRunRejectThresholdAborts(t *testing.T) {
	ex := twoPatientExtract()
	// Fee-less procedures are reported by the aggregator, one fault each.
	for i := int64(0); i < 3; i++ {
		ex.Procedures = append(ex.Procedures, source.Procedure{
			ProcedureID: 900 + i, PatientID: 1, Date: asOf.AddDate(0, 0, -5), Status: "C",
		})
	}
	f := newFixture(ex, Config{RejectThreshold: 2})

	rs, err := f.eng.Run(context.Background(), asOf)
	if err == nil {
		t.Fatal("expected threshold error")
	}
	if got := rs.RejectsByReason[fault.MissingRequiredField]; got != 3 {
		t.Errorf("missing-field rejects = %d, want 3", got)
	}
	if f.bals.replaceCalls != 0 {
		t.Error("nothing may be committed past the threshold")
	}
}

func TestRunFaultsBelowThresholdStillCommit(t *testing.T) {
	ex := twoPatientExtract()
	ex.Procedures = append(ex.Procedures, source.Procedure{
		ProcedureID: 900, PatientID: 1, Date: asOf.AddDate(0, 0, -5), Status: "C",
	})
	f := newFixture(ex, Config{RejectThreshold: 10})

	rs, err := f.eng.Run(context.Background(), asOf)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rs.Status != RunSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED", rs.Status)
	}
	if got := rs.RejectsByReason[fault.MissingRequiredField]; got != 1 {
		t.Errorf("missing-field rejects = %d, want 1", got)
	}
}

func TestRunRerunSameDateIsIdempotent(t *testing.T) {
	f := newFixture(twoPatientExtract(), Config{Workers: 2})

	first, err := f.eng.Run(context.Background(), asOf)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstTotal := f.snaps.snaps[snapKey{"2026-03-15", 1}].TotalARBalance

	second, err := f.eng.Run(context.Background(), asOf)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if len(f.snaps.snaps) != 2 {
		t.Fatalf("snapshot rows = %d, want 2 (one per patient, no duplicates)", len(f.snaps.snaps))
	}
	s1 := f.snaps.snaps[snapKey{"2026-03-15", 1}]
	if !s1.TotalARBalance.Equal(firstTotal) {
		t.Errorf("re-run total = %s, want %s", s1.TotalARBalance, firstTotal)
	}
	if !s1.BalanceChange.Equal(s1.TotalARBalance) {
		t.Errorf("re-run of the same date must still see no prior snapshot, change = %s", s1.BalanceChange)
	}
	if second.SnapshotsWritten != first.SnapshotsWritten {
		t.Errorf("snapshot counts differ across identical runs: %d vs %d", first.SnapshotsWritten, second.SnapshotsWritten)
	}
}

func TestRunNextDayLinksPriorSnapshot(t *testing.T) {
	f := newFixture(twoPatientExtract(), Config{Workers: 2})
	if _, err := f.eng.Run(context.Background(), asOf); err != nil {
		t.Fatalf("day one: %v", err)
	}

	// Patient 1 pays off 300 overnight.
	f.src.ex.Payments = append(f.src.ex.Payments, source.Payment{
		PaymentID: 12, PatientID: 1, ProcedureID: 101, Date: asOf,
		Amount: dec("300.00"), IncludeInAR: true, Category: "CHECK",
	})
	nextDay := asOf.AddDate(0, 0, 1)
	if _, err := f.eng.Run(context.Background(), nextDay); err != nil {
		t.Fatalf("day two: %v", err)
	}

	s1 := f.snaps.snaps[snapKey{"2026-03-16", 1}]
	if s1 == nil {
		t.Fatal("day-two snapshot missing")
	}
	if !s1.TotalARBalance.Equal(dec("200.00")) {
		t.Errorf("day-two total = %s, want 200.00", s1.TotalARBalance)
	}
	if s1.PreviousTotal == nil || !s1.PreviousTotal.Equal(dec("500.00")) {
		t.Fatalf("previous total = %v, want 500.00", s1.PreviousTotal)
	}
	if !s1.BalanceChange.Equal(dec("-300.00")) {
		t.Errorf("balance change = %s, want -300.00", s1.BalanceChange)
	}
}

func TestRunHistoryRefreshUsesLookback(t *testing.T) {
	latest := asOf.AddDate(0, 0, -2)
	f := newFixture(twoPatientExtract(), Config{LookbackDays: 7})
	f.hist.entries = []history.Entry{
		{PatientID: 1, ProcedureID: 101, Date: latest, Amount: dec("1000.00")},
	}

	if _, err := f.eng.Run(context.Background(), asOf); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := latest.AddDate(0, 0, -7)
	if !f.hist.lastCutoff.Equal(want) {
		t.Errorf("cutoff = %s, want %s", f.hist.lastCutoff, want)
	}
}

func TestRunContextCancellation(t *testing.T) {
	ex := &source.Extract{}
	for pid := int64(1); pid <= 50; pid++ {
		ex.Procedures = append(ex.Procedures, source.Procedure{
			ProcedureID: pid, PatientID: pid, Date: asOf, Fee: decPtr("10.00"), Status: "C",
		})
	}
	f := newFixture(ex, Config{Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rs, err := f.eng.Run(ctx, asOf)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if rs.Status != RunFailed {
		t.Errorf("status = %s, want FAILED", rs.Status)
	}
	if f.bals.replaceCalls != 0 {
		t.Error("cancelled run must not write")
	}
}

func TestShardByPatient(t *testing.T) {
	ex := twoPatientExtract()
	ex.Claims = []source.Claim{
		{ClaimID: 7, PatientID: 2, ProcedureID: 201, Status: source.ClaimStatusPending, InsuranceEstimate: decPtr("150.00")},
	}
	txns, _ := ledger.Unify(ex)
	shards := shardByPatient(ex, txns)

	if len(shards) != 2 {
		t.Fatalf("shards = %d, want 2", len(shards))
	}
	p1 := shards[1]
	if len(p1.ex.Procedures) != 1 || len(p1.ex.Payments) != 1 || len(p1.ex.Claims) != 0 {
		t.Errorf("patient 1 shard = %d procs, %d payments, %d claims", len(p1.ex.Procedures), len(p1.ex.Payments), len(p1.ex.Claims))
	}
	p2 := shards[2]
	if len(p2.ex.Procedures) != 1 || len(p2.ex.Claims) != 1 {
		t.Errorf("patient 2 shard = %d procs, %d claims", len(p2.ex.Procedures), len(p2.ex.Claims))
	}
	for pid, sh := range shards {
		for _, tx := range sh.txns {
			if tx.PatientID != pid {
				t.Fatalf("shard %d holds transaction for patient %d", pid, tx.PatientID)
			}
		}
	}
}

func TestCountDuplicateClaims(t *testing.T) {
	claims := []source.Claim{
		{ClaimID: 1, ProcedureID: 10, Status: source.ClaimStatusPending},
		{ClaimID: 2, ProcedureID: 10, Status: source.ClaimStatusReceived},
		{ClaimID: 3, ProcedureID: 10, Status: source.ClaimStatusReceived},
		{ClaimID: 4, ProcedureID: 20, Status: source.ClaimStatusPending},
	}
	if got := balance.CountDuplicateClaims(claims); got != 2 {
		t.Errorf("duplicates = %d, want 2", got)
	}
	if got := balance.CountDuplicateClaims(nil); got != 0 {
		t.Errorf("duplicates on empty = %d, want 0", got)
	}
}

func TestRunSummaryTotalRejects(t *testing.T) {
	rs := &RunSummary{RejectsByReason: map[fault.Reason]int{
		fault.MissingRequiredField: 2,
		fault.SentinelValue:        3,
	}}
	if got := rs.TotalRejects(); got != 5 {
		t.Errorf("TotalRejects = %d, want 5", got)
	}
}

func TestRunTransactionFailureRollsBack(t *testing.T) {
	f := newFixture(twoPatientExtract(), Config{})
	boom := errors.New("commit refused")
	f.eng.inTx = func(ctx context.Context, fn func(ctx context.Context) error) error {
		if err := fn(ctx); err != nil {
			return err
		}
		return fmt.Errorf("run transaction: %w", boom)
	}

	rs, err := f.eng.Run(context.Background(), asOf)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped commit error", err)
	}
	if rs.Status != RunFailed {
		t.Errorf("status = %s, want FAILED", rs.Status)
	}
}
