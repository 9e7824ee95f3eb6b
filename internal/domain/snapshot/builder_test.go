package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brightsmile-dental/ar-engine/internal/domain/aging"
	"github.com/brightsmile-dental/ar-engine/internal/domain/balance"
	"github.com/brightsmile-dental/ar-engine/internal/domain/ledger"
)

func money(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// mockPriorRepo keys snapshots by patient and returns the latest strictly
// before the requested date.
type mockPriorRepo struct {
	snaps map[int64][]*Snapshot
}

func newMockPriorRepo() *mockPriorRepo {
	return &mockPriorRepo{snaps: make(map[int64][]*Snapshot)}
}

func (m *mockPriorRepo) add(s *Snapshot) {
	m.snaps[s.PatientID] = append(m.snaps[s.PatientID], s)
}

func (m *mockPriorRepo) LatestBefore(_ context.Context, patientID int64, before time.Time) (*Snapshot, error) {
	var latest *Snapshot
	for _, s := range m.snaps[patientID] {
		if !s.SnapshotDate.Before(before) {
			continue
		}
		if latest == nil || s.SnapshotDate.After(latest.SnapshotDate) {
			latest = s
		}
	}
	return latest, nil
}

func openBalance(patientID, procedureID int64, amount float64, bucket aging.Bucket, party balance.ResponsibleParty) balance.ProcedureBalance {
	return balance.ProcedureBalance{
		PatientID:        patientID,
		ProcedureID:      procedureID,
		CurrentBalance:   money(amount),
		IncludeInAR:      true,
		AgingBucket:      bucket,
		ResponsibleParty: party,
	}
}

func TestBuild_BucketAndResponsibilityTotals(t *testing.T) {
	claimID := int64(7)
	balances := []balance.ProcedureBalance{
		openBalance(1, 10, 100, aging.BucketCurrent, balance.PartyPatient),
		openBalance(1, 11, 200, aging.BucketThirty, balance.PartyInsurance),
		openBalance(1, 12, 300, aging.BucketSixty, balance.PartyPatient),
		openBalance(1, 13, 400, aging.BucketNinety, balance.PartyInsurance),
	}
	balances[1].ClaimID = &claimID
	balances[3].ClaimID = &claimID

	b := NewBuilder(newMockPriorRepo())
	s, err := b.Build(context.Background(), 1, date(2024, 6, 15), balances, nil)
	if err != nil {
		t.Fatal(err)
	}

	if !s.TotalARBalance.Equal(money(1000)) {
		t.Errorf("total = %s, want 1000", s.TotalARBalance)
	}
	if !s.BucketTotal().Equal(s.TotalARBalance) {
		t.Errorf("bucket sum %s != total %s", s.BucketTotal(), s.TotalARBalance)
	}
	split := s.PatientResponsibility.Add(s.InsuranceResponsibility)
	if !split.Equal(s.TotalARBalance) {
		t.Errorf("responsibility split %s != total %s", split, s.TotalARBalance)
	}
	if s.OpenProcedures != 4 {
		t.Errorf("open procedures = %d, want 4", s.OpenProcedures)
	}
	// Same claim on two procedures counts once.
	if s.ActiveClaims != 1 {
		t.Errorf("active claims = %d, want 1", s.ActiveClaims)
	}
}

func TestBuild_CreditBalancesStayOutOfAR(t *testing.T) {
	credit := balance.ProcedureBalance{
		PatientID:      1,
		ProcedureID:    10,
		CurrentBalance: money(-200),
		IncludeInAR:    false,
		AgingBucket:    aging.BucketCurrent,
	}

	b := NewBuilder(newMockPriorRepo())
	s, err := b.Build(context.Background(), 1, date(2024, 6, 15), []balance.ProcedureBalance{credit}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !s.TotalARBalance.IsZero() {
		t.Errorf("total = %s, want 0", s.TotalARBalance)
	}
	if s.OpenProcedures != 0 {
		t.Errorf("open procedures = %d, want 0", s.OpenProcedures)
	}
}

func TestBuild_DeltaAgainstPriorDay(t *testing.T) {
	prior := newMockPriorRepo()
	prior.add(&Snapshot{
		PatientID:      1,
		SnapshotDate:   date(2024, 6, 14),
		TotalARBalance: money(500),
	})

	b := NewBuilder(prior)
	balances := []balance.ProcedureBalance{
		openBalance(1, 10, 500, aging.BucketCurrent, balance.PartyPatient),
	}

	// Yesterday's total was 500 and nothing changed today.
	s, err := b.Build(context.Background(), 1, date(2024, 6, 15), balances, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !s.TotalARBalance.Equal(money(500)) {
		t.Errorf("total = %s, want 500", s.TotalARBalance)
	}
	if !s.BalanceChange.IsZero() {
		t.Errorf("balance change = %s, want 0", s.BalanceChange)
	}
	if s.PreviousTotal == nil || !s.PreviousTotal.Equal(money(500)) {
		t.Error("previous total not carried")
	}
}

func TestBuild_DeltaLawAcrossDates(t *testing.T) {
	prior := newMockPriorRepo()
	prior.add(&Snapshot{PatientID: 1, SnapshotDate: date(2024, 6, 14), TotalARBalance: money(800)})

	b := NewBuilder(prior)
	balances := []balance.ProcedureBalance{
		openBalance(1, 10, 650, aging.BucketCurrent, balance.PartyPatient),
	}
	s, err := b.Build(context.Background(), 1, date(2024, 6, 15), balances, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !s.BalanceChange.Equal(money(-150)) {
		t.Errorf("balance change = %s, want -150", s.BalanceChange)
	}
	wantPct := money(-18.75)
	if !s.BalanceChangePct.Equal(wantPct) {
		t.Errorf("balance change pct = %s, want %s", s.BalanceChangePct, wantPct)
	}
}

func TestBuild_NoPriorSnapshotTreatsAbsentAsZero(t *testing.T) {
	b := NewBuilder(newMockPriorRepo())
	balances := []balance.ProcedureBalance{
		openBalance(1, 10, 300, aging.BucketCurrent, balance.PartyPatient),
	}
	s, err := b.Build(context.Background(), 1, date(2024, 6, 15), balances, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !s.BalanceChange.Equal(money(300)) {
		t.Errorf("balance change = %s, want 300", s.BalanceChange)
	}
	if s.PreviousTotal != nil || s.PreviousSnapshotDate != nil {
		t.Error("previous-day fields must be nil without a prior snapshot")
	}
	if !s.BalanceChangePct.IsZero() {
		t.Errorf("pct = %s, want 0 with no prior", s.BalanceChangePct)
	}
}

func TestBuild_PriorTotalZeroAvoidsDivisionByZero(t *testing.T) {
	prior := newMockPriorRepo()
	prior.add(&Snapshot{PatientID: 1, SnapshotDate: date(2024, 6, 14), TotalARBalance: money(0)})

	b := NewBuilder(prior)
	balances := []balance.ProcedureBalance{
		openBalance(1, 10, 100, aging.BucketCurrent, balance.PartyPatient),
	}
	s, err := b.Build(context.Background(), 1, date(2024, 6, 15), balances, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !s.BalanceChangePct.IsZero() {
		t.Errorf("pct = %s, want 0 when prior total is 0", s.BalanceChangePct)
	}
}

func paymentTx(patientID int64, d time.Time, amount float64) ledger.Transaction {
	return ledger.Transaction{
		PatientID: patientID,
		Date:      d,
		Amount:    money(-amount),
		Type:      ledger.TypePatientPayment,
	}
}

func TestBuild_CollectionEfficiencyWindows(t *testing.T) {
	eval := date(2024, 6, 15)
	txns := []ledger.Transaction{
		paymentTx(1, eval.AddDate(0, 0, -10), 100), // inside 30/60/90
		paymentTx(1, eval.AddDate(0, 0, -45), 200), // inside 60/90
		paymentTx(1, eval.AddDate(0, 0, -80), 300), // inside 90
		paymentTx(1, eval.AddDate(0, 0, -120), 400), // outside all windows
	}
	balances := []balance.ProcedureBalance{
		openBalance(1, 10, 1000, aging.BucketCurrent, balance.PartyPatient),
	}

	b := NewBuilder(newMockPriorRepo())
	s, err := b.Build(context.Background(), 1, eval, balances, txns)
	if err != nil {
		t.Fatal(err)
	}

	if !s.CollectionEfficiency30.Equal(money(0.1)) {
		t.Errorf("eff30 = %s, want 0.1", s.CollectionEfficiency30)
	}
	if !s.CollectionEfficiency60.Equal(money(0.3)) {
		t.Errorf("eff60 = %s, want 0.3", s.CollectionEfficiency60)
	}
	if !s.CollectionEfficiency90.Equal(money(0.6)) {
		t.Errorf("eff90 = %s, want 0.6", s.CollectionEfficiency90)
	}
}

func TestBuild_CollectionEfficiencyZeroOutstanding(t *testing.T) {
	eval := date(2024, 6, 15)
	txns := []ledger.Transaction{
		paymentTx(1, eval.AddDate(0, 0, -5), 500),
	}

	b := NewBuilder(newMockPriorRepo())
	s, err := b.Build(context.Background(), 1, eval, nil, txns)
	if err != nil {
		t.Fatal(err)
	}
	for _, eff := range []decimal.Decimal{s.CollectionEfficiency30, s.CollectionEfficiency60, s.CollectionEfficiency90} {
		if !eff.IsZero() {
			t.Errorf("efficiency = %s, want exactly 0 on zero outstanding", eff)
		}
	}
}
