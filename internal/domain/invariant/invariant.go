package invariant

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/brightsmile-dental/ar-engine/internal/domain/aging"
	"github.com/brightsmile-dental/ar-engine/internal/domain/balance"
	"github.com/brightsmile-dental/ar-engine/internal/domain/snapshot"
)

// ErrViolation is the sentinel wrapped by every failed check. Violations
// are build-breaking: the run that produced them must not commit.
var ErrViolation = errors.New("invariant violation")

// Epsilon is the currency rounding tolerance for reconciliation checks.
var Epsilon = decimal.NewFromFloat(0.01)

func within(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Epsilon)
}

// CheckBalance verifies the balance identity and bucket agreement for one
// procedure balance.
func CheckBalance(b balance.ProcedureBalance) error {
	identity := b.Fee.Sub(b.InsurancePaid).Sub(b.PatientPaid).Sub(b.AdjustmentTotal)
	if !within(b.CurrentBalance, identity) {
		return fmt.Errorf("%w: patient %d procedure %d: current_balance %s != fee-payments-adjustments %s",
			ErrViolation, b.PatientID, b.ProcedureID, b.CurrentBalance, identity)
	}
	if aging.BucketFor(b.DaysOutstanding) != b.AgingBucket {
		return fmt.Errorf("%w: patient %d procedure %d: bucket %q does not match %d days outstanding",
			ErrViolation, b.PatientID, b.ProcedureID, b.AgingBucket, b.DaysOutstanding)
	}
	return nil
}

// CheckSnapshot verifies a snapshot's reconciliation identities: the total
// equals the bucket sum, the responsibility split, and the prior-day delta.
func CheckSnapshot(s *snapshot.Snapshot) error {
	if !within(s.TotalARBalance, s.BucketTotal()) {
		return fmt.Errorf("%w: patient %d on %s: total %s != bucket sum %s",
			ErrViolation, s.PatientID, s.SnapshotDate.Format("2006-01-02"),
			s.TotalARBalance, s.BucketTotal())
	}

	split := s.PatientResponsibility.Add(s.InsuranceResponsibility)
	if !within(s.TotalARBalance, split) {
		return fmt.Errorf("%w: patient %d on %s: total %s != responsibility split %s",
			ErrViolation, s.PatientID, s.SnapshotDate.Format("2006-01-02"),
			s.TotalARBalance, split)
	}

	prior := decimal.Zero
	if s.PreviousTotal != nil {
		prior = *s.PreviousTotal
	}
	if !within(s.BalanceChange, s.TotalARBalance.Sub(prior)) {
		return fmt.Errorf("%w: patient %d on %s: delta %s != total %s - prior %s",
			ErrViolation, s.PatientID, s.SnapshotDate.Format("2006-01-02"),
			s.BalanceChange, s.TotalARBalance, prior)
	}

	return nil
}

// CheckAll runs every check across a run's output and returns the first
// violation found.
func CheckAll(balances []balance.ProcedureBalance, snaps []*snapshot.Snapshot) error {
	for _, b := range balances {
		if err := CheckBalance(b); err != nil {
			return err
		}
	}
	for _, s := range snaps {
		if err := CheckSnapshot(s); err != nil {
			return err
		}
	}
	return nil
}
