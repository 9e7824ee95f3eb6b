package history

import (
	"time"

	"github.com/brightsmile-dental/ar-engine/internal/domain/ledger"
)

// DefaultLookbackDays bounds the incremental refresh window. Transactions
// dated inside the trailing window of the latest recorded entry are
// reconsidered on every run, tolerating late-arriving source data; anything
// older is frozen. That staleness bound is a documented trade-off, not a
// defect to repair here.
const DefaultLookbackDays = 7

// Classify converts one ledger transaction into a history entry. Zero
// amounts never appear in the ledger, so the builder assumes non-zero input.
func Classify(tx ledger.Transaction) Entry {
	e := Entry{
		PatientID:     tx.PatientID,
		ProcedureID:   tx.ProcedureID,
		Date:          tx.Date,
		Amount:        tx.Amount,
		Type:          tx.Type,
		PaymentRef:    tx.PaymentRef,
		AdjustmentRef: tx.AdjustmentRef,
		InsuranceFlag: tx.Type == ledger.TypeInsurancePayment,
	}

	if e.Amount.IsPositive() {
		e.Impact = ImpactIncrease
	} else {
		e.Impact = ImpactDecrease
	}

	e.Category = tx.Category
	if e.Category == "" {
		e.Category = CategoryProcedureFee
	}

	return e
}

// RefreshWindow computes the incremental-refresh cutoff from the latest
// already-recorded entry date. A nil latest means the history is empty and
// everything is rebuilt.
func RefreshWindow(latest *time.Time, lookbackDays int) time.Time {
	if latest == nil {
		return time.Time{}
	}
	return latest.AddDate(0, 0, -lookbackDays)
}

// Build classifies every ledger transaction dated on or after cutoff.
// Transactions before the cutoff are frozen and left untouched. Zero-amount
// transactions never become entries.
func Build(txns []ledger.Transaction, cutoff time.Time) []Entry {
	var entries []Entry
	for _, tx := range txns {
		if tx.Amount.IsZero() {
			continue
		}
		if tx.Date.Before(cutoff) {
			continue
		}
		entries = append(entries, Classify(tx))
	}
	return entries
}
