package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brightsmile-dental/ar-engine/internal/domain/aging"
	"github.com/brightsmile-dental/ar-engine/internal/domain/balance"
	"github.com/brightsmile-dental/ar-engine/internal/domain/ledger"
)

// epsilon below which an outstanding balance is treated as zero when it
// appears in a denominator.
var epsilon = decimal.NewFromFloat(0.01)

var hundred = decimal.NewFromInt(100)

// collection-efficiency trailing windows, in days.
var windows = [3]int{30, 60, 90}

// Builder derives one patient's snapshot for an evaluation date from the
// balance aggregator's output and the patient's prior committed snapshot.
type Builder struct {
	prior PriorRepository
}

func NewBuilder(prior PriorRepository) *Builder {
	return &Builder{prior: prior}
}

// Build computes the snapshot for one patient. balances must already be
// filtered to the patient and evaluated as of date; txns is the patient's
// full unified ledger, used for the trailing payment windows.
func (b *Builder) Build(ctx context.Context, patientID int64, date time.Time,
	balances []balance.ProcedureBalance, txns []ledger.Transaction) (*Snapshot, error) {

	s := &Snapshot{
		SnapshotDate: date,
		PatientID:    patientID,
	}

	claims := make(map[int64]bool)
	for _, pb := range balances {
		if !pb.IncludeInAR {
			// Credit balances are tracked on the procedure ledger but do
			// not enter the AR position.
			continue
		}
		s.TotalARBalance = s.TotalARBalance.Add(pb.CurrentBalance)

		switch pb.AgingBucket {
		case aging.BucketCurrent:
			s.Bucket0to30 = s.Bucket0to30.Add(pb.CurrentBalance)
		case aging.BucketThirty:
			s.Bucket31to60 = s.Bucket31to60.Add(pb.CurrentBalance)
		case aging.BucketSixty:
			s.Bucket61to90 = s.Bucket61to90.Add(pb.CurrentBalance)
		case aging.BucketNinety:
			s.Bucket90Plus = s.Bucket90Plus.Add(pb.CurrentBalance)
		}

		if pb.ResponsibleParty == balance.PartyInsurance {
			s.InsuranceResponsibility = s.InsuranceResponsibility.Add(pb.CurrentBalance)
		} else {
			s.PatientResponsibility = s.PatientResponsibility.Add(pb.CurrentBalance)
		}

		if pb.Open() {
			s.OpenProcedures++
		}
		if pb.ClaimID != nil {
			claims[*pb.ClaimID] = true
		}
	}
	s.ActiveClaims = len(claims)

	prev, err := b.prior.LatestBefore(ctx, patientID, date)
	if err != nil {
		return nil, fmt.Errorf("prior snapshot for patient %d: %w", patientID, err)
	}
	if prev != nil {
		d := prev.SnapshotDate
		t := prev.TotalARBalance
		s.PreviousSnapshotDate = &d
		s.PreviousTotal = &t

		s.BalanceChange = s.TotalARBalance.Sub(prev.TotalARBalance)
		if prev.TotalARBalance.Abs().GreaterThan(epsilon) {
			s.BalanceChangePct = s.BalanceChange.Div(prev.TotalARBalance).Mul(hundred).Round(2)
		}
	} else {
		// First snapshot in the chain: the whole balance is the change.
		s.BalanceChange = s.TotalARBalance
	}

	eff := b.collectionEfficiency(date, txns, s.TotalARBalance)
	s.CollectionEfficiency30 = eff[0]
	s.CollectionEfficiency60 = eff[1]
	s.CollectionEfficiency90 = eff[2]

	return s, nil
}

// collectionEfficiency returns payments collected in the trailing
// 30/60/90-day windows as a ratio of the current outstanding total.
// Defined as zero when the outstanding total is ~0; never NaN or Inf.
func (b *Builder) collectionEfficiency(date time.Time, txns []ledger.Transaction, outstanding decimal.Decimal) [3]decimal.Decimal {
	var eff [3]decimal.Decimal
	if outstanding.Abs().LessThanOrEqual(epsilon) {
		return eff
	}

	var collected [3]decimal.Decimal
	for _, tx := range txns {
		if !tx.IsPayment() || tx.Date.After(date) {
			continue
		}
		paid := tx.Amount.Neg() // payments are negative in the ledger
		days := aging.DaysOutstanding(tx.Date, date)
		for i, w := range windows {
			if days <= w {
				collected[i] = collected[i].Add(paid)
			}
		}
	}

	for i := range eff {
		eff[i] = collected[i].Div(outstanding).Round(4)
	}
	return eff
}
