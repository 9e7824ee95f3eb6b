package balance

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brightsmile-dental/ar-engine/internal/domain/aging"
	"github.com/brightsmile-dental/ar-engine/internal/domain/fault"
	"github.com/brightsmile-dental/ar-engine/internal/domain/ledger"
	"github.com/brightsmile-dental/ar-engine/internal/source"
)

type procKey struct {
	patientID   int64
	procedureID int64
}

// Aggregate rolls the unified ledger up into one ProcedureBalance per
// (patient, procedure), evaluated as of asOf. Pure function; asOf is the
// only notion of "now" it ever sees.
//
// Procedures without a matching charge in the ledger are excluded without
// comment. Procedures whose source row carried no fee are rejected as
// missing-required-field faults. Duplicate claim rows for a procedure are
// resolved most-recently-received-first before responsibility is derived.
func Aggregate(ex *source.Extract, txns []ledger.Transaction, asOf time.Time) ([]ProcedureBalance, []fault.Fault) {
	var faults []fault.Fault

	procedures := make(map[int64]source.Procedure, len(ex.Procedures))
	for _, p := range ex.Procedures {
		procedures[p.ProcedureID] = p
		if p.Fee == nil && p.PatientID != 0 {
			faults = append(faults, fault.Fault{
				Reason:      fault.MissingRequiredField,
				PatientID:   p.PatientID,
				ProcedureID: p.ProcedureID,
				Detail:      "procedure has no fee",
			})
		}
	}

	claims := dedupClaims(ex.Claims)

	grouped := make(map[procKey][]ledger.Transaction)
	var order []procKey
	for _, tx := range txns {
		if tx.ProcedureID == 0 {
			// Account-level entries have no procedure to roll up under;
			// they flow to the transaction history only.
			continue
		}
		k := procKey{tx.PatientID, tx.ProcedureID}
		if _, seen := grouped[k]; !seen {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], tx)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].patientID != order[j].patientID {
			return order[i].patientID < order[j].patientID
		}
		return order[i].procedureID < order[j].procedureID
	})

	var balances []ProcedureBalance
	for _, k := range order {
		group := grouped[k]

		charge, ok := findCharge(group)
		if !ok {
			// Payments or adjustments against a procedure that never
			// produced a charge: nothing to balance against.
			continue
		}

		proc := procedures[k.procedureID]
		b := ProcedureBalance{
			PatientID:   k.patientID,
			ProcedureID: k.procedureID,
			ProviderID:  proc.ProviderID,
			Fee:         charge.Amount,
		}

		for _, tx := range group {
			switch tx.Type {
			case ledger.TypeInsurancePayment:
				b.InsurancePaid = b.InsurancePaid.Add(tx.Amount.Neg())
			case ledger.TypePatientPayment:
				b.PatientPaid = b.PatientPaid.Add(tx.Amount.Neg())
			case ledger.TypeAdjustment:
				b.AdjustmentTotal = b.AdjustmentTotal.Add(tx.Amount.Neg())
			}
		}
		// Payment totals are magnitudes; refunds cannot drive them negative.
		if b.InsurancePaid.IsNegative() {
			b.InsurancePaid = decimal.Zero
		}
		if b.PatientPaid.IsNegative() {
			b.PatientPaid = decimal.Zero
		}

		b.CurrentBalance = b.Fee.
			Sub(b.InsurancePaid).
			Sub(b.PatientPaid).
			Sub(b.AdjustmentTotal)

		// A denied or cancelled claim contributes no estimate: the patient
		// owes the full remainder.
		claim, hasClaim := claims[k.procedureID]
		estimate := decimal.Zero
		if hasClaim && claim.Active() && claim.InsuranceEstimate != nil {
			estimate = *claim.InsuranceEstimate
		}
		b.PatientResponsibility = b.Fee.
			Sub(estimate).
			Sub(b.PatientPaid).
			Sub(b.AdjustmentTotal)

		if hasClaim && claim.Active() {
			b.ResponsibleParty = PartyInsurance
			id := claim.ClaimID
			b.ClaimID = &id
			b.InsurancePending = decimal.Min(estimate, b.Fee)
		} else {
			b.ResponsibleParty = PartyPatient
			b.InsurancePending = decimal.Zero
		}

		b.IncludeInAR = b.CurrentBalance.IsPositive()

		b.ReferenceDate = charge.Date
		if b.ReferenceDate.IsZero() {
			b.ReferenceDate = proc.Date
		}
		b.DaysOutstanding, b.AgingBucket = aging.Classify(b.ReferenceDate, asOf)

		// Fully settled procedures drop out; credit balances are retained
		// so overpayments stay visible.
		if b.CurrentBalance.IsZero() {
			continue
		}

		balances = append(balances, b)
	}

	return balances, faults
}

// CountDuplicateClaims reports how many claim rows dedup discards: every
// row beyond the winner for its procedure. Duplicates are a known source
// defect, resolved rather than rejected, but the count goes in the run
// summary.
func CountDuplicateClaims(claims []source.Claim) int {
	perProc := make(map[int64]int)
	for _, c := range claims {
		if c.ProcedureID != 0 {
			perProc[c.ProcedureID]++
		}
	}
	dups := 0
	for _, n := range perProc {
		if n > 1 {
			dups += n - 1
		}
	}
	return dups
}

// dedupClaims resolves duplicate claim rows per procedure: the claim with
// the latest received date wins, falling back to sent date and then the
// highest claim ID so the choice is deterministic. Pre-authorization rows
// (claim ID 0) never outrank a real claim.
func dedupClaims(claims []source.Claim) map[int64]source.Claim {
	byProc := make(map[int64]source.Claim)
	for _, c := range claims {
		if c.ProcedureID == 0 {
			continue
		}
		cur, seen := byProc[c.ProcedureID]
		if !seen || claimWins(c, cur) {
			byProc[c.ProcedureID] = c
		}
	}
	return byProc
}

func claimWins(a, b source.Claim) bool {
	if (a.ClaimID == 0) != (b.ClaimID == 0) {
		return b.ClaimID == 0
	}
	ar, br := claimDate(a.DateReceived), claimDate(b.DateReceived)
	if !ar.Equal(br) {
		return ar.After(br)
	}
	as, bs := claimDate(a.DateSent), claimDate(b.DateSent)
	if !as.Equal(bs) {
		return as.After(bs)
	}
	return a.ClaimID > b.ClaimID
}

func claimDate(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func findCharge(group []ledger.Transaction) (ledger.Transaction, bool) {
	for _, tx := range group {
		if tx.Type == ledger.TypeProcedure {
			return tx, true
		}
	}
	return ledger.Transaction{}, false
}
