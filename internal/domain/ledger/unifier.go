package ledger

import (
	"sort"

	"github.com/brightsmile-dental/ar-engine/internal/domain/fault"
	"github.com/brightsmile-dental/ar-engine/internal/source"
)

// Unify merges the charge, payment and adjustment streams into one signed
// ledger, ordered by (patient, procedure, date). It is a pure function of
// its inputs.
//
// Admission rules:
//   - every procedure with a fee becomes a positive charge;
//   - payments and adjustments enter only when flagged AR-eligible;
//   - events missing their patient key are dropped as reference-data gaps;
//   - zero-amount events never enter the ledger.
func Unify(ex *source.Extract) ([]Transaction, []fault.Fault) {
	var txns []Transaction
	var faults []fault.Fault

	procedures := make(map[int64]bool, len(ex.Procedures))
	for _, p := range ex.Procedures {
		procedures[p.ProcedureID] = true
	}

	for _, p := range ex.Procedures {
		if p.PatientID == 0 {
			faults = append(faults, fault.Fault{
				Reason:      fault.ReferenceDataGap,
				ProcedureID: p.ProcedureID,
				Detail:      "procedure without patient",
			})
			continue
		}
		// Fee-less procedures produce no charge; the balance aggregator
		// reports them as missing-required-field rejects.
		if p.Fee == nil || p.Fee.IsZero() {
			continue
		}
		txns = append(txns, Transaction{
			PatientID:   p.PatientID,
			ProcedureID: p.ProcedureID,
			Date:        p.Date,
			Amount:      *p.Fee,
			Type:        TypeProcedure,
		})
	}

	for _, pay := range ex.Payments {
		if !pay.IncludeInAR || pay.Amount.IsZero() {
			continue
		}
		if pay.PatientID == 0 || (pay.ProcedureID != 0 && !procedures[pay.ProcedureID]) {
			faults = append(faults, fault.Fault{
				Reason:      fault.ReferenceDataGap,
				PatientID:   pay.PatientID,
				ProcedureID: pay.ProcedureID,
				Detail:      "payment references absent patient or procedure",
			})
			continue
		}
		typ := TypePatientPayment
		if pay.FromInsurance {
			typ = TypeInsurancePayment
		}
		ref := pay.PaymentID
		txns = append(txns, Transaction{
			PatientID:   pay.PatientID,
			ProcedureID: pay.ProcedureID,
			Date:        pay.Date,
			Amount:      pay.Amount.Neg(),
			Type:        typ,
			PaymentRef:  &ref,
			Category:    pay.Category,
		})
	}

	for _, adj := range ex.Adjustments {
		if !adj.IncludeInAR || adj.Amount.IsZero() {
			continue
		}
		if adj.PatientID == 0 || (adj.ProcedureID != 0 && !procedures[adj.ProcedureID]) {
			faults = append(faults, fault.Fault{
				Reason:      fault.ReferenceDataGap,
				PatientID:   adj.PatientID,
				ProcedureID: adj.ProcedureID,
				Detail:      "adjustment references absent patient or procedure",
			})
			continue
		}
		ref := adj.AdjustmentID
		txns = append(txns, Transaction{
			PatientID:     adj.PatientID,
			ProcedureID:   adj.ProcedureID,
			Date:          adj.Date,
			Amount:        adj.Amount,
			Type:          TypeAdjustment,
			AdjustmentRef: &ref,
			Category:      adj.Category,
		})
	}

	sort.SliceStable(txns, func(i, j int) bool {
		a, b := txns[i], txns[j]
		if a.PatientID != b.PatientID {
			return a.PatientID < b.PatientID
		}
		if a.ProcedureID != b.ProcedureID {
			return a.ProcedureID < b.ProcedureID
		}
		return a.Date.Before(b.Date)
	})

	return txns, faults
}
