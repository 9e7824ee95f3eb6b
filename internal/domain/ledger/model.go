package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Type tags the origin of a ledger transaction.
type Type string

const (
	TypeProcedure        Type = "PROCEDURE"
	TypeInsurancePayment Type = "INSURANCE_PAYMENT"
	TypePatientPayment   Type = "PATIENT_PAYMENT"
	TypeAdjustment       Type = "ADJUSTMENT"
)

// Transaction is one signed entry in the unified AR ledger.
//
// Sign convention: charges positive, payments negative, adjustments keep
// the sign the source gave them. Amount is never zero in unifier output.
// At most one of PaymentRef / AdjustmentRef is set; both nil for charges.
type Transaction struct {
	PatientID   int64
	ProcedureID int64 // 0 = non-procedure financial entry
	Date        time.Time
	Amount      decimal.Decimal
	Type        Type

	PaymentRef    *int64
	AdjustmentRef *int64

	// Category carries the payment method or adjustment subtype from the
	// source event, for the transaction history.
	Category string
}

// IsPayment reports whether the transaction is a payment of either kind.
func (t Transaction) IsPayment() bool {
	return t.Type == TypeInsurancePayment || t.Type == TypePatientPayment
}
