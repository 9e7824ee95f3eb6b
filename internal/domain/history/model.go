package history

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/brightsmile-dental/ar-engine/internal/domain/ledger"
)

// BalanceImpact is the direction a transaction moves the AR balance.
type BalanceImpact string

const (
	ImpactIncrease BalanceImpact = "INCREASE"
	ImpactDecrease BalanceImpact = "DECREASE"
)

// CategoryProcedureFee is the default category for charges, which carry no
// payment method or adjustment subtype of their own.
const CategoryProcedureFee = "PROCEDURE_FEE"

// Entry is one immutable row of the denormalized transaction history.
type Entry struct {
	PatientID   int64
	ProcedureID int64
	Date        time.Time
	Amount      decimal.Decimal
	Type        ledger.Type

	PaymentRef    *int64
	AdjustmentRef *int64

	Category      string
	Impact        BalanceImpact
	InsuranceFlag bool
}
