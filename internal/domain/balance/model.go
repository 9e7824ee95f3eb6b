package balance

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/brightsmile-dental/ar-engine/internal/domain/aging"
)

// ResponsibleParty identifies who currently owes an outstanding balance.
type ResponsibleParty string

const (
	PartyInsurance ResponsibleParty = "INSURANCE"
	PartyPatient   ResponsibleParty = "PATIENT"
)

// ProcedureBalance is the per-(patient, procedure) rollup of the unified
// ledger, as of one evaluation date.
//
// CurrentBalance nets the insurance payments actually received, while
// PatientResponsibility substitutes the carrier's estimate, projecting what
// the patient will owe once the claim settles. The two diverge whenever the
// carrier pays something other than its estimate.
type ProcedureBalance struct {
	PatientID   int64
	ProcedureID int64
	ProviderID  int64

	Fee                   decimal.Decimal
	InsurancePaid         decimal.Decimal // >= 0
	PatientPaid           decimal.Decimal // >= 0
	AdjustmentTotal       decimal.Decimal // signed
	CurrentBalance        decimal.Decimal
	PatientResponsibility decimal.Decimal
	InsurancePending      decimal.Decimal

	ResponsibleParty ResponsibleParty
	ClaimID          *int64 // the active claim, after dedup; nil when PATIENT
	IncludeInAR      bool

	ReferenceDate   time.Time
	DaysOutstanding int
	AgingBucket     aging.Bucket
}

// Open reports whether the procedure still carries a positive balance.
func (b ProcedureBalance) Open() bool {
	return b.CurrentBalance.IsPositive()
}
