package source

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/brightsmile-dental/ar-engine/internal/domain/fault"
)

// Source rows are consumed read-only from the practice-management extract.
// Ingestion and cleaning of the raw extract happen upstream; these structs
// describe the interface boundary only.
//
// Monetary fields that the extract marks "undetermined" with a -1.0
// placeholder are decoded to nil at scan time (see repo_pg.go). No sentinel
// literal survives past this package.

// Procedure is a completed or planned dental procedure with its charged fee.
type Procedure struct {
	ProcedureID int64
	PatientID   int64
	ProviderID  int64
	Date        time.Time
	Fee         *decimal.Decimal // nil when the source row carried no fee
	Status      string
}

// Payment is one payment allocation against a procedure. A ProcedureID of 0
// denotes a non-procedure financial entry (account-level payment).
type Payment struct {
	PaymentID     int64
	PatientID     int64
	ProcedureID   int64
	Date          time.Time
	Amount        decimal.Decimal
	FromInsurance bool
	IncludeInAR   bool
	Category      string // payment method: CHECK, CARD, CASH, EFT, ...
}

// Adjustment is a signed balance correction (write-off, discount, refund).
type Adjustment struct {
	AdjustmentID     int64
	PatientID        int64
	ProcedureID      int64
	Date             time.Time
	Amount           decimal.Decimal // signed as in the source
	Category         string
	AffectsProcedure bool
	Retroactive      bool
	IncludeInAR      bool
}

// Claim statuses that leave the insurance carrier responsible for the
// outstanding balance.
const (
	ClaimStatusPending      = "pending"
	ClaimStatusReceived     = "received"
	ClaimStatusSupplemental = "supplemental"
)

// Claim links a procedure to an insurance claim. Used only to derive the
// responsible party and the pending insurance amount. A ClaimID of 0
// identifies a pre-authorization record, not a real claim.
type Claim struct {
	ClaimID           int64
	PatientID         int64
	ProcedureID       int64
	Status            string
	DateSent          *time.Time
	DateReceived      *time.Time
	InsuranceEstimate *decimal.Decimal // nil when the carrier has not estimated yet
}

// Active reports whether the claim keeps insurance responsible.
func (c Claim) Active() bool {
	switch c.Status {
	case ClaimStatusPending, ClaimStatusReceived, ClaimStatusSupplemental:
		return true
	}
	return false
}

// Extract is one full read of the source tables for a batch run. Faults
// carries the sentinel placeholders recognized while decoding; the values
// themselves are already nil in the decoded rows.
type Extract struct {
	Procedures  []Procedure
	Payments    []Payment
	Adjustments []Adjustment
	Claims      []Claim
	Faults      []fault.Fault
}
