package fault

import "fmt"

// Reason classifies a row-level fault encountered while processing source data.
type Reason string

const (
	// MissingRequiredField marks a source row rejected because a required
	// field (e.g. a procedure fee) was absent.
	MissingRequiredField Reason = "MISSING_REQUIRED_FIELD"

	// ReferenceDataGap marks an event that references a patient or
	// procedure key that does not exist in the source extract.
	ReferenceDataGap Reason = "REFERENCE_DATA_GAP"

	// SentinelValue marks a field carrying a placeholder literal
	// ("not yet determined") that was excluded from arithmetic.
	SentinelValue Reason = "SENTINEL_VALUE"
)

// Fault records one non-fatal, row-level defect. Faults are isolated and
// counted per run; they never abort processing on their own.
type Fault struct {
	Reason      Reason
	PatientID   int64
	ProcedureID int64
	Detail      string
}

func (f Fault) String() string {
	return fmt.Sprintf("%s patient=%d procedure=%d: %s", f.Reason, f.PatientID, f.ProcedureID, f.Detail)
}

// CountByReason tallies a fault list per reason, for run summaries.
func CountByReason(faults []Fault) map[Reason]int {
	counts := make(map[Reason]int)
	for _, f := range faults {
		counts[f.Reason]++
	}
	return counts
}
