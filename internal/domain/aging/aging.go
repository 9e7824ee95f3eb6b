package aging

import "time"

// Bucket is an age category for an outstanding balance, measured in days
// elapsed since the balance's reference date.
type Bucket string

const (
	BucketCurrent Bucket = "0-30"
	BucketThirty  Bucket = "31-60"
	BucketSixty   Bucket = "61-90"
	BucketNinety  Bucket = "90+"
)

// Buckets lists every bucket in ascending age order.
func Buckets() []Bucket {
	return []Bucket{BucketCurrent, BucketThirty, BucketSixty, BucketNinety}
}

// DaysOutstanding returns the whole days elapsed between reference and
// evaluation, comparing calendar dates so that partial days never round a
// balance into the wrong bucket. Future-dated references (pre-authorization
// records carry procedure dates that have not happened yet) clamp to 0.
func DaysOutstanding(reference, evaluation time.Time) int {
	ref := dateOnly(reference)
	eval := dateOnly(evaluation)
	days := int(eval.Sub(ref).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// BucketFor maps a days-outstanding count onto its bucket. Every consumer
// of aging data must classify through this function; nothing else may
// re-derive the boundaries.
func BucketFor(days int) Bucket {
	switch {
	case days <= 30:
		return BucketCurrent
	case days <= 60:
		return BucketThirty
	case days <= 90:
		return BucketSixty
	default:
		return BucketNinety
	}
}

// Classify combines DaysOutstanding and BucketFor.
func Classify(reference, evaluation time.Time) (int, Bucket) {
	days := DaysOutstanding(reference, evaluation)
	return days, BucketFor(days)
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
