// README: Trajectory samples and verification result types.
package trajectory

import (
	"time"

	"carpool/internal/types"
)

// Sample is one device location fix. Speed is in meters per second.
type Sample struct {
	UserID     types.ID
	RecordedAt time.Time
	Lat        float64
	Lng        float64
	Speed      float64
}

func (s Sample) Point() types.Point {
	return types.Point{Lat: s.Lat, Lng: s.Lng}
}

type Outcome string

const (
	OutcomePassed           Outcome = "passed"
	OutcomeFailed           Outcome = "failed"
	OutcomeInsufficientData Outcome = "insufficient_data"
)

// Result is the verdict for one participant's leg. It is never persisted on its
// own; the ledger copies the audit fields onto the participant's trip row.
type Result struct {
	UserID          types.ID `json:"user_id"`
	CounterpartID   types.ID `json:"counterpart_id,omitempty"`
	MatchedBuckets  int      `json:"matched_buckets"`
	ExpectedBuckets int      `json:"expected_buckets"`
	Threshold       int      `json:"threshold"`
	TimeCoverage    float64  `json:"time_coverage"`
	TimeThreshold   float64  `json:"time_threshold"`
	Passed          bool     `json:"passed"`
	Outcome         Outcome  `json:"outcome"`
}

// better reports whether r is a stronger verdict than other when picking among
// several counterparts.
func (r Result) better(other Result) bool {
	if r.Passed != other.Passed {
		return r.Passed
	}
	if (r.Outcome == OutcomeInsufficientData) != (other.Outcome == OutcomeInsufficientData) {
		return other.Outcome == OutcomeInsufficientData
	}
	if r.MatchedBuckets != other.MatchedBuckets {
		return r.MatchedBuckets > other.MatchedBuckets
	}
	return r.TimeCoverage > other.TimeCoverage
}
