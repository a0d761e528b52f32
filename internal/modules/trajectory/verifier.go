// README: Bucketed cross-matching of driver and rider trajectories (pure, no I/O).
package trajectory

import (
	"math"
	"sort"
	"time"

	"carpool/internal/config"
	"carpool/internal/geo"
	"carpool/internal/types"
)

type Verifier struct {
	cfg config.VerificationConfig
}

func NewVerifier(cfg config.VerificationConfig) *Verifier {
	return &Verifier{cfg: cfg}
}

func (v *Verifier) Config() config.VerificationConfig {
	return v.cfg
}

// Verify compares the rider's samples with the driver's and returns the verdict
// for userID. start is the ride start; samples recorded before it are ignored.
//
// A bucket counts as matched when at least one driver/rider pair inside it is
// closer than ProximityMeters and both devices report a positive speed. The
// expected bucket count is the shorter of the two active windows, so a driver
// who keeps driving after the rider leaves does not dilute the coverage.
func (v *Verifier) Verify(userID, counterpartID types.ID, driver, rider []Sample, start time.Time) Result {
	res := Result{
		UserID:        userID,
		CounterpartID: counterpartID,
		Threshold:     v.cfg.TrajectoryThreshold,
		TimeThreshold: v.cfg.TimeThreshold,
		Outcome:       OutcomeInsufficientData,
	}

	driverBuckets := v.bucketize(driver, start)
	riderBuckets := v.bucketize(rider, start)
	if len(driverBuckets) == 0 || len(riderBuckets) == 0 {
		return res
	}

	res.ExpectedBuckets = min(window(driverBuckets), window(riderBuckets))
	if res.ExpectedBuckets == 0 {
		return res
	}

	for _, idx := range sortedKeys(riderBuckets) {
		ds, ok := driverBuckets[idx]
		if !ok {
			continue
		}
		if v.bucketMatches(ds, riderBuckets[idx]) {
			res.MatchedBuckets++
		}
	}

	res.TimeCoverage = float64(res.MatchedBuckets) / float64(res.ExpectedBuckets)
	res.Passed = res.MatchedBuckets >= v.cfg.TrajectoryThreshold && res.TimeCoverage >= v.cfg.TimeThreshold
	if res.Passed {
		res.Outcome = OutcomePassed
	} else {
		res.Outcome = OutcomeFailed
	}
	return res
}

func (v *Verifier) bucketMatches(driver, rider []Sample) bool {
	for _, d := range driver {
		if d.Speed <= 0 {
			continue
		}
		for _, r := range rider {
			if r.Speed <= 0 {
				continue
			}
			if geo.Within(d.Point(), r.Point(), v.cfg.ProximityMeters) {
				return true
			}
		}
	}
	return false
}

func (v *Verifier) bucketize(samples []Sample, start time.Time) map[int][]Sample {
	size := float64(v.cfg.BucketSeconds)
	out := make(map[int][]Sample)
	for _, s := range samples {
		offset := s.RecordedAt.Sub(start).Seconds()
		if offset < 0 {
			continue
		}
		idx := int(math.Floor(offset / size))
		out[idx] = append(out[idx], s)
	}
	return out
}

// window is the number of buckets between the first and last populated bucket, inclusive.
func window(buckets map[int][]Sample) int {
	first, last := math.MaxInt, math.MinInt
	for idx := range buckets {
		first = min(first, idx)
		last = max(last, idx)
	}
	return last - first + 1
}

func sortedKeys(m map[int][]Sample) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
