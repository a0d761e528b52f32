// README: Trip ledger rows, one per participant per carpool.
package ledger

import (
	"errors"
	"time"

	"carpool/internal/modules/trajectory"
	"carpool/internal/types"
)

var ErrNotFound = errors.New("ledger entry not found")

type Status string

const (
	StatusOpen     Status = "open"
	StatusFinished Status = "finished"
	StatusCanceled Status = "canceled"
)

// Opening is written when a participant joins (the driver joins at create).
type Opening struct {
	CarpoolID types.ID
	UserID    types.ID
	Role      string
	OpenedAt  time.Time
}

// Finish carries the leg details and the verification audit fields.
type Finish struct {
	CarpoolID        types.ID
	UserID           types.ID
	FinishedAt       time.Time
	DistanceKm       float64
	EndType          string
	FinalDestination *types.Point
	DetourMeters     *float64
	Verification     trajectory.Result
	Reward           string
}

type Entry struct {
	ID              int64
	CarpoolID       types.ID
	UserID          types.ID
	Role            string
	Status          Status
	OpenedAt        time.Time
	FinishedAt      *time.Time
	CanceledAt      *time.Time
	CancelReason    string
	DistanceKm      *float64
	EndType         string
	Outcome         string
	MatchedBuckets  *int
	ExpectedBuckets *int
	TimeCoverage    *float64
	Reward          string
	RewardReceipt   string
}
