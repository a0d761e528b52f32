// README: Refresh schedule entries picked up later by the external scheduler.
package refresh

import (
	"time"

	"carpool/internal/types"
)

const StatusPending = "pending"

// Activities a refresh entry can be scheduled for.
const (
	ActivityAfterStart  = "carpool_started"
	ActivityAfterFinish = "carpool_finished"
)

type Entry struct {
	UserID      types.ID
	CarpoolID   types.ID
	Activity    string
	ScheduledAt time.Time
	Status      string
}

// Plan returns the two refresh entries for a transition at ref: three hours
// later, and 15:00 local time on the following day.
func Plan(userID, carpoolID types.ID, activity string, ref time.Time, loc *time.Location) []Entry {
	local := ref.In(loc)
	y, m, d := local.Date()
	nextDay := time.Date(y, m, d+1, 15, 0, 0, 0, loc)
	return []Entry{
		{UserID: userID, CarpoolID: carpoolID, Activity: activity, ScheduledAt: ref.Add(3 * time.Hour), Status: StatusPending},
		{UserID: userID, CarpoolID: carpoolID, Activity: activity, ScheduledAt: nextDay, Status: StatusPending},
	}
}
