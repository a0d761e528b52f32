// README: Side-effect task model shared by the in-process queue and the kafka topic.
package sideeffect

import (
	"time"

	"carpool/internal/types"
)

type Kind string

const (
	KindNotify    Kind = "notify"
	KindRefresh   Kind = "refresh"
	KindTelework  Kind = "telework"
	KindIncentive Kind = "incentive"
)

// Task is one unit of post-commit work. Only the fields of its Kind are set.
type Task struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	CarpoolID types.ID  `json:"carpool_id"`
	Attempt   int       `json:"attempt,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UserID    types.ID  `json:"user_id,omitempty"`

	// notify
	Recipients []types.ID        `json:"recipients,omitempty"`
	Template   string            `json:"template,omitempty"`
	Data       map[string]string `json:"data,omitempty"`

	// refresh
	Activity    string     `json:"activity,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`

	// telework
	Origin      *types.Point `json:"origin,omitempty"`
	Destination *types.Point `json:"destination,omitempty"`
	WindowStart *time.Time   `json:"window_start,omitempty"`
	WindowEnd   *time.Time   `json:"window_end,omitempty"`
}
