// README: Carpool aggregate, status enum and per-leg participant state.
package carpool

import (
	"fmt"
	"time"

	"carpool/internal/modules/trajectory"
	"carpool/internal/types"
)

type Status uint8

const (
	StatusNone Status = iota
	StatusWaiting
	StatusStarted
	StatusFinished
	StatusCanceled
)

var statusNames = [...]string{
	StatusNone:     "none",
	StatusWaiting:  "waiting",
	StatusStarted:  "started",
	StatusFinished: "finished",
	StatusCanceled: "canceled",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func (s Status) MarshalText() ([]byte, error) {
	if int(s) >= len(statusNames) {
		return nil, fmt.Errorf("unknown carpool status %d", uint8(s))
	}
	return []byte(statusNames[s]), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown carpool status %q", b)
}

func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusCanceled
}

// AllowedTransitions is the ride state diagram as code.
var AllowedTransitions = map[Status][]Status{
	StatusNone:    {StatusWaiting},
	StatusWaiting: {StatusStarted, StatusCanceled},
	StatusStarted: {StatusFinished, StatusCanceled},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Role string

const (
	RoleDriver Role = "driver"
	RoleRider  Role = "rider"
)

type LegStatus string

const (
	LegActive   LegStatus = "active"
	LegFinished LegStatus = "finished"
	LegCanceled LegStatus = "canceled"
)

type EndType string

const (
	EndNormal EndType = "normal"
	EndEarly  EndType = "early"
	EndAuto   EndType = "auto"
)

func (e EndType) Valid() bool {
	switch e {
	case EndNormal, EndEarly, EndAuto:
		return true
	}
	return false
}

// RewardStatus is what a closed leg means for the participant's incentive.
type RewardStatus string

const (
	RewardNone       RewardStatus = ""
	RewardPending    RewardStatus = "pending"
	RewardWithheld   RewardStatus = "withheld"
	RewardUnverified RewardStatus = "unverified"
)

func rewardFor(r trajectory.Result) RewardStatus {
	switch r.Outcome {
	case trajectory.OutcomePassed:
		return RewardPending
	case trajectory.OutcomeFailed:
		return RewardWithheld
	default:
		return RewardUnverified
	}
}

type Offer struct {
	DriverID          types.ID    `json:"driver_id"`
	Origin            types.Place `json:"origin"`
	Destination       types.Place `json:"destination"`
	PlannedTravelTime time.Time   `json:"planned_travel_time"`
	Seats             int         `json:"seats"`
	CreatedAt         time.Time   `json:"created_at"`
}

type Participant struct {
	UserID           types.ID           `json:"user_id"`
	Role             Role               `json:"role"`
	JoinedAt         time.Time          `json:"joined_at"`
	LedgerID         int64              `json:"ledger_id"`
	Leg              LegStatus          `json:"leg"`
	FinishedAt       *time.Time         `json:"finished_at,omitempty"`
	CanceledAt       *time.Time         `json:"canceled_at,omitempty"`
	CancelReason     string             `json:"cancel_reason,omitempty"`
	DistanceKm       float64            `json:"distance_km,omitempty"`
	EndType          EndType            `json:"end_type,omitempty"`
	FinalDestination *types.Place       `json:"final_destination,omitempty"`
	EstimatedArrival *time.Time         `json:"estimated_arrival,omitempty"`
	Verification     *trajectory.Result `json:"verification,omitempty"`
	Reward           RewardStatus       `json:"reward,omitempty"`
}

func (p Participant) Closed() bool {
	return p.Leg == LegFinished || p.Leg == LegCanceled
}

// Event is one entry of the aggregate's audit trail.
type Event struct {
	Type      string    `json:"type"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	ActorType string    `json:"actor_type"`
	ActorID   types.ID  `json:"actor_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

const (
	EventStatus       = "status"
	EventJoined       = "joined"
	EventLegFinished  = "leg_finished"
	EventLegCanceled  = "leg_canceled"
	ActorDriver       = "driver"
	ActorRider        = "rider"
	ActorSystem       = "system"
	ReasonExpired     = "expired"
	ReasonDriverAbort = "driver_canceled"
)

// Carpool is the ride aggregate. Participants[0] is always the driver; riders
// follow in join order. Version increases by one on every committed change.
type Carpool struct {
	ID               types.ID      `json:"id"`
	Offer            Offer         `json:"offer"`
	Participants     []Participant `json:"participants"`
	Status           Status        `json:"status"`
	Version          int64         `json:"version"`
	SecurityKey      string        `json:"security_key"`
	StartedAt        *time.Time    `json:"started_at,omitempty"`
	FinishedAt       *time.Time    `json:"finished_at,omitempty"`
	CanceledAt       *time.Time    `json:"canceled_at,omitempty"`
	EstimatedArrival *time.Time    `json:"estimated_arrival,omitempty"`
	NavApp           string        `json:"nav_app,omitempty"`
	CancelReason     string        `json:"cancel_reason,omitempty"`
	History          []Event       `json:"history,omitempty"`
}

func (c *Carpool) Driver() *Participant {
	return c.Participant(c.Offer.DriverID)
}

// Participant returns nil when userID never joined.
func (c *Carpool) Participant(userID types.ID) *Participant {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return &c.Participants[i]
		}
	}
	return nil
}

// OpenRiders lists riders whose leg is still active.
func (c *Carpool) OpenRiders() []types.ID {
	var out []types.ID
	for _, p := range c.Participants {
		if p.Role == RoleRider && p.Leg == LegActive {
			out = append(out, p.UserID)
		}
	}
	return out
}

// Counterparts lists the riders a driver's trajectory can be checked against.
func (c *Carpool) Counterparts() []types.ID {
	var out []types.ID
	for _, p := range c.Participants {
		if p.Role == RoleRider && p.Leg != LegCanceled {
			out = append(out, p.UserID)
		}
	}
	return out
}

// OthersActive lists every participant except userID whose leg is still active.
func (c *Carpool) OthersActive(userID types.ID) []types.ID {
	var out []types.ID
	for _, p := range c.Participants {
		if p.UserID != userID && p.Leg == LegActive {
			out = append(out, p.UserID)
		}
	}
	return out
}

func (c *Carpool) SeatsTaken() int {
	return len(c.OpenRiders())
}

func (c *Carpool) Full() bool {
	return c.SeatsTaken() >= c.Offer.Seats
}

func (c *Carpool) allLegsClosed() bool {
	for _, p := range c.Participants {
		if !p.Closed() {
			return false
		}
	}
	return true
}

func (c *Carpool) anyLegFinished() bool {
	for _, p := range c.Participants {
		if p.Leg == LegFinished {
			return true
		}
	}
	return false
}

// transition moves the ride to `to` and records the event. It refuses any
// edge missing from AllowedTransitions.
func (c *Carpool) transition(to Status, actorType string, actorID types.ID, reason string, at time.Time) error {
	if !CanTransition(c.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, c.Status, to)
	}
	c.History = append(c.History, Event{
		Type: EventStatus, From: c.Status, To: to,
		ActorType: actorType, ActorID: actorID, Reason: reason, At: at,
	})
	c.Status = to
	switch to {
	case StatusStarted:
		c.StartedAt = &at
	case StatusFinished:
		c.FinishedAt = &at
	case StatusCanceled:
		c.CanceledAt = &at
		c.CancelReason = reason
	}
	return nil
}

// settle closes a started ride once every leg is closed: finished if any leg
// finished, canceled otherwise. It is a no-op in any other situation.
func (c *Carpool) settle(actorType string, actorID types.ID, at time.Time) error {
	if c.Status != StatusStarted || !c.allLegsClosed() {
		return nil
	}
	if c.anyLegFinished() {
		return c.transition(StatusFinished, actorType, actorID, "", at)
	}
	return c.transition(StatusCanceled, actorType, actorID, "all legs canceled", at)
}

func (c *Carpool) cancelLeg(p *Participant, actorType, reason string, at time.Time) {
	p.Leg = LegCanceled
	p.CanceledAt = &at
	p.CancelReason = reason
	c.History = append(c.History, Event{
		Type: EventLegCanceled, From: c.Status, To: c.Status,
		ActorType: actorType, ActorID: p.UserID, Reason: reason, At: at,
	})
}

// abort cancels every open leg and the ride itself. Only legal while waiting.
func (c *Carpool) abort(actorType string, actorID types.ID, reason string, at time.Time) ([]types.ID, error) {
	if c.Status != StatusWaiting {
		return nil, fmt.Errorf("%w: abort from %s", ErrInvalidState, c.Status)
	}
	var closed []types.ID
	for i := range c.Participants {
		p := &c.Participants[i]
		if p.Leg == LegActive {
			c.cancelLeg(p, actorType, reason, at)
			closed = append(closed, p.UserID)
		}
	}
	return closed, c.transition(StatusCanceled, actorType, actorID, reason, at)
}

// View is the read model returned to participants polling the ride.
type View struct {
	ID               types.ID          `json:"id"`
	Status           Status            `json:"status"`
	SecurityKey      string            `json:"security_key"`
	Offer            Offer             `json:"offer"`
	Participants     []ParticipantView `json:"participants"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	FinishedAt       *time.Time        `json:"finished_at,omitempty"`
	CanceledAt       *time.Time        `json:"canceled_at,omitempty"`
	EstimatedArrival *time.Time        `json:"estimated_arrival,omitempty"`
	NavApp           string            `json:"nav_app,omitempty"`
	Version          int64             `json:"version"`
}

type ParticipantView struct {
	UserID   types.ID     `json:"user_id"`
	Role     Role         `json:"role"`
	Leg      LegStatus    `json:"leg"`
	JoinedAt time.Time    `json:"joined_at"`
	Reward   RewardStatus `json:"reward,omitempty"`
}

func (c *Carpool) View() View {
	v := View{
		ID:               c.ID,
		Status:           c.Status,
		SecurityKey:      c.SecurityKey,
		Offer:            c.Offer,
		StartedAt:        c.StartedAt,
		FinishedAt:       c.FinishedAt,
		CanceledAt:       c.CanceledAt,
		EstimatedArrival: c.EstimatedArrival,
		NavApp:           c.NavApp,
		Version:          c.Version,
	}
	for _, p := range c.Participants {
		v.Participants = append(v.Participants, ParticipantView{
			UserID: p.UserID, Role: p.Role, Leg: p.Leg, JoinedAt: p.JoinedAt, Reward: p.Reward,
		})
	}
	return v
}
