// README: Turns committed carpool notices into queued side-effect tasks.
package sideeffect

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"carpool/internal/modules/carpool"
	"carpool/internal/modules/notification"
	"carpool/internal/modules/refresh"
	"carpool/internal/modules/trajectory"
	"carpool/internal/observability"
	"carpool/internal/types"
)

// Queue accepts tasks without waiting for them to run.
type Queue interface {
	Enqueue(ctx context.Context, t Task) error
}

type Dispatcher struct {
	queue Queue
	loc   *time.Location
	log   *slog.Logger
	now   func() time.Time
}

func NewDispatcher(queue Queue, loc *time.Location, log *slog.Logger) *Dispatcher {
	if loc == nil {
		loc = time.UTC
	}
	return &Dispatcher{queue: queue, loc: loc, log: log, now: time.Now}
}

// Dispatch enqueues every task planned for n. Enqueue failures are logged and
// counted; the committed transition is never affected.
func (d *Dispatcher) Dispatch(ctx context.Context, n carpool.Notice) {
	for _, t := range d.Plan(n) {
		if err := d.queue.Enqueue(ctx, t); err != nil {
			observability.SideEffectsTotal.WithLabelValues(string(t.Kind), "dropped").Inc()
			d.log.Error("side-effect enqueue failed",
				"kind", t.Kind, "carpool_id", t.CarpoolID, "user_id", t.UserID, "err", err)
		}
	}
}

// Plan lists the tasks for a notice in execution-independent order.
func (d *Dispatcher) Plan(n carpool.Notice) []Task {
	c := n.Carpool
	var tasks []Task

	if len(n.Recipients) > 0 {
		t := d.task(KindNotify, c.ID)
		t.Recipients = n.Recipients
		t.Template = templateFor(n)
		t.Data = map[string]string{
			"carpool_id":  string(c.ID),
			"status":      c.Status.String(),
			"destination": c.Offer.Destination.Name,
			"actor_id":    string(n.ActorID),
		}
		tasks = append(tasks, t)
	}

	switch n.Kind {
	case carpool.NoticeStarted:
		if c.StartedAt == nil {
			break
		}
		for _, p := range c.Participants {
			if p.Closed() {
				continue
			}
			tasks = append(tasks, d.refreshTasks(c.ID, p.UserID, refresh.ActivityAfterStart, *c.StartedAt)...)
		}
	case carpool.NoticeLegFinished:
		p := c.Participant(n.ActorID)
		if p == nil || p.Leg != carpool.LegFinished || p.FinishedAt == nil {
			break
		}
		// Failed or unverifiable legs close quietly: no refresh, no telework
		// entry and no reward.
		if n.Verification == nil || n.Verification.Outcome != trajectory.OutcomePassed {
			break
		}
		tasks = append(tasks, d.refreshTasks(c.ID, p.UserID, refresh.ActivityAfterFinish, *p.FinishedAt)...)
		if t, ok := d.teleworkTask(c, p); ok {
			tasks = append(tasks, t)
		}
		// A passed leg whose ledger row never finished is not paid.
		if p.Reward == carpool.RewardPending {
			t := d.task(KindIncentive, c.ID)
			t.UserID = p.UserID
			tasks = append(tasks, t)
		}
	}
	return tasks
}

func (d *Dispatcher) task(kind Kind, carpoolID types.ID) Task {
	return Task{ID: uuid.NewString(), Kind: kind, CarpoolID: carpoolID, CreatedAt: d.now().UTC()}
}

func (d *Dispatcher) refreshTasks(carpoolID, userID types.ID, activity string, ref time.Time) []Task {
	entries := refresh.Plan(userID, carpoolID, activity, ref, d.loc)
	tasks := make([]Task, 0, len(entries))
	for _, e := range entries {
		at := e.ScheduledAt
		t := d.task(KindRefresh, carpoolID)
		t.UserID = userID
		t.Activity = e.Activity
		t.ScheduledAt = &at
		tasks = append(tasks, t)
	}
	return tasks
}

// teleworkTask needs both ride endpoints; the final destination reported at
// finish takes precedence over the offer destination.
func (d *Dispatcher) teleworkTask(c carpool.Carpool, p *carpool.Participant) (Task, bool) {
	if c.StartedAt == nil {
		return Task{}, false
	}
	origin, err := c.Offer.Origin.Point()
	if err != nil {
		return Task{}, false
	}
	dest, err := c.Offer.Destination.Point()
	if p.FinalDestination != nil {
		if final, ferr := p.FinalDestination.Point(); ferr == nil {
			dest, err = final, nil
		}
	}
	if err != nil {
		return Task{}, false
	}
	start, end := *c.StartedAt, *p.FinishedAt
	t := d.task(KindTelework, c.ID)
	t.UserID = p.UserID
	t.Origin = &origin
	t.Destination = &dest
	t.WindowStart = &start
	t.WindowEnd = &end
	return t, true
}

func templateFor(n carpool.Notice) string {
	switch n.Kind {
	case carpool.NoticeJoined:
		return notification.TemplateRiderJoined
	case carpool.NoticeStarted:
		return notification.TemplateRideStarted
	case carpool.NoticeLegFinished:
		return notification.TemplateLegFinished
	case carpool.NoticeLegCanceled:
		return notification.TemplateLegCanceled
	case carpool.NoticeRideCanceled:
		if n.Reason == carpool.ReasonExpired {
			return notification.TemplateRideExpired
		}
		return notification.TemplateRideCanceled
	}
	return ""
}
