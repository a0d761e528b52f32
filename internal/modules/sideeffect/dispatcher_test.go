package sideeffect

import (
	"context"
	"testing"
	"time"

	"carpool/internal/logging"
	"carpool/internal/modules/carpool"
	"carpool/internal/modules/notification"
	"carpool/internal/modules/trajectory"
	"carpool/internal/types"
)

var (
	rideStart = time.Date(2026, 3, 2, 13, 30, 0, 0, time.UTC)
	home      = types.Point{Lat: 29.7000, Lng: -95.4000}
	office    = types.Point{Lat: 29.7600, Lng: -95.3700}
)

func startedRide() carpool.Carpool {
	start := rideStart
	return carpool.Carpool{
		ID: "c1",
		Offer: carpool.Offer{
			DriverID:    "d1",
			Origin:      types.Place{Name: "Home", Location: &home},
			Destination: types.Place{Name: "Office", Location: &office},
		},
		Status:    carpool.StatusStarted,
		StartedAt: &start,
		Participants: []carpool.Participant{
			{UserID: "d1", Role: carpool.RoleDriver, Leg: carpool.LegActive},
			{UserID: "r1", Role: carpool.RoleRider, Leg: carpool.LegActive},
			{UserID: "r2", Role: carpool.RoleRider, Leg: carpool.LegCanceled},
		},
	}
}

func finishLeg(c *carpool.Carpool, user types.ID, at time.Time, reward carpool.RewardStatus) {
	p := c.Participant(user)
	p.Leg = carpool.LegFinished
	p.FinishedAt = &at
	p.Reward = reward
}

func passed(user types.ID) *trajectory.Result {
	return &trajectory.Result{UserID: user, Passed: true, Outcome: trajectory.OutcomePassed}
}

func countKinds(tasks []Task) map[Kind]int {
	out := map[Kind]int{}
	for _, t := range tasks {
		out[t.Kind]++
	}
	return out
}

func newTestDispatcher(q Queue) *Dispatcher {
	d := NewDispatcher(q, time.UTC, logging.Discard())
	d.now = func() time.Time { return rideStart }
	return d
}

func TestPlanJoinedNotifiesDriver(t *testing.T) {
	c := startedRide()
	c.Status = carpool.StatusWaiting
	c.StartedAt = nil
	tasks := newTestDispatcher(nil).Plan(carpool.Notice{
		Kind: carpool.NoticeJoined, Carpool: c, ActorID: "r1", Recipients: []types.ID{"d1"},
	})
	if len(tasks) != 1 {
		t.Fatalf("expected one notify task, got %+v", tasks)
	}
	got := tasks[0]
	if got.Kind != KindNotify || got.Template != notification.TemplateRiderJoined {
		t.Fatalf("unexpected task %+v", got)
	}
	if len(got.Recipients) != 1 || got.Recipients[0] != "d1" {
		t.Fatalf("unexpected recipients %v", got.Recipients)
	}
	if got.Data["destination"] != "Office" || got.ID == "" {
		t.Fatalf("task missing data or id: %+v", got)
	}
}

func TestPlanStartedSchedulesRefreshForActiveParticipants(t *testing.T) {
	tasks := newTestDispatcher(nil).Plan(carpool.Notice{
		Kind: carpool.NoticeStarted, Carpool: startedRide(), ActorID: "d1", Recipients: []types.ID{"r1"},
	})
	kinds := countKinds(tasks)
	if kinds[KindNotify] != 1 {
		t.Errorf("expected 1 notify, got %d", kinds[KindNotify])
	}
	// driver and r1, two entries each; canceled r2 gets none
	if kinds[KindRefresh] != 4 {
		t.Errorf("expected 4 refresh tasks, got %d", kinds[KindRefresh])
	}
	for _, task := range tasks {
		if task.Kind == KindRefresh && task.UserID == "r2" {
			t.Errorf("canceled rider must not get refresh entries")
		}
	}
}

func TestPlanLegFinishedPassed(t *testing.T) {
	c := startedRide()
	finishLeg(&c, "r1", rideStart.Add(40*time.Minute), carpool.RewardPending)

	tasks := newTestDispatcher(nil).Plan(carpool.Notice{
		Kind: carpool.NoticeLegFinished, Carpool: c, ActorID: "r1",
		Recipients: []types.ID{"d1"}, Verification: passed("r1"),
	})
	kinds := countKinds(tasks)
	if kinds[KindNotify] != 1 || kinds[KindRefresh] != 2 || kinds[KindTelework] != 1 || kinds[KindIncentive] != 1 {
		t.Fatalf("unexpected task mix %v", kinds)
	}
	for _, task := range tasks {
		if task.Kind != KindTelework {
			continue
		}
		if *task.Origin != home || *task.Destination != office {
			t.Errorf("telework endpoints %v -> %v", *task.Origin, *task.Destination)
		}
		if !task.WindowStart.Equal(rideStart) || !task.WindowEnd.Equal(rideStart.Add(40*time.Minute)) {
			t.Errorf("telework window %s - %s", task.WindowStart, task.WindowEnd)
		}
	}
}

func TestPlanLegFinishedWithoutPassOnlyNotifies(t *testing.T) {
	c := startedRide()
	for _, outcome := range []trajectory.Outcome{trajectory.OutcomeFailed, trajectory.OutcomeInsufficientData} {
		finishLeg(&c, "r1", rideStart.Add(40*time.Minute), carpool.RewardWithheld)
		result := trajectory.Result{UserID: "r1", Outcome: outcome}
		tasks := newTestDispatcher(nil).Plan(carpool.Notice{
			Kind: carpool.NoticeLegFinished, Carpool: c, ActorID: "r1",
			Recipients: []types.ID{"d1"}, Verification: &result,
		})
		kinds := countKinds(tasks)
		if kinds[KindIncentive] != 0 || kinds[KindTelework] != 0 || kinds[KindRefresh] != 0 {
			t.Errorf("%s: expected only a notify task, got %v", outcome, kinds)
		}
		if kinds[KindNotify] != 1 {
			t.Errorf("%s: expected the counterpart to be notified, got %v", outcome, kinds)
		}
	}
}

func TestPlanPassedLegWithoutLedgerRowIsNotPaid(t *testing.T) {
	c := startedRide()
	finishLeg(&c, "r1", rideStart.Add(40*time.Minute), carpool.RewardUnverified)

	tasks := newTestDispatcher(nil).Plan(carpool.Notice{
		Kind: carpool.NoticeLegFinished, Carpool: c, ActorID: "r1", Verification: passed("r1"),
	})
	kinds := countKinds(tasks)
	if kinds[KindIncentive] != 0 {
		t.Fatalf("unrecorded leg must not be paid, got %v", kinds)
	}
	if kinds[KindTelework] != 1 || kinds[KindRefresh] != 2 {
		t.Fatalf("verified commute still schedules refresh and telework, got %v", kinds)
	}
}

func TestPlanTeleworkUsesFinalDestination(t *testing.T) {
	c := startedRide()
	finishLeg(&c, "r1", rideStart.Add(30*time.Minute), carpool.RewardPending)
	dropoff := types.Point{Lat: 29.7300, Lng: -95.3800}
	c.Participant("r1").FinalDestination = &types.Place{Name: "Cafe", Location: &dropoff}

	tasks := newTestDispatcher(nil).Plan(carpool.Notice{
		Kind: carpool.NoticeLegFinished, Carpool: c, ActorID: "r1", Verification: passed("r1"),
	})
	found := false
	for _, task := range tasks {
		if task.Kind != KindTelework {
			continue
		}
		found = true
		if *task.Destination != dropoff {
			t.Fatalf("expected final destination, got %v", *task.Destination)
		}
	}
	if !found {
		t.Fatal("expected a telework task")
	}
}

func TestPlanRideCanceledTemplates(t *testing.T) {
	c := startedRide()
	c.Status = carpool.StatusCanceled
	d := newTestDispatcher(nil)

	expired := d.Plan(carpool.Notice{Kind: carpool.NoticeRideCanceled, Carpool: c, Recipients: []types.ID{"r1"}, Reason: carpool.ReasonExpired})
	if len(expired) != 1 || expired[0].Template != notification.TemplateRideExpired {
		t.Fatalf("expected expiry notice, got %+v", expired)
	}
	canceled := d.Plan(carpool.Notice{Kind: carpool.NoticeRideCanceled, Carpool: c, Recipients: []types.ID{"r1"}, Reason: carpool.ReasonDriverAbort})
	if len(canceled) != 1 || canceled[0].Template != notification.TemplateRideCanceled {
		t.Fatalf("expected cancel notice, got %+v", canceled)
	}
	if none := d.Plan(carpool.Notice{Kind: carpool.NoticeLegCanceled, Carpool: c}); len(none) != 0 {
		t.Fatalf("no recipients means no tasks, got %+v", none)
	}
}

func TestDispatchDropsWhenQueueFull(t *testing.T) {
	q := NewMemoryQueue(1)
	d := newTestDispatcher(q)
	d.Dispatch(context.Background(), carpool.Notice{
		Kind: carpool.NoticeStarted, Carpool: startedRide(), ActorID: "d1", Recipients: []types.ID{"r1"},
	})
	if got := len(q.ch); got != 1 {
		t.Fatalf("expected queue to hold exactly one task, got %d", got)
	}
}
