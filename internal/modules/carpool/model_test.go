package carpool

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"carpool/internal/types"
)

func rideWith(status Status, legs ...LegStatus) *Carpool {
	c := &Carpool{ID: "c1", Status: status, Offer: Offer{DriverID: "d1", Seats: 2}}
	for i, leg := range legs {
		p := Participant{UserID: "d1", Role: RoleDriver, Leg: leg}
		if i > 0 {
			p.UserID, p.Role = types.ID("r"+string(rune('0'+i))), RoleRider
		}
		c.Participants = append(c.Participants, p)
	}
	return c
}

func TestSettle(t *testing.T) {
	at := time.Now()
	cases := []struct {
		name string
		c    *Carpool
		want Status
	}{
		{"open legs keep the ride started", rideWith(StatusStarted, LegFinished, LegActive), StatusStarted},
		{"any finished leg finishes the ride", rideWith(StatusStarted, LegCanceled, LegFinished), StatusFinished},
		{"all canceled cancels the ride", rideWith(StatusStarted, LegCanceled, LegCanceled), StatusCanceled},
		{"waiting rides never settle", rideWith(StatusWaiting, LegCanceled, LegCanceled), StatusWaiting},
	}
	for _, tc := range cases {
		if err := tc.c.settle(ActorSystem, "", at); err != nil {
			t.Fatalf("%s: settle: %v", tc.name, err)
		}
		if tc.c.Status != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, tc.c.Status, tc.want)
		}
	}
}

func TestAbortOnlyFromWaiting(t *testing.T) {
	c := rideWith(StatusWaiting, LegActive, LegActive, LegCanceled)
	closed, err := c.abort(ActorDriver, "d1", ReasonDriverAbort, time.Now())
	if err != nil {
		t.Fatalf("abort: %v", err)
	}
	if len(closed) != 2 || c.Status != StatusCanceled || c.CanceledAt == nil {
		t.Fatalf("unexpected abort result: closed=%v status=%s", closed, c.Status)
	}

	started := rideWith(StatusStarted, LegActive, LegActive)
	if _, err := started.abort(ActorDriver, "d1", "", time.Now()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestTransitionRejectsTerminalEdges(t *testing.T) {
	c := rideWith(StatusFinished, LegFinished)
	if err := c.transition(StatusStarted, ActorDriver, "d1", "", time.Now()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("finished -> started must be rejected, got %v", err)
	}
	if len(c.History) != 0 {
		t.Fatalf("rejected transitions must not be recorded")
	}
}

func TestFullCountsOpenRidersOnly(t *testing.T) {
	c := rideWith(StatusWaiting, LegActive, LegActive, LegCanceled)
	if c.Full() {
		t.Fatalf("a canceled rider frees the seat")
	}
	c.Participants[2].Leg = LegActive
	if !c.Full() {
		t.Fatalf("two open riders fill two seats")
	}
}

func TestStatusEncodesAsName(t *testing.T) {
	raw, err := json.Marshal(rideWith(StatusStarted, LegActive))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"status":"started"`) {
		t.Fatalf("status must encode by name: %s", raw)
	}
	var back Carpool
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Status != StatusStarted {
		t.Fatalf("decoded status %s", back.Status)
	}
	var s Status
	if err := s.UnmarshalText([]byte("paused")); err == nil {
		t.Fatalf("unknown status names must be rejected")
	}
}
