package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"carpool/internal/modules/trajectory"
	"carpool/internal/testutil"
	"carpool/internal/types"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(testutil.Postgres(t, "carpool_legs"))
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	now := time.Now().UTC()

	first, err := s.Open(ctx, Opening{CarpoolID: "c1", UserID: "r1", Role: "rider", OpenedAt: now})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	second, err := s.Open(ctx, Opening{CarpoolID: "c1", UserID: "r1", Role: "rider", OpenedAt: now.Add(time.Second)})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if first != second {
		t.Fatalf("expected same ledger id, got %d and %d", first, second)
	}
}

func TestFinishThenCancelOverrides(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	now := time.Now().UTC()

	if _, err := s.Open(ctx, Opening{CarpoolID: "c2", UserID: "r1", Role: "rider", OpenedAt: now}); err != nil {
		t.Fatalf("open: %v", err)
	}
	final := types.Point{Lat: 29.76, Lng: -95.37}
	err := s.RecordFinish(ctx, Finish{
		CarpoolID: "c2", UserID: "r1", FinishedAt: now, DistanceKm: 12.5, EndType: "normal",
		FinalDestination: &final,
		Verification: trajectory.Result{
			UserID: "r1", CounterpartID: "d1", MatchedBuckets: 40, ExpectedBuckets: 45,
			Threshold: 36, TimeCoverage: 0.89, TimeThreshold: 0.8, Passed: true, Outcome: trajectory.OutcomePassed,
		},
		Reward: "pending",
	})
	if err != nil {
		t.Fatalf("record finish: %v", err)
	}

	e, err := s.Get(ctx, "c2", "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e.Status != StatusFinished || e.Outcome != "passed" || e.MatchedBuckets == nil || *e.MatchedBuckets != 40 {
		t.Fatalf("unexpected finished entry: %+v", e)
	}

	if err := s.Cancel(ctx, "c2", "r1", "canceled during finish", now); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	e, err = s.Get(ctx, "c2", "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e.Status != StatusCanceled || e.Reward != "" {
		t.Fatalf("expected canceled entry without reward, got %+v", e)
	}

	// A late finish replay must not resurrect the canceled row.
	if err := s.RecordFinish(ctx, Finish{CarpoolID: "c2", UserID: "r1", FinishedAt: now, EndType: "normal"}); err != nil {
		t.Fatalf("replay finish: %v", err)
	}
	if e, _ = s.Get(ctx, "c2", "r1"); e.Status != StatusCanceled {
		t.Fatalf("expected row to stay canceled, got %s", e.Status)
	}
}

func TestDiscardOnlyOpenRows(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	now := time.Now().UTC()

	if _, err := s.Open(ctx, Opening{CarpoolID: "c3", UserID: "r1", Role: "rider", OpenedAt: now}); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Discard(ctx, "c3", "r1"); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if _, err := s.Get(ctx, "c3", "r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected row removed, got %v", err)
	}

	if _, err := s.Open(ctx, Opening{CarpoolID: "c3", UserID: "r2", Role: "rider", OpenedAt: now}); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.RecordFinish(ctx, Finish{CarpoolID: "c3", UserID: "r2", FinishedAt: now, EndType: "normal"}); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := s.Discard(ctx, "c3", "r2"); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if _, err := s.Get(ctx, "c3", "r2"); err != nil {
		t.Fatalf("finished row must survive discard: %v", err)
	}
}

func TestSetRewardRequiresFinishedRow(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	now := time.Now().UTC()

	if _, err := s.Open(ctx, Opening{CarpoolID: "c4", UserID: "r1", Role: "rider", OpenedAt: now}); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.SetReward(ctx, "c4", "r1", "tr_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for open row, got %v", err)
	}
	if err := s.RecordFinish(ctx, Finish{CarpoolID: "c4", UserID: "r1", FinishedAt: now, EndType: "normal", Reward: "pending"}); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := s.SetReward(ctx, "c4", "r1", "tr_1"); err != nil {
		t.Fatalf("set reward: %v", err)
	}
	e, err := s.Get(ctx, "c4", "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e.Reward != "awarded" || e.RewardReceipt != "tr_1" {
		t.Fatalf("unexpected reward fields: %+v", e)
	}
}
