package refresh

import (
	"testing"
	"time"
)

func TestPlanOffsets(t *testing.T) {
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	// 23:30 local on March 2nd.
	ref := time.Date(2026, 3, 2, 23, 30, 0, 0, loc)

	entries := Plan("u1", "c1", ActivityAfterFinish, ref, loc)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if got := entries[0].ScheduledAt; !got.Equal(ref.Add(3 * time.Hour)) {
		t.Errorf("first entry at %s, want +3h", got)
	}
	want := time.Date(2026, 3, 3, 15, 0, 0, 0, loc)
	if got := entries[1].ScheduledAt; !got.Equal(want) {
		t.Errorf("second entry at %s, want %s", got, want)
	}
	for _, e := range entries {
		if e.Status != StatusPending || e.UserID != "u1" || e.CarpoolID != "c1" {
			t.Errorf("unexpected entry %+v", e)
		}
	}
}

func TestPlanUsesLocalDay(t *testing.T) {
	loc, _ := time.LoadLocation("America/Chicago")
	// 03:00 UTC on March 3rd is still March 2nd in Chicago.
	ref := time.Date(2026, 3, 3, 3, 0, 0, 0, time.UTC)
	entries := Plan("u1", "c1", ActivityAfterStart, ref, loc)
	want := time.Date(2026, 3, 3, 15, 0, 0, 0, loc)
	if !entries[1].ScheduledAt.Equal(want) {
		t.Fatalf("next-day entry must follow the local calendar: got %s want %s", entries[1].ScheduledAt, want)
	}
}
