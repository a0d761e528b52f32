package telework

import (
	"context"
	"testing"
	"time"

	"carpool/internal/testutil"
	"carpool/internal/types"
)

func TestDetectorModes(t *testing.T) {
	workplace := types.Point{Lat: 29.7600, Lng: -95.3700}
	near := types.Point{Lat: 29.7620, Lng: -95.3700} // ~220m
	far := types.Point{Lat: 29.8000, Lng: -95.3700}  // ~4.4km

	both := NewDetector(500, "both")
	either := NewDetector(500, "any")

	if !both.Qualifies(workplace, near, near) {
		t.Errorf("both endpoints near must qualify")
	}
	if both.Qualifies(workplace, far, near) {
		t.Errorf("one far endpoint must not qualify in both mode")
	}
	if !either.Qualifies(workplace, far, near) {
		t.Errorf("one near endpoint must qualify in any mode")
	}
	if either.Qualifies(workplace, far, far) {
		t.Errorf("no near endpoint must never qualify")
	}
}

func TestRecordOncePerRide(t *testing.T) {
	ctx := context.Background()
	db := testutil.Postgres(t, "telework_logs")
	s := NewStore(db)

	w := Window{Start: time.Now().Add(-time.Hour).UTC(), End: time.Now().UTC()}
	for i := 0; i < 2; i++ {
		if err := s.Record(ctx, "u1", "c1", w); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	var n int
	if err := db.QueryRow(ctx, `SELECT count(*) FROM telework_logs WHERE carpool_id='c1'`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one telework row, got %d", n)
	}
}
