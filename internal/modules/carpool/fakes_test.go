package carpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"carpool/internal/config"
	"carpool/internal/logging"
	"carpool/internal/modules/ledger"
	"carpool/internal/modules/profile"
	"carpool/internal/modules/trajectory"
	"carpool/internal/types"
)

type legKey struct {
	carpool types.ID
	user    types.ID
}

type fakeLedger struct {
	mu        sync.Mutex
	nextID    int64
	rows      map[legKey]int64
	status    map[legKey]string
	opens     int
	finishes  []ledger.Finish
	cancels   []legKey
	discards  []legKey
	openErr   error
	finishErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{rows: make(map[legKey]int64), status: make(map[legKey]string)}
}

func (l *fakeLedger) Open(_ context.Context, o ledger.Opening) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.openErr != nil {
		return 0, l.openErr
	}
	l.opens++
	k := legKey{o.CarpoolID, o.UserID}
	if id, ok := l.rows[k]; ok {
		return id, nil
	}
	l.nextID++
	l.rows[k] = l.nextID
	l.status[k] = "open"
	return l.nextID, nil
}

func (l *fakeLedger) RecordFinish(_ context.Context, f ledger.Finish) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finishErr != nil {
		return l.finishErr
	}
	l.finishes = append(l.finishes, f)
	k := legKey{f.CarpoolID, f.UserID}
	if l.status[k] != "canceled" {
		l.status[k] = "finished"
	}
	return nil
}

func (l *fakeLedger) Cancel(_ context.Context, carpoolID, userID types.ID, _ string, _ time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := legKey{carpoolID, userID}
	l.cancels = append(l.cancels, k)
	l.status[k] = "canceled"
	return nil
}

func (l *fakeLedger) Discard(_ context.Context, carpoolID, userID types.ID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := legKey{carpoolID, userID}
	if l.status[k] == "open" {
		delete(l.rows, k)
		delete(l.status, k)
		l.discards = append(l.discards, k)
	}
	return nil
}

func (l *fakeLedger) rowStatus(carpoolID, userID types.ID) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status[legKey{carpoolID, userID}]
}

func (l *fakeLedger) openCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opens
}

type verifyCall struct {
	req          trajectory.LegRequest
	counterparts []types.ID
}

type fakeVerifier struct {
	mu      sync.Mutex
	results map[types.ID]trajectory.Result
	calls   []verifyCall
	entered chan struct{}
	gate    chan struct{}
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{results: make(map[types.ID]trajectory.Result)}
}

func (v *fakeVerifier) set(userID types.ID, outcome trajectory.Outcome) {
	v.mu.Lock()
	defer v.mu.Unlock()
	r := trajectory.Result{UserID: userID, Threshold: 36, TimeThreshold: 0.8, Outcome: outcome}
	if outcome == trajectory.OutcomePassed {
		r.Passed, r.MatchedBuckets, r.ExpectedBuckets, r.TimeCoverage = true, 40, 45, 40.0/45.0
	}
	v.results[userID] = r
}

func (v *fakeVerifier) result(req trajectory.LegRequest, counterparts []types.ID) trajectory.Result {
	v.mu.Lock()
	v.calls = append(v.calls, verifyCall{req: req, counterparts: counterparts})
	entered, gate := v.entered, v.gate
	r, ok := v.results[req.UserID]
	v.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if !ok {
		r = trajectory.Result{UserID: req.UserID, Outcome: trajectory.OutcomeInsufficientData}
	}
	r.CounterpartID = req.CounterpartID
	return r
}

func (v *fakeVerifier) VerifyLeg(_ context.Context, req trajectory.LegRequest) trajectory.Result {
	return v.result(req, nil)
}

func (v *fakeVerifier) VerifyBest(_ context.Context, req trajectory.LegRequest, counterparts []types.ID) trajectory.Result {
	if len(counterparts) > 0 {
		req.CounterpartID = counterparts[0]
	}
	return v.result(req, counterparts)
}

func (v *fakeVerifier) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.calls)
}

type fakeProfiles map[types.ID]profile.Summary

func (p fakeProfiles) Summary(_ context.Context, id types.ID) (profile.Summary, error) {
	s, ok := p[id]
	if !ok {
		return profile.Summary{}, profile.ErrNotFound
	}
	return s, nil
}

type fakeArrival struct {
	eta time.Time
	err error
}

func (a fakeArrival) EstimateArrival(context.Context, types.Point, types.Point, time.Time) (time.Time, error) {
	return a.eta, a.err
}

type recordingDispatcher struct {
	mu      sync.Mutex
	notices []Notice
}

func (d *recordingDispatcher) Dispatch(_ context.Context, n Notice) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notices = append(d.notices, n)
}

func (d *recordingDispatcher) kinds() []NoticeKind {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]NoticeKind, len(d.notices))
	for i, n := range d.notices {
		out[i] = n.Kind
	}
	return out
}

func (d *recordingDispatcher) count(kind NoticeKind) int {
	n := 0
	for _, k := range d.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc      *Service
	store    *MemoryStore
	ledger   *fakeLedger
	verifier *fakeVerifier
	effects  *recordingDispatcher
	clock    *clock
}

var errBoom = errors.New("boom")

func testCarpoolConfig() config.CarpoolConfig {
	return config.CarpoolConfig{
		MaxRiders:     4,
		ExpiryGrace:   30 * time.Minute,
		ExpiryTick:    time.Minute,
		CASAttempts:   8,
		VerifyLockTTL: 30 * time.Second,
	}
}

func newHarness(opts ...func(*Deps)) *harness {
	h := &harness{
		store:    NewMemoryStore(),
		ledger:   newFakeLedger(),
		verifier: newFakeVerifier(),
		effects:  &recordingDispatcher{},
		clock:    &clock{now: time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)},
	}
	h.store.now = h.clock.Now
	d := Deps{
		Store:    h.store,
		Ledger:   h.ledger,
		Verifier: h.verifier,
		Profiles: fakeProfiles{"d1": {UserID: "d1", Name: "Dana", AvatarURL: "https://cdn/d1.png"}},
		Effects:  h.effects,
		Logger:   logging.Discard(),
		Now:      h.clock.Now,
	}
	for _, o := range opts {
		o(&d)
	}
	h.svc = NewService(d, testCarpoolConfig())
	return h
}

func place(name string, lat, lng float64) types.Place {
	return types.Place{Name: name, Address: name + " St", Location: &types.Point{Lat: lat, Lng: lng}}
}

func (h *harness) create(t *testing.T, driver types.ID, seats int) *Carpool {
	t.Helper()
	c, err := h.svc.Create(context.Background(), CreateCommand{
		DriverID:          driver,
		Origin:            place("Home", 29.7000, -95.4000),
		Destination:       place("Office", 29.7600, -95.3700),
		PlannedTravelTime: h.clock.Now().Add(30 * time.Minute),
		Seats:             seats,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return c
}
