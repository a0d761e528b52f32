// README: Carpool lifecycle engine: create, join, start and status reads through a version-CAS loop.
package carpool

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"carpool/internal/config"
	"carpool/internal/modules/ledger"
	"carpool/internal/modules/profile"
	"carpool/internal/modules/trajectory"
	"carpool/internal/observability"
	"carpool/internal/types"
)

type Ledger interface {
	Open(ctx context.Context, o ledger.Opening) (int64, error)
	RecordFinish(ctx context.Context, f ledger.Finish) error
	Cancel(ctx context.Context, carpoolID, userID types.ID, reason string, at time.Time) error
	Discard(ctx context.Context, carpoolID, userID types.ID) error
}

type LegVerifier interface {
	VerifyLeg(ctx context.Context, req trajectory.LegRequest) trajectory.Result
	VerifyBest(ctx context.Context, base trajectory.LegRequest, counterparts []types.ID) trajectory.Result
}

type ProfileLookup interface {
	Summary(ctx context.Context, userID types.ID) (profile.Summary, error)
}

type ArrivalEstimator interface {
	EstimateArrival(ctx context.Context, origin, destination types.Point, departAt time.Time) (time.Time, error)
}

// Deps wires the engine to its stores and collaborators. Arrival and Effects
// may be nil.
type Deps struct {
	Store    Store
	Ledger   Ledger
	Verifier LegVerifier
	Profiles ProfileLookup
	Arrival  ArrivalEstimator
	Effects  Dispatcher
	Logger   *slog.Logger
	Now      func() time.Time
}

type Service struct {
	store    Store
	ledger   Ledger
	verifier LegVerifier
	profiles ProfileLookup
	arrival  ArrivalEstimator
	effects  Dispatcher
	log      *slog.Logger
	now      func() time.Time
	cfg      config.CarpoolConfig
}

func NewService(d Deps, cfg config.CarpoolConfig) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Effects == nil {
		d.Effects = discardDispatcher{}
	}
	if cfg.CASAttempts <= 0 {
		cfg.CASAttempts = 1
	}
	return &Service{
		store:    d.Store,
		ledger:   d.Ledger,
		verifier: d.Verifier,
		profiles: d.Profiles,
		arrival:  d.Arrival,
		effects:  d.Effects,
		log:      d.Logger,
		now:      d.Now,
		cfg:      cfg,
	}
}

var tracer = otel.Tracer("carpool/internal/modules/carpool")

// errNoChange aborts a mutation without writing; mutate returns it together
// with the freshly read aggregate.
var errNoChange = errors.New("no change")

type CreateCommand struct {
	DriverID          types.ID
	Origin            types.Place
	Destination       types.Place
	PlannedTravelTime time.Time
	Seats             int
}

type JoinCommand struct {
	CarpoolID types.ID
	RiderID   types.ID
}

type JoinResult struct {
	CarpoolID   types.ID        `json:"carpool_id"`
	Driver      profile.Summary `json:"driver"`
	Destination types.Place     `json:"destination"`
	LedgerID    int64           `json:"ledger_id"`
	SecurityKey string          `json:"security_key"`
}

type StartCommand struct {
	CarpoolID        types.ID
	DriverID         types.ID
	EstimatedArrival time.Time
	NavApp           string
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (c *Carpool, err error) {
	ctx, done := s.begin(ctx, "create", attribute.String("carpool.driver_id", string(cmd.DriverID)))
	defer done(&err)

	if err := s.validateCreate(&cmd); err != nil {
		return nil, err
	}

	id := newID()
	if err := s.claim(ctx, cmd.DriverID, id); err != nil {
		return nil, err
	}

	now := s.now()
	ledgerID, err := s.ledger.Open(ctx, ledger.Opening{
		CarpoolID: id,
		UserID:    cmd.DriverID,
		Role:      string(RoleDriver),
		OpenedAt:  now,
	})
	if err != nil {
		s.release(ctx, cmd.DriverID, id)
		return nil, fmt.Errorf("%w: open ledger: %w", ErrDependency, err)
	}

	c = &Carpool{
		ID: id,
		Offer: Offer{
			DriverID:          cmd.DriverID,
			Origin:            cmd.Origin,
			Destination:       cmd.Destination,
			PlannedTravelTime: cmd.PlannedTravelTime,
			Seats:             cmd.Seats,
			CreatedAt:         now,
		},
		Participants: []Participant{{
			UserID:   cmd.DriverID,
			Role:     RoleDriver,
			JoinedAt: now,
			LedgerID: ledgerID,
			Leg:      LegActive,
		}},
		Version:     1,
		SecurityKey: newSecurityKey(),
	}
	if err := c.transition(StatusWaiting, ActorDriver, cmd.DriverID, "", now); err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, c); err != nil {
		s.release(ctx, cmd.DriverID, id)
		if derr := s.ledger.Discard(ctx, id, cmd.DriverID); derr != nil {
			s.log.Error("ledger discard after failed create", "carpool_id", id, "error", derr)
		}
		return nil, fmt.Errorf("%w: create carpool: %w", ErrDependency, err)
	}
	s.log.Info("carpool created", "carpool_id", id, "driver_id", cmd.DriverID)
	return c, nil
}

func (s *Service) validateCreate(cmd *CreateCommand) error {
	if cmd.DriverID == "" {
		return fmt.Errorf("%w: driver id is required", ErrValidation)
	}
	if _, err := cmd.Origin.Point(); err != nil {
		return fmt.Errorf("%w: origin: %w", ErrValidation, err)
	}
	if _, err := cmd.Destination.Point(); err != nil {
		return fmt.Errorf("%w: destination: %w", ErrValidation, err)
	}
	if cmd.PlannedTravelTime.IsZero() {
		return fmt.Errorf("%w: planned travel time is required", ErrValidation)
	}
	if cmd.Seats == 0 {
		cmd.Seats = s.cfg.MaxRiders
	}
	if cmd.Seats < 0 || cmd.Seats > s.cfg.MaxRiders {
		return fmt.Errorf("%w: seats must be within 1..%d", ErrValidation, s.cfg.MaxRiders)
	}
	return nil
}

func (s *Service) Join(ctx context.Context, cmd JoinCommand) (res *JoinResult, err error) {
	ctx, done := s.begin(ctx, "join",
		attribute.String("carpool.id", string(cmd.CarpoolID)),
		attribute.String("carpool.rider_id", string(cmd.RiderID)))
	defer done(&err)

	if cmd.CarpoolID == "" || cmd.RiderID == "" {
		return nil, fmt.Errorf("%w: carpool id and rider id are required", ErrValidation)
	}

	c, err := s.get(ctx, cmd.CarpoolID)
	if err != nil {
		return nil, err
	}
	// Rejected joins never reach the ledger.
	if err := checkJoin(c, cmd.RiderID); err != nil {
		return nil, err
	}
	if err := s.claim(ctx, cmd.RiderID, c.ID); err != nil {
		return nil, err
	}

	now := s.now()
	ledgerID, err := s.ledger.Open(ctx, ledger.Opening{
		CarpoolID: c.ID,
		UserID:    cmd.RiderID,
		Role:      string(RoleRider),
		OpenedAt:  now,
	})
	if err != nil {
		s.abandonJoin(ctx, c.ID, cmd.RiderID, false)
		return nil, fmt.Errorf("%w: open ledger: %w", ErrDependency, err)
	}

	committed, err := s.mutate(ctx, "join", c.ID, func(c *Carpool) error {
		if err := checkJoin(c, cmd.RiderID); err != nil {
			return err
		}
		c.Participants = append(c.Participants, Participant{
			UserID:   cmd.RiderID,
			Role:     RoleRider,
			JoinedAt: now,
			LedgerID: ledgerID,
			Leg:      LegActive,
		})
		c.History = append(c.History, Event{
			Type: EventJoined, From: c.Status, To: c.Status,
			ActorType: ActorRider, ActorID: cmd.RiderID, At: now,
		})
		return nil
	})
	if err != nil {
		s.abandonJoin(ctx, c.ID, cmd.RiderID, true)
		return nil, err
	}

	driver, perr := s.profiles.Summary(ctx, committed.Offer.DriverID)
	if perr != nil {
		s.log.Warn("driver profile lookup failed", "carpool_id", c.ID, "driver_id", committed.Offer.DriverID, "error", perr)
		driver = profile.Summary{UserID: committed.Offer.DriverID}
	}

	s.effects.Dispatch(ctx, Notice{
		Kind:       NoticeJoined,
		Carpool:    *committed,
		ActorID:    cmd.RiderID,
		Recipients: []types.ID{committed.Offer.DriverID},
	})
	return &JoinResult{
		CarpoolID:   committed.ID,
		Driver:      driver,
		Destination: committed.Offer.Destination,
		LedgerID:    ledgerID,
		SecurityKey: committed.SecurityKey,
	}, nil
}

func checkJoin(c *Carpool, riderID types.ID) error {
	if c.Status != StatusWaiting {
		return ErrAlreadyStarted
	}
	if c.Participant(riderID) != nil {
		return ErrAlreadyJoined
	}
	if c.Full() {
		return ErrFull
	}
	return nil
}

// abandonJoin undoes the claim and ledger row of a join that did not commit,
// unless a concurrent join by the same rider did.
func (s *Service) abandonJoin(ctx context.Context, carpoolID, riderID types.ID, ledgerOpened bool) {
	if c, err := s.store.Get(ctx, carpoolID); err == nil {
		if p := c.Participant(riderID); p != nil {
			if !p.Closed() {
				return
			}
			ledgerOpened = false
		}
	}
	s.release(ctx, riderID, carpoolID)
	if ledgerOpened {
		if err := s.ledger.Discard(ctx, carpoolID, riderID); err != nil {
			s.log.Error("ledger discard after rejected join", "carpool_id", carpoolID, "user_id", riderID, "error", err)
		}
	}
}

func (s *Service) Start(ctx context.Context, cmd StartCommand) (c *Carpool, err error) {
	ctx, done := s.begin(ctx, "start", attribute.String("carpool.id", string(cmd.CarpoolID)))
	defer done(&err)

	current, err := s.get(ctx, cmd.CarpoolID)
	if err != nil {
		return nil, err
	}
	if current.Offer.DriverID != cmd.DriverID {
		return nil, ErrNotDriver
	}

	eta := cmd.EstimatedArrival
	if eta.IsZero() && s.arrival != nil && current.Status == StatusWaiting {
		eta = s.estimateArrival(ctx, current)
	}

	now := s.now()
	committed, err := s.mutate(ctx, "start", cmd.CarpoolID, func(c *Carpool) error {
		if !CanTransition(c.Status, StatusStarted) {
			return fmt.Errorf("%w: start from %s", ErrInvalidState, c.Status)
		}
		if len(c.OpenRiders()) == 0 {
			return fmt.Errorf("%w: no riders joined", ErrInvalidState)
		}
		if !eta.IsZero() {
			at := eta
			c.EstimatedArrival = &at
		}
		c.NavApp = cmd.NavApp
		return c.transition(StatusStarted, ActorDriver, cmd.DriverID, "", now)
	})
	if err != nil {
		return nil, err
	}

	s.effects.Dispatch(ctx, Notice{
		Kind:       NoticeStarted,
		Carpool:    *committed,
		ActorID:    cmd.DriverID,
		Recipients: committed.OpenRiders(),
	})
	return committed, nil
}

func (s *Service) estimateArrival(ctx context.Context, c *Carpool) time.Time {
	origin, err := c.Offer.Origin.Point()
	if err != nil {
		return time.Time{}
	}
	dest, err := c.Offer.Destination.Point()
	if err != nil {
		return time.Time{}
	}
	eta, err := s.arrival.EstimateArrival(ctx, origin, dest, s.now())
	if err != nil {
		s.log.Warn("arrival estimate failed", "carpool_id", c.ID, "error", err)
		return time.Time{}
	}
	return eta
}

// GetStatus returns the ride as seen by one of its participants.
func (s *Service) GetStatus(ctx context.Context, carpoolID, callerID types.ID) (v *View, err error) {
	ctx, done := s.begin(ctx, "get_status", attribute.String("carpool.id", string(carpoolID)))
	defer done(&err)

	c, err := s.get(ctx, carpoolID)
	if err != nil {
		return nil, err
	}
	if c.Participant(callerID) == nil {
		return nil, ErrNotParticipant
	}
	view := c.View()
	return &view, nil
}

// mutate applies fn to a fresh copy of the aggregate and commits it if the
// version is unchanged, re-reading and re-validating on every lost race.
func (s *Service) mutate(ctx context.Context, op string, id types.ID, fn func(*Carpool) error) (*Carpool, error) {
	for attempt := 0; attempt < s.cfg.CASAttempts; attempt++ {
		c, err := s.get(ctx, id)
		if err != nil {
			return nil, err
		}
		expected := c.Version
		if err := fn(c); err != nil {
			if errors.Is(err, errNoChange) {
				return c, err
			}
			return nil, err
		}
		c.Version = expected + 1
		ok, err := s.store.Update(ctx, c, expected)
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if err != nil {
			return nil, fmt.Errorf("%w: update carpool: %w", ErrDependency, err)
		}
		if ok {
			return c, nil
		}
		observability.CASConflictsTotal.WithLabelValues(op).Inc()
	}
	return nil, ErrConflict
}

func (s *Service) get(ctx context.Context, id types.ID) (*Carpool, error) {
	c, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load carpool: %w", ErrDependency, err)
	}
	return c, nil
}

// claim makes carpoolID the user's active carpool. A claim left behind by a
// ride the user already left, or that no longer exists, is released first.
func (s *Service) claim(ctx context.Context, userID, carpoolID types.ID) error {
	for attempt := 0; attempt < 3; attempt++ {
		ok, existing, err := s.store.ClaimActive(ctx, userID, carpoolID)
		if err != nil {
			return fmt.Errorf("%w: claim active carpool: %w", ErrDependency, err)
		}
		if ok {
			return nil
		}
		if existing == "" {
			continue
		}
		stale, err := s.staleClaim(ctx, userID, existing)
		if err != nil {
			return err
		}
		if !stale {
			return ErrActiveCarpool
		}
		s.log.Info("releasing stale active claim", "user_id", userID, "carpool_id", existing)
		if err := s.store.ReleaseActive(ctx, userID, existing); err != nil {
			return fmt.Errorf("%w: release stale claim: %w", ErrDependency, err)
		}
	}
	return ErrActiveCarpool
}

// staleClaim treats a claim as live while the user's leg is open or a join is
// still in flight (not yet a participant of a non-terminal ride).
func (s *Service) staleClaim(ctx context.Context, userID, carpoolID types.ID) (bool, error) {
	c, err := s.store.Get(ctx, carpoolID)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: load claimed carpool: %w", ErrDependency, err)
	}
	if c.Status.Terminal() {
		return true, nil
	}
	p := c.Participant(userID)
	return p != nil && p.Closed(), nil
}

func (s *Service) release(ctx context.Context, userID, carpoolID types.ID) {
	if err := s.store.ReleaseActive(ctx, userID, carpoolID); err != nil {
		s.log.Warn("release active claim failed", "user_id", userID, "carpool_id", carpoolID, "error", err)
	}
}

func (s *Service) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := tracer.Start(ctx, "carpool."+op, trace.WithAttributes(attrs...))
	started := time.Now()
	return ctx, func(errp *error) {
		code := Code(*errp)
		observability.TransitionsTotal.WithLabelValues(op, code).Inc()
		observability.TransitionDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
		if *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, code)
		}
		span.End()
	}
}

func actorFor(r Role) string {
	if r == RoleDriver {
		return ActorDriver
	}
	return ActorRider
}

func newID() types.ID {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return types.ID(hex.EncodeToString(b[:]))
}

func newSecurityKey() string {
	var b [24]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
