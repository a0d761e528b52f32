// README: Finish transition: per-leg trajectory verification, ledger write, then aggregate commit.
package carpool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"carpool/internal/geo"
	"carpool/internal/modules/ledger"
	"carpool/internal/modules/trajectory"
	"carpool/internal/observability"
	"carpool/internal/types"
)

type FinishCommand struct {
	CarpoolID        types.ID
	CallerID         types.ID
	DistanceKm       float64
	FinalDestination *types.Place
	EstimatedArrival time.Time
	EndType          EndType
}

type FinishResult struct {
	CarpoolID    types.ID           `json:"carpool_id"`
	Status       Status             `json:"status"`
	Leg          LegStatus          `json:"leg"`
	Verification *trajectory.Result `json:"verification,omitempty"`
	Reward       RewardStatus       `json:"reward"`
}

var errCancelWon = fmt.Errorf("%w: leg canceled while finishing", ErrInvalidState)

// Finish closes the caller's leg. Verification decides the reward only; the
// leg closes whatever the outcome. A repeated finish returns the committed
// result without verifying again.
func (s *Service) Finish(ctx context.Context, cmd FinishCommand) (res *FinishResult, err error) {
	ctx, done := s.begin(ctx, "finish",
		attribute.String("carpool.id", string(cmd.CarpoolID)),
		attribute.String("carpool.caller_id", string(cmd.CallerID)))
	defer done(&err)

	if err := validateFinish(&cmd); err != nil {
		return nil, err
	}

	c, err := s.get(ctx, cmd.CarpoolID)
	if err != nil {
		return nil, err
	}
	if res, err := checkFinish(c, cmd.CallerID); res != nil || err != nil {
		return res, err
	}

	locked, err := s.store.TryLockVerification(ctx, c.ID, cmd.CallerID, s.cfg.VerifyLockTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: verification guard: %w", ErrDependency, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: finish already in progress", ErrConflict)
	}
	defer func() {
		if err := s.store.UnlockVerification(context.WithoutCancel(ctx), c.ID, cmd.CallerID); err != nil {
			s.log.Warn("verification guard release failed", "carpool_id", c.ID, "user_id", cmd.CallerID, "error", err)
		}
	}()

	// A finish that committed before the guard was taken wins.
	c, err = s.get(ctx, cmd.CarpoolID)
	if err != nil {
		return nil, err
	}
	if res, err := checkFinish(c, cmd.CallerID); res != nil || err != nil {
		return res, err
	}

	now := s.now()
	result := s.verify(ctx, c, cmd.CallerID, now)
	observability.VerificationsTotal.WithLabelValues(string(result.Outcome)).Inc()
	reward := rewardFor(result)

	record := ledger.Finish{
		CarpoolID:    c.ID,
		UserID:       cmd.CallerID,
		FinishedAt:   now,
		DistanceKm:   cmd.DistanceKm,
		EndType:      string(cmd.EndType),
		Verification: result,
		Reward:       string(reward),
	}
	if cmd.FinalDestination != nil {
		final, _ := cmd.FinalDestination.Point()
		record.FinalDestination = &final
		if detour, ok := detourMeters(c.Offer, final); ok {
			record.DetourMeters = &detour
		}
	}
	// Without a finished ledger row the reward cannot be audited, so the leg
	// closes unverified and the open row is left for reconciliation.
	if err := s.ledger.RecordFinish(ctx, record); err != nil {
		observability.LedgerWriteFailuresTotal.WithLabelValues("finish").Inc()
		s.log.Error("ledger finish write failed, closing leg without reward",
			"carpool_id", c.ID, "user_id", cmd.CallerID, "outcome", result.Outcome, "error", err)
		reward = RewardUnverified
	}

	committed, err := s.mutate(ctx, "finish", c.ID, func(c *Carpool) error {
		p := c.Participant(cmd.CallerID)
		if p == nil {
			return fmt.Errorf("%w: caller never joined", ErrInvalidState)
		}
		switch p.Leg {
		case LegFinished:
			return errNoChange
		case LegCanceled:
			return errCancelWon
		}
		if c.Status != StatusStarted {
			return fmt.Errorf("%w: finish from %s", ErrInvalidState, c.Status)
		}
		verdict := result
		p.Leg = LegFinished
		p.FinishedAt = &now
		p.DistanceKm = cmd.DistanceKm
		p.EndType = cmd.EndType
		p.FinalDestination = cmd.FinalDestination
		if !cmd.EstimatedArrival.IsZero() {
			eta := cmd.EstimatedArrival
			p.EstimatedArrival = &eta
		}
		p.Verification = &verdict
		p.Reward = reward
		actor := actorFor(p.Role)
		c.History = append(c.History, Event{
			Type: EventLegFinished, From: c.Status, To: c.Status,
			ActorType: actor, ActorID: cmd.CallerID, Reason: string(result.Outcome), At: now,
		})
		return c.settle(actor, cmd.CallerID, now)
	})
	switch {
	case errors.Is(err, errNoChange):
		return committedResult(committed, cmd.CallerID), nil
	case errors.Is(err, errCancelWon):
		if lerr := s.ledger.Cancel(ctx, c.ID, cmd.CallerID, "canceled during finish", now); lerr != nil {
			s.log.Error("corrective ledger cancel failed", "carpool_id", c.ID, "user_id", cmd.CallerID, "error", lerr)
		}
		return nil, err
	case err != nil:
		return nil, err
	}

	s.release(ctx, cmd.CallerID, c.ID)
	s.log.Info("leg finished", "carpool_id", c.ID, "user_id", cmd.CallerID,
		"outcome", result.Outcome, "matched_buckets", result.MatchedBuckets, "ride_status", committed.Status)

	s.effects.Dispatch(ctx, Notice{
		Kind:         NoticeLegFinished,
		Carpool:      *committed,
		ActorID:      cmd.CallerID,
		Recipients:   committed.OthersActive(cmd.CallerID),
		Verification: &result,
	})
	return committedResult(committed, cmd.CallerID), nil
}

func validateFinish(cmd *FinishCommand) error {
	if cmd.CarpoolID == "" || cmd.CallerID == "" {
		return fmt.Errorf("%w: carpool id and caller id are required", ErrValidation)
	}
	if cmd.DistanceKm < 0 {
		return fmt.Errorf("%w: distance must not be negative", ErrValidation)
	}
	if cmd.EndType == "" {
		cmd.EndType = EndNormal
	}
	if !cmd.EndType.Valid() {
		return fmt.Errorf("%w: unknown end type %q", ErrValidation, cmd.EndType)
	}
	if cmd.FinalDestination != nil {
		if _, err := cmd.FinalDestination.Point(); err != nil {
			return fmt.Errorf("%w: final destination: %w", ErrValidation, err)
		}
	}
	return nil
}

// checkFinish returns the committed result for an already finished leg, an
// error when the leg cannot finish, or (nil, nil) when verification may run.
func checkFinish(c *Carpool, callerID types.ID) (*FinishResult, error) {
	p := c.Participant(callerID)
	if p == nil {
		return nil, fmt.Errorf("%w: caller never joined", ErrInvalidState)
	}
	switch p.Leg {
	case LegFinished:
		return committedResult(c, callerID), nil
	case LegCanceled:
		return nil, fmt.Errorf("%w: leg canceled", ErrInvalidState)
	}
	if c.Status != StatusStarted {
		return nil, fmt.Errorf("%w: finish from %s", ErrInvalidState, c.Status)
	}
	return nil, nil
}

// verify reads the driver's trajectory from ride start up to now, so a driver
// who closed early is still compared over the whole shared window.
func (s *Service) verify(ctx context.Context, c *Carpool, callerID types.ID, now time.Time) trajectory.Result {
	req := trajectory.LegRequest{
		CarpoolID: c.ID,
		UserID:    callerID,
		DriverID:  c.Offer.DriverID,
		Start:     *c.StartedAt,
		End:       now,
	}
	if callerID == c.Offer.DriverID {
		return s.verifier.VerifyBest(ctx, req, c.Counterparts())
	}
	req.CounterpartID = c.Offer.DriverID
	return s.verifier.VerifyLeg(ctx, req)
}

func committedResult(c *Carpool, callerID types.ID) *FinishResult {
	res := &FinishResult{CarpoolID: c.ID, Status: c.Status}
	if p := c.Participant(callerID); p != nil {
		res.Leg = p.Leg
		res.Verification = p.Verification
		res.Reward = p.Reward
	}
	return res
}

// detourMeters is how far the final drop-off lies from the straight line
// between the offer's endpoints.
func detourMeters(o Offer, final types.Point) (float64, bool) {
	origin, err := o.Origin.Point()
	if err != nil {
		return 0, false
	}
	dest, err := o.Destination.Point()
	if err != nil {
		return 0, false
	}
	return geo.DistanceToSegmentMeters(final, origin, dest), true
}
