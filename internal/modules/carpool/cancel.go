// README: Cancel transition (leg or whole ride) and the waiting-offer expiry monitor.
package carpool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"carpool/internal/observability"
	"carpool/internal/types"
)

const expiryBatch = 100

type CancelCommand struct {
	CarpoolID types.ID
	CallerID  types.ID
	Reason    string
}

type CancelResult struct {
	CarpoolID       types.ID  `json:"carpool_id"`
	Status          Status    `json:"status"`
	Leg             LegStatus `json:"leg"`
	AlreadyCanceled bool      `json:"already_canceled"`
}

// Cancel closes the caller's leg, or the whole ride when the driver cancels
// before it started. Canceling an already canceled leg is a no-op.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (res *CancelResult, err error) {
	ctx, done := s.begin(ctx, "cancel",
		attribute.String("carpool.id", string(cmd.CarpoolID)),
		attribute.String("carpool.caller_id", string(cmd.CallerID)))
	defer done(&err)

	if cmd.CarpoolID == "" || cmd.CallerID == "" {
		return nil, fmt.Errorf("%w: carpool id and caller id are required", ErrValidation)
	}

	now := s.now()
	var (
		closed []types.ID
		kind   NoticeKind
		reason string
	)
	committed, err := s.mutate(ctx, "cancel", cmd.CarpoolID, func(c *Carpool) error {
		closed, kind, reason = nil, NoticeLegCanceled, cmd.Reason
		p := c.Participant(cmd.CallerID)
		if p == nil {
			return ErrNotParticipant
		}
		switch p.Leg {
		case LegCanceled:
			return errNoChange
		case LegFinished:
			return fmt.Errorf("%w: leg already finished", ErrInvalidState)
		}
		if p.Role == RoleDriver && c.Status == StatusWaiting {
			if reason == "" {
				reason = ReasonDriverAbort
			}
			kind = NoticeRideCanceled
			var err error
			closed, err = c.abort(ActorDriver, cmd.CallerID, reason, now)
			return err
		}
		actor := actorFor(p.Role)
		c.cancelLeg(p, actor, reason, now)
		closed = []types.ID{p.UserID}
		return c.settle(actor, cmd.CallerID, now)
	})
	if errors.Is(err, errNoChange) {
		return &CancelResult{CarpoolID: committed.ID, Status: committed.Status, Leg: LegCanceled, AlreadyCanceled: true}, nil
	}
	if err != nil {
		return nil, err
	}

	s.afterCancel(ctx, committed, cmd.CallerID, closed, kind, reason, now)
	return &CancelResult{CarpoolID: committed.ID, Status: committed.Status, Leg: LegCanceled}, nil
}

// afterCancel closes ledger rows and claims of the canceled legs and notifies
// everyone affected except the actor.
func (s *Service) afterCancel(ctx context.Context, c *Carpool, actorID types.ID, closed []types.ID, kind NoticeKind, reason string, at time.Time) {
	for _, uid := range closed {
		if err := s.ledger.Cancel(ctx, c.ID, uid, reason, at); err != nil {
			s.log.Error("ledger cancel failed", "carpool_id", c.ID, "user_id", uid, "error", err)
		}
		s.release(ctx, uid, c.ID)
	}

	var recipients []types.ID
	if kind == NoticeRideCanceled {
		for _, uid := range closed {
			if uid != actorID {
				recipients = append(recipients, uid)
			}
		}
	} else {
		recipients = c.OthersActive(actorID)
	}
	s.log.Info("carpool canceled", "carpool_id", c.ID, "actor_id", actorID, "kind", kind, "ride_status", c.Status)

	s.effects.Dispatch(ctx, Notice{
		Kind:       kind,
		Carpool:    *c,
		ActorID:    actorID,
		Recipients: recipients,
		Reason:     reason,
	})
}

// RunExpiryMonitor cancels waiting offers whose planned travel time plus the
// grace period has passed. It returns when ctx is done.
func (s *Service) RunExpiryMonitor(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ExpiryTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ExpireDue(ctx)
			if err != nil {
				s.log.Error("expiry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.log.Info("expired waiting offers", "count", n)
			}
		}
	}
}

// ExpireDue runs one expiry sweep and returns how many offers it canceled.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	now := s.now()
	ids, err := s.store.WaitingBefore(ctx, now.Add(-s.cfg.ExpiryGrace), expiryBatch)
	if err != nil {
		return 0, fmt.Errorf("%w: list waiting offers: %w", ErrDependency, err)
	}
	expired := 0
	for _, id := range ids {
		ok, err := s.expire(ctx, id, now)
		if err != nil {
			s.log.Warn("expire offer failed", "carpool_id", id, "error", err)
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

// expire races the driver's own cancel through the same CAS path; whichever
// commits first wins and the other becomes a no-op.
func (s *Service) expire(ctx context.Context, id types.ID, now time.Time) (ok bool, err error) {
	ctx, done := s.begin(ctx, "expire", attribute.String("carpool.id", string(id)))
	defer done(&err)

	var closed []types.ID
	committed, err := s.mutate(ctx, "expire", id, func(c *Carpool) error {
		closed = nil
		if c.Status != StatusWaiting || now.Before(c.Offer.PlannedTravelTime.Add(s.cfg.ExpiryGrace)) {
			return errNoChange
		}
		var err error
		closed, err = c.abort(ActorSystem, "", ReasonExpired, now)
		return err
	})
	if errors.Is(err, errNoChange) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	observability.ExpiredOffersTotal.Inc()
	s.afterCancel(ctx, committed, "", closed, NoticeRideCanceled, ReasonExpired, now)
	return true, nil
}
