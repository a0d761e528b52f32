// README: Executes one side-effect task against the downstream collaborators.
package sideeffect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"carpool/internal/modules/incentive"
	"carpool/internal/modules/ledger"
	"carpool/internal/modules/notification"
	"carpool/internal/modules/refresh"
	"carpool/internal/modules/telework"
	"carpool/internal/types"
)

// ErrPermanent marks failures that retrying cannot fix.
var ErrPermanent = errors.New("permanent side-effect failure")

func permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

type Scheduler interface {
	Enqueue(ctx context.Context, e refresh.Entry) error
}

type TeleworkLogger interface {
	Record(ctx context.Context, userID, rideID types.ID, w telework.Window) error
}

type WorkplaceSource interface {
	Workplace(ctx context.Context, id types.ID) (*types.Point, error)
}

type IncentiveGateway interface {
	Award(ctx context.Context, userID, rideID types.ID) (incentive.Receipt, error)
}

// RewardRecorder reads and stamps the participant's trip ledger row.
type RewardRecorder interface {
	Get(ctx context.Context, carpoolID, userID types.ID) (*ledger.Entry, error)
	SetReward(ctx context.Context, carpoolID, userID types.ID, receipt string) error
}

// HandlerDeps wires the collaborators. A nil collaborator disables its task kind.
type HandlerDeps struct {
	Notifier   notification.Sender
	Schedules  Scheduler
	Telework   TeleworkLogger
	Workplaces WorkplaceSource
	Detector   telework.Detector
	Incentives IncentiveGateway
	Rewards    RewardRecorder
	Logger     *slog.Logger
}

type Handler struct {
	d HandlerDeps
}

func NewHandler(d HandlerDeps) *Handler {
	return &Handler{d: d}
}

func (h *Handler) Handle(ctx context.Context, t Task) error {
	switch t.Kind {
	case KindNotify:
		if h.d.Notifier == nil {
			return h.skip(t)
		}
		return h.d.Notifier.Send(ctx, t.Recipients, t.Template, t.Data)
	case KindRefresh:
		if h.d.Schedules == nil {
			return h.skip(t)
		}
		if t.ScheduledAt == nil {
			return permanent(errors.New("refresh task without schedule"))
		}
		return h.d.Schedules.Enqueue(ctx, refresh.Entry{
			UserID:      t.UserID,
			CarpoolID:   t.CarpoolID,
			Activity:    t.Activity,
			ScheduledAt: *t.ScheduledAt,
			Status:      refresh.StatusPending,
		})
	case KindTelework:
		if h.d.Telework == nil || h.d.Workplaces == nil {
			return h.skip(t)
		}
		return h.telework(ctx, t)
	case KindIncentive:
		if h.d.Incentives == nil || h.d.Rewards == nil {
			return h.skip(t)
		}
		return h.award(ctx, t)
	}
	return permanent(fmt.Errorf("unknown task kind %q", t.Kind))
}

func (h *Handler) telework(ctx context.Context, t Task) error {
	if t.Origin == nil || t.Destination == nil || t.WindowStart == nil || t.WindowEnd == nil {
		return permanent(errors.New("telework task without ride endpoints"))
	}
	workplace, err := h.d.Workplaces.Workplace(ctx, t.UserID)
	if err != nil {
		return fmt.Errorf("workplace: %w", err)
	}
	if workplace == nil || !h.d.Detector.Qualifies(*workplace, *t.Origin, *t.Destination) {
		return nil
	}
	return h.d.Telework.Record(ctx, t.UserID, t.CarpoolID, telework.Window{Start: *t.WindowStart, End: *t.WindowEnd})
}

// award pays the incentive and stamps the ledger row. Only a finished row is
// paid, so every transfer has a finish audit behind it. Retries are safe
// because the gateway call is idempotent per user and ride.
func (h *Handler) award(ctx context.Context, t Task) error {
	entry, err := h.d.Rewards.Get(ctx, t.CarpoolID, t.UserID)
	if errors.Is(err, ledger.ErrNotFound) {
		return permanent(fmt.Errorf("ledger row for %s: %w", t.UserID, err))
	}
	if err != nil {
		return fmt.Errorf("ledger row: %w", err)
	}
	if entry.Status != ledger.StatusFinished {
		return permanent(fmt.Errorf("ledger row for %s is %s, not finished", t.UserID, entry.Status))
	}
	if entry.RewardReceipt != "" {
		return nil
	}

	receipt, err := h.d.Incentives.Award(ctx, t.UserID, t.CarpoolID)
	if errors.Is(err, incentive.ErrNoPayoutAccount) {
		return permanent(err)
	}
	if err != nil {
		return fmt.Errorf("award: %w", err)
	}
	err = h.d.Rewards.SetReward(ctx, t.CarpoolID, t.UserID, receipt.ID)
	if errors.Is(err, ledger.ErrNotFound) {
		return permanent(fmt.Errorf("reward receipt %s: %w", receipt.ID, err))
	}
	return err
}

func (h *Handler) skip(t Task) error {
	if h.d.Logger != nil {
		h.d.Logger.Debug("side-effect kind not configured", "kind", t.Kind, "task_id", t.ID)
	}
	return nil
}
