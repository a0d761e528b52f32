// README: Retry loop around the task handler with backoff, metrics and final-attempt alerting.
package sideeffect

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"carpool/internal/config"
	"carpool/internal/observability"
)

type TaskHandler interface {
	Handle(ctx context.Context, t Task) error
}

// Alerter escalates a task that exhausted its attempts.
type Alerter interface {
	Alert(ctx context.Context, t Task, cause error) error
}

type Runner struct {
	handler  TaskHandler
	alerter  Alerter
	log      *slog.Logger
	attempts int
	delay    time.Duration
}

// NewRunner builds a runner; alerter may be nil.
func NewRunner(handler TaskHandler, alerter Alerter, cfg config.SideEffectConfig, log *slog.Logger) *Runner {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return &Runner{handler: handler, alerter: alerter, log: log, attempts: attempts, delay: cfg.RetryDelay}
}

// Process runs t until it succeeds, fails permanently or runs out of attempts.
// The returned error is informational; callers never propagate it.
func (r *Runner) Process(ctx context.Context, t Task) error {
	delay := r.delay
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		t.Attempt = attempt
		if err = r.handler.Handle(ctx, t); err == nil {
			observability.SideEffectsTotal.WithLabelValues(string(t.Kind), "ok").Inc()
			return nil
		}
		if errors.Is(err, ErrPermanent) || attempt == r.attempts {
			break
		}
		observability.SideEffectsTotal.WithLabelValues(string(t.Kind), "retry").Inc()
		r.log.Warn("side-effect attempt failed",
			"kind", t.Kind, "task_id", t.ID, "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	observability.SideEffectsTotal.WithLabelValues(string(t.Kind), "failed").Inc()
	r.log.Error("side-effect failed",
		"kind", t.Kind, "task_id", t.ID, "carpool_id", t.CarpoolID, "user_id", t.UserID,
		"attempts", t.Attempt, "err", err)
	if r.alerter != nil {
		if aerr := r.alerter.Alert(ctx, t, err); aerr != nil {
			r.log.Error("side-effect alert failed", "task_id", t.ID, "err", aerr)
		}
	}
	return err
}
