// README: Trajectory service fetches both legs with a bounded timeout and runs the verifier.
package trajectory

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"carpool/internal/types"
)

type SampleSource interface {
	Samples(ctx context.Context, carpoolID, userID types.ID, from, to time.Time) ([]Sample, error)
}

type Service struct {
	source   SampleSource
	verifier *Verifier
	log      *slog.Logger
}

func NewService(source SampleSource, verifier *Verifier, log *slog.Logger) *Service {
	return &Service{source: source, verifier: verifier, log: log}
}

// LegRequest asks for the verdict of UserID against one counterpart. DriverID
// names which of the two is the driver; the driver's trajectory is always read
// over the full [Start, End] window even if the driver closed their leg earlier.
type LegRequest struct {
	CarpoolID     types.ID
	UserID        types.ID
	CounterpartID types.ID
	DriverID      types.ID
	Start         time.Time
	End           time.Time
}

// VerifyLeg never returns an error: fetch failures and timeouts degrade to
// OutcomeInsufficientData so the caller can still close the leg.
func (s *Service) VerifyLeg(ctx context.Context, req LegRequest) Result {
	cfg := s.verifier.Config()
	riderID := req.UserID
	if req.UserID == req.DriverID {
		riderID = req.CounterpartID
	}
	insufficient := Result{
		UserID:        req.UserID,
		CounterpartID: req.CounterpartID,
		Threshold:     cfg.TrajectoryThreshold,
		TimeThreshold: cfg.TimeThreshold,
		Outcome:       OutcomeInsufficientData,
	}

	fetchCtx := ctx
	if cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, cfg.FetchTimeout)
		defer cancel()
	}

	var driver, rider []Sample
	g, gctx := errgroup.WithContext(fetchCtx)
	g.Go(func() error {
		var err error
		driver, err = s.source.Samples(gctx, req.CarpoolID, req.DriverID, req.Start, req.End)
		return err
	})
	g.Go(func() error {
		var err error
		rider, err = s.source.Samples(gctx, req.CarpoolID, riderID, req.Start, req.End)
		return err
	})
	if err := g.Wait(); err != nil {
		s.log.Warn("trajectory fetch failed",
			"carpool_id", req.CarpoolID, "user_id", req.UserID, "error", err)
		return insufficient
	}

	return s.verifier.Verify(req.UserID, req.CounterpartID, driver, rider, req.Start)
}

// VerifyBest verifies userID against each counterpart and keeps the strongest
// verdict. Used for drivers carrying several riders.
func (s *Service) VerifyBest(ctx context.Context, base LegRequest, counterparts []types.ID) Result {
	cfg := s.verifier.Config()
	best := Result{
		UserID:        base.UserID,
		Threshold:     cfg.TrajectoryThreshold,
		TimeThreshold: cfg.TimeThreshold,
		Outcome:       OutcomeInsufficientData,
	}
	for i, id := range counterparts {
		req := base
		req.CounterpartID = id
		r := s.VerifyLeg(ctx, req)
		if i == 0 || r.better(best) {
			best = r
		}
		if best.Passed {
			break
		}
	}
	return best
}
