// README: Post-commit notices handed to the side-effect dispatcher.
package carpool

import (
	"context"

	"carpool/internal/modules/trajectory"
	"carpool/internal/types"
)

type NoticeKind string

const (
	NoticeJoined       NoticeKind = "joined"
	NoticeStarted      NoticeKind = "started"
	NoticeLegFinished  NoticeKind = "leg_finished"
	NoticeLegCanceled  NoticeKind = "leg_canceled"
	NoticeRideCanceled NoticeKind = "ride_canceled"
)

// Notice describes a committed transition. Carpool is the committed snapshot;
// Recipients are the participants to notify.
type Notice struct {
	Kind         NoticeKind
	Carpool      Carpool
	ActorID      types.ID
	Recipients   []types.ID
	Verification *trajectory.Result
	Reason       string
}

// Dispatcher must not block the caller on downstream delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notice)
}

type discardDispatcher struct{}

func (discardDispatcher) Dispatch(context.Context, Notice) {}
