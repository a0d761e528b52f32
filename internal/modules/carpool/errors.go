// README: Lifecycle error taxonomy and the stable codes exposed to clients.
package carpool

import "errors"

var (
	ErrValidation     = errors.New("invalid request")
	ErrNotFound       = errors.New("carpool not found")
	ErrInvalidState   = errors.New("invalid state transition")
	ErrAlreadyStarted = errors.New("carpool already started")
	ErrNotDriver      = errors.New("caller is not the driver")
	ErrNotParticipant = errors.New("caller is not a participant")
	ErrFull           = errors.New("carpool is full")
	ErrAlreadyJoined  = errors.New("already joined")
	ErrActiveCarpool  = errors.New("user has an active carpool")
	ErrConflict       = errors.New("carpool state conflict")
	ErrDependency     = errors.New("dependency failure")
)

// Code returns the stable error code for err, or "internal" for anything
// outside the taxonomy.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyStarted):
		return "already_started"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrNotDriver):
		return "not_driver"
	case errors.Is(err, ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, ErrFull):
		return "full"
	case errors.Is(err, ErrAlreadyJoined):
		return "already_joined"
	case errors.Is(err, ErrActiveCarpool):
		return "active_carpool"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrDependency):
		return "dependency_failure"
	default:
		return "internal"
	}
}
