// README: User profile record and the public summary shown to ride counterparts.
package profile

import (
	"errors"

	"carpool/internal/types"
)

var ErrNotFound = errors.New("profile not found")

type Profile struct {
	UserID          types.ID
	Name            string
	AvatarKey       string
	DeviceToken     string
	Workplace       *types.Point
	StripeAccountID string
}

// Summary is what a rider sees about the driver after joining.
type Summary struct {
	UserID    types.ID `json:"user_id"`
	Name      string   `json:"name"`
	AvatarURL string   `json:"avatar_url,omitempty"`
}
