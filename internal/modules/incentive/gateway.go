// README: Incentive gateway paying carpool rewards as Stripe Connect transfers.
package incentive

import (
	"context"
	"errors"
	"fmt"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/transfer"

	"carpool/internal/types"
)

// ErrNoPayoutAccount means the user cannot receive rewards; retrying will not help.
var ErrNoPayoutAccount = errors.New("user has no payout account")

type Receipt struct {
	ID     string
	Amount types.Money
}

type AccountSource interface {
	PayoutAccount(ctx context.Context, userID types.ID) (string, error)
}

type transferCreator interface {
	New(params *stripe.TransferParams) (*stripe.Transfer, error)
}

type StripeGateway struct {
	transfers transferCreator
	accounts  AccountSource
	reward    types.Money
}

func NewStripeGateway(apiKey string, accounts AccountSource, reward types.Money) *StripeGateway {
	return &StripeGateway{
		transfers: &transfer.Client{B: stripe.GetBackend(stripe.APIBackend), Key: apiKey},
		accounts:  accounts,
		reward:    reward,
	}
}

// Award transfers the fixed ride reward to the user's connected account. The
// idempotency key is derived from the ride and user, so a retried award never
// pays twice.
func (g *StripeGateway) Award(ctx context.Context, userID, rideID types.ID) (Receipt, error) {
	account, err := g.accounts.PayoutAccount(ctx, userID)
	if err != nil {
		return Receipt{}, fmt.Errorf("payout account: %w", err)
	}
	if account == "" {
		return Receipt{}, ErrNoPayoutAccount
	}

	params := &stripe.TransferParams{
		Amount:        stripe.Int64(g.reward.Amount),
		Currency:      stripe.String(g.reward.Currency),
		Destination:   stripe.String(account),
		TransferGroup: stripe.String("carpool_" + string(rideID)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(IdempotencyKey(userID, rideID))
	params.AddMetadata("carpool_id", string(rideID))
	params.AddMetadata("user_id", string(userID))

	tr, err := g.transfers.New(params)
	if err != nil {
		return Receipt{}, fmt.Errorf("stripe transfer: %w", err)
	}
	return Receipt{ID: tr.ID, Amount: g.reward}, nil
}

func IdempotencyKey(userID, rideID types.ID) string {
	return fmt.Sprintf("carpool-reward:%s:%s", rideID, userID)
}
