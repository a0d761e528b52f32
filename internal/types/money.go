// README: Money value object used for incentive payouts.
package types

import "fmt"

type Money struct {
	Amount   int64
	Currency string
}

// String renders the amount in minor units, e.g. "500 usd".
func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.Amount, m.Currency)
}
