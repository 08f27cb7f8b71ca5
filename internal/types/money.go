// README: Common money value object used across modules.
package types

// Money is an amount in whole units of Currency. Trip prices are accepted as
// given by the external pricing engine, so no rounding happens here.
type Money struct {
	Amount   int64  `json:"amount" bson:"amount"`
	Currency string `json:"currency" bson:"currency"`
}

func (m Money) IsNegative() bool {
	return m.Amount < 0
}
