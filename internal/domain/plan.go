package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// monthlyValidityDays marks a plan as the 1-month variant of its family.
const monthlyValidityDays = 30

// Plan is a catalog entry a subscription can be provisioned on.
type Plan struct {
	ID           string
	Family       string
	Price        decimal.Decimal
	ValidityDays int
}

// Monthly reports whether this is the 1-month variant of its family.
func (p Plan) Monthly() bool {
	return p.ValidityDays == monthlyValidityDays
}

// Payment is a read model of a customer payment, fed by the portal's payment
// pipeline. The matching engine inspects recent payments; the receipt
// cancellation check inspects CreatedAt against the financial period.
type Payment struct {
	ID             string
	SubscriptionID string
	Amount         decimal.Decimal
	CreatedAt      time.Time
}
