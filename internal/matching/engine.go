// Package matching selects a reactivation plan for an automatically
// disconnected subscription. The selection is a pure, deterministic rule
// cascade over wallet balance and recent payment history: the decision
// re-provisions a paid service, so identical inputs must always produce the
// identical plan and the rule that fired is recorded for audit.
package matching

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/neomorfeo/subiq/internal/domain"
)

// PaymentWindow is how far back payment history is considered by Rule 1.
const PaymentWindow = 15 * 24 * time.Hour

// Rule identifies which cascade rule produced the decision.
type Rule string

const (
	RulePaymentHistory Rule = "payment_history_match"
	RuleExactWallet    Rule = "exact_wallet_match"
	RuleNearestBelow   Rule = "nearest_plan_below"
	RuleFamilyMonthly  Rule = "current_family_monthly"
	RuleAnyMonthly     Rule = "any_family_monthly"
	RuleNone           Rule = "no_eligible_plan"
)

// Input is everything SelectPlan looks at. Payments outside the window
// ending at Now are ignored.
type Input struct {
	WalletBalance decimal.Decimal
	Payments      []domain.Payment
	Catalog       []domain.Plan
	CurrentFamily string
	Now           time.Time
}

// Decision is the selected plan and the rule that fired.
type Decision struct {
	PlanID   string
	Rule     Rule
	Eligible bool
}

// SelectPlan evaluates the rule cascade and stops at the first rule that
// produces a candidate. When no rule yields one, the subscription stays
// disconnected and is flagged for manual handling.
func SelectPlan(in Input) Decision {
	catalog := sortedCatalog(in.Catalog)

	if plan, ok := matchPaymentHistory(in, catalog); ok {
		return Decision{PlanID: plan.ID, Rule: RulePaymentHistory, Eligible: true}
	}
	if plan, ok := matchPrice(catalog, in.WalletBalance); ok {
		return Decision{PlanID: plan.ID, Rule: RuleExactWallet, Eligible: true}
	}
	if plan, ok := nearestBelow(catalog, in.WalletBalance, nil); ok {
		return Decision{PlanID: plan.ID, Rule: RuleNearestBelow, Eligible: true}
	}
	if plan, ok := familyMonthly(catalog, in.WalletBalance, in.CurrentFamily); ok {
		return Decision{PlanID: plan.ID, Rule: RuleFamilyMonthly, Eligible: true}
	}
	monthly := func(p domain.Plan) bool { return p.Monthly() }
	if plan, ok := nearestBelow(catalog, in.WalletBalance, monthly); ok {
		return Decision{PlanID: plan.ID, Rule: RuleAnyMonthly, Eligible: true}
	}

	return Decision{Rule: RuleNone}
}

// sortedCatalog copies the catalog into the total order used by every rule:
// price descending, then longer validity, then lowest plan id. With this
// order the first match of any scan is the cascade's tie-broken winner.
func sortedCatalog(plans []domain.Plan) []domain.Plan {
	out := make([]domain.Plan, len(plans))
	copy(out, plans)
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Price.Cmp(out[j].Price); c != 0 {
			return c > 0
		}
		if out[i].ValidityDays != out[j].ValidityDays {
			return out[i].ValidityDays > out[j].ValidityDays
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// matchPaymentHistory implements Rule 1: a payment inside the window whose
// amount exactly equals some plan's price. Payments are scanned most recent
// first so the decision does not depend on input order.
func matchPaymentHistory(in Input, catalog []domain.Plan) (domain.Plan, bool) {
	cutoff := in.Now.Add(-PaymentWindow)

	recent := make([]domain.Payment, 0, len(in.Payments))
	for _, p := range in.Payments {
		if !p.CreatedAt.Before(cutoff) && !p.CreatedAt.After(in.Now) {
			recent = append(recent, p)
		}
	}
	sort.SliceStable(recent, func(i, j int) bool {
		if !recent[i].CreatedAt.Equal(recent[j].CreatedAt) {
			return recent[i].CreatedAt.After(recent[j].CreatedAt)
		}
		return recent[i].ID < recent[j].ID
	})

	for _, payment := range recent {
		if plan, ok := matchPrice(catalog, payment.Amount); ok {
			return plan, true
		}
	}
	return domain.Plan{}, false
}

// matchPrice returns the first plan whose price exactly equals amount.
func matchPrice(catalog []domain.Plan, amount decimal.Decimal) (domain.Plan, bool) {
	for _, plan := range catalog {
		if plan.Price.Equal(amount) {
			return plan, true
		}
	}
	return domain.Plan{}, false
}

// nearestBelow returns the highest-priced plan with price <= balance,
// optionally filtered. The catalog order already encodes the tie-breaks.
func nearestBelow(catalog []domain.Plan, balance decimal.Decimal, keep func(domain.Plan) bool) (domain.Plan, bool) {
	for _, plan := range catalog {
		if keep != nil && !keep(plan) {
			continue
		}
		if plan.Price.LessThanOrEqual(balance) {
			return plan, true
		}
	}
	return domain.Plan{}, false
}

// familyMonthly implements Rule 4: the 1-month variant of the customer's
// current plan family, if affordable.
func familyMonthly(catalog []domain.Plan, balance decimal.Decimal, family string) (domain.Plan, bool) {
	if family == "" {
		return domain.Plan{}, false
	}
	return nearestBelow(catalog, balance, func(p domain.Plan) bool {
		return p.Monthly() && p.Family == family
	})
}
