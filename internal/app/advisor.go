package app

import (
	"context"
	"fmt"
	"time"

	"github.com/neomorfeo/subiq/internal/domain"
	"github.com/neomorfeo/subiq/internal/matching"
)

// ReconnectionAdvisor assembles the inputs for the plan-matching cascade.
// The coordinator consults it before an automatic reconnection; the API
// exposes it directly so operators can preview the decision and the rule
// that would fire.
type ReconnectionAdvisor struct {
	subs     domain.SubscriptionRepository
	payments domain.PaymentRepository
	catalog  domain.PlanCatalog
	now      func() time.Time
}

// NewReconnectionAdvisor creates an advisor with the given adapters.
func NewReconnectionAdvisor(subs domain.SubscriptionRepository, payments domain.PaymentRepository, catalog domain.PlanCatalog) *ReconnectionAdvisor {
	return &ReconnectionAdvisor{
		subs:     subs,
		payments: payments,
		catalog:  catalog,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Advise runs the matching cascade for the given subscription and returns
// the decision plus the full plan when one was selected.
func (a *ReconnectionAdvisor) Advise(ctx context.Context, subscriptionID string) (matching.Decision, domain.Plan, error) {
	sub, err := a.subs.GetByID(ctx, subscriptionID)
	if err != nil {
		return matching.Decision{}, domain.Plan{}, err
	}

	now := a.now()
	payments, err := a.payments.ListSince(ctx, sub.ID, now.Add(-matching.PaymentWindow))
	if err != nil {
		return matching.Decision{}, domain.Plan{}, fmt.Errorf("loading payment history: %w", err)
	}

	plans, err := a.catalog.List(ctx)
	if err != nil {
		return matching.Decision{}, domain.Plan{}, fmt.Errorf("loading plan catalog: %w", err)
	}

	decision := matching.SelectPlan(matching.Input{
		WalletBalance: sub.WalletBalance,
		Payments:      payments,
		Catalog:       plans,
		CurrentFamily: sub.PlanFamily,
		Now:           now,
	})
	if !decision.Eligible {
		return decision, domain.Plan{}, nil
	}

	for _, p := range plans {
		if p.ID == decision.PlanID {
			return decision, p, nil
		}
	}
	return decision, domain.Plan{}, fmt.Errorf("selected plan %s missing from catalog", decision.PlanID)
}
