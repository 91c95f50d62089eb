package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/neomorfeo/subiq/internal/domain"
)

// Compile-time checks: the read models implement their domain ports.
var (
	_ domain.PaymentRepository = (*PaymentRepository)(nil)
	_ domain.PlanCatalog       = (*PlanCatalog)(nil)
)

// PaymentRepository is the read model over customer payments, fed by the
// portal's payment pipeline.
type PaymentRepository struct {
	db *sql.DB
}

// NewPaymentRepository creates a repository on the shared store.
func NewPaymentRepository(store *Store) *PaymentRepository {
	return &PaymentRepository{db: store.DB()}
}

// Insert records a payment row. Used by the ingestion path and by tests.
func (r *PaymentRepository) Insert(ctx context.Context, p domain.Payment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payments (id, subscription_id, amount, created_at)
		 VALUES (?, ?, ?, ?)`,
		p.ID, p.SubscriptionID, p.Amount.String(), formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting payment: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, subscription_id, amount, created_at FROM payments WHERE id = ?`, id)

	p, err := scanPayment(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return p, err
}

func (r *PaymentRepository) ListSince(ctx context.Context, subscriptionID string, since time.Time) ([]domain.Payment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, subscription_id, amount, created_at FROM payments
		 WHERE subscription_id = ? AND created_at >= ?
		 ORDER BY created_at DESC, id`,
		subscriptionID, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("listing payments: %w", err)
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPayment(scan func(dest ...any) error) (domain.Payment, error) {
	var p domain.Payment
	var amount, createdAt string

	if err := scan(&p.ID, &p.SubscriptionID, &amount, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, err
		}
		return domain.Payment{}, fmt.Errorf("scanning payment: %w", err)
	}

	var err error
	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("parsing payment amount: %w", err)
	}
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

// PlanCatalog is the read model over the plan catalog.
type PlanCatalog struct {
	db *sql.DB
}

// NewPlanCatalog creates a catalog on the shared store.
func NewPlanCatalog(store *Store) *PlanCatalog {
	return &PlanCatalog{db: store.DB()}
}

// Insert records a plan row. Used by catalog sync and by tests.
func (c *PlanCatalog) Insert(ctx context.Context, p domain.Plan) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO plans (id, family, price, validity_days) VALUES (?, ?, ?, ?)`,
		p.ID, p.Family, p.Price.String(), p.ValidityDays,
	)
	if err != nil {
		return fmt.Errorf("inserting plan: %w", err)
	}
	return nil
}

func (c *PlanCatalog) List(ctx context.Context) ([]domain.Plan, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, family, price, validity_days FROM plans ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing plans: %w", err)
	}
	defer rows.Close()

	var out []domain.Plan
	for rows.Next() {
		p, err := scanPlan(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c *PlanCatalog) GetByID(ctx context.Context, id string) (domain.Plan, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, family, price, validity_days FROM plans WHERE id = ?`, id)

	p, err := scanPlan(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Plan{}, fmt.Errorf("plan %s not found", id)
	}
	return p, err
}

func scanPlan(scan func(dest ...any) error) (domain.Plan, error) {
	var p domain.Plan
	var price string

	if err := scan(&p.ID, &p.Family, &price, &p.ValidityDays); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Plan{}, err
		}
		return domain.Plan{}, fmt.Errorf("scanning plan: %w", err)
	}

	var err error
	p.Price, err = decimal.NewFromString(price)
	if err != nil {
		return domain.Plan{}, fmt.Errorf("parsing plan price: %w", err)
	}
	return p, nil
}
