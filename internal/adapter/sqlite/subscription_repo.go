package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/neomorfeo/subiq/internal/domain"
)

// Compile-time check: SubscriptionRepository implements the domain port.
var _ domain.SubscriptionRepository = (*SubscriptionRepository)(nil)

// SubscriptionRepository implements domain.SubscriptionRepository using
// SQLite with optimistic concurrency on the version column.
type SubscriptionRepository struct {
	db *sql.DB
}

// NewSubscriptionRepository creates a repository on the shared store.
func NewSubscriptionRepository(store *Store) *SubscriptionRepository {
	return &SubscriptionRepository{db: store.DB()}
}

const subscriptionColumns = `id, customer_id, status, plan_id, plan_family,
	plan_start_date, plan_end_date, wallet_balance, contract_id, suspended_at,
	no_eligible_plan, version, created_at, updated_at`

func (r *SubscriptionRepository) Create(ctx context.Context, s domain.Subscription) error {
	var suspendedAt any
	if s.SuspendedAt != nil {
		suspendedAt = formatTime(*s.SuspendedAt)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.CustomerID, string(s.Status), s.PlanID, s.PlanFamily,
		formatTime(s.PlanStartDate), formatTime(s.PlanEndDate),
		s.WalletBalance.String(), s.ContractID, suspendedAt,
		boolToInt(s.NoEligiblePlan), s.Version,
		formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.StateConflictError{
				Message: fmt.Sprintf("subscription %s already exists", s.ID),
			}
		}
		return fmt.Errorf("inserting subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepository) GetByID(ctx context.Context, id string) (domain.Subscription, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	return scanSubscription(row.Scan)
}

// Update writes the row only if the caller's version still matches, bumping
// the version in the same statement. A lost race surfaces as a
// StateConflictError, never a silent overwrite.
func (r *SubscriptionRepository) Update(ctx context.Context, s domain.Subscription) error {
	rows, err := execSubscriptionCAS(ctx, r.db, s)
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := r.GetByID(ctx, s.ID); errors.Is(err, domain.ErrSubscriptionNotFound) {
			return domain.ErrSubscriptionNotFound
		}
		return domain.NewVersionConflict("subscription", s.ID)
	}
	return nil
}

// execSubscriptionCAS runs the version-checked update against db, which may
// be the store connection or an open transaction.
func execSubscriptionCAS(ctx context.Context, db execer, s domain.Subscription) (int64, error) {
	var suspendedAt any
	if s.SuspendedAt != nil {
		suspendedAt = formatTime(*s.SuspendedAt)
	}
	result, err := db.ExecContext(ctx,
		`UPDATE subscriptions
		 SET status = ?, plan_id = ?, plan_family = ?, plan_start_date = ?,
		     plan_end_date = ?, wallet_balance = ?, suspended_at = ?,
		     no_eligible_plan = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(s.Status), s.PlanID, s.PlanFamily, formatTime(s.PlanStartDate),
		formatTime(s.PlanEndDate), s.WalletBalance.String(), suspendedAt,
		boolToInt(s.NoEligiblePlan), formatTime(s.UpdatedAt),
		s.ID, s.Version,
	)
	if err != nil {
		return 0, fmt.Errorf("updating subscription: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return rows, nil
}

func scanSubscription(scan func(dest ...any) error) (domain.Subscription, error) {
	var s domain.Subscription
	var status, startDate, endDate, balance, createdAt, updatedAt string
	var suspendedAt sql.NullString
	var noEligible int

	err := scan(&s.ID, &s.CustomerID, &status, &s.PlanID, &s.PlanFamily,
		&startDate, &endDate, &balance, &s.ContractID, &suspendedAt,
		&noEligible, &s.Version, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Subscription{}, domain.ErrSubscriptionNotFound
		}
		return domain.Subscription{}, fmt.Errorf("scanning subscription: %w", err)
	}

	s.Status = domain.Status(status)
	s.PlanStartDate = parseTime(startDate)
	s.PlanEndDate = parseTime(endDate)
	s.WalletBalance, err = decimal.NewFromString(balance)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("parsing wallet balance: %w", err)
	}
	if suspendedAt.Valid {
		t := parseTime(suspendedAt.String)
		s.SuspendedAt = &t
	}
	s.NoEligiblePlan = noEligible != 0
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)

	return s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
