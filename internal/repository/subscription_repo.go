package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"timetrack/internal/model"

	"github.com/google/uuid"
)

// SubscriptionRepository defines methods for accessing subscription rows.
// Every lookup returns model.ErrSubscriptionNotFound when no row matches.
type SubscriptionRepository interface {
	GetByOwner(ctx context.Context, ownerID string) (*model.Subscription, error)
	GetByProviderSubscriptionID(ctx context.Context, providerSubscriptionID string) (*model.Subscription, error)
	// Upsert writes sub as the single row of its owner in one statement.
	Upsert(ctx context.Context, sub *model.Subscription) (*model.Subscription, error)
	UpdateStatus(ctx context.Context, ownerID string, status model.SubscriptionStatus) (*model.Subscription, error)
	// UpdatePlan rewrites type, price and billing period. A nil period bound
	// keeps the stored value.
	UpdatePlan(ctx context.Context, ownerID string, subType model.SubscriptionType, priceID string, periodStart, periodEnd *time.Time) (*model.Subscription, error)
}

type subscriptionRepo struct {
	db *sql.DB
}

// NewSubscriptionRepo creates a new SubscriptionRepository.
func NewSubscriptionRepo(db *sql.DB) SubscriptionRepository {
	return &subscriptionRepo{db: db}
}

const subscriptionColumns = `id, owner_id, status, subscription_type, current_period_start, current_period_end,
        price_id, provider_subscription_id, created_at, updated_at`

func (r *subscriptionRepo) GetByOwner(ctx context.Context, ownerID string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE owner_id = $1`
	sub, err := scanSubscription(r.db.QueryRowContext(ctx, q, ownerID))
	if err != nil {
		return nil, fmt.Errorf("fetch subscription for user %s: %w", ownerID, err)
	}
	return sub, nil
}

func (r *subscriptionRepo) GetByProviderSubscriptionID(ctx context.Context, providerSubscriptionID string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE provider_subscription_id = $1`
	sub, err := scanSubscription(r.db.QueryRowContext(ctx, q, providerSubscriptionID))
	if err != nil {
		return nil, fmt.Errorf("fetch subscription %s: %w", providerSubscriptionID, err)
	}
	return sub, nil
}

func (r *subscriptionRepo) Upsert(ctx context.Context, sub *model.Subscription) (*model.Subscription, error) {
	q := `
        INSERT INTO subscriptions (id, owner_id, status, subscription_type, current_period_start, current_period_end,
                                   price_id, provider_subscription_id, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
        ON CONFLICT (owner_id) DO UPDATE
        SET status = EXCLUDED.status,
            subscription_type = EXCLUDED.subscription_type,
            current_period_start = EXCLUDED.current_period_start,
            current_period_end = EXCLUDED.current_period_end,
            price_id = EXCLUDED.price_id,
            provider_subscription_id = EXCLUDED.provider_subscription_id,
            updated_at = NOW()
        RETURNING ` + subscriptionColumns
	row := r.db.QueryRowContext(ctx, q,
		uuid.NewString(),
		sub.OwnerID,
		string(sub.Status),
		string(sub.SubscriptionType),
		nullTime(sub.CurrentPeriodStart),
		nullTime(sub.CurrentPeriodEnd),
		sub.PriceID,
		nullString(sub.ProviderSubscriptionID),
	)
	saved, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("upsert subscription for user %s: %w", sub.OwnerID, err)
	}
	return saved, nil
}

func (r *subscriptionRepo) UpdateStatus(ctx context.Context, ownerID string, status model.SubscriptionStatus) (*model.Subscription, error) {
	q := `
        UPDATE subscriptions
        SET status = $2, updated_at = NOW()
        WHERE owner_id = $1
        RETURNING ` + subscriptionColumns
	sub, err := scanSubscription(r.db.QueryRowContext(ctx, q, ownerID, string(status)))
	if err != nil {
		return nil, fmt.Errorf("update status of subscription for user %s: %w", ownerID, err)
	}
	return sub, nil
}

func (r *subscriptionRepo) UpdatePlan(ctx context.Context, ownerID string, subType model.SubscriptionType, priceID string, periodStart, periodEnd *time.Time) (*model.Subscription, error) {
	q := `
        UPDATE subscriptions
        SET subscription_type = $2, price_id = $3,
            current_period_start = COALESCE($4, current_period_start),
            current_period_end = COALESCE($5, current_period_end),
            updated_at = NOW()
        WHERE owner_id = $1
        RETURNING ` + subscriptionColumns
	sub, err := scanSubscription(r.db.QueryRowContext(ctx, q, ownerID, string(subType), priceID, nullTime(periodStart), nullTime(periodEnd)))
	if err != nil {
		return nil, fmt.Errorf("update plan of subscription for user %s: %w", ownerID, err)
	}
	return sub, nil
}

func scanSubscription(row *sql.Row) (*model.Subscription, error) {
	var (
		s             model.Subscription
		status, typ   string
		start, end    sql.NullTime
		providerSubID sql.NullString
	)
	err := row.Scan(&s.ID, &s.OwnerID, &status, &typ, &start, &end, &s.PriceID, &providerSubID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrSubscriptionNotFound
		}
		return nil, err
	}
	s.Status = model.SubscriptionStatus(status)
	s.SubscriptionType = model.SubscriptionType(typ)
	if start.Valid {
		t := start.Time
		s.CurrentPeriodStart = &t
	}
	if end.Valid {
		t := end.Time
		s.CurrentPeriodEnd = &t
	}
	if providerSubID.Valid {
		id := providerSubID.String
		s.ProviderSubscriptionID = &id
	}
	return &s, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
