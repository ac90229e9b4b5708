package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CustomerRepository maps users to their payment provider customer.
type CustomerRepository interface {
	// GetCustomerID returns "" when the user has no customer yet.
	GetCustomerID(ctx context.Context, userID string) (string, error)
	// SaveCustomerID stores the mapping unless one exists and returns the stored id,
	// which differs from customerID when a concurrent request saved first.
	SaveCustomerID(ctx context.Context, userID, customerID string) (string, error)
}

type customerRepo struct {
	db *sql.DB
}

func NewCustomerRepo(db *sql.DB) CustomerRepository {
	return &customerRepo{db: db}
}

func (r *customerRepo) GetCustomerID(ctx context.Context, userID string) (string, error) {
	var id string
	query := `SELECT provider_customer_id FROM billing_customers WHERE user_id=$1`
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("fetch customer for user %s: %w", userID, err)
	}
	return id, nil
}

func (r *customerRepo) SaveCustomerID(ctx context.Context, userID, customerID string) (string, error) {
	// The no-op update makes RETURNING yield the existing row on conflict.
	query := `INSERT INTO billing_customers (user_id, provider_customer_id, created_at)
              VALUES ($1, $2, NOW())
              ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
              RETURNING provider_customer_id`
	var stored string
	if err := r.db.QueryRowContext(ctx, query, userID, customerID).Scan(&stored); err != nil {
		return "", fmt.Errorf("save customer for user %s: %w", userID, err)
	}
	return stored, nil
}
