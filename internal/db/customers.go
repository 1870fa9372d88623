package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/customer-etl/internal/store"
	"github.com/jonathan/customer-etl/internal/types"
)

const upsertCustomerSQL = `INSERT INTO customers (external_id, name, email, updated_at)
	VALUES ($1, $2, $3, NULLIF($4::text, '')::timestamptz)
	ON CONFLICT (external_id) DO UPDATE
	SET name = EXCLUDED.name, email = EXCLUDED.email, updated_at = EXCLUDED.updated_at`

// UpsertCustomers applies the batch in a single transaction. Statements run in
// batch order, so a repeated external_id ends with the values of its last occurrence.
func (db *DB) UpsertCustomers(ctx context.Context, batch []types.Customer) error {
	if len(batch) == 0 {
		return nil
	}

	err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, c := range batch {
			b.Queue(upsertCustomerSQL, c.ExternalID, c.Name, c.Email, c.UpdatedAt)
		}
		results := tx.SendBatch(ctx, b)
		for i := range batch {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("upsert %s: %w", batch[i].ExternalID, err)
			}
		}
		return results.Close()
	})
	if err != nil {
		return &store.StoreError{Op: fmt.Sprintf("upsert %d customers", len(batch)), Cause: err}
	}
	return nil
}

// GetCustomer retrieves a customer by external ID, or nil if absent.
// UpdatedAt is returned in the server's text form, not the source text.
func (db *DB) GetCustomer(ctx context.Context, externalID string) (*types.Customer, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT external_id, name, email, COALESCE(updated_at::text, '') FROM customers WHERE external_id = $1`,
		externalID,
	)
	if err != nil {
		return nil, &store.StoreError{Op: "get customer", Cause: err}
	}
	c, err := pgx.CollectOneRow(rows, pgx.RowToStructByPos[types.Customer])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, &store.StoreError{Op: "get customer", Cause: err}
	}
	return &c, nil
}

// CountCustomers returns the number of loaded customers
func (db *DB) CountCustomers(ctx context.Context) (int64, error) {
	var n int64
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM customers`).Scan(&n); err != nil {
		return 0, &store.StoreError{Op: "count customers", Cause: err}
	}
	return n, nil
}
