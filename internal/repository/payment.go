package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dan9191/installment-service/internal/models"
	"github.com/shopspring/decimal"
)

const paymentColumns = `id, customer_id, amount, method, notes, idempotency_key,
	remaining_after, monthly_payment_after, remaining_months_after, created_by, created_at`

// ApplyPayment appends p to the ledger and writes the re-amortized customer
// in one transaction. It returns ErrDuplicatePayment when the idempotency
// key was already used for this customer and ErrVersionConflict when c is
// stale; in both cases nothing is written.
func (r *Repository) ApplyPayment(ctx context.Context, c *models.Customer, p *models.Payment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO payments (customer_id, amount, method, notes, idempotency_key,
			remaining_after, monthly_payment_after, remaining_months_after, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (customer_id, idempotency_key) DO NOTHING
		RETURNING id`
	err = tx.QueryRowContext(ctx, r.q(query), p.CustomerID, p.Amount, p.Method, p.Notes, p.IdempotencyKey,
		p.RemainingAfter, p.MonthlyPaymentAfter, p.RemainingMonthsAfter, p.CreatedBy, p.CreatedAt).Scan(&p.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("key %s: %w", p.IdempotencyKey, ErrDuplicatePayment)
	}
	if err != nil {
		return fmt.Errorf("failed to store payment: %w", err)
	}

	version := c.Version
	if err := r.updateCustomer(ctx, tx, c); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		c.Version = version
		return fmt.Errorf("failed to commit payment: %w", err)
	}
	return nil
}

// FindPaymentByKey looks up a payment by its idempotency key.
func (r *Repository) FindPaymentByKey(ctx context.Context, customerID int64, key string) (*models.Payment, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+paymentColumns+` FROM payments
		WHERE customer_id = $1 AND idempotency_key = $2`), customerID, key)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payment: %w", err)
	}
	return p, nil
}

// ListPayments returns the ledger of a customer, oldest first.
func (r *Repository) ListPayments(ctx context.Context, customerID int64) ([]*models.Payment, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`SELECT `+paymentColumns+` FROM payments
		WHERE customer_id = $1 ORDER BY id ASC`), customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get payments for customer %d: %w", customerID, err)
	}
	defer rows.Close()

	payments := []*models.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for payments: %w", err)
	}
	return payments, nil
}

// SumPayments totals the ledger of a customer.
func (r *Repository) SumPayments(ctx context.Context, customerID int64) (decimal.Decimal, error) {
	payments, err := r.ListPayments(ctx, customerID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return total, nil
}

func scanPayment(s rowScanner) (*models.Payment, error) {
	var p models.Payment
	err := s.Scan(&p.ID, &p.CustomerID, &p.Amount, &p.Method, &p.Notes, &p.IdempotencyKey,
		&p.RemainingAfter, &p.MonthlyPaymentAfter, &p.RemainingMonthsAfter, &p.CreatedBy, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
