package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dan9191/installment-service/internal/models"
	"github.com/shopspring/decimal"
)

// writableColumns are bound in this order by customerArgs.
var writableColumns = []string{
	"full_name", "phone", "passport_series", "passport_fingerprint", "region", "district", "address", "profile_images",
	"product_name", "original_price", "profit_percentage", "markup_amount", "selling_price", "installment_months", "monthly_payment",
	"start_date", "initial_payment", "remaining_amount", "remaining_months", "total_paid", "next_payment_date",
	"guarantor", "call_note", "last_call_date", "status",
}

const customerColumns = `id, full_name, phone, passport_series, region, district, address, profile_images,
	product_name, original_price, profit_percentage, markup_amount, selling_price, installment_months, monthly_payment,
	start_date, initial_payment, remaining_amount, remaining_months, total_paid, next_payment_date,
	guarantor, call_note, last_call_date, status, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateCustomer inserts a new customer with version 1.
func (r *Repository) CreateCustomer(ctx context.Context, c *models.Customer) error {
	args, err := r.customerArgs(c)
	if err != nil {
		return err
	}

	placeholders := make([]string, 0, len(writableColumns)+3)
	for i := 1; i <= len(writableColumns)+3; i++ {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i))
	}
	query := fmt.Sprintf(`INSERT INTO customers (%s, version, created_at, updated_at) VALUES (%s) RETURNING id`,
		strings.Join(writableColumns, ", "), strings.Join(placeholders, ", "))

	c.Version = 1
	args = append(args, c.Version, c.CreatedAt, c.UpdatedAt)
	if err := r.db.QueryRowContext(ctx, r.q(query), args...).Scan(&c.ID); err != nil {
		return fmt.Errorf("failed to create customer: %w", err)
	}
	return nil
}

// GetCustomer retrieves a customer by its ID.
func (r *Repository) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	return r.getCustomer(ctx, r.db, id)
}

func (r *Repository) getCustomer(ctx context.Context, db queryer, id int64) (*models.Customer, error) {
	row := db.QueryRowContext(ctx, r.q(`SELECT `+customerColumns+` FROM customers WHERE id = $1`), id)
	c, err := r.scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return c, nil
}

// likeEscaper makes a search term match literally inside LIKE ... ESCAPE '\'.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ListCustomers returns one page of customers matching f, newest first,
// and the total number of matches.
func (r *Repository) ListCustomers(ctx context.Context, f models.CustomerFilter) ([]*models.Customer, int, error) {
	var (
		where []string
		args  []any
	)
	if q := strings.TrimSpace(f.Query); q != "" {
		where = append(where, fmt.Sprintf(`(LOWER(full_name) LIKE $%d ESCAPE '\' OR phone LIKE $%d ESCAPE '\')`, len(args)+1, len(args)+2))
		args = append(args, "%"+likeEscaper.Replace(strings.ToLower(q))+"%", "%"+likeEscaper.Replace(q)+"%")
	}
	if f.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, f.Status)
	}
	if f.PassportFingerprint != "" {
		where = append(where, fmt.Sprintf("passport_fingerprint = $%d", len(args)+1))
		args = append(args, f.PassportFingerprint)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM customers`+clause), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count customers: %w", err)
	}

	query := `SELECT ` + customerColumns + ` FROM customers` + clause + ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, f.Limit, f.Offset)
	}

	customers, err := r.queryCustomers(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return customers, total, nil
}

// ListOpenCredits returns active customers that have a next payment date.
func (r *Repository) ListOpenCredits(ctx context.Context) ([]*models.Customer, error) {
	return r.queryCustomers(ctx, `SELECT `+customerColumns+` FROM customers
		WHERE status = $1 AND next_payment_date IS NOT NULL ORDER BY id`, models.StatusActive)
}

// UpdateCustomer writes c if its Version still matches the stored row and
// bumps the version on success.
func (r *Repository) UpdateCustomer(ctx context.Context, c *models.Customer) error {
	return r.updateCustomer(ctx, r.db, c)
}

func (r *Repository) updateCustomer(ctx context.Context, db queryer, c *models.Customer) error {
	args, err := r.customerArgs(c)
	if err != nil {
		return err
	}

	sets := make([]string, 0, len(writableColumns))
	for i, col := range writableColumns {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+1))
	}
	n := len(writableColumns)
	query := fmt.Sprintf(`UPDATE customers SET %s, version = version + 1, updated_at = $%d WHERE id = $%d AND version = $%d`,
		strings.Join(sets, ", "), n+1, n+2, n+3)
	args = append(args, c.UpdatedAt, c.ID, c.Version)

	result, err := db.ExecContext(ctx, r.q(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update customer: %w", err)
	}
	if err := r.checkVersioned(ctx, db, result, c.ID); err != nil {
		return err
	}
	c.Version++
	return nil
}

// UpdateCallNote records the outcome of a follow-up call.
func (r *Repository) UpdateCallNote(ctx context.Context, id int64, version int, note string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, r.q(`UPDATE customers
		SET call_note = $1, last_call_date = $2, updated_at = $3, version = version + 1
		WHERE id = $4 AND version = $5`), note, at, at, id, version)
	if err != nil {
		return fmt.Errorf("failed to update call note: %w", err)
	}
	return r.checkVersioned(ctx, r.db, result, id)
}

// DeleteCustomer removes a customer and its payments within a transaction.
func (r *Repository) DeleteCustomer(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM payments WHERE customer_id = $1`), id); err != nil {
		return fmt.Errorf("failed to delete payments: %w", err)
	}
	result, err := tx.ExecContext(ctx, r.q(`DELETE FROM customers WHERE id = $1`), id)
	if err != nil {
		return fmt.Errorf("failed to delete customer: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("customer %d: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

// checkVersioned tells a missing row from a stale version after an
// optimistic UPDATE.
func (r *Repository) checkVersioned(ctx context.Context, db queryer, result sql.Result, id int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	var exists int
	err = db.QueryRowContext(ctx, r.q(`SELECT 1 FROM customers WHERE id = $1`), id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("customer %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check customer: %w", err)
	}
	return fmt.Errorf("customer %d: %w", id, ErrVersionConflict)
}

func (r *Repository) queryCustomers(ctx context.Context, query string, args ...any) ([]*models.Customer, error) {
	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	customers := []*models.Customer{}
	for rows.Next() {
		c, err := r.scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan customer row: %w", err)
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return customers, nil
}

func (r *Repository) customerArgs(c *models.Customer) ([]any, error) {
	passport, err := r.cipher.Encrypt(c.PassportSeries)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt passport: %w", err)
	}

	images := c.ProfileImages
	if images == nil {
		images = []string{}
	}
	imagesJSON, err := json.Marshal(images)
	if err != nil {
		return nil, fmt.Errorf("failed to encode profile images: %w", err)
	}

	var guarantor sql.NullString
	if c.Guarantor != nil {
		g := *c.Guarantor
		if g.PassportSeries, err = r.cipher.Encrypt(g.PassportSeries); err != nil {
			return nil, fmt.Errorf("failed to encrypt guarantor passport: %w", err)
		}
		b, err := json.Marshal(g)
		if err != nil {
			return nil, fmt.Errorf("failed to encode guarantor: %w", err)
		}
		guarantor = sql.NullString{String: string(b), Valid: true}
	}

	return []any{
		c.FullName, c.Phone, passport, r.cipher.Fingerprint(c.PassportSeries), c.Region, c.District, c.Address, string(imagesJSON),
		c.Product.Name, c.Product.OriginalPrice, nullDecimal(c.Product.ProfitPercentage), nullDecimal(c.Product.MarkupAmount),
		c.Product.SellingPrice, c.Product.InstallmentMonths, c.Product.MonthlyPayment,
		c.CreditInfo.StartDate, c.CreditInfo.InitialPayment, c.CreditInfo.RemainingAmount, c.CreditInfo.RemainingMonths,
		c.CreditInfo.TotalPaid, nullTime(c.CreditInfo.NextPaymentDate),
		guarantor, c.CallNote, nullTime(c.LastCallDate), c.Status,
	}, nil
}

func (r *Repository) scanCustomer(s rowScanner) (*models.Customer, error) {
	var (
		c              models.Customer
		passport       string
		images         string
		guarantor      sql.NullString
		profit, markup decimal.NullDecimal
		next, lastCall sql.NullTime
	)
	err := s.Scan(&c.ID, &c.FullName, &c.Phone, &passport, &c.Region, &c.District, &c.Address, &images,
		&c.Product.Name, &c.Product.OriginalPrice, &profit, &markup, &c.Product.SellingPrice,
		&c.Product.InstallmentMonths, &c.Product.MonthlyPayment,
		&c.CreditInfo.StartDate, &c.CreditInfo.InitialPayment, &c.CreditInfo.RemainingAmount,
		&c.CreditInfo.RemainingMonths, &c.CreditInfo.TotalPaid, &next,
		&guarantor, &c.CallNote, &lastCall, &c.Status, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if c.PassportSeries, err = r.cipher.Decrypt(passport); err != nil {
		return nil, fmt.Errorf("failed to decrypt passport of customer %d: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(images), &c.ProfileImages); err != nil {
		return nil, fmt.Errorf("failed to decode profile images of customer %d: %w", c.ID, err)
	}
	if c.ProfileImages == nil {
		c.ProfileImages = []string{}
	}
	if guarantor.Valid && guarantor.String != "" {
		var g models.Guarantor
		if err := json.Unmarshal([]byte(guarantor.String), &g); err != nil {
			return nil, fmt.Errorf("failed to decode guarantor of customer %d: %w", c.ID, err)
		}
		if g.PassportSeries, err = r.cipher.Decrypt(g.PassportSeries); err != nil {
			return nil, fmt.Errorf("failed to decrypt guarantor passport of customer %d: %w", c.ID, err)
		}
		c.Guarantor = &g
	}
	if profit.Valid {
		c.Product.ProfitPercentage = &profit.Decimal
	}
	if markup.Valid {
		c.Product.MarkupAmount = &markup.Decimal
	}
	if next.Valid {
		c.CreditInfo.NextPaymentDate = &next.Time
	}
	if lastCall.Valid {
		c.LastCallDate = &lastCall.Time
	}
	return &c, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
