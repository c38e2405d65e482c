package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/Dan9191/installment-service/internal/utils"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Supported database/sql drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrVersionConflict  = errors.New("record was modified concurrently")
	ErrDuplicate        = errors.New("record already exists")
	ErrDuplicatePayment = errors.New("payment with this idempotency key already exists")
)

var placeholder = regexp.MustCompile(`\$(\d+)`)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository provides database operations
type Repository struct {
	db     *sql.DB
	driver string
	cipher *utils.FieldCipher
}

// Open connects to the database and applies driver specific settings.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite allows one writer; a single connection keeps transactions serialized.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA foreign_keys = ON;", "PRAGMA journal_mode = WAL;", "PRAGMA busy_timeout = 5000;"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
			}
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}
	return db, nil
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB, driver string, cipher *utils.FieldCipher) *Repository {
	return &Repository{db: db, driver: driver, cipher: cipher}
}

// Migrate creates the tables if they don't already exist.
func (r *Repository) Migrate(ctx context.Context) error {
	schema := postgresSchema
	if r.driver == DriverSQLite {
		schema = sqliteSchema
	}
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// q rewrites $N placeholders to ?N for SQLite. Queries are written in the
// PostgreSQL dialect.
func (r *Repository) q(query string) string {
	if r.driver == DriverSQLite {
		return placeholder.ReplaceAllString(query, "?$1")
	}
	return query
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
