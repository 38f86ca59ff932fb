package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3" // driver "sqlite3" (cgo)
	_ "modernc.org/sqlite"          // driver "sqlite", 100% Go
)

// Querier is satisfied by *sql.DB and *sql.Tx, so stores can run inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repository struct {
	DB        *sql.DB
	TxTimeout time.Duration
	log       zerolog.Logger
}

func NewRepository(driver, dbPath string, txTimeout time.Duration, log zerolog.Logger) (*Repository, error) {
	dsn, err := dsnFor(driver, dbPath)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxIdleTime(2 * time.Minute)
	// un solo escritor: SQLite serializa igual y así evitamos "database is locked"
	db.SetMaxOpenConns(1)

	if txTimeout <= 0 {
		txTimeout = DefaultTxTimeout
	}
	r := &Repository{DB: db, TxTimeout: txTimeout, log: log.With().Str("component", "repository").Logger()}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func dsnFor(driver, dbPath string) (string, error) {
	switch driver {
	case "sqlite":
		return dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", nil
	case "sqlite3":
		return "file:" + dbPath + "?_busy_timeout=5000&_journal_mode=WAL", nil
	}
	return "", fmt.Errorf("unsupported db driver %q", driver)
}

func (r *Repository) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS guns(
  id        TEXT PRIMARY KEY,
  producer  TEXT NOT NULL,
  model     TEXT NOT NULL,
  type      TEXT NOT NULL,
  caliber   TEXT NOT NULL,
  weight    REAL NOT NULL DEFAULT 0,
  length    INTEGER NOT NULL DEFAULT 0,
  amount    INTEGER NOT NULL DEFAULT 0 CHECK (amount >= 0),
  price     TEXT NOT NULL DEFAULT '0',
  picture   TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS ammo(
  id        TEXT PRIMARY KEY,
  caliber   TEXT NOT NULL,
  amount    INTEGER NOT NULL DEFAULT 0 CHECK (amount >= 0),
  price     TEXT NOT NULL DEFAULT '0',
  picture   TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS lendings(
  user_id          TEXT NOT NULL,
  gun_id           TEXT NOT NULL,
  ammo_id          TEXT NOT NULL,
  ammo_amount      INTEGER NOT NULL CHECK (ammo_amount >= 0),
  reservation_date TEXT NOT NULL,
  total_price      TEXT NOT NULL,
  PRIMARY KEY (user_id, gun_id, ammo_id)
);
CREATE INDEX IF NOT EXISTS idx_lendings_gun ON lendings(gun_id);
CREATE INDEX IF NOT EXISTS idx_lendings_ammo ON lendings(ammo_id);
CREATE TABLE IF NOT EXISTS users(
  id            TEXT PRIMARY KEY,
  first_name    TEXT NOT NULL,
  last_name     TEXT NOT NULL,
  email         TEXT NOT NULL UNIQUE,
  phone_number  TEXT NOT NULL DEFAULT '',
  password_hash TEXT NOT NULL,
  role          TEXT NOT NULL DEFAULT 'standard_user',
  created_at    TEXT NOT NULL
);
`
	_, err := r.DB.ExecContext(ctx, schema)
	return err
}

func (r *Repository) Close() error { return r.DB.Close() }

func (r *Repository) Ping(ctx context.Context) error { return r.DB.PingContext(ctx) }

// InTx runs fn in one transaction bounded by TxTimeout. Anything fn returns
// rolls the whole unit back; failures that are not business outcomes come
// back as *StoreError.
func (r *Repository) InTx(ctx context.Context, op string, fn func(ctx context.Context, tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.TxTimeout)
	defer cancel()

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: op, Err: err}
	}
	defer r.rollback(op, tx)

	if err := fn(ctx, tx); err != nil {
		return asStoreError(op, err)
	}
	if err := tx.Commit(); err != nil {
		return &StoreError{Op: op, Err: err}
	}
	return nil
}

// rollback after Commit returns sql.ErrTxDone; anything else is worth a log line.
func (r *Repository) rollback(op string, tx interface{ Rollback() error }) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		r.log.Error().Err(err).Str("op", op).Msg("rollback failed")
	}
}

// Demo IDs used by Seed; stable so seeding twice is a no-op.
const (
	SeedGunGlock  = "6f1c1a8e-0b7d-4b61-9d0e-4f0d2b1c0a01"
	SeedGunColt   = "6f1c1a8e-0b7d-4b61-9d0e-4f0d2b1c0a02"
	SeedGunRifle  = "6f1c1a8e-0b7d-4b61-9d0e-4f0d2b1c0a03"
	SeedAmmo9mm   = "9a2b3c4d-1e2f-4a5b-8c6d-7e8f9a0b1c01"
	SeedAmmo45ACP = "9a2b3c4d-1e2f-4a5b-8c6d-7e8f9a0b1c02"
	SeedAmmo556   = "9a2b3c4d-1e2f-4a5b-8c6d-7e8f9a0b1c03"
)

// Seed inserts demo inventory (para pruebas locales).
func (r *Repository) Seed(ctx context.Context) error {
	return r.InTx(ctx, "seed", func(ctx context.Context, tx *sql.Tx) error {
		guns := []Gun{
			{ID: SeedGunGlock, Producer: "Glock", Model: "17", Type: Pistol, Caliber: "9mm", Weight: 0.71, Length: 204, Amount: 5, Price: decimal.RequireFromString("35.00")},
			{ID: SeedGunColt, Producer: "Colt", Model: "Python", Type: Revolver, Caliber: ".357", Weight: 1.2, Length: 292, Amount: 2, Price: decimal.RequireFromString("55.50")},
			{ID: SeedGunRifle, Producer: "Colt", Model: "M4", Type: Carbine, Caliber: "5.56", Weight: 2.9, Length: 838, Amount: 1, Price: decimal.RequireFromString("80.00")},
		}
		for _, g := range guns {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO guns(id,producer,model,type,caliber,weight,length,amount,price,picture)
VALUES(?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO NOTHING`,
				g.ID, g.Producer, g.Model, string(g.Type), g.Caliber, g.Weight, g.Length, g.Amount, g.Price.String(), g.Picture); err != nil {
				return err
			}
		}
		ammo := []Ammo{
			{ID: SeedAmmo9mm, Caliber: "9mm", Amount: 1000, Price: decimal.RequireFromString("0.35")},
			{ID: SeedAmmo45ACP, Caliber: ".45 ACP", Amount: 500, Price: decimal.RequireFromString("0.60")},
			{ID: SeedAmmo556, Caliber: "5.56", Amount: 800, Price: decimal.RequireFromString("0.50")},
		}
		for _, a := range ammo {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO ammo(id,caliber,amount,price,picture)
VALUES(?,?,?,?,?)
ON CONFLICT(id) DO NOTHING`,
				a.ID, a.Caliber, a.Amount, a.Price.String(), a.Picture); err != nil {
				return err
			}
		}
		return nil
	})
}

// helpers
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAny[T any](xs []T) []any {
	out := make([]any, len(xs))
	for i, v := range xs {
		out[i] = v
	}
	return out
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type scanner interface {
	Scan(dest ...any) error
}
