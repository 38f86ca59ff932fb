package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LendingLedger owns the lendings table. Mutations take the caller's
// transaction so they commit together with the inventory change.
type LendingLedger struct {
	db *sql.DB
}

func NewLendingLedger(db *sql.DB) *LendingLedger { return &LendingLedger{db: db} }

const lendingColumns = `user_id,gun_id,ammo_id,ammo_amount,reservation_date,total_price`

func scanLending(row scanner) (Lending, error) {
	var l Lending
	var date string
	if err := row.Scan(&l.UserID, &l.GunID, &l.AmmoID, &l.AmmoAmount, &date, &l.TotalPrice); err != nil {
		return Lending{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, date)
	if err != nil {
		return Lending{}, fmt.Errorf("lending %s/%s/%s: bad reservation date %q: %w", l.UserID, l.GunID, l.AmmoID, date, err)
	}
	l.ReservationDate = t
	return l, nil
}

func formatDate(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func (s *LendingLedger) Get(ctx context.Context, key LendingKey) (Lending, error) {
	l, err := scanLending(s.db.QueryRowContext(ctx,
		`SELECT `+lendingColumns+` FROM lendings WHERE user_id=? AND gun_id=? AND ammo_id=?`,
		key.UserID, key.GunID, key.AmmoID))
	if errors.Is(err, sql.ErrNoRows) {
		return Lending{}, NotFoundError{Kind: "lending", ID: key.String()}
	}
	if err != nil {
		return Lending{}, asStoreError("get lending", err)
	}
	return l, nil
}

func (s *LendingLedger) List(ctx context.Context) ([]Lending, error) {
	return s.list(ctx, "list lendings", ``)
}

func (s *LendingLedger) ListByUser(ctx context.Context, userID string) ([]Lending, error) {
	return s.list(ctx, "list lendings by user", `WHERE user_id=?`, userID)
}

func (s *LendingLedger) ListByGun(ctx context.Context, gunID string) ([]Lending, error) {
	return s.list(ctx, "list lendings by gun", `WHERE gun_id=?`, gunID)
}

func (s *LendingLedger) ListByAmmo(ctx context.Context, ammoID string) ([]Lending, error) {
	return s.list(ctx, "list lendings by ammo", `WHERE ammo_id=?`, ammoID)
}

func (s *LendingLedger) list(ctx context.Context, op, where string, args ...any) ([]Lending, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+lendingColumns+` FROM lendings `+where+` ORDER BY reservation_date, user_id, gun_id, ammo_id`, args...)
	if err != nil {
		return nil, asStoreError(op, err)
	}
	defer rows.Close()
	out := []Lending{}
	for rows.Next() {
		l, err := scanLending(rows)
		if err != nil {
			return nil, asStoreError(op, err)
		}
		out = append(out, l)
	}
	return out, asStoreError(op, rows.Err())
}

func (s *LendingLedger) CountByUser(ctx context.Context, q Querier, userID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM lendings WHERE user_id=?`, userID).Scan(&n)
	return n, asStoreError("count lendings", err)
}

func (s *LendingLedger) Insert(ctx context.Context, q Querier, l Lending) error {
	_, err := q.ExecContext(ctx, `INSERT INTO lendings(`+lendingColumns+`) VALUES(?,?,?,?,?,?)`,
		l.UserID, l.GunID, l.AmmoID, l.AmmoAmount, formatDate(l.ReservationDate), l.TotalPrice.String())
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrAlreadyLent, l.Key())
	}
	return err
}

func (s *LendingLedger) Delete(ctx context.Context, q Querier, key LendingKey) error {
	res, err := q.ExecContext(ctx, `DELETE FROM lendings WHERE user_id=? AND gun_id=? AND ammo_id=?`,
		key.UserID, key.GunID, key.AmmoID)
	if err != nil {
		return err
	}
	return expectOne(res, NotFoundError{Kind: "lending", ID: key.String()})
}

// Update replaces the row at oldKey with l. A changed key is a delete plus an
// insert, never an in-place key rewrite.
func (s *LendingLedger) Update(ctx context.Context, q Querier, oldKey LendingKey, l Lending) error {
	if err := s.Delete(ctx, q, oldKey); err != nil {
		return err
	}
	return s.Insert(ctx, q, l)
}
