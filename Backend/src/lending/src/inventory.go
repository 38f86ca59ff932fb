package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// InventoryStore owns the guns and ammo tables.
type InventoryStore struct {
	db *sql.DB
}

func NewInventoryStore(db *sql.DB) *InventoryStore { return &InventoryStore{db: db} }

const gunColumns = `id,producer,model,type,caliber,weight,length,amount,price,picture`

func scanGun(row scanner) (Gun, error) {
	var g Gun
	var typ string
	if err := row.Scan(&g.ID, &g.Producer, &g.Model, &typ, &g.Caliber, &g.Weight, &g.Length, &g.Amount, &g.Price, &g.Picture); err != nil {
		return Gun{}, err
	}
	g.Type = WeaponType(typ)
	return g, nil
}

func scanAmmo(row scanner) (Ammo, error) {
	var a Ammo
	err := row.Scan(&a.ID, &a.Caliber, &a.Amount, &a.Price, &a.Picture)
	return a, err
}

func (s *InventoryStore) GetGun(ctx context.Context, id string) (Gun, error) {
	g, err := scanGun(s.db.QueryRowContext(ctx, `SELECT `+gunColumns+` FROM guns WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Gun{}, NotFoundError{Kind: "gun", ID: id}
	}
	if err != nil {
		return Gun{}, asStoreError("get gun", err)
	}
	return g, nil
}

func (s *InventoryStore) GetAmmo(ctx context.Context, id string) (Ammo, error) {
	a, err := scanAmmo(s.db.QueryRowContext(ctx, `SELECT id,caliber,amount,price,picture FROM ammo WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Ammo{}, NotFoundError{Kind: "ammo", ID: id}
	}
	if err != nil {
		return Ammo{}, asStoreError("get ammo", err)
	}
	return a, nil
}

func (s *InventoryStore) ListGuns(ctx context.Context) ([]Gun, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+gunColumns+` FROM guns ORDER BY producer, model, id`)
	if err != nil {
		return nil, asStoreError("list guns", err)
	}
	defer rows.Close()
	out := []Gun{}
	for rows.Next() {
		g, err := scanGun(rows)
		if err != nil {
			return nil, asStoreError("list guns", err)
		}
		out = append(out, g)
	}
	return out, asStoreError("list guns", rows.Err())
}

// GunsByID returns the guns that still exist among ids, keyed by id.
func (s *InventoryStore) GunsByID(ctx context.Context, ids []string) (map[string]Gun, error) {
	out := map[string]Gun{}
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+gunColumns+` FROM guns WHERE id IN (`+placeholders(len(ids))+`)`, toAny(ids)...)
	if err != nil {
		return nil, asStoreError("guns by id", err)
	}
	defer rows.Close()
	for rows.Next() {
		g, err := scanGun(rows)
		if err != nil {
			return nil, asStoreError("guns by id", err)
		}
		out[g.ID] = g
	}
	return out, asStoreError("guns by id", rows.Err())
}

func (s *InventoryStore) ListAmmo(ctx context.Context) ([]Ammo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,caliber,amount,price,picture FROM ammo ORDER BY caliber, id`)
	if err != nil {
		return nil, asStoreError("list ammo", err)
	}
	defer rows.Close()
	out := []Ammo{}
	for rows.Next() {
		a, err := scanAmmo(rows)
		if err != nil {
			return nil, asStoreError("list ammo", err)
		}
		out = append(out, a)
	}
	return out, asStoreError("list ammo", rows.Err())
}

// SetGunAmount overwrites the stock of a gun. Used by catalog edits, never by lendings.
func (s *InventoryStore) SetGunAmount(ctx context.Context, q Querier, id string, amount int) error {
	if amount < 0 {
		return fmt.Errorf("%w: gun amount cannot be negative (%d)", ErrInvalidArgument, amount)
	}
	res, err := q.ExecContext(ctx, `UPDATE guns SET amount=? WHERE id=?`, amount, id)
	if err != nil {
		return err
	}
	return expectOne(res, NotFoundError{Kind: "gun", ID: id})
}

// AdjustGunAmount applies delta only if the result stays non-negative. The
// check and the write are one statement, so two lendings racing for the last
// unit cannot both succeed.
func (s *InventoryStore) AdjustGunAmount(ctx context.Context, q Querier, id string, delta int) error {
	res, err := q.ExecContext(ctx,
		`UPDATE guns SET amount = amount + ? WHERE id = ? AND amount + ? >= 0`, delta, id, delta)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var amount int
	err = q.QueryRowContext(ctx, `SELECT amount FROM guns WHERE id=?`, id).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return NotFoundError{Kind: "gun", ID: id}
	}
	if err != nil {
		return err
	}
	return ExhaustedError{GunID: id, Avail: amount}
}

func (s *InventoryStore) CreateGun(ctx context.Context, q Querier, g Gun) error {
	_, err := q.ExecContext(ctx, `INSERT INTO guns(`+gunColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		g.ID, g.Producer, g.Model, string(g.Type), g.Caliber, g.Weight, g.Length, g.Amount, g.Price.String(), g.Picture)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: gun %s already exists", ErrInvalidState, g.ID)
	}
	return err
}

func (s *InventoryStore) UpdateGun(ctx context.Context, q Querier, g Gun) error {
	res, err := q.ExecContext(ctx, `
UPDATE guns SET producer=?, model=?, type=?, caliber=?, weight=?, length=?, amount=?, price=?, picture=?
WHERE id=?`,
		g.Producer, g.Model, string(g.Type), g.Caliber, g.Weight, g.Length, g.Amount, g.Price.String(), g.Picture, g.ID)
	if err != nil {
		return err
	}
	return expectOne(res, NotFoundError{Kind: "gun", ID: g.ID})
}

// DeleteGun leaves lendings that reference the gun in place; cancelling them later skips the restock.
func (s *InventoryStore) DeleteGun(ctx context.Context, q Querier, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM guns WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectOne(res, NotFoundError{Kind: "gun", ID: id})
}

func (s *InventoryStore) CreateAmmo(ctx context.Context, q Querier, a Ammo) error {
	_, err := q.ExecContext(ctx, `INSERT INTO ammo(id,caliber,amount,price,picture) VALUES(?,?,?,?,?)`,
		a.ID, a.Caliber, a.Amount, a.Price.String(), a.Picture)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: ammo %s already exists", ErrInvalidState, a.ID)
	}
	return err
}

func (s *InventoryStore) UpdateAmmo(ctx context.Context, q Querier, a Ammo) error {
	res, err := q.ExecContext(ctx, `UPDATE ammo SET caliber=?, amount=?, price=?, picture=? WHERE id=?`,
		a.Caliber, a.Amount, a.Price.String(), a.Picture, a.ID)
	if err != nil {
		return err
	}
	return expectOne(res, NotFoundError{Kind: "ammo", ID: a.ID})
}

func (s *InventoryStore) DeleteAmmo(ctx context.Context, q Querier, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM ammo WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectOne(res, NotFoundError{Kind: "ammo", ID: id})
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
