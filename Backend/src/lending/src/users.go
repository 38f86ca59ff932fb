package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// UserDirectory owns the users table. Email lookups happen on every
// authenticated request, so they go through a small expiring LRU.
type UserDirectory struct {
	db      *sql.DB
	byEmail *expirable.LRU[string, User]
}

func NewUserDirectory(db *sql.DB, cacheSize int, ttl time.Duration) *UserDirectory {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	return &UserDirectory{db: db, byEmail: expirable.NewLRU[string, User](cacheSize, nil, ttl)}
}

const userColumns = `id,first_name,last_name,email,phone_number,password_hash,role,created_at`

func scanUser(row scanner) (User, error) {
	var u User
	var role, created string
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.PhoneNumber, &u.PasswordHash, &role, &created); err != nil {
		return User{}, err
	}
	u.Role = ParseRole(role)
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return User{}, fmt.Errorf("user %s: bad created_at %q: %w", u.ID, created, err)
	}
	u.CreatedAt = t
	return u, nil
}

func (d *UserDirectory) GetByEmail(ctx context.Context, email string) (User, error) {
	email = normalizeEmail(email)
	if u, ok := d.byEmail.Get(email); ok {
		return u, nil
	}
	u, err := scanUser(d.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, NotFoundError{Kind: "user", ID: email}
	}
	if err != nil {
		return User{}, asStoreError("get user by email", err)
	}
	d.byEmail.Add(email, u)
	return u, nil
}

func (d *UserDirectory) GetByID(ctx context.Context, id string) (User, error) {
	u, err := scanUser(d.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, NotFoundError{Kind: "user", ID: id}
	}
	if err != nil {
		return User{}, asStoreError("get user", err)
	}
	return u, nil
}

func (d *UserDirectory) List(ctx context.Context) ([]User, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY last_name, first_name, email`)
	if err != nil {
		return nil, asStoreError("list users", err)
	}
	defer rows.Close()
	out := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, asStoreError("list users", err)
		}
		out = append(out, u)
	}
	return out, asStoreError("list users", rows.Err())
}

// Create assigns an id when u.ID is empty. The password must already be hashed.
func (d *UserDirectory) Create(ctx context.Context, u User) (User, error) {
	u.Email = normalizeEmail(u.Email)
	if u.Email == "" || !strings.Contains(u.Email, "@") {
		return User{}, fmt.Errorf("%w: a valid email is required", ErrInvalidArgument)
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" || u.Role == RoleAnyone {
		u.Role = RoleStandardUser
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := d.db.ExecContext(ctx, `INSERT INTO users(`+userColumns+`) VALUES(?,?,?,?,?,?,?,?)`,
		u.ID, u.FirstName, u.LastName, u.Email, u.PhoneNumber, u.PasswordHash, u.Role.String(), u.CreatedAt.Format(time.RFC3339Nano))
	if isUniqueViolation(err) {
		return User{}, ErrEmailTaken
	}
	if err != nil {
		return User{}, asStoreError("create user", err)
	}
	return u, nil
}

func (d *UserDirectory) UpdateProfile(ctx context.Context, id, firstName, lastName, phone string) (User, error) {
	res, err := d.db.ExecContext(ctx, `UPDATE users SET first_name=?, last_name=?, phone_number=? WHERE id=?`,
		firstName, lastName, phone, id)
	if err != nil {
		return User{}, asStoreError("update user", err)
	}
	if err := expectOne(res, NotFoundError{Kind: "user", ID: id}); err != nil {
		return User{}, asStoreError("update user", err)
	}
	return d.refresh(ctx, id)
}

func (d *UserDirectory) UpdateRole(ctx context.Context, id string, role Role) (User, error) {
	res, err := d.db.ExecContext(ctx, `UPDATE users SET role=? WHERE id=?`, role.String(), id)
	if err != nil {
		return User{}, asStoreError("update role", err)
	}
	if err := expectOne(res, NotFoundError{Kind: "user", ID: id}); err != nil {
		return User{}, asStoreError("update role", err)
	}
	return d.refresh(ctx, id)
}

func (d *UserDirectory) UpdatePassword(ctx context.Context, id, hash string) error {
	res, err := d.db.ExecContext(ctx, `UPDATE users SET password_hash=? WHERE id=?`, hash, id)
	if err != nil {
		return asStoreError("update password", err)
	}
	if err := expectOne(res, NotFoundError{Kind: "user", ID: id}); err != nil {
		return asStoreError("update password", err)
	}
	_, err = d.refresh(ctx, id)
	return err
}

// Exists checks the row through q, so a transaction sees a concurrent delete.
func (d *UserDirectory) Exists(ctx context.Context, q Querier, id string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id=?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return NotFoundError{Kind: "user", ID: id}
	}
	return err
}

func (d *UserDirectory) Delete(ctx context.Context, q Querier, id string) error {
	var email string
	err := q.QueryRowContext(ctx, `SELECT email FROM users WHERE id=?`, id).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return NotFoundError{Kind: "user", ID: id}
	}
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id); err != nil {
		return err
	}
	d.byEmail.Remove(email)
	return nil
}

// refresh drops the cached copy so the next token lookup sees the new row.
func (d *UserDirectory) refresh(ctx context.Context, id string) (User, error) {
	u, err := d.GetByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	d.byEmail.Remove(u.Email)
	return u, nil
}

// EnsureAdmin creates the bootstrap administrator if the email is free.
func (d *UserDirectory) EnsureAdmin(ctx context.Context, email, password string) (User, error) {
	if u, err := d.GetByEmail(ctx, email); err == nil {
		return u, nil
	} else if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	return d.Create(ctx, User{
		FirstName:    "Admin",
		LastName:     "Gunlender",
		Email:        email,
		PasswordHash: hash,
		Role:         RoleAdministrator,
	})
}
