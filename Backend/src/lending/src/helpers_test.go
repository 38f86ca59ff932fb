package main

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t testing.TB) *Repository {
	t.Helper()
	repo, err := NewRepository("sqlite", filepath.Join(t.TempDir(), "lending.db"), 5*time.Second, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

type recordingPublisher struct {
	mu     sync.Mutex
	keys   []string
	events []LendingEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, rk string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, rk)
	if ev, ok := v.(LendingEvent); ok {
		p.events = append(p.events, ev)
	}
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

type fixture struct {
	repo   *Repository
	inv    *InventoryStore
	ledger *LendingLedger
	users  *UserDirectory
	events *recordingPublisher
	svc    *ReservationService
}

func newFixture(t testing.TB) *fixture {
	repo := newTestRepo(t)
	f := &fixture{
		repo:   repo,
		inv:    NewInventoryStore(repo.DB),
		ledger: NewLendingLedger(repo.DB),
		users:  NewUserDirectory(repo.DB, 16, time.Minute),
		events: &recordingPublisher{},
	}
	f.svc = f.service(f.ledger)
	return f
}

// service builds a reservation service over the fixture's stores with the given ledger.
func (f *fixture) service(ledger Ledger) *ReservationService {
	return NewReservationService(ReservationDeps{
		Tx:        f.repo,
		Inventory: f.inv,
		Ledger:    ledger,
		Users:     f.users,
		Events:    f.events,
		Logger:    zerolog.Nop(),
	})
}

func (f *fixture) createGun(ctx context.Context, amount int, price string) (Gun, error) {
	g := Gun{
		ID:       uuid.NewString(),
		Producer: "Glock",
		Model:    "17",
		Type:     Pistol,
		Caliber:  "9mm",
		Amount:   amount,
		Price:    decimal.RequireFromString(price),
	}
	return g, f.inv.CreateGun(ctx, f.repo.DB, g)
}

func (f *fixture) createAmmo(ctx context.Context, price string) (Ammo, error) {
	a := Ammo{ID: uuid.NewString(), Caliber: "9mm", Amount: 100, Price: decimal.RequireFromString(price)}
	return a, f.inv.CreateAmmo(ctx, f.repo.DB, a)
}

func (f *fixture) createUser(ctx context.Context, name string, role Role) (CallerContext, error) {
	u, err := f.users.Create(ctx, User{
		FirstName:    name,
		LastName:     "Tester",
		Email:        strings.ToLower(name) + "@test.local",
		PasswordHash: "not-a-real-hash",
		Role:         role,
	})
	if err != nil {
		return CallerContext{}, err
	}
	return NewCallerContext(u.ID, u.Email, u.Role), nil
}

func (f *fixture) gunAmount(ctx context.Context, id string) (int, error) {
	g, err := f.inv.GetGun(ctx, id)
	return g.Amount, err
}

func (f *fixture) gun(t testing.TB, amount int, price string) Gun {
	t.Helper()
	g, err := f.createGun(context.Background(), amount, price)
	require.NoError(t, err)
	return g
}

func (f *fixture) ammo(t testing.TB, price string) Ammo {
	t.Helper()
	a, err := f.createAmmo(context.Background(), price)
	require.NoError(t, err)
	return a
}

func (f *fixture) user(t testing.TB, name string, role Role) CallerContext {
	t.Helper()
	c, err := f.createUser(context.Background(), name, role)
	require.NoError(t, err)
	return c
}

func (f *fixture) amount(t testing.TB, gunID string) int {
	t.Helper()
	n, err := f.gunAmount(context.Background(), gunID)
	require.NoError(t, err)
	return n
}

// failingLedger breaks Insert after the inventory change already ran in the transaction.
type failingLedger struct {
	*LendingLedger
}

func (failingLedger) Insert(context.Context, Querier, Lending) error {
	return errors.New("disk I/O error")
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
