package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	c := NewRedisCache(db, "gl:", time.Minute)

	mock.ExpectGet("gl:guns").RedisNil()
	_, ok, err := c.Get(ctx, "guns")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectSet("gl:guns", []byte(`[]`), time.Minute).SetVal("OK")
	require.NoError(t, c.Set(ctx, "guns", []byte(`[]`)))

	mock.ExpectGet("gl:guns").SetVal(`[]`)
	b, ok, err := c.Get(ctx, "guns")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[]`, string(b))

	mock.ExpectDel("gl:guns", "gl:gun:1").SetVal(2)
	require.NoError(t, c.Delete(ctx, "guns", "gun:1"))
	require.NoError(t, c.Delete(ctx))

	mock.ExpectGet("gl:ammo").SetErr(errors.New("connection refused"))
	_, _, err = c.Get(ctx, "ammo")
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLRUCache(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(2, time.Minute)
	require.NoError(t, c.Set(ctx, "a", []byte("1")))
	require.NoError(t, c.Set(ctx, "b", []byte("2")))
	require.NoError(t, c.Set(ctx, "c", []byte("3")))

	_, ok, _ := c.Get(ctx, "a")
	assert.False(t, ok, "oldest entry evicted")
	v, ok, _ := c.Get(ctx, "c")
	assert.True(t, ok)
	assert.Equal(t, "3", string(v))

	require.NoError(t, c.Delete(ctx, "c"))
	_, ok, _ = c.Get(ctx, "c")
	assert.False(t, ok)
}

func TestCatalogInvalidatedByLending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	catalog := NewCatalogService(f.repo, f.inv, NewLRUCache(16, time.Hour), zerolog.Nop())
	svc := NewReservationService(ReservationDeps{
		Tx: f.repo, Inventory: f.inv, Ledger: f.ledger, Users: f.users,
		Events: f.events, Cache: catalog, Logger: zerolog.Nop(),
	})
	alice := f.user(t, "Alice", RoleStandardUser)
	g := f.gun(t, 3, "10")
	a := f.ammo(t, "1")

	got, err := catalog.GetGun(ctx, alice, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Amount)

	// a write behind the catalog's back is not seen until invalidation
	require.NoError(t, f.inv.SetGunAmount(ctx, f.repo.DB, g.ID, 5))
	got, err = catalog.GetGun(ctx, alice, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Amount)

	_, err = svc.Create(ctx, alice, LendingRequest{UserID: alice.UserID(), GunID: g.ID, AmmoID: a.ID, AmmoAmount: 1})
	require.NoError(t, err)

	got, err = catalog.GetGun(ctx, alice, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Amount)

	guns, err := catalog.ListGuns(ctx, Anonymous())
	require.NoError(t, err)
	require.Len(t, guns, 1)
	assert.Equal(t, 4, guns[0].Amount)
}

func TestCachedLoadSurvivesCancelledCaller(t *testing.T) {
	f := newFixture(t)
	catalog := NewCatalogService(f.repo, f.inv, NewLRUCache(16, time.Minute), zerolog.Nop())

	started := make(chan struct{})
	release := make(chan struct{})
	var (
		once    sync.Once
		loadErr error
	)
	load := func(ctx context.Context) (int, error) {
		once.Do(func() { close(started) })
		<-release
		loadErr = ctx.Err()
		return 7, loadErr
	}

	first, cancel := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := cached(first, catalog, "gun:slow", load)
		firstDone <- err
	}()
	<-started

	secondDone := make(chan int, 1)
	secondErr := make(chan error, 1)
	go func() {
		v, err := cached(context.Background(), catalog, "gun:slow", load)
		secondDone <- v
		secondErr <- err
	}()

	cancel()
	require.ErrorIs(t, <-firstDone, context.Canceled)

	time.Sleep(20 * time.Millisecond)
	close(release)
	require.NoError(t, <-secondErr)
	assert.Equal(t, 7, <-secondDone)
	assert.NoError(t, loadErr)
}

func TestCatalogAdminEdits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	catalog := NewCatalogService(f.repo, f.inv, NewLRUCache(16, time.Hour), zerolog.Nop())
	admin := f.user(t, "Root", RoleAdministrator)
	alice := f.user(t, "Alice", RoleStandardUser)

	_, err := catalog.GetGun(ctx, Anonymous(), "x")
	require.ErrorIs(t, err, ErrUnauthenticated)

	g := Gun{Producer: "Beretta", Model: "92", Type: "pistol", Caliber: "9mm", Amount: 2, Price: dec("300")}
	_, err = catalog.CreateGun(ctx, alice, g)
	require.ErrorIs(t, err, ErrInsufficientPermissions)

	created, err := catalog.CreateGun(ctx, admin, g)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	_, err = catalog.CreateGun(ctx, admin, Gun{Producer: "X", Model: "Y", Type: "cannon"})
	require.ErrorIs(t, err, ErrInvalidArgument)

	list, err := catalog.ListGuns(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 1)

	upd, err := catalog.SetGunAmount(ctx, admin, created.ID, 9)
	require.NoError(t, err)
	assert.Equal(t, 9, upd.Amount)
	_, err = catalog.SetGunAmount(ctx, admin, created.ID, -1)
	require.ErrorIs(t, err, ErrInvalidArgument)

	got, err := catalog.GetGun(ctx, alice, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, got.Amount)

	require.NoError(t, catalog.DeleteGun(ctx, admin, created.ID))
	_, err = catalog.GetGun(ctx, alice, created.ID)
	require.ErrorIs(t, err, ErrNotFound)

	ammo, err := catalog.CreateAmmo(ctx, admin, Ammo{Caliber: "9mm", Amount: 50, Price: dec("0.5")})
	require.NoError(t, err)
	list2, err := catalog.ListAmmo(ctx, Anonymous())
	require.NoError(t, err)
	assert.Len(t, list2, 1)
	require.NoError(t, catalog.DeleteAmmo(ctx, admin, ammo.ID))
	list2, err = catalog.ListAmmo(ctx, Anonymous())
	require.NoError(t, err)
	assert.Empty(t, list2)
}
