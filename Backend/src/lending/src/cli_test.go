package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintStock(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.Seed(context.Background()))

	var out bytes.Buffer
	require.NoError(t, printStock(context.Background(), &out, f.inv))
	assert.Contains(t, out.String(), "Guns")
	assert.Contains(t, out.String(), SeedGunColt)
	assert.Contains(t, out.String(), "55.50")
}

func TestPrintLendings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.user(t, "Alice", RoleStandardUser)
	g := f.gun(t, 2, "10")
	a := f.ammo(t, "1")
	_, err := f.svc.Create(ctx, alice, LendingRequest{GunID: g.ID, AmmoID: a.ID, AmmoAmount: 1500, ReservationDate: time.Now().Add(-time.Hour)})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, printLendings(ctx, &out, f.ledger, f.inv, alice.UserID()))
	s := out.String()
	assert.Contains(t, s, "Glock 17")
	assert.Contains(t, s, "1,500")
	assert.Contains(t, s, "1510.00")
	assert.Contains(t, s, "hour ago")

	require.NoError(t, f.inv.DeleteGun(ctx, f.repo.DB, g.ID))
	out.Reset()
	require.NoError(t, printLendings(ctx, &out, f.ledger, f.inv, ""))
	assert.Contains(t, out.String(), "(removed)")
}
