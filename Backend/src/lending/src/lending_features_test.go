package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cucumber/godog"
)

type lendingTestContext struct {
	t     *testing.T
	f     *fixture
	guns  map[string]Gun
	ammo  map[string]Ammo
	users map[string]CallerContext
	held  map[string]Lending
	last  Lending
	err   error
}

var failureKinds = map[string]error{
	"inventory exhausted":      ErrInventoryExhausted,
	"insufficient permissions": ErrInsufficientPermissions,
	"not logged in":            ErrUnauthenticated,
	"not found":                ErrNotFound,
	"already lent":             ErrAlreadyLent,
	"invalid argument":         ErrInvalidArgument,
}

func (c *lendingTestContext) reset() {
	c.f = newFixture(c.t)
	c.guns = map[string]Gun{}
	c.ammo = map[string]Ammo{}
	c.users = map[string]CallerContext{}
	c.held = map[string]Lending{}
	c.last = Lending{}
	c.err = nil
}

func (c *lendingTestContext) aGunWithAmountAndPrice(name string, amount int, price string) error {
	g, err := c.f.createGun(context.Background(), amount, price)
	if err != nil {
		return err
	}
	c.guns[name] = g
	return nil
}

func (c *lendingTestContext) ammoWithPrice(name, price string) error {
	a, err := c.f.createAmmo(context.Background(), price)
	if err != nil {
		return err
	}
	c.ammo[name] = a
	return nil
}

func (c *lendingTestContext) aUser(role Role) func(string) error {
	return func(name string) error {
		u, err := c.f.createUser(context.Background(), name, role)
		if err != nil {
			return err
		}
		c.users[name] = u
		return nil
	}
}

func (c *lendingTestContext) lends(actor, gun, ammo string, rounds int) error {
	return c.lendsFor(actor, gun, actor, ammo, rounds)
}

func (c *lendingTestContext) lendsFor(actor, gun, owner, ammo string, rounds int) error {
	caller, ok := c.users[actor]
	if !ok {
		return fmt.Errorf("unknown user %q", actor)
	}
	l, err := c.f.svc.Create(context.Background(), caller, LendingRequest{
		UserID:     c.users[owner].UserID(),
		GunID:      c.guns[gun].ID,
		AmmoID:     c.ammo[ammo].ID,
		AmmoAmount: rounds,
	})
	c.err = err
	if err == nil {
		c.last = l
		c.held[owner] = l
	}
	return nil
}

func (c *lendingTestContext) amendsTo(actor, gun string, rounds int) error {
	old, ok := c.held[actor]
	if !ok {
		return fmt.Errorf("%s holds no lending", actor)
	}
	l, err := c.f.svc.Amend(context.Background(), c.users[actor], old.Key(), AmendRequest{
		GunID:      c.guns[gun].ID,
		AmmoID:     old.AmmoID,
		AmmoAmount: rounds,
	})
	c.err = err
	if err == nil {
		c.last = l
		c.held[actor] = l
	}
	return nil
}

func (c *lendingTestContext) cancels(actor, owner string) error {
	l, ok := c.held[owner]
	if !ok {
		return fmt.Errorf("%s holds no lending", owner)
	}
	_, c.err = c.f.svc.Cancel(context.Background(), c.users[actor], l.Key())
	if c.err == nil {
		delete(c.held, owner)
	}
	return nil
}

func (c *lendingTestContext) gunRemoved(name string) error {
	return c.f.inv.DeleteGun(context.Background(), c.f.repo.DB, c.guns[name].ID)
}

func (c *lendingTestContext) theOperationSucceeds() error {
	if c.err != nil {
		return fmt.Errorf("expected success, got %w", c.err)
	}
	return nil
}

func (c *lendingTestContext) theOperationFailsWith(kind string) error {
	target, ok := failureKinds[kind]
	if !ok {
		return fmt.Errorf("unknown failure %q", kind)
	}
	if !errors.Is(c.err, target) {
		return fmt.Errorf("expected %s, got %v", kind, c.err)
	}
	return nil
}

func (c *lendingTestContext) gunHasAmount(name string, want int) error {
	got, err := c.f.gunAmount(context.Background(), c.guns[name].ID)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("gun %s: expected amount %d, got %d", name, want, got)
	}
	return nil
}

func (c *lendingTestContext) theLendingTotalPriceIs(want string) error {
	if !c.last.TotalPrice.Equal(dec(want)) {
		return fmt.Errorf("expected total %s, got %s", want, c.last.TotalPrice)
	}
	return nil
}

func (c *lendingTestContext) holdsLending(user, gun string) (bool, error) {
	ls, err := c.f.ledger.ListByUser(context.Background(), c.users[user].UserID())
	if err != nil {
		return false, err
	}
	for _, l := range ls {
		if l.GunID == c.guns[gun].ID {
			return true, nil
		}
	}
	return false, nil
}

func (c *lendingTestContext) holdsALendingFor(user, gun string) error {
	ok, err := c.holdsLending(user, gun)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s holds no lending for %s", user, gun)
	}
	return nil
}

func (c *lendingTestContext) holdsNoLendingFor(user, gun string) error {
	ok, err := c.holdsLending(user, gun)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%s still holds a lending for %s", user, gun)
	}
	return nil
}

func initializeLendingScenario(t *testing.T) func(*godog.ScenarioContext) {
	return func(ctx *godog.ScenarioContext) {
		tc := &lendingTestContext{t: t}

		ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
			tc.reset()
			return ctx, nil
		})

		// Given
		ctx.Step(`^a gun "([^"]*)" with amount (\d+) and price "([^"]*)"$`, tc.aGunWithAmountAndPrice)
		ctx.Step(`^ammo "([^"]*)" with price "([^"]*)"$`, tc.ammoWithPrice)
		ctx.Step(`^a standard user "([^"]*)"$`, tc.aUser(RoleStandardUser))
		ctx.Step(`^an administrator "([^"]*)"$`, tc.aUser(RoleAdministrator))
		ctx.Step(`^gun "([^"]*)" is removed from the catalog$`, tc.gunRemoved)

		// When
		ctx.Step(`^"([^"]*)" lends gun "([^"]*)" with ammo "([^"]*)" and (\d+) rounds$`, tc.lends)
		ctx.Step(`^"([^"]*)" lends gun "([^"]*)" for "([^"]*)" with ammo "([^"]*)" and (\d+) rounds$`, tc.lendsFor)
		ctx.Step(`^"([^"]*)" amends their lending to gun "([^"]*)" with (\d+) rounds$`, tc.amendsTo)
		ctx.Step(`^"([^"]*)" cancels the lending of "([^"]*)"$`, tc.cancels)

		// Then
		ctx.Step(`^the operation succeeds$`, tc.theOperationSucceeds)
		ctx.Step(`^the operation fails with "([^"]*)"$`, tc.theOperationFailsWith)
		ctx.Step(`^gun "([^"]*)" has amount (\d+)$`, tc.gunHasAmount)
		ctx.Step(`^the lending total price is "([^"]*)"$`, tc.theLendingTotalPriceIs)
		ctx.Step(`^"([^"]*)" holds a lending for gun "([^"]*)"$`, tc.holdsALendingFor)
		ctx.Step(`^"([^"]*)" holds no lending for gun "([^"]*)"$`, tc.holdsNoLendingFor)
	}
}

func TestLendingFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeLendingScenario(t),
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/lending.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
