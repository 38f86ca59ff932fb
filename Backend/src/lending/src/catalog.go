package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	keyGuns = "guns"
	keyAmmo = "ammo"

	catalogLoadTimeout = 10 * time.Second
)

func gunKey(id string) string  { return "gun:" + id }
func ammoKey(id string) string { return "ammo:" + id }

// CatalogService serves gun and ammo reads cache-aside and applies admin edits.
type CatalogService struct {
	repo  *Repository
	inv   *InventoryStore
	cache Cache
	group singleflight.Group
	log   zerolog.Logger
}

func NewCatalogService(repo *Repository, inv *InventoryStore, cache Cache, log zerolog.Logger) *CatalogService {
	return &CatalogService{repo: repo, inv: inv, cache: cache, log: log.With().Str("component", "catalog").Logger()}
}

// cached reads key from the cache or loads it once for all concurrent callers.
// The shared load is detached from whichever caller started it; a caller that
// gives up only stops waiting.
func cached[T any](ctx context.Context, s *CatalogService, key string, load func(context.Context) (T, error)) (T, error) {
	var zero T
	if b, ok, err := s.cache.Get(ctx, key); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("cache get failed")
	} else if ok {
		var v T
		if err := json.Unmarshal(b, &v); err == nil {
			return v, nil
		}
	}
	ch := s.group.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), catalogLoadTimeout)
		defer cancel()
		val, err := load(lctx)
		if err != nil {
			return nil, err
		}
		if b, err := json.Marshal(val); err == nil {
			if err := s.cache.Set(lctx, key, b); err != nil {
				s.log.Warn().Err(err).Str("key", key).Msg("cache set failed")
			}
		}
		return val, nil
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

func (s *CatalogService) ListGuns(ctx context.Context, caller CallerContext) ([]Gun, error) {
	if err := caller.Authorize(OpBrowseCatalog, ""); err != nil {
		return nil, err
	}
	return cached(ctx, s, keyGuns, s.inv.ListGuns)
}

func (s *CatalogService) GetGun(ctx context.Context, caller CallerContext, id string) (Gun, error) {
	if err := caller.Authorize(OpViewGun, ""); err != nil {
		return Gun{}, err
	}
	return cached(ctx, s, gunKey(id), func(ctx context.Context) (Gun, error) { return s.inv.GetGun(ctx, id) })
}

func (s *CatalogService) ListAmmo(ctx context.Context, caller CallerContext) ([]Ammo, error) {
	if err := caller.Authorize(OpBrowseCatalog, ""); err != nil {
		return nil, err
	}
	return cached(ctx, s, keyAmmo, s.inv.ListAmmo)
}

func (s *CatalogService) GetAmmo(ctx context.Context, caller CallerContext, id string) (Ammo, error) {
	if err := caller.Authorize(OpBrowseCatalog, ""); err != nil {
		return Ammo{}, err
	}
	return cached(ctx, s, ammoKey(id), func(ctx context.Context) (Ammo, error) { return s.inv.GetAmmo(ctx, id) })
}

// InvalidateGuns drops the gun list and the given guns from the cache.
func (s *CatalogService) InvalidateGuns(ctx context.Context, ids ...string) {
	keys := []string{keyGuns}
	for _, id := range ids {
		keys = append(keys, gunKey(id))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.log.Warn().Err(err).Strs("keys", keys).Msg("cache invalidation failed")
	}
}

func (s *CatalogService) invalidateAmmo(ctx context.Context, id string) {
	if err := s.cache.Delete(ctx, keyAmmo, ammoKey(id)); err != nil {
		s.log.Warn().Err(err).Str("ammo", id).Msg("cache invalidation failed")
	}
}

func (s *CatalogService) CreateGun(ctx context.Context, caller CallerContext, g Gun) (Gun, error) {
	if err := caller.Authorize(OpEditCatalog, ""); err != nil {
		return Gun{}, err
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return s.writeGun(ctx, "create gun", g, s.inv.CreateGun)
}

func (s *CatalogService) UpdateGun(ctx context.Context, caller CallerContext, id string, g Gun) (Gun, error) {
	if err := caller.Authorize(OpEditCatalog, ""); err != nil {
		return Gun{}, err
	}
	g.ID = id
	return s.writeGun(ctx, "update gun", g, s.inv.UpdateGun)
}

func (s *CatalogService) writeGun(ctx context.Context, op string, g Gun, write func(context.Context, Querier, Gun) error) (Gun, error) {
	t, err := ParseWeaponType(string(g.Type))
	if err != nil {
		return Gun{}, err
	}
	g.Type = t
	if err := g.validate(); err != nil {
		return Gun{}, err
	}
	err = s.repo.InTx(ctx, op, func(ctx context.Context, tx *sql.Tx) error {
		return write(ctx, tx, g)
	})
	if err != nil {
		return Gun{}, err
	}
	s.InvalidateGuns(ctx, g.ID)
	s.log.Info().Str("gun", g.ID).Str("op", op).Msg("catalog updated")
	return g, nil
}

func (s *CatalogService) DeleteGun(ctx context.Context, caller CallerContext, id string) error {
	if err := caller.Authorize(OpEditCatalog, ""); err != nil {
		return err
	}
	err := s.repo.InTx(ctx, "delete gun", func(ctx context.Context, tx *sql.Tx) error {
		return s.inv.DeleteGun(ctx, tx, id)
	})
	if err != nil {
		return err
	}
	s.InvalidateGuns(ctx, id)
	return nil
}

// SetGunAmount is the admin restock path.
func (s *CatalogService) SetGunAmount(ctx context.Context, caller CallerContext, id string, amount int) (Gun, error) {
	if err := caller.Authorize(OpEditCatalog, ""); err != nil {
		return Gun{}, err
	}
	err := s.repo.InTx(ctx, "set gun amount", func(ctx context.Context, tx *sql.Tx) error {
		return s.inv.SetGunAmount(ctx, tx, id, amount)
	})
	if err != nil {
		return Gun{}, err
	}
	s.InvalidateGuns(ctx, id)
	return s.inv.GetGun(ctx, id)
}

func (s *CatalogService) CreateAmmo(ctx context.Context, caller CallerContext, a Ammo) (Ammo, error) {
	if err := caller.Authorize(OpEditCatalog, ""); err != nil {
		return Ammo{}, err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return s.writeAmmo(ctx, "create ammo", a, s.inv.CreateAmmo)
}

func (s *CatalogService) UpdateAmmo(ctx context.Context, caller CallerContext, id string, a Ammo) (Ammo, error) {
	if err := caller.Authorize(OpEditCatalog, ""); err != nil {
		return Ammo{}, err
	}
	a.ID = id
	return s.writeAmmo(ctx, "update ammo", a, s.inv.UpdateAmmo)
}

func (s *CatalogService) writeAmmo(ctx context.Context, op string, a Ammo, write func(context.Context, Querier, Ammo) error) (Ammo, error) {
	if err := a.validate(); err != nil {
		return Ammo{}, err
	}
	err := s.repo.InTx(ctx, op, func(ctx context.Context, tx *sql.Tx) error {
		return write(ctx, tx, a)
	})
	if err != nil {
		return Ammo{}, err
	}
	s.invalidateAmmo(ctx, a.ID)
	return a, nil
}

func (s *CatalogService) DeleteAmmo(ctx context.Context, caller CallerContext, id string) error {
	if err := caller.Authorize(OpEditCatalog, ""); err != nil {
		return err
	}
	err := s.repo.InTx(ctx, "delete ammo", func(ctx context.Context, tx *sql.Tx) error {
		return s.inv.DeleteAmmo(ctx, tx, id)
	})
	if err != nil {
		return err
	}
	s.invalidateAmmo(ctx, id)
	return nil
}
