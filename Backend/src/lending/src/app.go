package main

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func setupLogger(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return log.Logger.With().Str("service", cfg.ServiceName).Logger()
}

// App wires the stores and services of one process.
type App struct {
	Repo      *Repository
	Inventory *InventoryStore
	Ledger    *LendingLedger
	Users     *UserDirectory
	Accounts  *AccountService
	Catalog   *CatalogService
	Lendings  *ReservationService
	Events    Publisher

	closers []func() error
}

func NewApp(ctx context.Context, cfg Config, logger zerolog.Logger) (*App, error) {
	repo, err := NewRepository(cfg.DBDriver, cfg.DBPath, cfg.TxTimeout, logger)
	if err != nil {
		return nil, err
	}
	a := &App{Repo: repo, closers: []func() error{repo.Close}}

	cache, closeCache, err := NewCache(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closeCache)

	pub, err := NewPublisher(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Events = pub
	a.closers = append(a.closers, pub.Close)

	a.Inventory = NewInventoryStore(repo.DB)
	a.Ledger = NewLendingLedger(repo.DB)
	a.Users = NewUserDirectory(repo.DB, cfg.CacheSize, time.Minute)
	a.Accounts = NewAccountService(a.Users, NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL), repo, a.Ledger, logger)
	a.Catalog = NewCatalogService(repo, a.Inventory, cache, logger)
	a.Lendings = NewReservationService(ReservationDeps{
		Tx:        repo,
		Inventory: a.Inventory,
		Ledger:    a.Ledger,
		Users:     a.Users,
		Events:    pub,
		Cache:     a.Catalog,
		Logger:    logger,
	})

	if cfg.SeedOnStart {
		if err := a.Seed(ctx, cfg); err != nil {
			a.Close()
			return nil, err
		}
		logger.Info().Msg("seeded demo inventory")
	}
	return a, nil
}

func (a *App) Seed(ctx context.Context, cfg Config) error {
	if err := a.Repo.Seed(ctx); err != nil {
		return err
	}
	_, err := a.Users.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPass)
	return err
}

// Close runs the closers in reverse order.
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, a.closers[i]())
	}
	a.closers = nil
	return err
}
