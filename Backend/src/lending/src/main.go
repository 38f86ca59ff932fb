package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := LoadConfig()

	root := &cobra.Command{
		Use:           "gunlender",
		Short:         "Firearm and ammunition lending service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogger(cfg)
		},
	}
	root.PersistentFlags().StringVar(&cfg.DBPath, "db", cfg.DBPath, "sqlite database path")
	root.PersistentFlags().StringVar(&cfg.DBDriver, "driver", cfg.DBDriver, "database/sql driver (sqlite or sqlite3)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the gRPC health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}
	serve.Flags().StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "HTTP listen address")
	serve.Flags().StringVar(&cfg.GRPCAddr, "grpc", cfg.GRPCAddr, "gRPC listen address")
	serve.Flags().BoolVar(&cfg.SeedOnStart, "seed", cfg.SeedOnStart, "seed demo inventory on start")

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := NewRepository(cfg.DBDriver, cfg.DBPath, cfg.TxTimeout, log.Logger)
			if err != nil {
				return err
			}
			defer repo.Close()
			log.Info().Str("db", cfg.DBPath).Msg("schema up to date")
			return nil
		},
	}

	seed := &cobra.Command{
		Use:   "seed",
		Short: "Insert demo guns, ammo and the bootstrap administrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cfg
			cfg.EventsBackend = "none"
			app, err := NewApp(cmd.Context(), cfg, log.Logger)
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.Seed(cmd.Context(), cfg); err != nil {
				return err
			}
			log.Info().Str("admin", cfg.AdminEmail).Msg("seeded")
			return nil
		},
	}

	root.AddCommand(serve, migrate, seed, newStockCmd(&cfg), newLendingsCmd(&cfg), newEventsCmd(&cfg))
	root.RunE = serve.RunE
	return root
}

func runServe(ctx context.Context, cfg Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("http", cfg.HTTPAddr).
		Str("grpc", cfg.GRPCAddr).
		Str("db", cfg.DBPath).
		Str("events", cfg.EventsBackend).
		Msg("starting lending service")

	shutdownTracing, err := SetupTracing(ctx, cfg)
	if err != nil {
		return err
	}

	app, err := NewApp(ctx, cfg, log.Logger)
	if err != nil {
		return err
	}
	defer app.Close()

	srv, err := NewServer(app.Accounts, app.Catalog, app.Lendings, app.Repo.Ping, cfg.CORSOrigins, log.Logger)
	if err != nil {
		return err
	}
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv, ReadHeaderTimeout: 10 * time.Second}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	grpcSrv, hs := NewGRPCServer(cfg.ServiceName)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.GRPCAddr).Msg("gRPC listening")
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		watchDB(gctx, hs, cfg.ServiceName, app.Repo.Ping, 15*time.Second, log.Logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Warn().Msg("shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), ShutdownGrace)
		defer cancel()
		err := httpSrv.Shutdown(sctx)
		grpcSrv.GracefulStop()
		return errors.Join(err, shutdownTracing(sctx))
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		return err
	}
	log.Info().Msg("bye")
	return nil
}
