package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newStockCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "stock",
		Short: "Print current gun and ammo stock",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := NewRepository(cfg.DBDriver, cfg.DBPath, cfg.TxTimeout, log.Logger)
			if err != nil {
				return err
			}
			defer repo.Close()
			return printStock(cmd.Context(), cmd.OutOrStdout(), NewInventoryStore(repo.DB))
		},
	}
}

func printStock(ctx context.Context, out io.Writer, inv *InventoryStore) error {
	guns, err := inv.ListGuns(ctx)
	if err != nil {
		return err
	}
	ammo, err := inv.ListAmmo(ctx)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle("Guns")
	t.AppendHeader(table.Row{"ID", "Producer", "Model", "Type", "Caliber", "Amount", "Price"})
	for _, g := range guns {
		t.AppendRow(table.Row{g.ID, g.Producer, g.Model, g.Type, g.Caliber, humanize.Comma(int64(g.Amount)), g.Price.StringFixed(2)})
	}
	t.SetStyle(table.StyleLight)
	t.Render()

	t = table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle("Ammo")
	t.AppendHeader(table.Row{"ID", "Caliber", "Amount", "Price"})
	for _, a := range ammo {
		t.AppendRow(table.Row{a.ID, a.Caliber, humanize.Comma(int64(a.Amount)), a.Price.StringFixed(2)})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
	return nil
}

func newLendingsCmd(cfg *Config) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "lendings",
		Short: "Print active lendings",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := NewRepository(cfg.DBDriver, cfg.DBPath, cfg.TxTimeout, log.Logger)
			if err != nil {
				return err
			}
			defer repo.Close()
			return printLendings(cmd.Context(), cmd.OutOrStdout(), NewLendingLedger(repo.DB), NewInventoryStore(repo.DB), user)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "only lendings of this user id")
	return cmd
}

func printLendings(ctx context.Context, out io.Writer, ledger *LendingLedger, inv *InventoryStore, userID string) error {
	var (
		ls  []Lending
		err error
	)
	if userID != "" {
		ls, err = ledger.ListByUser(ctx, userID)
	} else {
		ls, err = ledger.List(ctx)
	}
	if err != nil {
		return err
	}

	seen := map[string]bool{}
	var gunIDs []string
	for _, l := range ls {
		if !seen[l.GunID] {
			seen[l.GunID] = true
			gunIDs = append(gunIDs, l.GunID)
		}
	}
	guns, err := inv.GunsByID(ctx, gunIDs)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"User", "Gun", "Ammo", "Rounds", "Reserved", "Total"})
	for _, l := range ls {
		gun := "(removed) " + l.GunID
		if g, ok := guns[l.GunID]; ok {
			gun = g.Producer + " " + g.Model
		}
		t.AppendRow(table.Row{l.UserID, gun, l.AmmoID, humanize.Comma(int64(l.AmmoAmount)), humanize.Time(l.ReservationDate), l.TotalPrice.StringFixed(2)})
	}
	t.AppendFooter(table.Row{"", "", "", "", "lendings", humanize.Comma(int64(len(ls)))})
	t.SetStyle(table.StyleLight)
	t.Render()
	return nil
}

func newEventsCmd(cfg *Config) *cobra.Command {
	var queue string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail lending events from the rabbit exchange",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			r, err := NewRabbit(cfg.RabbitURL, cfg.EventsExchange)
			if err != nil {
				return err
			}
			defer r.Close()

			out := cmd.OutOrStdout()
			err = r.ConsumeTopic(ctx, queue, []string{"lending.*"}, func(rk string, body []byte) error {
				var ev LendingEvent
				if err := json.Unmarshal(body, &ev); err != nil {
					return err
				}
				_, err := fmt.Fprintf(out, "%s  %-18s %s total=%s\n",
					ev.Timestamp.Format("15:04:05"), rk, ev.Lending.Key(), ev.Lending.TotalPrice.StringFixed(2))
				return err
			})
			if err != nil {
				return err
			}
			log.Info().Str("exchange", cfg.EventsExchange).Msg("tailing lending events, ctrl-c to stop")
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&queue, "queue", "", "durable queue name (empty for a temporary queue)")
	return cmd
}
