package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ccgate/ccgate/config"
	"github.com/ccgate/ccgate/model"
	"github.com/ccgate/ccgate/venue"

	_ "github.com/ccgate/ccgate/venues/binance"
	_ "github.com/ccgate/ccgate/venues/bybit"
	_ "github.com/ccgate/ccgate/venues/coinbase"
	_ "github.com/ccgate/ccgate/venues/okx"
)

// client is the subset of a venue adapter's surface this CLI drives. Every
// venues/* Adapter satisfies it structurally; no shared base type is
// required.
type client interface {
	FetchTicker(ctx context.Context, symbol string) (*model.Ticker, error)
	FetchOrderBook(ctx context.Context, symbol string, limit int) (*model.OrderBook, int64, error)
	WatchTicker(ctx context.Context, symbol string, cb func(*model.Ticker)) error
}

// Execute builds the root command and runs it: persistent --venue/--config
// flags on the root command, one subcommand per concern.
func Execute(ctx context.Context) error {
	var (
		venueID    string
		configPath string
	)

	root := &cobra.Command{Use: "ccgate", Short: "Unified cryptocurrency trading-venue client"}
	root.PersistentFlags().StringVar(&venueID, "venue", "binance", "venue id (binance, okx, bybit, coinbase)")
	root.PersistentFlags().StringVar(&configPath, "config", "config.json", "path to config.json")

	newClient := func() (client, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		instance, err := venue.New(venueID, cfg.VenueConfig(venueID))
		if err != nil {
			return nil, err
		}
		c, ok := instance.(client)
		if !ok {
			return nil, fmt.Errorf("ccgate: venue %q does not implement the CLI's client surface", venueID)
		}
		return c, nil
	}

	root.AddCommand(tickerCmd(ctx, newClient))
	root.AddCommand(orderBookCmd(ctx, newClient))
	root.AddCommand(watchCmd(ctx, newClient))
	root.AddCommand(venuesCmd())

	return root.Execute()
}

func tickerCmd(ctx context.Context, newClient func() (client, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "ticker <symbol>",
		Short: "Fetch one ticker snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			ticker, err := c.FetchTicker(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(ticker)
		},
	}
}

func orderBookCmd(ctx context.Context, newClient func() (client, error)) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "orderbook <symbol>",
		Short: "Fetch one order-book snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			book, _, err := c.FetchOrderBook(ctx, args[0], limit)
			if err != nil {
				return err
			}
			return printJSON(book)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "order-book depth")
	return cmd
}

func watchCmd(ctx context.Context, newClient func() (client, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <symbol>",
		Short: "Stream ticker updates until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			watchCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			err = c.WatchTicker(watchCtx, args[0], func(t *model.Ticker) {
				log.Info().Str("symbol", t.Symbol).Float64("last", t.Last).
					Float64("bid", t.Bid).Float64("ask", t.Ask).Msg("ticker")
			})
			if err != nil {
				return err
			}
			<-watchCtx.Done()
			return nil
		},
	}
}

func venuesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "venues",
		Short: "List registered venue ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range venue.Registered() {
				fmt.Println(id)
			}
			return nil
		},
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
