package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xtrntr/wattex/internal/auth"
	"github.com/xtrntr/wattex/internal/compliance"
	"github.com/xtrntr/wattex/internal/config"
	"github.com/xtrntr/wattex/internal/db"
	"github.com/xtrntr/wattex/internal/exchange"
	"github.com/xtrntr/wattex/internal/ledger"
	"github.com/xtrntr/wattex/internal/logging"
	"github.com/xtrntr/wattex/internal/models"
)

const seedPassword = "password123"

type seedParticipant struct {
	account string
	profile models.Profile
	watt    uint64
	grid    uint64
}

var participants = []seedParticipant{
	{"alice", models.Producer{ProductionCapacity: 5000, Source: models.SourceSolar}, 0, 5000},
	{"bob", models.Consumer{ConsumptionCapacity: 3000, Class: models.ClassResidential}, 1000000, 1500},
	{"charlie", models.Prosumer{ProductionCapacity: 2000, ConsumptionCapacity: 1500, Source: models.SourceWind}, 200000, 2500},
}

var orders = []exchange.OrderRequest{
	{Account: "alice", Side: models.Sell, Quantity: 800, Price: 950},
	{Account: "charlie", Side: models.Sell, Quantity: 400, Price: 1050},
	{Account: "bob", Side: models.Buy, Quantity: 700, Price: 1000},
	{Account: "charlie", Side: models.Buy, Quantity: 200, Price: 980},
	{Account: "bob", Side: models.Buy, Quantity: 250, Price: 900},
}

func main() {
	v := config.NewViper()
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "wattex-seed",
		Short:         "Seed the database with demo participants, balances and trades",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v.SetDefault("auth.jwt_secret", "seed")
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer log.Sync()
			return seed(cmd.Context(), cfg, log)
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	cmd.Flags().String("database-url", "", "PostgreSQL connection string")
	v.BindPFlag("database.url", cmd.Flags().Lookup("database-url"))

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Seed the database with test data
func seed(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := database.Migrate(ctx); err != nil {
		return err
	}

	existing, err := database.ListParticipants(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		log.Info("database already seeded", zap.Int("participants", len(existing)))
		return nil
	}

	l := ledger.New(log.Named("ledger"))
	ex, err := exchange.NewExchange(cfg.Market, l, exchange.WithLogger(log.Named("exchange")))
	if err != nil {
		return err
	}

	hash, err := auth.HashPassword(seedPassword)
	if err != nil {
		return err
	}
	for _, sp := range participants {
		p := models.Participant{Account: sp.account, Name: sp.account, Profile: sp.profile, Active: true}
		if err := ex.RegisterParticipant(p); err != nil {
			return fmt.Errorf("register %s: %w", sp.account, err)
		}
		if err := database.CreateParticipant(ctx, p, hash); err != nil {
			return fmt.Errorf("create %s: %w", sp.account, err)
		}
		if sp.watt > 0 {
			if err := l.Mint(models.WATT, sp.account, sp.watt); err != nil {
				return err
			}
		}
		if err := l.Mint(models.GRID, sp.account, sp.grid); err != nil {
			return err
		}
	}

	var trades []models.Trade
	for _, req := range orders {
		p, err := ex.PlaceOrder(req)
		if err != nil {
			return fmt.Errorf("place %s %s order: %w", req.Account, req.Side, err)
		}
		trades = append(trades, p.Trades...)
		if err := database.RecordPlacement(ctx, append([]models.Order{p.Order}, p.Updated...), p.Trades, nil); err != nil {
			return err
		}
	}
	if err := database.SaveAccounts(ctx, l.Accounts()); err != nil {
		return err
	}

	report := compliance.Generate(trades, time.Time{}, time.Time{})
	log.Info("seeded database",
		zap.Int("participants", len(participants)),
		zap.Int("orders", len(orders)),
		zap.Int("trades", report.TotalTrades),
		zap.Uint64("volume", report.TotalVolume),
		zap.Uint64("fees", report.TotalFees))
	return nil
}
