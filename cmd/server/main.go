package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xtrntr/wattex/internal/api"
	"github.com/xtrntr/wattex/internal/auth"
	"github.com/xtrntr/wattex/internal/chain"
	"github.com/xtrntr/wattex/internal/compliance"
	"github.com/xtrntr/wattex/internal/config"
	"github.com/xtrntr/wattex/internal/db"
	"github.com/xtrntr/wattex/internal/exchange"
	"github.com/xtrntr/wattex/internal/governance"
	"github.com/xtrntr/wattex/internal/ledger"
	"github.com/xtrntr/wattex/internal/logging"
	"github.com/xtrntr/wattex/internal/metrics"
	"github.com/xtrntr/wattex/internal/ws"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "wattex-server",
		Short:         "Peer-to-peer energy exchange server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, log)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	flags.String("addr", ":8080", "HTTP listen address")
	flags.String("database-url", "", "PostgreSQL connection string")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	v.BindPFlag("http.addr", flags.Lookup("addr"))
	v.BindPFlag("database.url", flags.Lookup("database-url"))
	v.BindPFlag("log.level", flags.Lookup("log-level"))
	return cmd
}

// Main entry point: sets up database, exchange, and HTTP server
func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := database.Migrate(ctx); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	l := ledger.New(log.Named("ledger"))
	blocks := chain.New(chain.WithLogger(log.Named("chain")), chain.WithFeeSink(cfg.Market.FeeSink))
	ex, err := exchange.NewExchange(cfg.Market, l,
		exchange.WithLogger(log.Named("exchange")),
		exchange.WithOperators(cfg.Operators...),
		exchange.WithObserver(m),
		exchange.WithTradeSink(blocks))
	if err != nil {
		return err
	}
	gov := governance.New(cfg.Governance, l,
		governance.WithLogger(log.Named("governance")),
		governance.WithVoteHook(func(v governance.Vote) {
			if _, err := blocks.Submit(chain.Transaction{
				Type: chain.TxGovernanceVote, From: v.Voter, To: v.ProposalID, Amount: v.Power, Timestamp: v.CastAt,
			}); err != nil {
				log.Warn("failed to log vote", zap.Error(err))
			}
		}))

	if err := restore(ctx, database, ex, l, log); err != nil {
		return err
	}

	hub := ws.NewHub(func() interface{} { return api.BookSnapshot(ex) }, log.Named("ws"))
	handler := api.NewHandler(ex, database, auth.NewAuthService(database, cfg.JWTSecret, cfg.TokenTTL), log.Named("api"))
	handler.Governance = gov
	handler.Chain = blocks
	handler.Notifier = hub

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Handle("/ws", hub)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Mount("/", handler.Routes())

	go hub.Run(ctx, 5*time.Second)
	go housekeeping(ctx, cfg, database, ex, gov, blocks, hub, log)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", cfg.HTTPAddr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", zap.Error(err))
	}
	if err := database.SaveAccounts(shutdownCtx, l.Accounts()); err != nil {
		return fmt.Errorf("failed to snapshot balances: %w", err)
	}
	return nil
}

// restore rebuilds in-memory state from the database: balances,
// participants, trade history and the resting orders
func restore(ctx context.Context, database *db.DB, ex *exchange.Exchange, l *ledger.Ledger, log *zap.Logger) error {
	accounts, err := database.LoadAccounts(ctx)
	if err != nil {
		return err
	}
	if err := l.Restore(accounts); err != nil {
		return fmt.Errorf("failed to restore balances: %w", err)
	}

	participants, err := database.ListParticipants(ctx)
	if err != nil {
		return err
	}
	for _, p := range participants {
		if err := ex.RegisterParticipant(p); err != nil {
			return fmt.Errorf("failed to restore participant %s: %w", p.Account, err)
		}
	}

	trades, err := database.ListTrades(ctx)
	if err != nil {
		return err
	}
	valid := trades[:0]
	for _, t := range trades {
		if err := compliance.ValidateTrade(t); err != nil {
			log.Warn("skipping inconsistent trade record", zap.String("trade_id", t.ID), zap.Error(err))
			continue
		}
		valid = append(valid, t)
	}
	ex.RestoreTrades(valid)

	orders, err := database.GetOpenOrders(ctx)
	if err != nil {
		return err
	}
	if err := ex.RestoreOrders(orders); err != nil {
		return err
	}

	log.Info("state restored",
		zap.Int("accounts", len(accounts)),
		zap.Int("participants", len(participants)),
		zap.Int("trades", len(valid)),
		zap.Int("open_orders", len(orders)))
	return nil
}

// housekeeping expires stale orders, seals blocks and closes proposals
func housekeeping(ctx context.Context, cfg config.Config, database *db.DB, ex *exchange.Exchange,
	gov *governance.Governance, blocks *chain.Chain, hub *ws.Hub, log *zap.Logger) {
	sweep := time.NewTicker(cfg.SweepPeriod)
	defer sweep.Stop()
	seal := time.NewTicker(cfg.BlockPeriod)
	defer seal.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			expired := ex.SweepExpired()
			for _, o := range expired {
				if err := database.SaveOrder(ctx, o); err != nil {
					log.Error("failed to record expiry", zap.String("order_id", o.ID), zap.Error(err))
				}
			}
			if len(expired) > 0 {
				hub.Notify()
			}
			for _, p := range gov.FinalizeDue() {
				log.Info("proposal closed", zap.String("proposal_id", p.ID), zap.String("status", string(p.Status)))
			}
		case <-seal.C:
			blocks.ProduceBlock()
		}
	}
}
