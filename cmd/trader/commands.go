package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-trade-bot-go/internal/advisory"
	"ai-trade-bot-go/internal/binance"
	"ai-trade-bot-go/internal/config"
	"ai-trade-bot-go/internal/control"
	"ai-trade-bot-go/internal/database"
	"ai-trade-bot-go/internal/exchange"
	"ai-trade-bot-go/internal/lifecycle"
	"ai-trade-bot-go/internal/logger"
	"ai-trade-bot-go/internal/market"
	"ai-trade-bot-go/internal/risk"
	"ai-trade-bot-go/internal/store"
	"ai-trade-bot-go/internal/trader"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newRootCmd creates the root command. Without a subcommand it runs the bot.
func newRootCmd() *cobra.Command {
	var configDir string

	rootCmd := &cobra.Command{
		Use:   "trader",
		Short: "Multi-timeframe advisory trading bot",
		Long: `trader analyses each configured instrument on several timeframes, asks a
chat-completions model for a decision, checks it against hard risk limits and
executes approved trades on Binance.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), configDir, false)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "./configs", "Directory containing config.yml")

	rootCmd.AddCommand(newRunCmd(&configDir))
	rootCmd.AddCommand(newReconcileCmd(&configDir))
	return rootCmd
}

func newRunCmd(configDir *string) *cobra.Command {
	var paused bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trading engine and the control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), *configDir, paused)
		},
	}
	cmd.Flags().BoolVar(&paused, "paused", false, "Serve the control API without starting the engine")
	return cmd
}

func newReconcileCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Settle trade records still awaiting an exchange outcome and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configDir)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			total, err := a.reconcile(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "settled %d trade record(s)\n", total)
			return err
		},
	}
}

// app holds the wired collaborators shared by the commands.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	store    *store.Store
	exchange exchange.Exchange
	manager  *lifecycle.Manager
	closeDB  func() error
}

func bootstrap(configDir string) (*app, error) {
	// Load application configuration
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		return nil, err
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		return nil, err
	}
	log.Info("Configuration loaded",
		zap.Strings("instruments", cfg.Trading.Instruments),
		zap.String("product_mode", string(cfg.Trading.ProductMode)),
		zap.Bool("testnet", cfg.Binance.Testnet),
		zap.Bool("dry_run", cfg.Trading.DryRun),
	)

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Error("Failed to connect to database", zap.Error(err))
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	log.Info("Database connection successful and schema migrated.")

	st := store.New(db, cfg.Trading.ProductMode, cfg.Sandbox())

	// Initialize Binance REST client; a dry run only reads market data from it.
	var ex exchange.Exchange
	restClient := binance.NewRestClient(&cfg.Binance, log)
	if cfg.Trading.DryRun {
		paper := exchange.NewPaper(restClient, log)
		if err := seedPaper(context.Background(), st, paper); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		ex = paper
		log.Warn("Dry run enabled. Orders fill on the paper exchange.")
	} else {
		ex = restClient
	}

	manager := lifecycle.NewManager(st, ex, risk.NewGuard(cfg.Risk), lifecycle.Options{
		TradeAmount:  cfg.Trading.TradeAmount,
		AllowShort:   cfg.Trading.AllowShort,
		QueryTimeout: cfg.Binance.RequestTimeout,
	}, log)

	return &app{
		cfg:      cfg,
		log:      log,
		store:    st,
		exchange: ex,
		manager:  manager,
		closeDB:  sqlDB.Close,
	}, nil
}

// seedPaper gives the paper exchange the holdings behind recorded long positions.
func seedPaper(ctx context.Context, st *store.Store, paper *exchange.Paper) error {
	positions, err := st.ListPositions(ctx)
	if err != nil {
		return err
	}
	for _, pos := range positions {
		if pos.Side == market.Long {
			paper.Seed(pos.Instrument, pos.Quantity)
		}
	}
	return nil
}

func (a *app) close() {
	if err := a.closeDB(); err != nil {
		a.log.Warn("Failed to close database", zap.Error(err))
	}
	_ = a.log.Sync()
}

// reconcile settles pending records of every configured instrument.
func (a *app) reconcile(ctx context.Context) (int, error) {
	total := 0
	var errs []error
	for _, instrument := range a.cfg.Trading.Instruments {
		n, err := a.manager.Reconcile(ctx, instrument)
		total += n
		if err != nil {
			a.log.Warn("Reconciliation incomplete", zap.String("instrument", instrument), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", instrument, err))
		}
	}
	return total, errors.Join(errs...)
}

func runBot(parent context.Context, configDir string, paused bool) error {
	a, err := bootstrap(configDir)
	if err != nil {
		return err
	}
	defer a.close()

	if parent == nil {
		parent = context.Background()
	}
	// Setup context for graceful shutdown
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if n, err := a.reconcile(ctx); err != nil {
		a.log.Warn("Startup reconciliation left records pending", zap.Int("settled", n), zap.Error(err))
	} else if n > 0 {
		a.log.Info("Startup reconciliation settled records", zap.Int("settled", n))
	}

	advisor := advisory.NewClient(a.cfg.Advisory, a.cfg.Risk, a.cfg.Trading.AllowShort, a.log)
	engine := trader.NewEngine(a.log, &a.cfg, a.exchange, advisor, a.manager, a.store)

	api := control.NewAPIServer(a.cfg.Server.Addr(), engine, a.store, a.log)
	api.Start()

	if paused {
		a.log.Info("Engine paused; start it with POST /bot/start")
	} else {
		engine.Start()
	}

	<-ctx.Done()
	a.log.Info("Shutdown signal received, gracefully shutting down...")

	engine.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := api.Stop(shutdownCtx); err != nil {
		a.log.Warn("API server shutdown failed", zap.Error(err))
	}

	a.log.Info("Bot has been shut down.")
	return nil
}
