// Command bot runs the trading day: spread entry at the open, P&L
// monitoring with stop-loss enforcement intraday, forced liquidation
// before the close, a reference price snapshot after, and a clean exit
// at end of program.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dfontaine/qqq-spread-bot/internal/broker"
	"github.com/dfontaine/qqq-spread-bot/internal/clock"
	"github.com/dfontaine/qqq-spread-bot/internal/config"
	"github.com/dfontaine/qqq-spread-bot/internal/dashboard"
	"github.com/dfontaine/qqq-spread-bot/internal/ledger"
	"github.com/dfontaine/qqq-spread-bot/internal/pnl"
	"github.com/dfontaine/qqq-spread-bot/internal/pricestore"
	"github.com/dfontaine/qqq-spread-bot/internal/scheduler"
	"github.com/dfontaine/qqq-spread-bot/internal/strategy"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// A local .env may carry the API credentials; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[BOT] ", log.LstdFlags)
	logger.Printf("Starting %s spread bot in %s mode", cfg.Strategy.Underlying, cfg.Environment.Mode)
	if !cfg.IsPaperTrading() {
		logger.Println("LIVE TRADING MODE - real money at risk")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Printf("Received %s, shutting down", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Bot stopped with error: %v", err)
	}
	logger.Println("Bot stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	clockSvc := clock.NewService(clock.WallClock{}, cfg.Schedule.Timezone)

	prices := pricestore.NewStore(cfg.Storage.PriceDir)
	orders := ledger.NewLedger(cfg.Storage.OrdersDir, logger)

	api := broker.NewAlpacaAPI(cfg.Broker.APIKey, cfg.Broker.APISecret, cfg.IsPaperTrading())
	brk := broker.NewCircuitBreakerBroker(api)

	engine := strategy.NewEngine(brk, prices, orders, clockSvc, logger, strategy.Config{
		Underlying:     cfg.Strategy.Underlying,
		Contracts:      cfg.Strategy.Contracts,
		PutSpreadName:  cfg.Strategy.PutSpreadName,
		CallSpreadName: cfg.Strategy.CallSpreadName,
	})
	monitor := pnl.NewMonitor(brk, orders, clockSvc, logger, pnl.Config{
		Underlying:       cfg.Strategy.Underlying,
		StopLossMultiple: cfg.Risk.StopLossMultiple,
	})

	sched := scheduler.New(clockSvc, logger, cfg.ProgramEndTime())
	registerJobs(sched, cfg, clockSvc, brk, prices, engine, monitor, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Program end also brings the dashboard down.
		defer cancel()
		return sched.Loop(ctx)
	})

	if cfg.Dashboard.Enabled {
		srv := dashboard.NewServer(dashboard.Config{
			Port:      cfg.Dashboard.Port,
			AuthToken: cfg.Dashboard.AuthToken,
		}, monitor, orders, prices, newDashboardLogger(cfg.Environment.LogLevel))

		g.Go(func() error {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("dashboard: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func registerJobs(sched *scheduler.Scheduler, cfg *config.Config, clockSvc *clock.Service,
	brk broker.Broker, prices *pricestore.Store, engine *strategy.Engine,
	monitor *pnl.Monitor, logger *log.Logger) {

	sched.At(cfg.EntryTime(), "spread-entry", entryJob(engine, logger))
	sched.EveryWithin(cfg.MonitorInterval(), scheduler.Window{
		Start: cfg.MonitorStartTime(),
		End:   cfg.MonitorEndTime(),
	}, "pnl-monitor", monitorJob(monitor, logger))
	sched.At(cfg.ExitTime(), "forced-exit", exitJob(monitor, logger))
	sched.At(cfg.PostMarketTime(), "reference-snapshot",
		snapshotJob(brk, prices, clockSvc, cfg.Strategy.Underlying, logger))
}

func entryJob(engine *strategy.Engine, logger *log.Logger) scheduler.JobFunc {
	return func(ctx context.Context) error {
		result, err := engine.EvaluateAndExecute(ctx)
		if err != nil {
			var partial *strategy.PartialLegError
			if errors.As(err, &partial) {
				// A one-legged spread needs an operator, not a process
				// restart; keep monitoring it.
				logger.Printf("WARNING: %v", partial)
				return nil
			}
			return err
		}
		if result != nil {
			for _, spread := range result.Spreads {
				logger.Printf("opened %s %s spread, strikes %.0f/%.0f",
					spread.StrategyName, spread.Type, spread.BuyStrike, spread.SellStrike)
			}
		}
		return nil
	}
}

func monitorJob(monitor *pnl.Monitor, logger *log.Logger) scheduler.JobFunc {
	return func(ctx context.Context) error {
		verdict, err := monitor.CheckAndEnforceStopLoss(ctx)
		if err != nil {
			return err
		}
		if verdict.Status == pnl.StatusStopLossTriggered {
			logger.Printf("stop-loss triggered: closed=%v failed=%v", verdict.Closed, verdict.Failed)
		}
		return nil
	}
}

func exitJob(monitor *pnl.Monitor, logger *log.Logger) scheduler.JobFunc {
	return func(ctx context.Context) error {
		closed, failed, err := monitor.CloseAllOptionPositions(ctx)
		if err != nil {
			return err
		}
		logger.Printf("end-of-day liquidation: closed=%v failed=%v", closed, failed)
		return nil
	}
}

func snapshotJob(brk broker.Broker, prices *pricestore.Store, clockSvc *clock.Service,
	underlying string, logger *log.Logger) scheduler.JobFunc {
	return func(ctx context.Context) error {
		price, err := brk.GetLatestPrice(ctx, underlying)
		if err != nil {
			return fmt.Errorf("fetching closing price: %w", err)
		}
		dateKey, _, _ := clockSvc.NowInReferenceZone()
		if err := prices.Save(dateKey, price); err != nil {
			return err
		}
		logger.Printf("saved reference price %.2f for %s", price, dateKey)
		return nil
	}
}

func newDashboardLogger(level string) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(lvl)
	}
	return l
}
