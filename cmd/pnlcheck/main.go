// Command pnlcheck runs a single stop-loss check and prints the
// verdict. Useful for manual inspection and paper-trading smoke tests
// without starting the scheduler process.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"

	"github.com/dfontaine/qqq-spread-bot/internal/broker"
	"github.com/dfontaine/qqq-spread-bot/internal/clock"
	"github.com/dfontaine/qqq-spread-bot/internal/config"
	"github.com/dfontaine/qqq-spread-bot/internal/ledger"
	"github.com/dfontaine/qqq-spread-bot/internal/pnl"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	_ = godotenv.Load()

	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "pnlcheck: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(os.Stderr, "[PNL] ", log.LstdFlags)
	clockSvc := clock.NewService(clock.WallClock{}, cfg.Schedule.Timezone)
	orders := ledger.NewLedger(cfg.Storage.OrdersDir, logger)

	api := broker.NewAlpacaAPI(cfg.Broker.APIKey, cfg.Broker.APISecret, cfg.IsPaperTrading())
	monitor := pnl.NewMonitor(api, orders, clockSvc, logger, pnl.Config{
		Underlying:       cfg.Strategy.Underlying,
		StopLossMultiple: cfg.Risk.StopLossMultiple,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	verdict, err := monitor.CheckAndEnforceStopLoss(ctx)
	if err != nil {
		return err
	}

	printVerdict(os.Stdout, verdict)
	return nil
}

func printVerdict(out io.Writer, verdict *pnl.Verdict) {
	fmt.Fprintf(out, "status: %s\n", verdict.Status)

	if verdict.Snapshot != nil {
		fmt.Fprintf(out, "total P&L: %.2f\n", verdict.Snapshot.TotalPnL)
		if p := verdict.Snapshot.Premium; p != nil {
			fmt.Fprintf(out, "premium: paid=%.2f received=%.2f net=%.2f\n", p.Paid, p.Received, p.Net)
			fmt.Fprintf(out, "stop-loss level: %.2f\n", p.StopLoss)
		} else {
			fmt.Fprintln(out, "stop-loss level: n/a (no orders recorded today)")
		}
		printPositions(out, verdict.Snapshot)
	}

	if verdict.Status == pnl.StatusStopLossTriggered {
		fmt.Fprintf(out, "closed positions: %d\n", len(verdict.Closed))
		for _, f := range verdict.Failed {
			fmt.Fprintf(out, "failed to close %s: %s\n", f.Symbol, f.Reason)
		}
	}
}

func printPositions(out io.Writer, snapshot *pnl.Snapshot) {
	if len(snapshot.Positions) == 0 {
		return
	}

	symbols := make([]string, 0, len(snapshot.Positions))
	for sym := range snapshot.Positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	table := tablewriter.NewWriter(out)
	table.Header("Symbol", "Qty", "Entry", "Current", "Premium", "P&L", "P&L %")
	for _, sym := range symbols {
		p := snapshot.Positions[sym]
		table.Append(
			p.Symbol,
			fmt.Sprintf("%.0f", p.Qty),
			fmt.Sprintf("%.2f", p.EntryPrice),
			fmt.Sprintf("%.2f", p.CurrentPrice),
			fmt.Sprintf("%.2f", p.Premium),
			fmt.Sprintf("%.2f", p.PnL),
			fmt.Sprintf("%.1f%%", p.PnLPct),
		)
	}
	table.Render()

	for _, sym := range snapshot.Unpriced {
		fmt.Fprintf(out, "no price available for %s\n", sym)
	}
}
