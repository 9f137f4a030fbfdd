// Package pnl computes running profit and loss for open option
// positions, derives the day's stop-loss threshold from the order
// ledger, and force-liquidates every option position when the
// threshold is breached.
package pnl

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/dfontaine/qqq-spread-bot/internal/broker"
	"github.com/dfontaine/qqq-spread-bot/internal/clock"
	"github.com/dfontaine/qqq-spread-bot/internal/ledger"
)

// Status classifies the outcome of one stop-loss check.
type Status string

// Verdict statuses.
const (
	// StatusNoPositions means there were no open option positions.
	StatusNoPositions Status = "no_positions"
	// StatusNoContext means positions exist but no orders were recorded
	// today, so no threshold can be derived; the check is report-only.
	StatusNoContext Status = "no_premium_context"
	// StatusBelowThreshold means losses have not reached the threshold.
	StatusBelowThreshold Status = "below_threshold"
	// StatusStopLossTriggered means liquidation was attempted.
	StatusStopLossTriggered Status = "stop_loss_triggered"
)

// PositionPnL is the per-symbol slice of a snapshot. Premium is the
// per-contract premium from today's ledger record for the symbol,
// scaled by the contract multiplier; zero when no record matches.
type PositionPnL struct {
	Symbol       string  `json:"symbol"`
	Qty          float64 `json:"qty"`
	EntryPrice   float64 `json:"entry_price"`
	CurrentPrice float64 `json:"current_price"`
	PnL          float64 `json:"pnl"`
	PnLPct       float64 `json:"pnl_pct"`
	Premium      float64 `json:"premium"`
}

// PremiumSummary aggregates today's recorded order premiums. StopLoss
// is −StopLossMultiple × Net, so larger losses are more negative.
type PremiumSummary struct {
	Paid     float64 `json:"paid"`
	Received float64 `json:"received"`
	Net      float64 `json:"net"`
	StopLoss float64 `json:"stop_loss"`
}

// Snapshot is one point-in-time P&L view. A nil Premium means no
// orders were recorded today and no stop-loss decision is possible.
// Unpriced lists symbols with no usable market price; they are absent
// from TotalPnL rather than counted as zero.
type Snapshot struct {
	Positions map[string]PositionPnL `json:"positions"`
	TotalPnL  float64                `json:"total_pnl"`
	Unpriced  []string               `json:"unpriced,omitempty"`
	Premium   *PremiumSummary        `json:"premium,omitempty"`
}

// CloseFailure records one symbol that could not be liquidated.
type CloseFailure struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

// Verdict is the result of one stop-loss check.
type Verdict struct {
	Status   Status         `json:"status"`
	Snapshot *Snapshot      `json:"snapshot,omitempty"`
	Closed   []string       `json:"closed,omitempty"`
	Failed   []CloseFailure `json:"failed,omitempty"`
}

// Config holds the monitor parameters.
type Config struct {
	Underlying         string
	StopLossMultiple   float64
	ContractMultiplier float64
}

// Monitor checks open option positions against the stop-loss threshold.
type Monitor struct {
	broker broker.Broker
	orders *ledger.Ledger
	clock  *clock.Service
	logger *log.Logger
	cfg    Config

	sleep func(time.Duration) // overridable in tests
}

// NewMonitor creates a Monitor. A nil logger falls back to stderr.
func NewMonitor(b broker.Broker, orders *ledger.Ledger, clk *clock.Service,
	logger *log.Logger, cfg Config) *Monitor {
	if logger == nil {
		logger = log.New(os.Stderr, "pnl: ", log.LstdFlags)
	}
	if cfg.StopLossMultiple <= 0 {
		cfg.StopLossMultiple = 2
	}
	if cfg.ContractMultiplier <= 0 {
		cfg.ContractMultiplier = 100
	}
	return &Monitor{broker: b, orders: orders, clock: clk, logger: logger, cfg: cfg, sleep: time.Sleep}
}

// CheckAndEnforceStopLoss computes a snapshot of all open option
// positions and, when total P&L has fallen to or past the threshold,
// liquidates everything. With no premium context recorded today the
// check reports P&L only and makes no liquidation decision.
func (m *Monitor) CheckAndEnforceStopLoss(ctx context.Context) (*Verdict, error) {
	snapshot, err := m.SnapshotPositions(ctx)
	if err != nil {
		return nil, err
	}
	if len(snapshot.Positions) == 0 {
		return &Verdict{Status: StatusNoPositions}, nil
	}
	if snapshot.Premium == nil {
		m.logger.Printf("no orders recorded today, reporting P&L only (total=%.2f)", snapshot.TotalPnL)
		return &Verdict{Status: StatusNoContext, Snapshot: snapshot}, nil
	}

	if snapshot.TotalPnL <= snapshot.Premium.StopLoss {
		m.logger.Printf("stop-loss breached: total=%.2f threshold=%.2f, liquidating",
			snapshot.TotalPnL, snapshot.Premium.StopLoss)
		closed, failed, err := m.CloseAllOptionPositions(ctx)
		if err != nil {
			return nil, err
		}
		return &Verdict{
			Status:   StatusStopLossTriggered,
			Snapshot: snapshot,
			Closed:   closed,
			Failed:   failed,
		}, nil
	}

	return &Verdict{Status: StatusBelowThreshold, Snapshot: snapshot}, nil
}

// SnapshotPositions prices every open option position and aggregates
// today's premium context. It never liquidates.
func (m *Monitor) SnapshotPositions(ctx context.Context) (*Snapshot, error) {
	positions, err := m.broker.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}

	var options []broker.Position
	for _, p := range positions {
		if broker.IsOptionSymbol(p.Symbol, m.cfg.Underlying) {
			options = append(options, p)
		}
	}

	snapshot := &Snapshot{Positions: make(map[string]PositionPnL, len(options))}
	if len(options) == 0 {
		return snapshot, nil
	}

	todayKey, _, _ := m.clock.NowInReferenceZone()
	var premiums map[string]float64
	snapshot.Premium, premiums, err = m.premiumContext(todayKey)
	if err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(options))
	for _, p := range options {
		symbols = append(symbols, p.Symbol)
	}
	quotes, err := m.broker.GetQuotes(ctx, symbols)
	if err != nil {
		m.logger.Printf("warning: quote batch failed, falling back per symbol: %v", err)
		quotes = nil
	}

	for _, pos := range options {
		current, ok := m.priceFor(ctx, pos.Symbol, quotes)
		if !ok {
			snapshot.Unpriced = append(snapshot.Unpriced, pos.Symbol)
			continue
		}

		pnl := positionPnL(pos, current, m.cfg.ContractMultiplier)
		pnl.Premium = premiums[pos.Symbol]
		snapshot.Positions[pos.Symbol] = pnl
		snapshot.TotalPnL += pnl.PnL
	}
	sort.Strings(snapshot.Unpriced)
	return snapshot, nil
}

// premiumContext sums today's recorded premiums across all strategies
// and maps each symbol to its per-contract premium (latest record for
// a symbol wins). The summary is nil when no records exist: the
// threshold is undefined, not zero.
func (m *Monitor) premiumContext(dateKey string) (*PremiumSummary, map[string]float64, error) {
	records, err := m.orders.Query("", dateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("querying today's orders: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}

	var summary PremiumSummary
	premiums := make(map[string]float64, len(records))
	for _, rec := range records {
		amount := rec.LimitPrice * float64(rec.Qty) * m.cfg.ContractMultiplier
		switch rec.Side {
		case ledger.SideBuy:
			summary.Paid += amount
		case ledger.SideSell:
			summary.Received += amount
		}
		premiums[rec.Symbol] = rec.LimitPrice * m.cfg.ContractMultiplier
	}
	// Records whose fill price was unknown at submission contribute 0.
	// A day of only such records gives no usable threshold; treat it
	// like missing context rather than liquidating at the first loss.
	if summary.Paid == 0 && summary.Received == 0 {
		return nil, premiums, nil
	}

	summary.Net = summary.Paid - summary.Received
	summary.StopLoss = -m.cfg.StopLossMultiple * summary.Net
	return &summary, premiums, nil
}

// priceFor resolves a current price: quote midpoint when both sides are
// live, the available side when only one is, and a per-symbol latest
// price fetch when the batch had nothing.
func (m *Monitor) priceFor(ctx context.Context, symbol string, quotes map[string]broker.Quote) (float64, bool) {
	if q, ok := quotes[symbol]; ok {
		switch {
		case q.Bid > 0 && q.Ask > 0:
			return (q.Bid + q.Ask) / 2, true
		case q.Bid > 0:
			return q.Bid, true
		case q.Ask > 0:
			return q.Ask, true
		}
	}

	price, err := m.broker.GetLatestPrice(ctx, symbol)
	if err != nil {
		m.logger.Printf("warning: no price for %s: %v", symbol, err)
		return 0, false
	}
	if price <= 0 {
		return 0, false
	}
	return price, true
}

func positionPnL(pos broker.Position, current, multiplier float64) PositionPnL {
	qty := pos.Qty
	var pnl float64
	if qty >= 0 {
		pnl = (current - pos.AvgEntryPrice) * qty * multiplier
	} else {
		pnl = (pos.AvgEntryPrice - current) * math.Abs(qty) * multiplier
	}

	var pct float64
	if basis := pos.AvgEntryPrice * math.Abs(qty) * multiplier; basis > 0 {
		pct = pnl / basis * 100
	}

	return PositionPnL{
		Symbol:       pos.Symbol,
		Qty:          qty,
		EntryPrice:   pos.AvgEntryPrice,
		CurrentPrice: current,
		PnL:          pnl,
		PnLPct:       pct,
	}
}

const (
	closeAttempts       = 3
	closeInitialBackoff = time.Second
)

// CloseAllOptionPositions liquidates every open option position with a
// market order, retrying transient failures per symbol. One symbol's
// failure never stops the rest; the caller gets both lists.
func (m *Monitor) CloseAllOptionPositions(ctx context.Context) ([]string, []CloseFailure, error) {
	positions, err := m.broker.GetPositions(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching positions for liquidation: %w", err)
	}

	var closed []string
	var failed []CloseFailure
	for _, pos := range positions {
		if !broker.IsOptionSymbol(pos.Symbol, m.cfg.Underlying) {
			continue
		}
		if err := m.closeWithRetry(ctx, pos.Symbol); err != nil {
			m.logger.Printf("failed to close %s: %v", pos.Symbol, err)
			failed = append(failed, CloseFailure{Symbol: pos.Symbol, Reason: err.Error()})
			continue
		}
		m.logger.Printf("closed %s", pos.Symbol)
		closed = append(closed, pos.Symbol)
	}
	return closed, failed, nil
}

// closeWithRetry retries ClosePosition with exponential backoff and
// jitter. Context cancellation aborts between attempts.
func (m *Monitor) closeWithRetry(ctx context.Context, symbol string) error {
	backoff := closeInitialBackoff
	var lastErr error
	for attempt := 1; attempt <= closeAttempts; attempt++ {
		_, err := m.broker.ClosePosition(ctx, symbol)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == closeAttempts {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		jitter := time.Duration(rand.Int63n(int64(backoff) / 4)) // #nosec G404 -- jitter, not crypto
		m.logger.Printf("close %s attempt %d failed, retrying in %v: %v", symbol, attempt, backoff+jitter, lastErr)
		m.sleep(backoff + jitter)
		backoff = time.Duration(float64(backoff) * 1.5)
	}
	return fmt.Errorf("after %d attempts: %w", closeAttempts, lastErr)
}
