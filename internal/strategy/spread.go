// Package strategy implements the daily spread entry decision: compare
// the current underlying price against yesterday's reference price and,
// when a condition band is hit, open a two-leg vertical option spread
// with market orders.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/dfontaine/qqq-spread-bot/internal/broker"
	"github.com/dfontaine/qqq-spread-bot/internal/clock"
	"github.com/dfontaine/qqq-spread-bot/internal/ledger"
	"github.com/dfontaine/qqq-spread-bot/internal/pricestore"
)

// SpreadType identifies which vertical spread a condition opened.
type SpreadType string

// Spread types.
const (
	SpreadPut  SpreadType = "put"
	SpreadCall SpreadType = "call"
)

// Config holds the strategy parameters.
type Config struct {
	Underlying     string
	Contracts      int
	PutSpreadName  string
	CallSpreadName string
}

// SpreadExecution is the outcome of opening one spread: both confirmed
// leg orders plus the ledger partition they were recorded under.
type SpreadExecution struct {
	StrategyName string
	Type         SpreadType
	Expiry       time.Time
	BuyStrike    float64
	SellStrike   float64
	BuyLeg       *broker.Order
	SellLeg      *broker.Order
	DateKey      string
}

// ExecutionResult reports everything EvaluateAndExecute did on one run.
type ExecutionResult struct {
	ReferencePrice float64
	CurrentPrice   float64
	Spreads        []SpreadExecution
}

// PartialLegError reports a spread whose buy leg filled but whose sell
// leg could not be submitted. The position is one-legged until an
// operator intervenes, so callers must be able to tell this apart from
// a spread that never opened at all.
type PartialLegError struct {
	Spread    string
	FilledLeg string
	FailedLeg string
	Err       error
}

// Error implements the error interface.
func (e *PartialLegError) Error() string {
	return fmt.Sprintf("spread %s partially filled: %s submitted but %s failed: %v",
		e.Spread, e.FilledLeg, e.FailedLeg, e.Err)
}

// Unwrap exposes the underlying submission error.
func (e *PartialLegError) Unwrap() error { return e.Err }

// Engine evaluates entry conditions and submits spread orders.
type Engine struct {
	broker broker.Broker
	prices *pricestore.Store
	orders *ledger.Ledger
	clock  *clock.Service
	logger *log.Logger
	cfg    Config
}

// NewEngine creates an Engine. A nil logger falls back to stderr.
func NewEngine(b broker.Broker, prices *pricestore.Store, orders *ledger.Ledger,
	clk *clock.Service, logger *log.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "strategy: ", log.LstdFlags)
	}
	if cfg.Contracts <= 0 {
		cfg.Contracts = 1
	}
	return &Engine{broker: b, prices: prices, orders: orders, clock: clk, logger: logger, cfg: cfg}
}

// EvaluateAndExecute loads yesterday's reference price, compares it to
// the live price and opens whichever spreads fire. A missing reference
// price or no condition firing returns (nil, nil): no trade is the
// normal case, not a failure of the run.
func (e *Engine) EvaluateAndExecute(ctx context.Context) (*ExecutionResult, error) {
	yesterdayKey := e.clock.DateKeyDaysAgo(1)
	ref, err := e.prices.Load(yesterdayKey)
	if err != nil {
		if errors.Is(err, pricestore.ErrNotFound) {
			e.logger.Printf("no reference price for %s, skipping entry", yesterdayKey)
			return nil, nil
		}
		return nil, fmt.Errorf("loading reference price: %w", err)
	}

	current, err := e.broker.GetLatestPrice(ctx, e.cfg.Underlying)
	if err != nil {
		return nil, fmt.Errorf("fetching %s price: %w", e.cfg.Underlying, err)
	}
	e.logger.Printf("%s reference=%.2f current=%.2f", e.cfg.Underlying, ref, current)

	dateKey, today, _ := e.clock.NowInReferenceZone()
	result := &ExecutionResult{ReferencePrice: ref, CurrentPrice: current}

	// Put spread: price gapped just above yesterday's close.
	if ref < current && current < 1.01*ref {
		exec, err := e.openSpread(ctx, spreadPlan{
			name:       e.cfg.PutSpreadName,
			typ:        SpreadPut,
			buyStrike:  math.Round(0.98 * ref),
			sellStrike: math.Round(0.99 * ref),
			expiry:     today,
			dateKey:    dateKey,
		})
		if err != nil {
			return result, err
		}
		result.Spreads = append(result.Spreads, *exec)
	}

	// Call spread: price dipped just below yesterday's close.
	if 0.99*ref < current && current < ref {
		exec, err := e.openSpread(ctx, spreadPlan{
			name:       e.cfg.CallSpreadName,
			typ:        SpreadCall,
			buyStrike:  math.Round(1.02 * ref),
			sellStrike: math.Round(1.01 * ref),
			expiry:     today,
			dateKey:    dateKey,
		})
		if err != nil {
			return result, err
		}
		result.Spreads = append(result.Spreads, *exec)
	}

	if len(result.Spreads) == 0 {
		e.logger.Printf("no entry condition met")
		return nil, nil
	}
	return result, nil
}

type spreadPlan struct {
	name       string
	typ        SpreadType
	buyStrike  float64
	sellStrike float64
	expiry     time.Time
	dateKey    string
}

// openSpread submits the buy leg then the sell leg. The legs are not
// atomic: a sell-leg failure after the buy leg filled yields a
// PartialLegError and still records the filled leg in the ledger.
func (e *Engine) openSpread(ctx context.Context, plan spreadPlan) (*SpreadExecution, error) {
	optType := broker.OptionTypePut
	if plan.typ == SpreadCall {
		optType = broker.OptionTypeCall
	}
	buySymbol := broker.FormatOptionSymbol(e.cfg.Underlying, plan.expiry, optType, plan.buyStrike)
	sellSymbol := broker.FormatOptionSymbol(e.cfg.Underlying, plan.expiry, optType, plan.sellStrike)

	e.logger.Printf("%s: opening %s spread buy=%s sell=%s", plan.name, plan.typ, buySymbol, sellSymbol)

	buyOrder, err := e.broker.SubmitMarketOrder(ctx, broker.OrderRequest{
		Symbol:        buySymbol,
		Qty:           e.cfg.Contracts,
		Side:          broker.SideBuy,
		TimeInForce:   broker.TIFDay,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: submitting buy leg %s: %w", plan.name, buySymbol, err)
	}

	sellOrder, sellErr := e.broker.SubmitMarketOrder(ctx, broker.OrderRequest{
		Symbol:        sellSymbol,
		Qty:           e.cfg.Contracts,
		Side:          broker.SideSell,
		TimeInForce:   broker.TIFDay,
		ClientOrderID: uuid.NewString(),
	})

	records := []ledger.Record{legRecord(plan.name, buyOrder, ledger.SideBuy, e.cfg.Contracts)}
	if sellErr == nil {
		records = append(records, legRecord(plan.name, sellOrder, ledger.SideSell, e.cfg.Contracts))
	}
	if err := e.orders.Append(plan.name, plan.dateKey, records); err != nil {
		// The orders are live at the brokerage either way; surface the
		// bookkeeping failure loudly but do not mask a leg failure.
		e.logger.Printf("%s: recording orders failed: %v", plan.name, err)
		if sellErr == nil {
			return nil, fmt.Errorf("%s: recording orders: %w", plan.name, err)
		}
	}

	if sellErr != nil {
		return nil, &PartialLegError{
			Spread:    plan.name,
			FilledLeg: buySymbol,
			FailedLeg: sellSymbol,
			Err:       sellErr,
		}
	}

	return &SpreadExecution{
		StrategyName: plan.name,
		Type:         plan.typ,
		Expiry:       plan.expiry,
		BuyStrike:    plan.buyStrike,
		SellStrike:   plan.sellStrike,
		BuyLeg:       buyOrder,
		SellLeg:      sellOrder,
		DateKey:      plan.dateKey,
	}, nil
}

func legRecord(strategyName string, order *broker.Order, side ledger.Side, qty int) ledger.Record {
	return ledger.Record{
		OrderID:       order.ID,
		ClientOrderID: order.ClientOrderID,
		StrategyName:  strategyName,
		Symbol:        order.Symbol,
		Side:          side,
		Qty:           qty,
		LimitPrice:    order.FilledAvgPrice,
		Status:        order.Status,
		Timestamp:     order.CreatedAt,
	}
}
