package main

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfontaine/qqq-spread-bot/internal/broker"
	"github.com/dfontaine/qqq-spread-bot/internal/clock"
	"github.com/dfontaine/qqq-spread-bot/internal/ledger"
	"github.com/dfontaine/qqq-spread-bot/internal/pnl"
	"github.com/dfontaine/qqq-spread-bot/internal/pricestore"
	"github.com/dfontaine/qqq-spread-bot/internal/strategy"
)

type stubBroker struct {
	latestPrice  float64
	latestErr    error
	positions    []broker.Position
	positionsErr error
	failSymbols  map[string]bool
	closed       []string
}

func (s *stubBroker) GetLatestPrice(_ context.Context, _ string) (float64, error) {
	return s.latestPrice, s.latestErr
}

func (s *stubBroker) GetQuotes(_ context.Context, _ []string) (map[string]broker.Quote, error) {
	return nil, nil
}

func (s *stubBroker) GetPositions(_ context.Context) ([]broker.Position, error) {
	return s.positions, s.positionsErr
}

func (s *stubBroker) SubmitMarketOrder(_ context.Context, req broker.OrderRequest) (*broker.Order, error) {
	if s.failSymbols[req.Symbol] {
		return nil, errors.New("rejected")
	}
	return &broker.Order{ID: "ord-" + req.Symbol, Symbol: req.Symbol, Status: "filled"}, nil
}

func (s *stubBroker) ClosePosition(_ context.Context, symbol string) (*broker.Order, error) {
	s.closed = append(s.closed, symbol)
	return &broker.Order{ID: "close-" + symbol, Symbol: symbol, Status: "filled"}, nil
}

var _ broker.Broker = (*stubBroker)(nil)

func testClock(t *testing.T) *clock.Service {
	t.Helper()
	et := time.FixedZone("ET", -4*60*60)
	clk := clock.FixedClock{T: time.Date(2024, 3, 15, 16, 25, 0, 0, et)}
	return clock.NewServiceInZones(clk, et, time.UTC)
}

func discardLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestSnapshotJobSavesClosingPrice(t *testing.T) {
	brk := &stubBroker{latestPrice: 437.25}
	prices := pricestore.NewStore(t.TempDir())
	job := snapshotJob(brk, prices, testClock(t), "QQQ", discardLogger())

	require.NoError(t, job(context.Background()))

	price, err := prices.Load("15032024")
	require.NoError(t, err)
	assert.Equal(t, 437.25, price)
}

func TestSnapshotJobPropagatesPriceError(t *testing.T) {
	brk := &stubBroker{latestErr: errors.New("market data down")}
	prices := pricestore.NewStore(t.TempDir())
	job := snapshotJob(brk, prices, testClock(t), "QQQ", discardLogger())

	err := job(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closing price")
}

func TestEntryJobToleratesPartialLeg(t *testing.T) {
	// Buy leg fills, sell leg rejects: the job must log and carry on so
	// the monitor keeps watching the one-legged position.
	brk := &stubBroker{
		latestPrice: 100.5,
		failSymbols: map[string]bool{"QQQ240315P00099000": true},
	}
	prices := pricestore.NewStore(t.TempDir())
	require.NoError(t, prices.Save("14032024", 100))
	orders := ledger.NewLedger(t.TempDir(), discardLogger())

	engine := strategy.NewEngine(brk, prices, orders, testClock(t), discardLogger(), strategy.Config{
		Underlying:     "QQQ",
		Contracts:      1,
		PutSpreadName:  "qqq_put_spread",
		CallSpreadName: "qqq_call_spread",
	})

	job := entryJob(engine, discardLogger())
	assert.NoError(t, job(context.Background()))
}

func TestEntryJobPropagatesOtherErrors(t *testing.T) {
	brk := &stubBroker{
		latestPrice: 100.5,
		failSymbols: map[string]bool{"QQQ240315P00098000": true}, // buy leg fails
	}
	prices := pricestore.NewStore(t.TempDir())
	require.NoError(t, prices.Save("14032024", 100))
	orders := ledger.NewLedger(t.TempDir(), discardLogger())

	engine := strategy.NewEngine(brk, prices, orders, testClock(t), discardLogger(), strategy.Config{
		Underlying:     "QQQ",
		Contracts:      1,
		PutSpreadName:  "qqq_put_spread",
		CallSpreadName: "qqq_call_spread",
	})

	job := entryJob(engine, discardLogger())
	assert.Error(t, job(context.Background()))
}

func TestExitJobClosesAllOptionPositions(t *testing.T) {
	brk := &stubBroker{positions: []broker.Position{
		{Symbol: "QQQ240315P00098000", Qty: 1},
		{Symbol: "QQQ240315P00099000", Qty: -1},
		{Symbol: "QQQ", Qty: 100},
	}}
	orders := ledger.NewLedger(t.TempDir(), discardLogger())
	monitor := pnl.NewMonitor(brk, orders, testClock(t), discardLogger(), pnl.Config{Underlying: "QQQ"})

	job := exitJob(monitor, discardLogger())
	require.NoError(t, job(context.Background()))
	assert.ElementsMatch(t, []string{"QQQ240315P00098000", "QQQ240315P00099000"}, brk.closed)
}

func TestMonitorJobPropagatesErrors(t *testing.T) {
	brk := &stubBroker{positionsErr: errors.New("api down")}
	orders := ledger.NewLedger(t.TempDir(), discardLogger())
	monitor := pnl.NewMonitor(brk, orders, testClock(t), discardLogger(), pnl.Config{Underlying: "QQQ"})

	job := monitorJob(monitor, discardLogger())
	assert.Error(t, job(context.Background()))
}
