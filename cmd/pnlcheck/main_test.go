package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dfontaine/qqq-spread-bot/internal/pnl"
)

func TestPrintVerdictBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	printVerdict(&buf, &pnl.Verdict{
		Status: pnl.StatusBelowThreshold,
		Snapshot: &pnl.Snapshot{
			Positions: map[string]pnl.PositionPnL{
				"QQQ240315P00098000": {
					Symbol: "QQQ240315P00098000", Qty: 2,
					EntryPrice: 3.0, CurrentPrice: 2.5, PnL: -100, PnLPct: -16.7,
					Premium: 300,
				},
			},
			TotalPnL: -100,
			Premium:  &pnl.PremiumSummary{Paid: 600, Received: 100, Net: 500, StopLoss: -1000},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "status: below_threshold")
	assert.Contains(t, out, "total P&L: -100.00")
	assert.Contains(t, out, "stop-loss level: -1000.00")
	assert.Contains(t, out, "QQQ240315P00098000")
	assert.Contains(t, out, "300.00")
}

func TestPrintVerdictTriggeredListsFailures(t *testing.T) {
	var buf bytes.Buffer
	printVerdict(&buf, &pnl.Verdict{
		Status:   pnl.StatusStopLossTriggered,
		Snapshot: &pnl.Snapshot{TotalPnL: -1200, Premium: &pnl.PremiumSummary{Net: 500, StopLoss: -1000}},
		Closed:   []string{"QQQ240315P00098000"},
		Failed:   []pnl.CloseFailure{{Symbol: "QQQ240315P00099000", Reason: "position locked"}},
	})

	out := buf.String()
	assert.Contains(t, out, "closed positions: 1")
	assert.Contains(t, out, "failed to close QQQ240315P00099000: position locked")
}

func TestPrintVerdictNoContext(t *testing.T) {
	var buf bytes.Buffer
	printVerdict(&buf, &pnl.Verdict{
		Status:   pnl.StatusNoContext,
		Snapshot: &pnl.Snapshot{TotalPnL: -50, Unpriced: []string{"QQQ240315C00101000"}},
	})

	out := buf.String()
	assert.Contains(t, out, "stop-loss level: n/a")
	assert.NotContains(t, out, "closed positions")
}
