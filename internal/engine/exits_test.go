package engine

import (
	"context"
	"strings"
	"testing"
	"time"
)

func exitFixture(t *testing.T) (*Config, *State, *ExitMonitor) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TakeProfitCash = 5_000_000 // $5
	cfg.TakeProfitBps = 100_000    // effectively off; cash triggers first in these tests
	cfg.StopLossCash = 5_000_000
	cfg.StopLossBps = 100_000
	st := NewState(cfg.HistorySize, cfg.MaxConcurrentTrades, true, 1_000_000_000)
	st.RegisterPair("yes", "no",
		AssetMeta{EventSlug: "game", Outcome: "Yes"},
		AssetMeta{EventSlug: "game", Outcome: "No"})
	exec := NewExecutor(&cfg, st, nil, nil)
	return &cfg, st, NewExitMonitor(&cfg, st, exec, nil)
}

func TestExitTakeProfitCash(t *testing.T) {
	_, st, mon := exitFixture(t)
	now := time.Now()
	// Entry 0.40, 100 shares, bid 0.50: cash profit $10 over a $5 threshold.
	trade := ActiveTrade{
		EntryPriceMicros: 400_000,
		EntryTime:        now.Add(-time.Minute),
		SharesMicros:     100_000_000,
		BotTriggered:     true,
	}
	cacheTwoSided(st, "yes", 500_000, 510_000)

	reason, ok := mon.evalTrade("yes", trade, now)
	if !ok || !strings.HasPrefix(reason, exitTakeProfit) {
		t.Fatalf("reason=%q ok=%v", reason, ok)
	}
}

func TestExitTakeProfitClosesTrade(t *testing.T) {
	_, st, mon := exitFixture(t)
	now := time.Now()
	st.UpsertSimPosition("yes", st.Meta("yes"), 400_000, 100_000_000, 400_000)
	if !st.TryReserveTradeSlot() {
		t.Fatalf("setup slot")
	}
	st.AddActiveTrade("yes", ActiveTrade{
		EntryPriceMicros: 400_000,
		EntryTime:        now.Add(-time.Minute),
		SharesMicros:     100_000_000,
		BotTriggered:     true,
	})
	cacheTwoSided(st, "yes", 500_000, 510_000)

	mon.checkAll(context.Background(), now)

	if _, ok := st.ActiveTrade("yes"); ok {
		t.Fatalf("trade must be removed after take profit")
	}
	if st.ReservedSlots() != 0 {
		t.Fatalf("slot must free on exit")
	}
	// 100 shares sold at 0.50.
	if got := st.SimBalanceMicros(); got != 1_050_000_000 {
		t.Fatalf("ledger=%d want 1050000000", got)
	}
}

func TestExitStopLossCash(t *testing.T) {
	_, st, mon := exitFixture(t)
	now := time.Now()
	trade := ActiveTrade{
		EntryPriceMicros: 400_000,
		EntryTime:        now.Add(-time.Minute),
		SharesMicros:     100_000_000,
		BotTriggered:     true,
	}
	// Bid 0.34: cash loss $6 past the $5 stop.
	cacheTwoSided(st, "yes", 340_000, 350_000)

	reason, ok := mon.evalTrade("yes", trade, now)
	if !ok || !strings.HasPrefix(reason, exitStopLoss) {
		t.Fatalf("reason=%q ok=%v", reason, ok)
	}
}

func TestExitHoldingTimeBeatsProfit(t *testing.T) {
	cfg, st, mon := exitFixture(t)
	now := time.Now()
	trade := ActiveTrade{
		EntryPriceMicros: 400_000,
		EntryTime:        now.Add(-2 * cfg.HoldingTimeLimit),
		SharesMicros:     100_000_000,
		BotTriggered:     true,
	}
	// Profitable AND expired: the time stop is evaluated first.
	cacheTwoSided(st, "yes", 500_000, 510_000)

	reason, ok := mon.evalTrade("yes", trade, now)
	if !ok || reason != exitHoldingTime {
		t.Fatalf("reason=%q ok=%v", reason, ok)
	}
}

func TestExitNoTriggerInsideBands(t *testing.T) {
	_, st, mon := exitFixture(t)
	now := time.Now()
	trade := ActiveTrade{
		EntryPriceMicros: 400_000,
		EntryTime:        now.Add(-time.Minute),
		SharesMicros:     100_000_000,
		BotTriggered:     true,
	}
	// +$2 of profit: inside both thresholds.
	cacheTwoSided(st, "yes", 420_000, 430_000)

	if reason, ok := mon.evalTrade("yes", trade, now); ok {
		t.Fatalf("unexpected exit %q", reason)
	}
}

func TestExitNoPriceNoTrigger(t *testing.T) {
	_, st, mon := exitFixture(t)
	now := time.Now()
	trade := ActiveTrade{
		EntryPriceMicros: 400_000,
		EntryTime:        now.Add(-time.Minute),
		SharesMicros:     100_000_000,
		BotTriggered:     true,
	}
	_ = st

	if reason, ok := mon.evalTrade("yes", trade, now); ok {
		t.Fatalf("no market data must not exit: %q", reason)
	}
}

func TestExitZeroThresholdsDisabled(t *testing.T) {
	cfg, st, mon := exitFixture(t)
	cfg.TakeProfitCash = 0
	cfg.TakeProfitBps = 0
	cfg.StopLossCash = 0
	cfg.StopLossBps = 0
	now := time.Now()

	// Well in profit: with both take-profit knobs off, nothing may fire.
	winner := ActiveTrade{
		EntryPriceMicros: 400_000,
		EntryTime:        now.Add(-time.Minute),
		SharesMicros:     100_000_000,
		BotTriggered:     true,
	}
	cacheTwoSided(st, "yes", 500_000, 510_000)
	if reason, ok := mon.evalTrade("yes", winner, now); ok {
		t.Fatalf("disabled take profit fired: %q", reason)
	}

	// Deep in loss: with both stop-loss knobs off, nothing may fire either.
	cacheTwoSided(st, "yes", 300_000, 310_000)
	if reason, ok := mon.evalTrade("yes", winner, now); ok {
		t.Fatalf("disabled stop loss fired: %q", reason)
	}

	// The time stop is independent of the PnL knobs.
	expired := winner
	expired.EntryTime = now.Add(-2 * cfg.HoldingTimeLimit)
	reason, ok := mon.evalTrade("yes", expired, now)
	if !ok || reason != exitHoldingTime {
		t.Fatalf("reason=%q ok=%v want holding-time exit", reason, ok)
	}
}

func TestExitMeanRevertBand(t *testing.T) {
	cfg, st, mon := exitFixture(t)
	cfg.Strategies = []StrategyName{StrategySpike, StrategyMeanRevert}
	now := time.Now()
	trade := ActiveTrade{
		EntryPriceMicros: 440_000,
		EntryTime:        now.Add(-time.Minute),
		SharesMicros:     10_000_000,
		BotTriggered:     true,
		Reason:           "mean revert z=-2.10",
	}
	// Ring back near its mean: |z| small, PnL inside cash/pct bands.
	fillRing(st, "yes", now, []uint64{450_000, 448_000, 452_000, 450_000, 451_000, 450_000})
	cacheTwoSided(st, "yes", 450_000, 452_000)

	reason, ok := mon.evalTrade("yes", trade, now)
	if !ok || !strings.HasPrefix(reason, exitMeanRevert) {
		t.Fatalf("reason=%q ok=%v", reason, ok)
	}
}
