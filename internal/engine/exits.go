package engine

import (
	"context"
	"fmt"
	"time"

	"poly-spiketrader/internal/jsonl"
	"poly-spiketrader/internal/micros"
)

// Exit reasons, in evaluation order. The first matching rule wins; a trade
// both past its holding limit and in profit exits as a time stop.
const (
	exitHoldingTime = "Holding time limit"
	exitTakeProfit  = "Take profit"
	exitStopLoss    = "Stop loss"
	exitMeanRevert  = "Mean reverted"
)

// ExitMonitor walks open bot trades on a fixed cadence and hands matured
// ones to the executor for unwinding.
type ExitMonitor struct {
	cfg    *Config
	st     *State
	exec   *Executor
	events *jsonl.Writer
	status *statusTracker
}

func NewExitMonitor(cfg *Config, st *State, exec *Executor, events *jsonl.Writer) *ExitMonitor {
	return &ExitMonitor{
		cfg:    cfg,
		st:     st,
		exec:   exec,
		events: events,
		status: newStatusTracker("[exit]", cfg.StatusInterval),
	}
}

func (m *ExitMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.st.Done():
			return nil
		case <-ticker.C:
		}
		m.checkAll(ctx, time.Now())
	}
}

// CheckNow runs one exit sweep at the given time. The replay tool drives
// exits through this instead of the wall-clock loop.
func (m *ExitMonitor) CheckNow(ctx context.Context, now time.Time) {
	m.checkAll(ctx, now)
}

func (m *ExitMonitor) checkAll(ctx context.Context, now time.Time) {
	for tokenID, trade := range m.st.ActiveTrades() {
		if !trade.BotTriggered {
			continue
		}
		reason, ok := m.evalTrade(tokenID, trade, now)
		if !ok {
			continue
		}
		meta := m.st.Meta(tokenID)
		logTradeEvent(m.events, tradeLogEvent{
			Event:       "exit",
			Mode:        modeLabel(m.st.SimulationMode()),
			EventSlug:   meta.EventSlug,
			Outcome:     meta.Outcome,
			TokenID:     tokenID,
			PriceMicros: trade.EntryPriceMicros,
			Reason:      reason,
		})
		m.exec.PlaceSell(ctx, tokenID, 0, reason)
	}
}

// evalTrade applies the exit rules in order and returns the first match.
func (m *ExitMonitor) evalTrade(tokenID string, trade ActiveTrade, now time.Time) (string, bool) {
	if m.cfg.HoldingTimeLimit > 0 && now.Sub(trade.EntryTime) > m.cfg.HoldingTimeLimit {
		return exitHoldingTime, true
	}

	current, ok := m.currentPrice(tokenID)
	if !ok {
		m.status.Set(safePrefix(tokenID), "no price for exit check")
		return "", false
	}

	cash := int64(micros.CostForShares(trade.SharesMicros, current)) -
		int64(micros.CostForShares(trade.SharesMicros, trade.EntryPriceMicros))
	var bps int64
	if trade.EntryPriceMicros > 0 {
		bps = (int64(current) - int64(trade.EntryPriceMicros)) * 10_000 / int64(trade.EntryPriceMicros)
	}

	// A zero threshold disables that leg; otherwise every breakeven trade
	// would exit on its first check.
	tpCash := m.cfg.TakeProfitCash > 0 && cash >= int64(m.cfg.TakeProfitCash)
	tpBps := m.cfg.TakeProfitBps > 0 && bps >= int64(m.cfg.TakeProfitBps)
	if tpCash || tpBps {
		return fmt.Sprintf("%s: %s (%d bps)", exitTakeProfit, micros.FormatSigned(cash), bps), true
	}
	slCash := m.cfg.StopLossCash > 0 && cash <= -int64(m.cfg.StopLossCash)
	slBps := m.cfg.StopLossBps > 0 && bps <= -int64(m.cfg.StopLossBps)
	if slCash || slBps {
		return fmt.Sprintf("%s: %s (%d bps)", exitStopLoss, micros.FormatSigned(cash), bps), true
	}

	// Mean-reversion entries also unwind once price returns to its mean.
	if m.cfg.HasStrategy(StrategyMeanRevert) && isMeanRevertEntry(trade) {
		hist := m.st.PriceHistory(tokenID)
		if len(hist) > m.cfg.MeanRevLookback {
			hist = hist[len(hist)-m.cfg.MeanRevLookback:]
		}
		if z, ok := zScore(hist); ok && z > -m.cfg.MeanRevExitZ && z < m.cfg.MeanRevExitZ {
			return fmt.Sprintf("%s: z=%.2f", exitMeanRevert, z), true
		}
	}
	return "", false
}

// currentPrice marks exits against the bid when available: that is the price
// the unwind would actually trade at.
func (m *ExitMonitor) currentPrice(tokenID string) (uint64, bool) {
	if q, ok := m.st.CachedQuote(tokenID, m.cfg.QuoteTTL); ok {
		if q.HasBid && q.BidMicros > 0 {
			return q.BidMicros, true
		}
		if mid, ok := q.Mid(); ok {
			return mid, true
		}
	}
	hist := m.st.PriceHistory(tokenID)
	if len(hist) == 0 {
		return 0, false
	}
	last := hist[len(hist)-1]
	if last.PriceMicros == 0 {
		return 0, false
	}
	return last.PriceMicros, true
}

func isMeanRevertEntry(trade ActiveTrade) bool {
	return len(trade.Reason) >= 11 && trade.Reason[:11] == "mean revert"
}
