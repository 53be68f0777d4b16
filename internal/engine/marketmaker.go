package engine

import (
	"context"
	"log"
	"time"

	"poly-spiketrader/internal/jsonl"
	"poly-spiketrader/internal/micros"
)

// MarketMaker computes and logs passive two-sided quotes around the mid for
// every tracked instrument. Quotes are simulation-only: they are recorded to
// the event log for later analysis, never posted to the venue.
type MarketMaker struct {
	cfg    *Config
	st     *State
	events *jsonl.Writer
	status *statusTracker
}

func NewMarketMaker(cfg *Config, st *State, events *jsonl.Writer) *MarketMaker {
	return &MarketMaker{
		cfg:    cfg,
		st:     st,
		events: events,
		status: newStatusTracker("[mm]", cfg.StatusInterval),
	}
}

// Run refreshes quotes on a fixed cadence until shutdown.
func (m *MarketMaker) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.MMRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.st.Done():
			return nil
		case <-ticker.C:
		}
		m.refreshAll()
	}
}

func (m *MarketMaker) refreshAll() {
	for _, tokenID := range m.st.PairedInstruments() {
		m.refreshOne(tokenID)
	}
}

func (m *MarketMaker) refreshOne(tokenID string) {
	q, ok := m.st.CachedQuote(tokenID, m.cfg.QuoteTTL)
	if !ok || !q.HasBid || !q.HasAsk {
		m.status.Set(safePrefix(tokenID), "no two-sided quote")
		return
	}

	if pos, held := m.st.PositionByToken(tokenID); held && pos.SharesMicros > m.cfg.MMMaxInventory {
		m.status.Set(safePrefix(tokenID), "inventory cap reached")
		return
	}

	mid := (q.BidMicros + q.AskMicros) / 2
	// Half-spread in absolute price units: bps of par, not of mid.
	half := micros.MulDiv(micros.Scale, m.cfg.MMSpreadBps, 10_000) / 2

	ourBid := mid - min64(half, mid)
	if ourBid > q.BidMicros {
		ourBid = q.BidMicros
	}
	if ourBid < 1_000 {
		ourBid = 1_000
	}

	ourAsk := mid + half
	if ourAsk < q.AskMicros {
		ourAsk = q.AskMicros
	}
	if ourAsk > 999_000 {
		ourAsk = 999_000
	}
	if ourBid >= ourAsk {
		m.status.Set(safePrefix(tokenID), "book too tight to quote")
		return
	}

	meta := m.st.Meta(tokenID)
	log.Printf("[mm] %s quote bid=%s ask=%s mid=%s",
		safePrefix(tokenID), micros.Format(ourBid), micros.Format(ourAsk), micros.Format(mid))
	logTradeEvent(m.events, tradeLogEvent{
		Event:       "mm_quote",
		Mode:        modeLabel(m.st.SimulationMode()),
		Strategy:    string(StrategyMarketMaker),
		EventSlug:   meta.EventSlug,
		Outcome:     meta.Outcome,
		TokenID:     tokenID,
		PriceMicros: mid,
		SpendMicros: ourBid,
		CostMicros:  ourAsk,
	})
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
