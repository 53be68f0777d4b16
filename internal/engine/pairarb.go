package engine

import (
	"time"

	"poly-spiketrader/internal/micros"
)

// PairArbStrategy trades the complement-sum bound of a binary pair. When the
// two asks sum below par minus an edge, buying both legs locks in the gap;
// the position unwinds once the bid sum exceeds the combined entry cost.
type PairArbStrategy struct {
	cfg *Config
	st  *State
}

func NewPairArbStrategy(cfg *Config, st *State) *PairArbStrategy {
	return &PairArbStrategy{cfg: cfg, st: st}
}

func (s *PairArbStrategy) Name() StrategyName { return StrategyPairArb }

func (s *PairArbStrategy) Evaluate(now time.Time) []Signal {
	var out []Signal
	seen := make(map[string]struct{})
	for _, tokenA := range s.st.PairedInstruments() {
		tokenB, ok := s.st.PairOf(tokenA)
		if !ok {
			continue
		}
		// Each pair appears under both legs; evaluate once.
		key := tokenA + "|" + tokenB
		if tokenB < tokenA {
			key = tokenB + "|" + tokenA
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if sig, ok := s.evalPair(tokenA, tokenB, now); ok {
			out = append(out, sig)
		}
	}
	return out
}

func (s *PairArbStrategy) evalPair(tokenA, tokenB string, now time.Time) (Signal, bool) {
	qa, okA := s.st.CachedQuote(tokenA, s.cfg.QuoteTTL)
	qb, okB := s.st.CachedQuote(tokenB, s.cfg.QuoteTTL)
	if !okA || !okB {
		return Signal{}, false
	}

	ta, openA := s.st.ActiveTrade(tokenA)
	tb, openB := s.st.ActiveTrade(tokenB)

	if openA && openB {
		return s.evalExit(tokenA, tokenB, ta, tb, qa, qb, now)
	}
	if openA || openB {
		// Half a pair is someone else's trade; leave it alone.
		return Signal{}, false
	}
	return s.evalEntry(tokenA, tokenB, qa, qb, now)
}

func (s *PairArbStrategy) evalEntry(tokenA, tokenB string, qa, qb Quote, now time.Time) (Signal, bool) {
	if !qa.HasAsk || !qb.HasAsk || qa.AskMicros == 0 || qb.AskMicros == 0 {
		return Signal{}, false
	}
	askSum := qa.AskMicros + qb.AskMicros
	if askSum >= s.cfg.PairEntrySumMicros {
		return Signal{}, false
	}
	// Both legs must fit: no point locking the gap with one side refused.
	if s.st.ReservedSlots()+2 > s.cfg.MaxConcurrentTrades {
		return Signal{}, false
	}
	if s.st.RecentlyBought(tokenA, s.cfg.BuyCooldown, now) || s.st.RecentlyBought(tokenB, s.cfg.BuyCooldown, now) {
		return Signal{}, false
	}
	return Signal{
		Strategy:    StrategyPairArb,
		TokenID:     tokenA,
		PairTokenID: tokenB,
		Side:        Buy,
		PriceMicros: qa.AskMicros,
		Reason:      "pair ask sum " + micros.Format(askSum),
		At:          now,
	}, true
}

func (s *PairArbStrategy) evalExit(tokenA, tokenB string, ta, tb ActiveTrade, qa, qb Quote, now time.Time) (Signal, bool) {
	if !qa.HasBid || !qb.HasBid {
		return Signal{}, false
	}
	bidSum := qa.BidMicros + qb.BidMicros
	entrySum := ta.EntryPriceMicros + tb.EntryPriceMicros
	if bidSum <= entrySum {
		return Signal{}, false
	}
	if s.st.RecentlySold(tokenA, s.cfg.SellCooldown, now) || s.st.RecentlySold(tokenB, s.cfg.SellCooldown, now) {
		return Signal{}, false
	}
	return Signal{
		Strategy:    StrategyPairArb,
		TokenID:     tokenA,
		PairTokenID: tokenB,
		Side:        Sell,
		PriceMicros: qa.BidMicros,
		Reason:      "pair bid sum " + micros.Format(bidSum) + " > entry " + micros.Format(entrySum),
		At:          now,
	}, true
}
