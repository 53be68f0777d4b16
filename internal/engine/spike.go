package engine

import (
	"fmt"
	"time"

	"poly-spiketrader/internal/micros"
)

// SpikeStrategy buys momentum. An upward spike on an instrument buys that
// instrument; a downward spike buys its paired opposite, since in a
// binary-outcome pair one side's crash is the other side's rally.
//
// A spike is a relative move: (last - ref) / ref measured in micros, so a
// 0.25 -> 0.26 tick is a 4% move regardless of the absolute price level.
// The reference defaults to the previous tick and widens to a sample-count
// or time-span lookback when configured.
type SpikeStrategy struct {
	cfg *Config
	st  *State
}

func NewSpikeStrategy(cfg *Config, st *State) *SpikeStrategy {
	return &SpikeStrategy{cfg: cfg, st: st}
}

func (s *SpikeStrategy) Name() StrategyName { return StrategySpike }

func (s *SpikeStrategy) Evaluate(now time.Time) []Signal {
	var out []Signal
	for _, tokenID := range s.st.PairedInstruments() {
		if sig, ok := s.evalOne(tokenID, now); ok {
			out = append(out, sig)
		}
	}
	return out
}

// evalOne produces at most one signal per instrument per scan.
func (s *SpikeStrategy) evalOne(tokenID string, now time.Time) (Signal, bool) {
	hist := s.st.PriceHistory(tokenID)
	if len(hist) < 2 {
		return Signal{}, false
	}
	last := hist[len(hist)-1]
	ref := s.reference(hist, now)
	if last.PriceMicros == 0 || ref.PriceMicros == 0 {
		return Signal{}, false
	}
	if now.Sub(last.At) > s.cfg.FreshnessMaxAge {
		return Signal{}, false
	}

	quote, haveQuote := s.st.CachedQuote(tokenID, s.cfg.QuoteTTL)
	delta := relDeltaMicros(last.PriceMicros, ref.PriceMicros)

	var (
		target      string
		targetPrice uint64
		reason      string
	)
	switch {
	case delta > 0:
		up := dynamicThreshold(s.cfg.SpikeUpMicros, hist, ref.PriceMicros, quote, haveQuote, s.cfg.VolCoefBps, s.cfg.SpreadBufferMicros)
		if uint64(delta) < up {
			return Signal{}, false
		}
		target = tokenID
		targetPrice = last.PriceMicros
		reason = fmt.Sprintf("spike up +%d bps", delta/100)
	case delta < 0:
		down := dynamicThreshold(s.cfg.SpikeDownMicros, hist, ref.PriceMicros, quote, haveQuote, s.cfg.VolCoefBps, s.cfg.SpreadBufferMicros)
		if uint64(-delta) < down {
			return Signal{}, false
		}
		// Hedge: a crash here is a rally on the paired side.
		pair, ok := s.st.PairOf(tokenID)
		if !ok {
			return Signal{}, false
		}
		target = pair
		targetPrice = s.pairPrice(pair, last.PriceMicros, now)
		reason = fmt.Sprintf("spike down -%d bps hedge", -delta/100)
	default:
		return Signal{}, false
	}

	if targetPrice == 0 || !inBand(targetPrice, s.cfg.PriceLowerMicros, s.cfg.PriceUpperMicros) {
		return Signal{}, false
	}
	if _, open := s.st.ActiveTrade(target); open {
		return Signal{}, false
	}
	if s.st.RecentlyBought(target, s.cfg.BuyCooldown, now) {
		return Signal{}, false
	}

	s.st.SetLastSpike(tokenID, last.PriceMicros)
	return Signal{
		Strategy:    StrategySpike,
		TokenID:     target,
		Side:        Buy,
		PriceMicros: targetPrice,
		Reason:      reason,
		At:          now,
	}, true
}

// reference picks the comparison point for the move. A time-span lookback
// takes the oldest point still inside the span; a sample lookback steps a
// fixed number of ticks back, clamped to the ring start. Both fall back to
// the previous tick.
func (s *SpikeStrategy) reference(hist []PricePoint, now time.Time) PricePoint {
	if span := s.cfg.SpikeLookbackSpan; span > 0 {
		cutoff := now.Add(-span)
		for i := 0; i < len(hist)-1; i++ {
			if !hist[i].At.Before(cutoff) {
				return hist[i]
			}
		}
		return hist[len(hist)-2]
	}
	if n := s.cfg.SpikeLookbackPoints; n > 1 {
		i := len(hist) - 1 - n
		if i < 0 {
			i = 0
		}
		return hist[i]
	}
	return hist[len(hist)-2]
}

// pairPrice is the paired instrument's latest fresh price, falling back to
// the binary complement of the spiking side when the pair's ring is empty.
func (s *SpikeStrategy) pairPrice(pairID string, sourcePrice uint64, now time.Time) uint64 {
	hist := s.st.PriceHistory(pairID)
	if len(hist) > 0 {
		last := hist[len(hist)-1]
		if last.PriceMicros > 0 && now.Sub(last.At) <= s.cfg.FreshnessMaxAge {
			return last.PriceMicros
		}
	}
	if sourcePrice >= micros.Scale {
		return 0
	}
	return micros.Scale - sourcePrice
}
