package engine

import (
	"fmt"
	"math"
	"time"

	"poly-spiketrader/internal/micros"
)

// MeanRevertStrategy fades extremes: it buys when the latest price sits far
// below its rolling mean and sells a held position when far above. The
// distance is measured as a z-score over the ring's trailing window.
type MeanRevertStrategy struct {
	cfg *Config
	st  *State
}

func NewMeanRevertStrategy(cfg *Config, st *State) *MeanRevertStrategy {
	return &MeanRevertStrategy{cfg: cfg, st: st}
}

func (s *MeanRevertStrategy) Name() StrategyName { return StrategyMeanRevert }

func (s *MeanRevertStrategy) Evaluate(now time.Time) []Signal {
	var out []Signal
	for _, tokenID := range s.st.PairedInstruments() {
		if sig, ok := s.evalOne(tokenID, now); ok {
			out = append(out, sig)
		}
	}
	return out
}

func (s *MeanRevertStrategy) evalOne(tokenID string, now time.Time) (Signal, bool) {
	hist := s.st.PriceHistory(tokenID)
	if len(hist) > s.cfg.MeanRevLookback {
		hist = hist[len(hist)-s.cfg.MeanRevLookback:]
	}
	// z-score needs a usable spread of points.
	if len(hist) < 3 {
		return Signal{}, false
	}
	last := hist[len(hist)-1]
	if last.PriceMicros == 0 || now.Sub(last.At) > s.cfg.FreshnessMaxAge {
		return Signal{}, false
	}

	z, ok := zScore(hist)
	if !ok {
		return Signal{}, false
	}

	switch {
	case z <= -s.cfg.MeanRevEntryZ:
		if !inBand(last.PriceMicros, s.cfg.PriceLowerMicros, s.cfg.PriceUpperMicros) {
			return Signal{}, false
		}
		if _, open := s.st.ActiveTrade(tokenID); open {
			return Signal{}, false
		}
		if s.st.RecentlyBought(tokenID, s.cfg.BuyCooldown, now) {
			return Signal{}, false
		}
		return Signal{
			Strategy:    StrategyMeanRevert,
			TokenID:     tokenID,
			Side:        Buy,
			PriceMicros: last.PriceMicros,
			Reason:      fmt.Sprintf("mean revert z=%.2f", z),
			At:          now,
		}, true

	case z >= s.cfg.MeanRevEntryZ:
		// Only unwinds a held position; no shorting.
		if _, held := s.st.PositionByToken(tokenID); !held {
			return Signal{}, false
		}
		if s.st.RecentlySold(tokenID, s.cfg.SellCooldown, now) {
			return Signal{}, false
		}
		return Signal{
			Strategy:    StrategyMeanRevert,
			TokenID:     tokenID,
			Side:        Sell,
			PriceMicros: last.PriceMicros,
			Reason:      fmt.Sprintf("mean revert z=%.2f", z),
			At:          now,
		}, true
	}
	return Signal{}, false
}

// zScore returns how many standard deviations the latest price sits from the
// window mean. A flat window (zero deviation) reports no score.
func zScore(points []PricePoint) (float64, bool) {
	if len(points) < 3 {
		return 0, false
	}
	var sum float64
	for _, p := range points {
		sum += micros.ToFloat(p.PriceMicros)
	}
	mean := sum / float64(len(points))
	var sq float64
	for _, p := range points {
		d := micros.ToFloat(p.PriceMicros) - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(points)))
	if std == 0 {
		return 0, false
	}
	last := micros.ToFloat(points[len(points)-1].PriceMicros)
	return (last - mean) / std, true
}
