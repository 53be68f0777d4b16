package engine

import (
	"context"
	"log"
	"math"
	"strconv"
	"time"

	"poly-spiketrader/internal/micros"
)

// Signal is a trade intent emitted by a strategy. Exactly one instrument is
// targeted per signal; pair entries carry the second leg in PairTokenID and
// are executed atomically by the executor.
type Signal struct {
	Strategy    StrategyName
	TokenID     string
	PairTokenID string
	Side        Side
	PriceMicros uint64
	Reason      string
	At          time.Time
}

// Strategy inspects shared state and produces signals. Evaluate must not
// block on network calls; strategies read the quote cache and price history
// only. Implementations are called from a single detector goroutine.
type Strategy interface {
	Name() StrategyName
	Evaluate(now time.Time) []Signal
}

// Detector wakes on price updates, runs every enabled strategy over the
// tracked instruments and forwards signals to the executor.
type Detector struct {
	cfg        *Config
	st         *State
	strategies []Strategy
	signals    chan<- Signal
	status     *statusTracker
}

func NewDetector(cfg *Config, st *State, strategies []Strategy, signals chan<- Signal) *Detector {
	return &Detector{
		cfg:        cfg,
		st:         st,
		strategies: strategies,
		signals:    signals,
		status:     newStatusTracker("[scan]", cfg.StatusInterval),
	}
}

// Run blocks until ctx is cancelled or shutdown begins. Each wake drains the
// level-triggered update signal, scans once, and goes back to sleep; a poll
// timer bounds the wait so stale freshness is still noticed without updates.
func (d *Detector) Run(ctx context.Context) error {
	timer := time.NewTimer(d.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.st.Done():
			return nil
		case <-d.st.UpdateSignal():
		case <-timer.C:
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d.cfg.PollInterval)

		d.scanOnce(ctx, time.Now())
	}
}

func (d *Detector) scanOnce(ctx context.Context, now time.Time) {
	n := d.st.IncScanCount()
	for _, strat := range d.strategies {
		for _, sig := range strat.Evaluate(now) {
			if sig.At.IsZero() {
				sig.At = now
			}
			select {
			case d.signals <- sig:
				log.Printf("[info] signal %s %s %s @ %s (%s)",
					sig.Strategy, sig.Side, safePrefix(sig.TokenID), micros.Format(sig.PriceMicros), sig.Reason)
			case <-ctx.Done():
				return
			case <-d.st.Done():
				return
			}
		}
	}
	if n%60 == 0 {
		d.status.Set("scans", strconv.FormatUint(n, 10))
	}
}

// relDeltaMicros is the signed relative move from ref to last, in micros of
// the reference (50_000 = +5%). Prices are bounded by micros.Scale so the
// intermediate product fits int64 with room to spare.
func relDeltaMicros(last, ref uint64) int64 {
	if ref == 0 {
		return 0
	}
	return (int64(last) - int64(ref)) * int64(micros.Scale) / int64(ref)
}

// stddevReturnsMicros is the population standard deviation of the ring's
// step returns, in micros (relative, same unit as the spike thresholds).
// Used only for the volatility leg of the dynamic threshold; trade
// accounting never touches floats.
func stddevReturnsMicros(points []PricePoint) uint64 {
	if len(points) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		prev := points[i-1].PriceMicros
		if prev == 0 || points[i].PriceMicros == 0 {
			continue
		}
		returns = append(returns, micros.ToFloat(points[i].PriceMicros)/micros.ToFloat(prev)-1)
	}
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))
	var sq float64
	for _, r := range returns {
		d := r - mean
		sq += d * d
	}
	return micros.FromFloat(math.Sqrt(sq / float64(len(returns))))
}

// dynamicThreshold returns the spike trigger for one instrument as a
// relative move: the largest of the static threshold, scaled return
// volatility, and the quoted spread (plus a safety buffer) expressed as a
// fraction of the reference price. A wide spread or a volatile ring raises
// the bar so routine noise does not read as a spike.
func dynamicThreshold(staticMicros uint64, points []PricePoint, refPrice uint64, q Quote, haveQuote bool, volCoefBps, spreadBufferMicros uint64) uint64 {
	threshold := staticMicros
	if vol := micros.MulDiv(stddevReturnsMicros(points), volCoefBps, 10_000); vol > threshold {
		threshold = vol
	}
	if haveQuote && refPrice > 0 && q.HasBid && q.HasAsk && q.AskMicros > q.BidMicros {
		spread := micros.MulDiv(q.AskMicros-q.BidMicros+spreadBufferMicros, micros.Scale, refPrice)
		if spread > threshold {
			threshold = spread
		}
	}
	return threshold
}

// inBand reports whether a price sits inside the tradable band. Prices near
// 0 or 1 are resolution noise, not tradable moves.
func inBand(priceMicros, lower, upper uint64) bool {
	return priceMicros >= lower && priceMicros <= upper
}

// safePrefix shortens long token ids for log lines.
func safePrefix(s string) string {
	if len(s) <= 10 {
		return s
	}
	return s[:10] + "…"
}
