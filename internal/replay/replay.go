// Package replay re-runs recorded price ticks through the detection and
// execution pipeline in simulation mode, so strategy tunings can be compared
// offline against the same tape.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"poly-spiketrader/internal/engine"
	"poly-spiketrader/internal/jsonl"
)

// tick is the subset of the event-log schema the replayer consumes.
type tick struct {
	TsMs        int64  `json:"ts_ms"`
	Event       string `json:"event"`
	TokenID     string `json:"token_id"`
	EventSlug   string `json:"event_slug"`
	Outcome     string `json:"outcome"`
	PriceMicros uint64 `json:"price_micros"`
}

// Result summarizes one replay run.
type Result struct {
	Ticks              int
	Signals            int
	TradesOpened       int
	TradesClosed       int
	FinalBalanceMicros uint64
	OpenTrades         int
}

// Run replays the price ticks of a recorded event log against the given
// configuration. Pairs must already be listed in cfg; ticks for unknown
// instruments are counted but ignored by the strategies.
func Run(path string, cfg engine.Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	// Replays are always simulated and never sleep on retry.
	cfg.Simulation = true
	cfg.MaxRetries = 1
	// Recorded ticks carry their own clock; never reject them as stale.
	cfg.FreshnessMaxAge = 365 * 24 * time.Hour

	st := engine.NewState(cfg.HistorySize, cfg.MaxConcurrentTrades, true, cfg.SimStartBalanceMicros)
	wl := engine.NewWatchlist(&cfg, st, nil, nil, "")
	if err := wl.Resolve(context.Background()); err != nil {
		return Result{}, err
	}

	exec := engine.NewExecutor(&cfg, st, nil, nil)
	exits := engine.NewExitMonitor(&cfg, st, exec, nil)

	var strategies []engine.Strategy
	for _, name := range cfg.Strategies {
		switch name {
		case engine.StrategySpike:
			strategies = append(strategies, engine.NewSpikeStrategy(&cfg, st))
		case engine.StrategyMeanRevert:
			strategies = append(strategies, engine.NewMeanRevertStrategy(&cfg, st))
		case engine.StrategyPairArb:
			strategies = append(strategies, engine.NewPairArbStrategy(&cfg, st))
		case engine.StrategyMarketMaker:
			// Quoting has no effect on a tape; skipped in replay.
		}
	}
	if len(strategies) == 0 {
		return Result{}, fmt.Errorf("no replayable strategies in %v", cfg.Strategies)
	}

	var res Result
	ctx := context.Background()
	err := jsonl.ForEach(path, func(line []byte) error {
		var t tick
		if err := json.Unmarshal(line, &t); err != nil {
			return err
		}
		if t.Event != "price" || t.TokenID == "" || t.PriceMicros == 0 {
			return nil
		}
		res.Ticks++
		at := time.UnixMilli(t.TsMs)

		st.AddPrice(t.TokenID, at, t.PriceMicros, t.EventSlug, t.Outcome)
		st.CacheQuotes(map[string]engine.Quote{t.TokenID: syntheticQuote(t.TokenID, t.PriceMicros)})

		opened := len(st.ActiveTrades())
		for _, strat := range strategies {
			for _, sig := range strat.Evaluate(at) {
				res.Signals++
				applySignal(ctx, exec, sig)
			}
		}
		exits.CheckNow(ctx, at)

		after := len(st.ActiveTrades())
		if after > opened {
			res.TradesOpened += after - opened
		} else if after < opened {
			res.TradesClosed += opened - after
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	res.FinalBalanceMicros = st.SimBalanceMicros()
	res.OpenTrades = len(st.ActiveTrades())
	return res, nil
}

func applySignal(ctx context.Context, exec *engine.Executor, sig engine.Signal) {
	switch {
	case sig.Side == engine.Buy && sig.PairTokenID != "":
		exec.PlaceDualBuy(ctx, sig)
	case sig.Side == engine.Buy:
		exec.PlaceBuy(ctx, sig)
	case sig.PairTokenID != "":
		exec.PlaceSell(ctx, sig.TokenID, 0, sig.Reason)
		exec.PlaceSell(ctx, sig.PairTokenID, 0, sig.Reason)
	default:
		exec.PlaceSell(ctx, sig.TokenID, 0, sig.Reason)
	}
}

// syntheticQuote fabricates a deep two-sided book one tick around the
// recorded price. Tapes carry mids, not depth, so replays are optimistic
// about liquidity.
func syntheticQuote(tokenID string, priceMicros uint64) engine.Quote {
	const tick = 10_000 // 0.01
	q := engine.Quote{
		TokenID:       tokenID,
		AskMicros:     priceMicros + tick,
		AskSizeMicros: 1_000_000_000,
		HasAsk:        true,
		FetchedAt:     time.Now(),
	}
	if priceMicros > tick {
		q.BidMicros = priceMicros - tick
		q.BidSizeMicros = 1_000_000_000
		q.HasBid = true
		q.MaxBidMicros = q.BidMicros
	}
	q.MinAskMicros = q.AskMicros
	return q
}
