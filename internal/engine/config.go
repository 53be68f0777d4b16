package engine

import (
	"fmt"
	"strings"
	"time"

	"poly-spiketrader/internal/micros"
)

// WatchMode selects how the engine discovers instruments to track.
type WatchMode string

const (
	// WatchPairs tracks explicitly-listed token id pairs.
	WatchPairs WatchMode = "pairs"
	// WatchSlugs resolves market slugs to token pairs via the gamma API.
	WatchSlugs WatchMode = "slugs"
	// WatchPositions tracks the instruments of currently-held positions.
	WatchPositions WatchMode = "positions"
)

// StrategyName selects which detectors run.
type StrategyName string

const (
	StrategySpike       StrategyName = "spike"
	StrategyMeanRevert  StrategyName = "meanrev"
	StrategyPairArb     StrategyName = "pairarb"
	StrategyMarketMaker StrategyName = "mm"
)

// Config carries every tunable of the engine. All money and price values are
// integer micros; rates are basis points.
type Config struct {
	Simulation bool

	// Sizing and concurrency.
	TradeUnitMicros       uint64
	MaxConcurrentTrades   int
	SimStartBalanceMicros uint64
	KeepMinSharesMicros   uint64
	MinOrderMicros        uint64
	BuyOncePerMarket      bool // one entry per market (either side), ever

	// Spike detection. Thresholds are relative moves in micros of the
	// reference price (50_000 = 5%). The reference is the previous tick by
	// default; a lookback widens it to N samples or a time span back.
	SpikeUpMicros       uint64
	SpikeDownMicros     uint64
	SpikeLookbackPoints int           // 0 or 1: previous tick
	SpikeLookbackSpan   time.Duration // 0: off; else oldest point within the span
	VolCoefBps          uint64        // dynamic threshold: stddev(returns) * coef
	SpreadBufferMicros  uint64
	PriceLowerMicros   uint64
	PriceUpperMicros   uint64
	FreshnessMaxAge    time.Duration
	BuyCooldown        time.Duration
	SellCooldown       time.Duration
	HistorySize        int
	MinLiquidityMicros uint64
	SlippageTolMicros  uint64
	OrderSlippageBps   uint64

	// Exits.
	HoldingTimeLimit time.Duration
	TakeProfitCash   uint64 // micros of unrealized gain
	TakeProfitBps    uint64
	StopLossCash     uint64 // micros of unrealized loss (magnitude)
	StopLossBps      uint64

	// Pair-sum arbitrage.
	PairEntrySumMicros uint64

	// Mean reversion.
	MeanRevLookback int
	MeanRevEntryZ   float64
	MeanRevExitZ    float64

	// Market making (simulation quoting).
	MMSpreadBps       uint64
	MMMaxInventory    uint64 // micros of shares
	MMRefreshInterval time.Duration

	// Loop cadence and resilience.
	PollInterval     time.Duration
	QuoteTTL         time.Duration
	MaxRetries       int
	RetryBaseDelay   time.Duration
	MaxWorkerErrors  int
	RestartDelay     time.Duration
	WorkerCooldown   time.Duration // pause after the failure ceiling; also the healthy-run reset window
	CheckInterval    time.Duration
	StatusInterval   time.Duration
	ShutdownDrainMax time.Duration

	// Instrument discovery.
	WatchMode  WatchMode
	WatchPairs []string // "tokenA:tokenB" entries
	WatchSlugs []string

	// Enabled strategies.
	Strategies []StrategyName

	// Persistence.
	EventLogPath       string
	CheckpointPath     string
	CheckpointInterval time.Duration
}

// DefaultConfig returns the baseline tuning. Callers overlay env and flags on
// top of this before Validate.
func DefaultConfig() Config {
	return Config{
		Simulation:            true,
		TradeUnitMicros:       10 * micros.Scale,
		MaxConcurrentTrades:   3,
		SimStartBalanceMicros: 1000 * micros.Scale,
		KeepMinSharesMicros:   0,
		MinOrderMicros:        1 * micros.Scale,

		SpikeUpMicros:      50_000, // 5% relative move
		SpikeDownMicros:    50_000,
		VolCoefBps:         20_000, // 2.0 * stddev
		SpreadBufferMicros: 10_000, // 0.01
		PriceLowerMicros:   200_000,
		PriceUpperMicros:   800_000,
		FreshnessMaxAge:    30 * time.Second,
		BuyCooldown:        60 * time.Second,
		SellCooldown:       30 * time.Second,
		HistorySize:        30,
		MinLiquidityMicros: 5 * micros.Scale,
		SlippageTolMicros:  20_000, // 0.02
		OrderSlippageBps:   100,

		HoldingTimeLimit: 15 * time.Minute,
		TakeProfitCash:   2 * micros.Scale,
		TakeProfitBps:    1_000, // +10%
		StopLossCash:     5 * micros.Scale,
		StopLossBps:      1_000, // -10%

		PairEntrySumMicros: 995_000,

		MeanRevLookback: 60,
		MeanRevEntryZ:   1.5,
		MeanRevExitZ:    0.8,

		MMSpreadBps:       50,
		MMMaxInventory:    100 * micros.Scale,
		MMRefreshInterval: 15 * time.Second,

		PollInterval:     time.Second,
		QuoteTTL:         time.Second,
		MaxRetries:       3,
		RetryBaseDelay:   time.Second,
		MaxWorkerErrors:  5,
		RestartDelay:     2 * time.Second,
		WorkerCooldown:   30 * time.Second,
		CheckInterval:    5 * time.Second,
		StatusInterval:   30 * time.Second,
		ShutdownDrainMax: 10 * time.Second,

		WatchMode:  WatchPairs,
		Strategies: []StrategyName{StrategySpike},

		CheckpointInterval: time.Minute,
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.TradeUnitMicros == 0 {
		return fmt.Errorf("trade unit must be positive")
	}
	if c.MaxConcurrentTrades <= 0 {
		return fmt.Errorf("max concurrent trades must be positive, got %d", c.MaxConcurrentTrades)
	}
	if c.PriceLowerMicros >= c.PriceUpperMicros {
		return fmt.Errorf("price band inverted: lower %s >= upper %s",
			micros.Format(c.PriceLowerMicros), micros.Format(c.PriceUpperMicros))
	}
	if c.PriceUpperMicros >= micros.Scale {
		return fmt.Errorf("price upper bound %s must be below 1", micros.Format(c.PriceUpperMicros))
	}
	if c.SpikeUpMicros == 0 && c.SpikeDownMicros == 0 {
		return fmt.Errorf("at least one spike threshold must be positive")
	}
	if c.SpikeLookbackPoints < 0 {
		return fmt.Errorf("spike lookback points must not be negative, got %d", c.SpikeLookbackPoints)
	}
	if c.SpikeLookbackSpan < 0 {
		return fmt.Errorf("spike lookback span must not be negative, got %s", c.SpikeLookbackSpan)
	}
	if c.HistorySize < 2 {
		return fmt.Errorf("history size %d too small, need at least 2 points", c.HistorySize)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.PairEntrySumMicros == 0 || c.PairEntrySumMicros >= micros.Scale {
		return fmt.Errorf("pair entry sum %s out of range (0, 1)", micros.Format(c.PairEntrySumMicros))
	}
	if c.MeanRevLookback < 3 {
		return fmt.Errorf("mean reversion lookback %d too small, need at least 3", c.MeanRevLookback)
	}
	if c.MeanRevEntryZ <= c.MeanRevExitZ {
		return fmt.Errorf("mean reversion entry z %.2f must exceed exit z %.2f", c.MeanRevEntryZ, c.MeanRevExitZ)
	}
	if c.MMSpreadBps == 0 || c.MMSpreadBps >= 10_000 {
		return fmt.Errorf("market maker spread %d bps out of range", c.MMSpreadBps)
	}
	if len(c.Strategies) == 0 {
		return fmt.Errorf("no strategies enabled")
	}
	seen := map[StrategyName]bool{}
	for _, name := range c.Strategies {
		switch name {
		case StrategySpike, StrategyMeanRevert, StrategyPairArb, StrategyMarketMaker:
		default:
			return fmt.Errorf("unknown strategy %q", name)
		}
		if seen[name] {
			return fmt.Errorf("strategy %q listed twice", name)
		}
		seen[name] = true
	}
	switch c.WatchMode {
	case WatchPairs:
		if len(c.WatchPairs) == 0 {
			return fmt.Errorf("watch mode %q needs at least one token pair", c.WatchMode)
		}
		for _, p := range c.WatchPairs {
			a, b, ok := strings.Cut(p, ":")
			if !ok || strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
				return fmt.Errorf("invalid token pair %q, want tokenA:tokenB", p)
			}
		}
	case WatchSlugs:
		if len(c.WatchSlugs) == 0 {
			return fmt.Errorf("watch mode %q needs at least one market slug", c.WatchMode)
		}
	case WatchPositions:
	default:
		return fmt.Errorf("unknown watch mode %q", c.WatchMode)
	}
	return nil
}

// HasStrategy reports whether the named strategy is enabled.
func (c *Config) HasStrategy(name StrategyName) bool {
	for _, s := range c.Strategies {
		if s == name {
			return true
		}
	}
	return false
}

// ParseStrategies splits a comma list into strategy names. Empty entries are
// skipped; unknown names are caught by Validate.
func ParseStrategies(s string) []StrategyName {
	var out []StrategyName
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, StrategyName(strings.ToLower(part)))
	}
	return out
}

// ParsePairList splits a comma list of tokenA:tokenB entries.
func ParsePairList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
