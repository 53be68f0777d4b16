package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"poly-spiketrader/internal/engine"
	"poly-spiketrader/internal/micros"
	"poly-spiketrader/internal/replay"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg := engine.DefaultConfig()

	var tapeFlag, pairsFlag, strategiesFlag string
	var spikeUpFlag, spikeDownFlag, tradeUnitFlag, simBalanceFlag string

	flag.StringVar(&tapeFlag, "tape", "", "Recorded event log to replay (JSONL)")
	flag.StringVar(&pairsFlag, "pairs", "", "Token pairs tokenA:tokenB (comma-separated)")
	flag.StringVar(&strategiesFlag, "strategies", "", "Strategies: spike,meanrev,pairarb")
	flag.StringVar(&tradeUnitFlag, "trade-unit", "", "Spend per entry, in USDC")
	flag.StringVar(&simBalanceFlag, "sim-balance", "", "Starting paper balance in USDC")
	flag.StringVar(&spikeUpFlag, "spike-up", "", "Upward move threshold, fraction of the reference price")
	flag.StringVar(&spikeDownFlag, "spike-down", "", "Downward move threshold, fraction of the reference price")
	flag.IntVar(&cfg.SpikeLookbackPoints, "spike-lookback", cfg.SpikeLookbackPoints, "Reference N samples back (0 or 1 = previous tick)")
	flag.DurationVar(&cfg.SpikeLookbackSpan, "spike-lookback-span", cfg.SpikeLookbackSpan, "Reference at the start of this window (0 = off)")
	flag.Uint64Var(&cfg.VolCoefBps, "vol-coef-bps", cfg.VolCoefBps, "Dynamic threshold: stddev multiplier in bps")
	flag.IntVar(&cfg.MaxConcurrentTrades, "max-trades", cfg.MaxConcurrentTrades, "Max concurrent open trades")
	flag.IntVar(&cfg.HistorySize, "history", cfg.HistorySize, "Price ring size per instrument")
	flag.DurationVar(&cfg.HoldingTimeLimit, "holding-limit", cfg.HoldingTimeLimit, "Max holding time before forced exit")
	flag.Parse()

	tape := strings.TrimSpace(tapeFlag)
	if tape == "" {
		log.Fatalf("[fatal] --tape required")
	}
	if pairsFlag != "" {
		cfg.WatchMode = engine.WatchPairs
		cfg.WatchPairs = engine.ParsePairList(pairsFlag)
	}
	if strategiesFlag != "" {
		cfg.Strategies = engine.ParseStrategies(strategiesFlag)
	}
	for _, p := range []struct {
		name string
		raw  string
		dst  *uint64
	}{
		{"trade-unit", tradeUnitFlag, &cfg.TradeUnitMicros},
		{"sim-balance", simBalanceFlag, &cfg.SimStartBalanceMicros},
		{"spike-up", spikeUpFlag, &cfg.SpikeUpMicros},
		{"spike-down", spikeDownFlag, &cfg.SpikeDownMicros},
	} {
		raw := strings.TrimSpace(p.raw)
		if raw == "" {
			continue
		}
		v, err := micros.Parse(raw)
		if err != nil {
			log.Fatalf("[fatal] invalid --%s %q: %v", p.name, raw, err)
		}
		*p.dst = v
	}

	res, err := replay.Run(tape, cfg)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	start := cfg.SimStartBalanceMicros
	pnl := int64(res.FinalBalanceMicros) - int64(start)
	fmt.Printf("Tape:    %s\n", tape)
	fmt.Printf("Ticks:   %d\n", res.Ticks)
	fmt.Printf("Signals: %d\n", res.Signals)
	fmt.Printf("Trades:  %d opened, %d closed, %d still open\n", res.TradesOpened, res.TradesClosed, res.OpenTrades)
	fmt.Printf("Balance: %s -> %s (%s)\n", micros.Format(start), micros.Format(res.FinalBalanceMicros), micros.FormatSigned(pnl))
	if res.OpenTrades > 0 {
		fmt.Printf("Note:    open trades are valued at cost; realized PnL only\n")
	}
}
