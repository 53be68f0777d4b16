package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"poly-spiketrader/internal/checkpoint"
	"poly-spiketrader/internal/clob"
	"poly-spiketrader/internal/dataapi"
	"poly-spiketrader/internal/dotenv"
	"poly-spiketrader/internal/engine"
	"poly-spiketrader/internal/gamma"
	"poly-spiketrader/internal/jsonl"
	"poly-spiketrader/internal/micros"
	"poly-spiketrader/internal/polygonutil"
	"poly-spiketrader/internal/rtds"
)

const defaultEventLogPath = "./out/spiketrader.jsonl"
const defaultCheckpointPath = "./out/spiketrader.checkpoint.json"

type args struct {
	cfg engine.Config

	source  string // poll | rtds
	rtdsURL string

	clobHost      string
	gammaURL      string
	dataAPIURL    string
	rpcURL        string
	privateKeyHex string
	funder        common.Address
	signatureType int
	apiKey        string
	apiSecret     string
	apiPassphrase string
	apiNonce      uint64
	useServerTime bool
	user          string
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	parsed, err := parseArgs()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	cfg := parsed.cfg

	runStartedAt := time.Now()
	events := jsonl.New(cfg.EventLogPath)
	if events != nil {
		log.Printf("Event log: %s (JSONL)", cfg.EventLogPath)
	}

	log.Printf("Spike trader → Polymarket CLOB")
	log.Printf("Mode: %s", modeLine(cfg.Simulation))
	log.Printf("Watch: %s (%s)", cfg.WatchMode, watchLine(&cfg))
	log.Printf("Strategies: %s", strategyLine(cfg.Strategies))
	log.Printf("Trade unit: %s (max %d concurrent)", micros.Format(cfg.TradeUnitMicros), cfg.MaxConcurrentTrades)
	log.Printf("Spike: up>=%s down>=%s band=[%s, %s]",
		micros.Format(cfg.SpikeUpMicros), micros.Format(cfg.SpikeDownMicros),
		micros.Format(cfg.PriceLowerMicros), micros.Format(cfg.PriceUpperMicros))
	log.Printf("Exits: hold<=%s tp=%s/%dbps sl=%s/%dbps",
		cfg.HoldingTimeLimit, micros.Format(cfg.TakeProfitCash), cfg.TakeProfitBps,
		micros.Format(cfg.StopLossCash), cfg.StopLossBps)
	log.Printf("Source: %s", parsed.source)
	if parsed.source == "rtds" {
		log.Printf("RTDS: %s", parsed.rtdsURL)
	} else {
		log.Printf("Poll: %s", cfg.PollInterval)
	}

	pk, err := loadPrivateKey(parsed.privateKeyHex, cfg.Simulation)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	clobClient, err := clob.NewClient(parsed.clobHost, 137, pk, parsed.funder, parsed.signatureType)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	st := engine.NewState(cfg.HistorySize, cfg.MaxConcurrentTrades, cfg.Simulation, cfg.SimStartBalanceMicros)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
		}
		log.Printf("Shutting down…")
		st.Shutdown()
		select {
		case <-sigCh:
			log.Printf("[warn] second signal, aborting drain")
		case <-time.After(cfg.ShutdownDrainMax):
		}
		cancel()
	}()

	if !cfg.Simulation {
		if parsed.apiKey != "" && parsed.apiSecret != "" && parsed.apiPassphrase != "" {
			clobClient.SetApiCreds(clob.ApiKeyCreds{Key: parsed.apiKey, Secret: parsed.apiSecret, Passphrase: parsed.apiPassphrase})
		} else {
			creds, err := clobClient.CreateOrDeriveApiKey(ctx, parsed.apiNonce, parsed.useServerTime)
			if err != nil {
				log.Fatalf("[fatal] failed to create/derive api key: %v", err)
			}
			clobClient.SetApiCreds(creds)
			log.Printf("CLOB API creds ready (key=%s…)", credPrefix(creds.Key))
		}
	}

	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(time.Now().UnixNano()>>1)))
	var rngMu sync.Mutex
	saltGen := func() int64 {
		rngMu.Lock()
		defer rngMu.Unlock()
		return int64(rng.Uint64() & 0x7fffffffffffffff)
	}

	venue := engine.NewClobVenue(clobClient, saltGen, parsed.useServerTime, parsed.rpcURL)

	gammaClient, err := gamma.NewClient(parsed.gammaURL)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	dataClient, err := dataapi.NewClient(parsed.dataAPIURL)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	user := parsed.user
	if user == "" {
		user = clobClient.FunderAddress().Hex()
	}
	wl := engine.NewWatchlist(&cfg, st, gammaClient, dataClient, user)
	if err := wl.Resolve(ctx); err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	// SIGHUP re-resolves the watchlist in place; pair registration is
	// additive, so new markets join without a restart.
	reloadCh := make(chan os.Signal, 1)
	signal.Notify(reloadCh, syscall.SIGHUP)
	defer signal.Stop(reloadCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-reloadCh:
			}
			log.Printf("[cfg] SIGHUP: re-resolving watchlist")
			if err := wl.Resolve(ctx); err != nil {
				log.Printf("[warn] watchlist reload: %v", err)
			}
		}
	}()

	if snap, ok, err := checkpoint.Load(cfg.CheckpointPath); err != nil {
		log.Fatalf("[fatal] %v", err)
	} else if ok {
		if snap.Simulation != cfg.Simulation {
			log.Printf("[warn] checkpoint mode mismatch (checkpoint=%s run=%s); ignoring checkpoint",
				modeShort(snap.Simulation), modeShort(cfg.Simulation))
		} else {
			engine.RestoreState(st, snap)
			log.Printf("Loaded checkpoint %s (%d open trade(s), saved %s)",
				cfg.CheckpointPath, len(snap.OpenTrades), snap.SavedAt.Format(time.RFC3339))
		}
	}

	logStartStop(events, &cfg, parsed.source, "engine_start", st, 0)

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
			// Runs as its own worker below.
		}
	}

	signals := make(chan engine.Signal, 16)
	exec := engine.NewExecutor(&cfg, st, venue, events)
	wsURL := ""
	if parsed.source == "rtds" {
		wsURL = parsed.rtdsURL
	}

	workers := []engine.Worker{
		{Name: "feed", Run: engine.NewIngest(&cfg, st, venue, wsURL, events).Run},
		{Name: "executor", Run: func(ctx context.Context) error { return exec.Run(ctx, signals) }},
		{Name: "exits", Run: engine.NewExitMonitor(&cfg, st, exec, events).Run},
		{Name: "positions", Run: wl.SyncPositions},
		{Name: "checkpoint", Run: engine.NewCheckpointer(&cfg, st, events).Run},
	}
	if len(strategies) > 0 {
		workers = append(workers, engine.Worker{
			Name: "detector",
			Run:  engine.NewDetector(&cfg, st, strategies, signals).Run,
		})
	}
	if cfg.HasStrategy(engine.StrategyMarketMaker) {
		workers = append(workers, engine.Worker{
			Name: "mm",
			Run:  engine.NewMarketMaker(&cfg, st, events).Run,
		})
	}

	log.Printf("Listening…")
	engine.NewSupervisor(&cfg, st, events).Run(ctx, workers)

	// All workers are down; persist and flush before exit.
	st.Shutdown()
	if cfg.CheckpointPath != "" {
		if err := checkpoint.Save(cfg.CheckpointPath, engine.SnapshotState(st)); err != nil {
			log.Printf("[warn] final checkpoint: %v", err)
		}
	}
	logStartStop(events, &cfg, parsed.source, "engine_stop", st, uptimeSince(runStartedAt))
	if events != nil {
		if err := events.Close(); err != nil {
			log.Printf("[warn] event log close: %v", err)
		}
	}
	st.MarkCleanupDone()
	log.Printf("Bye.")
}

func logStartStop(events *jsonl.Writer, cfg *engine.Config, source, event string, st *engine.State, uptimeMs int64) {
	if events == nil {
		return
	}
	ev := struct {
		TsMs          int64  `json:"ts_ms"`
		Event         string `json:"event"`
		Mode          string `json:"mode"`
		Source        string `json:"source"`
		WatchMode     string `json:"watch_mode"`
		Strategies    string `json:"strategies"`
		BalanceMicros uint64 `json:"balance_micros,omitempty"`
		UptimeMs      int64  `json:"uptime_ms,omitempty"`
	}{
		TsMs:       time.Now().UnixMilli(),
		Event:      event,
		Mode:       modeShort(cfg.Simulation),
		Source:     source,
		WatchMode:  string(cfg.WatchMode),
		Strategies: strategyLine(cfg.Strategies),
		UptimeMs:   uptimeMs,
	}
	if cfg.Simulation {
		ev.BalanceMicros = st.SimBalanceMicros()
	}
	if err := events.Write(ev); err != nil {
		log.Printf("[warn] event log write failed: %v", err)
	}
}

func uptimeSince(startedAt time.Time) int64 {
	return time.Since(startedAt).Milliseconds()
}

func modeLine(simulation bool) string {
	if simulation {
		return "simulation (paper ledger, no orders posted)"
	}
	return "LIVE trading"
}

func modeShort(simulation bool) string {
	if simulation {
		return "sim"
	}
	return "live"
}

func watchLine(cfg *engine.Config) string {
	switch cfg.WatchMode {
	case engine.WatchPairs:
		return fmt.Sprintf("%d pair(s)", len(cfg.WatchPairs))
	case engine.WatchSlugs:
		return strings.Join(cfg.WatchSlugs, ", ")
	default:
		return "current positions"
	}
}

func strategyLine(names []engine.StrategyName) string {
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, string(n))
	}
	return strings.Join(parts, ",")
}

func credPrefix(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}

// loadPrivateKey parses the configured key. Simulation runs never sign
// anything that leaves the process, so a missing key falls back to an
// ephemeral one.
func loadPrivateKey(hexKey string, simulation bool) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		if simulation {
			log.Printf("[cfg] no private key set; using ephemeral key (simulation)")
			return crypto.GenerateKey()
		}
		return nil, fmt.Errorf("private key required (set --private-key or PRIVATE_KEY)")
	}
	pk, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return pk, nil
}

func parseArgs() (args, error) {
	cfg := engine.DefaultConfig()

	enableTradingDefault := false
	if env := strings.TrimSpace(os.Getenv("ENABLE_TRADING")); env != "" {
		v, err := strconv.ParseBool(env)
		if err != nil {
			return args{}, fmt.Errorf("invalid ENABLE_TRADING %q: %w", env, err)
		}
		enableTradingDefault = v
	}
	buyOnceDefault := false
	if env := strings.TrimSpace(os.Getenv("BUY_ONCE")); env != "" {
		v, err := strconv.ParseBool(env)
		if err != nil {
			return args{}, fmt.Errorf("invalid BUY_ONCE %q: %w", env, err)
		}
		buyOnceDefault = v
	}
	signatureTypeDefault := 0
	if env := strings.TrimSpace(firstNonEmpty(os.Getenv("CLOB_SIGNATURE_TYPE"), os.Getenv("SIGNATURE_TYPE"))); env != "" {
		v, err := strconv.Atoi(env)
		if err != nil {
			return args{}, fmt.Errorf("invalid signature type env %q: %w", env, err)
		}
		signatureTypeDefault = v
	}

	var enableTradingFlag bool
	var pairsFlag, slugsFlag, watchModeFlag, strategiesFlag string
	var tradeUnitFlag, simBalanceFlag string
	var spikeUpFlag, spikeDownFlag, spreadBufferFlag, priceLowerFlag, priceUpperFlag string
	var minLiquidityFlag, slippageTolFlag, takeProfitFlag, stopLossFlag, pairEntrySumFlag, mmInventoryFlag string
	var sourceFlag, rtdsURLFlag string
	var clobHostFlag, gammaURLFlag, dataAPIURLFlag, rpcURLFlag string
	var privateKeyFlag, funderFlag, userFlag string
	var signatureTypeFlag int
	var apiKeyFlag, apiSecretFlag, apiPassphraseFlag string
	var apiNonceFlag uint64
	var useServerTimeFlag bool
	var outFlag, checkpointFlag string

	flag.BoolVar(&enableTradingFlag, "enable-trading", enableTradingDefault, "Actually place orders (default is simulation)")
	flag.StringVar(&watchModeFlag, "watch-mode", "", "Instrument discovery: pairs, slugs, or positions")
	flag.StringVar(&pairsFlag, "pairs", "", "Token pairs tokenA:tokenB (comma-separated; or PAIR_TOKENS)")
	flag.StringVar(&slugsFlag, "slugs", "", "Market slugs (comma-separated; or EVENT_SLUGS)")
	flag.StringVar(&strategiesFlag, "strategies", "", "Strategies: spike,meanrev,pairarb,mm (or STRATEGIES)")

	flag.StringVar(&tradeUnitFlag, "trade-unit", "", "Spend per entry, in USDC (e.g. 10)")
	flag.IntVar(&cfg.MaxConcurrentTrades, "max-trades", cfg.MaxConcurrentTrades, "Max concurrent open trades")
	flag.BoolVar(&cfg.BuyOncePerMarket, "buy-once", buyOnceDefault, "Enter each market at most once, either side (or BUY_ONCE)")
	flag.StringVar(&simBalanceFlag, "sim-balance", "", "Starting paper balance in USDC (simulation)")

	flag.StringVar(&spikeUpFlag, "spike-up", "", "Upward move threshold, fraction of the reference price (0.05 = 5%)")
	flag.StringVar(&spikeDownFlag, "spike-down", "", "Downward move threshold, fraction of the reference price")
	flag.IntVar(&cfg.SpikeLookbackPoints, "spike-lookback", cfg.SpikeLookbackPoints, "Reference N samples back (0 or 1 = previous tick)")
	flag.DurationVar(&cfg.SpikeLookbackSpan, "spike-lookback-span", cfg.SpikeLookbackSpan, "Reference at the start of this window (0 = off)")
	flag.Uint64Var(&cfg.VolCoefBps, "vol-coef-bps", cfg.VolCoefBps, "Dynamic threshold: stddev multiplier in bps (10000=1x)")
	flag.StringVar(&spreadBufferFlag, "spread-buffer", "", "Dynamic threshold: buffer over spread (price)")
	flag.StringVar(&priceLowerFlag, "price-lower", "", "Entry band lower bound (price)")
	flag.StringVar(&priceUpperFlag, "price-upper", "", "Entry band upper bound (price)")
	flag.DurationVar(&cfg.FreshnessMaxAge, "freshness", cfg.FreshnessMaxAge, "Max price age for signals")
	flag.DurationVar(&cfg.BuyCooldown, "buy-cooldown", cfg.BuyCooldown, "Per-instrument cooldown after a buy")
	flag.DurationVar(&cfg.SellCooldown, "sell-cooldown", cfg.SellCooldown, "Per-instrument cooldown after a sell")
	flag.IntVar(&cfg.HistorySize, "history", cfg.HistorySize, "Price ring size per instrument")
	flag.StringVar(&minLiquidityFlag, "min-liquidity", "", "Min depth at touch before entering, in USDC")
	flag.StringVar(&slippageTolFlag, "slippage-tol", "", "Max signal-to-quote drift (price)")
	flag.Uint64Var(&cfg.OrderSlippageBps, "order-slippage-bps", cfg.OrderSlippageBps, "Marketable order slippage in bps")

	flag.DurationVar(&cfg.HoldingTimeLimit, "holding-limit", cfg.HoldingTimeLimit, "Max holding time before forced exit (0 = off)")
	flag.StringVar(&takeProfitFlag, "take-profit", "", "Take-profit threshold in USDC")
	flag.Uint64Var(&cfg.TakeProfitBps, "take-profit-bps", cfg.TakeProfitBps, "Take-profit threshold in bps")
	flag.StringVar(&stopLossFlag, "stop-loss", "", "Stop-loss threshold in USDC (magnitude)")
	flag.Uint64Var(&cfg.StopLossBps, "stop-loss-bps", cfg.StopLossBps, "Stop-loss threshold in bps (magnitude)")

	flag.StringVar(&pairEntrySumFlag, "pair-entry-sum", "", "Pair arb: enter when ask sum below this (price)")
	flag.IntVar(&cfg.MeanRevLookback, "meanrev-lookback", cfg.MeanRevLookback, "Mean reversion lookback points")
	flag.Float64Var(&cfg.MeanRevEntryZ, "meanrev-entry-z", cfg.MeanRevEntryZ, "Mean reversion entry z-score")
	flag.Float64Var(&cfg.MeanRevExitZ, "meanrev-exit-z", cfg.MeanRevExitZ, "Mean reversion exit z-score")
	flag.Uint64Var(&cfg.MMSpreadBps, "mm-spread-bps", cfg.MMSpreadBps, "Market maker quoted spread in bps")
	flag.StringVar(&mmInventoryFlag, "mm-max-inventory", "", "Market maker inventory cap, in shares")
	flag.DurationVar(&cfg.MMRefreshInterval, "mm-refresh", cfg.MMRefreshInterval, "Market maker requote interval")

	flag.DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "Quote poll / scan interval")
	flag.DurationVar(&cfg.QuoteTTL, "quote-ttl", cfg.QuoteTTL, "Cached quote freshness window")
	flag.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Venue call retries on transient errors")
	flag.DurationVar(&cfg.RetryBaseDelay, "retry-base", cfg.RetryBaseDelay, "Base retry backoff delay")
	flag.IntVar(&cfg.MaxWorkerErrors, "max-worker-errors", cfg.MaxWorkerErrors, "Consecutive worker failures before the longer cooldown")
	flag.DurationVar(&cfg.RestartDelay, "restart-delay", cfg.RestartDelay, "Delay before restarting a failed worker")
	flag.DurationVar(&cfg.WorkerCooldown, "worker-cooldown", cfg.WorkerCooldown, "Pause after the failure ceiling before retrying")
	flag.DurationVar(&cfg.CheckInterval, "check-interval", cfg.CheckInterval, "Heartbeat / position sync interval")
	flag.DurationVar(&cfg.StatusInterval, "status-interval", cfg.StatusInterval, "Min interval between repeated status lines")
	flag.DurationVar(&cfg.ShutdownDrainMax, "drain", cfg.ShutdownDrainMax, "Max time to drain on shutdown")

	flag.StringVar(&sourceFlag, "source", "poll", "Price source: poll or rtds")
	flag.StringVar(&rtdsURLFlag, "rtds-url", rtds.DefaultURL, "RTDS WebSocket URL")

	flag.StringVar(&clobHostFlag, "clob-url", "", "CLOB API base URL (default https://clob.polymarket.com)")
	flag.StringVar(&gammaURLFlag, "gamma-url", "", "Gamma API base URL")
	flag.StringVar(&dataAPIURLFlag, "data-api-url", "", "Data API base URL")
	flag.StringVar(&rpcURLFlag, "rpc-url", "", "Polygon RPC URL for balance reads (or RPC_URL)")
	flag.StringVar(&privateKeyFlag, "private-key", "", "Private key hex (0x...) (or PRIVATE_KEY env)")
	flag.StringVar(&funderFlag, "funder", "", "Funder address (proxy wallet) (default: signer)")
	flag.StringVar(&userFlag, "user", "", "Wallet address for position lookups (default: funder)")
	flag.IntVar(&signatureTypeFlag, "signature-type", signatureTypeDefault, "Signature type: 0=EOA, 1=POLY_PROXY, 2=POLY_GNOSIS_SAFE")
	flag.StringVar(&apiKeyFlag, "api-key", "", "CLOB API key (optional; otherwise derived if trading enabled)")
	flag.StringVar(&apiSecretFlag, "api-secret", "", "CLOB API secret (optional)")
	flag.StringVar(&apiPassphraseFlag, "api-passphrase", "", "CLOB API passphrase (optional)")
	flag.Uint64Var(&apiNonceFlag, "api-nonce", 0, "Nonce for API key derive/create")
	flag.BoolVar(&useServerTimeFlag, "use-server-time", true, "Use /time for signed requests")

	flag.StringVar(&outFlag, "out", "", "Event log path (JSONL; or TRADES_OUT_FILE)")
	flag.StringVar(&checkpointFlag, "checkpoint-file", "", "Checkpoint path (empty = default)")
	flag.DurationVar(&cfg.CheckpointInterval, "checkpoint-interval", cfg.CheckpointInterval, "Checkpoint save interval")

	flag.Parse()

	cfg.Simulation = !enableTradingFlag

	for _, p := range []struct {
		name string
		raw  string
		dst  *uint64
	}{
		{"trade-unit", tradeUnitFlag, &cfg.TradeUnitMicros},
		{"sim-balance", simBalanceFlag, &cfg.SimStartBalanceMicros},
		{"spike-up", spikeUpFlag, &cfg.SpikeUpMicros},
		{"spike-down", spikeDownFlag, &cfg.SpikeDownMicros},
		{"spread-buffer", spreadBufferFlag, &cfg.SpreadBufferMicros},
		{"price-lower", priceLowerFlag, &cfg.PriceLowerMicros},
		{"price-upper", priceUpperFlag, &cfg.PriceUpperMicros},
		{"min-liquidity", minLiquidityFlag, &cfg.MinLiquidityMicros},
		{"slippage-tol", slippageTolFlag, &cfg.SlippageTolMicros},
		{"take-profit", takeProfitFlag, &cfg.TakeProfitCash},
		{"stop-loss", stopLossFlag, &cfg.StopLossCash},
		{"pair-entry-sum", pairEntrySumFlag, &cfg.PairEntrySumMicros},
		{"mm-max-inventory", mmInventoryFlag, &cfg.MMMaxInventory},
	} {
		raw := strings.TrimSpace(p.raw)
		if raw == "" {
			continue
		}
		v, err := micros.Parse(raw)
		if err != nil {
			return args{}, fmt.Errorf("invalid --%s %q: %w", p.name, raw, err)
		}
		*p.dst = v
	}

	if watchModeFlag != "" {
		cfg.WatchMode = engine.WatchMode(strings.ToLower(strings.TrimSpace(watchModeFlag)))
	}
	pairsRaw := firstNonEmpty(pairsFlag, os.Getenv("PAIR_TOKENS"))
	if pairsRaw != "" {
		cfg.WatchPairs = engine.ParsePairList(pairsRaw)
	}
	slugsRaw := firstNonEmpty(slugsFlag, os.Getenv("EVENT_SLUGS"))
	if slugsRaw != "" {
		cfg.WatchSlugs = engine.ParsePairList(slugsRaw)
		if watchModeFlag == "" && pairsRaw == "" {
			cfg.WatchMode = engine.WatchSlugs
		}
	}
	if s := firstNonEmpty(strategiesFlag, os.Getenv("STRATEGIES")); s != "" {
		cfg.Strategies = engine.ParseStrategies(s)
	}

	cfg.EventLogPath = firstNonEmpty(outFlag, os.Getenv("TRADES_OUT_FILE"), defaultEventLogPath)
	cfg.CheckpointPath = firstNonEmpty(checkpointFlag, os.Getenv("CHECKPOINT_FILE"), defaultCheckpointPath)

	if err := cfg.Validate(); err != nil {
		return args{}, err
	}

	source := strings.ToLower(strings.TrimSpace(sourceFlag))
	switch source {
	case "poll", "rtds":
	default:
		return args{}, fmt.Errorf("unknown source %q (use poll or rtds)", sourceFlag)
	}
	rtdsURL := strings.TrimSpace(rtdsURLFlag)
	if rtdsURL == "" {
		rtdsURL = rtds.DefaultURL
	}

	var funder common.Address
	funderRaw := firstNonEmpty(funderFlag, os.Getenv("CLOB_FUNDER"), os.Getenv("FUNDER"))
	if strings.TrimSpace(funderRaw) != "" {
		if !common.IsHexAddress(funderRaw) {
			return args{}, fmt.Errorf("invalid funder: %q", funderRaw)
		}
		funder = common.HexToAddress(funderRaw)
	}

	rpcURL := strings.TrimSpace(rpcURLFlag)
	if rpcURL == "" {
		if envURL, err := polygonutil.RPCURLFromEnv(); err == nil {
			rpcURL = envURL
		} else if !cfg.Simulation {
			return args{}, fmt.Errorf("live mode needs an RPC URL for balance reads: %w", err)
		}
	}

	return args{
		cfg:           cfg,
		source:        source,
		rtdsURL:       rtdsURL,
		clobHost:      firstNonEmpty(clobHostFlag, os.Getenv("CLOB_URL"), "https://clob.polymarket.com"),
		gammaURL:      firstNonEmpty(gammaURLFlag, os.Getenv("GAMMA_URL"), gamma.DefaultURL),
		dataAPIURL:    firstNonEmpty(dataAPIURLFlag, os.Getenv("DATA_API_URL"), dataapi.DefaultURL),
		rpcURL:        rpcURL,
		privateKeyHex: firstNonEmpty(privateKeyFlag, os.Getenv("CLOB_PRIVATE_KEY"), os.Getenv("PRIVATE_KEY")),
		funder:        funder,
		signatureType: signatureTypeFlag,
		apiKey:        firstNonEmpty(apiKeyFlag, os.Getenv("CLOB_API_KEY"), os.Getenv("API_KEY")),
		apiSecret:     firstNonEmpty(apiSecretFlag, os.Getenv("CLOB_SECRET"), os.Getenv("SECRET")),
		apiPassphrase: firstNonEmpty(apiPassphraseFlag, os.Getenv("CLOB_PASSPHRASE"), os.Getenv("PASSPHRASE")),
		apiNonce:      apiNonceFlag,
		useServerTime: useServerTimeFlag,
		user:          firstNonEmpty(userFlag, os.Getenv("USER_ADDRESS")),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
