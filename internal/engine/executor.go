package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"poly-spiketrader/internal/book"
	"poly-spiketrader/internal/jsonl"
	"poly-spiketrader/internal/micros"
)

// minSellShares is the smallest sell the venue accepts: one whole share.
const minSellShares = micros.Scale

// Executor turns signals into orders. It owns the trade-slot and per-asset
// order-lock discipline: a slot is held for the life of a trade, the asset
// lock only for the life of one order submission. No lock is ever held
// across a venue call except the per-asset in-flight claim, which exists
// precisely to serialize venue calls per instrument.
type Executor struct {
	cfg     *Config
	st      *State
	venue   Venue
	events  *jsonl.Writer
	status  *statusTracker
	started time.Time
}

func NewExecutor(cfg *Config, st *State, venue Venue, events *jsonl.Writer) *Executor {
	return &Executor{
		cfg:     cfg,
		st:      st,
		venue:   venue,
		events:  events,
		status:  newStatusTracker("[exec]", cfg.StatusInterval),
		started: time.Now(),
	}
}

// Run consumes signals until ctx is cancelled or shutdown begins.
func (e *Executor) Run(ctx context.Context, signals <-chan Signal) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.st.Done():
			return nil
		case sig := <-signals:
			e.handle(ctx, sig)
		}
	}
}

func (e *Executor) handle(ctx context.Context, sig Signal) {
	switch {
	case sig.Side == Buy && sig.PairTokenID != "":
		e.PlaceDualBuy(ctx, sig)
	case sig.Side == Buy:
		e.PlaceBuy(ctx, sig)
	case sig.Side == Sell && sig.PairTokenID != "":
		e.PlaceSell(ctx, sig.TokenID, 0, sig.Reason)
		e.PlaceSell(ctx, sig.PairTokenID, 0, sig.Reason)
	default:
		e.PlaceSell(ctx, sig.TokenID, 0, sig.Reason)
	}
}

func (e *Executor) retryCfg() retryCfg {
	return retryCfg{MaxRetries: e.cfg.MaxRetries, BaseDelay: e.cfg.RetryBaseDelay}
}

// PlaceBuy runs the full entry pipeline: slot, lock, revalidate against a
// fresh quote, size, submit. Every early return releases what it took; a
// successful entry keeps its slot until the trade closes.
func (e *Executor) PlaceBuy(ctx context.Context, sig Signal) {
	if e.st.IsShutdown() {
		return
	}
	tokenID := sig.TokenID

	if !e.st.TryReserveTradeSlot() {
		e.skipEntry(sig, "trade slots exhausted")
		return
	}
	keepSlot := false
	defer func() {
		if !keepSlot {
			e.st.ReleaseTradeSlot()
		}
	}()

	if !e.st.TryAcquireAssetOrder(tokenID) {
		e.skipEntry(sig, "order already in flight")
		return
	}
	defer e.st.ReleaseAssetOrder(tokenID)

	// Shutdown may have begun while we queued for the slot.
	if e.st.IsShutdown() {
		return
	}
	if _, open := e.st.ActiveTrade(tokenID); open {
		e.skipEntry(sig, "trade already open")
		return
	}
	if e.cfg.BuyOncePerMarket && e.boughtMarket(tokenID) {
		e.skipEntry(sig, "market already entered once")
		return
	}

	quote, err := e.fetchQuote(ctx, tokenID)
	if err != nil {
		e.skipEntry(sig, "quote: "+err.Error())
		return
	}
	spend, err := e.validateBuy(sig, quote)
	if err != nil {
		e.skipEntry(sig, err.Error())
		return
	}

	capital, err := e.availableCapital(ctx)
	if err != nil {
		e.skipEntry(sig, "balance: "+err.Error())
		return
	}
	if capital < spend {
		spend = capital
	}
	if spend < e.cfg.MinOrderMicros {
		e.skipEntry(sig, fmt.Sprintf("spend %s below min order", micros.Format(spend)))
		return
	}

	logTradeEvent(e.events, tradeLogEvent{
		Event:       "buy_submit",
		Mode:        modeLabel(e.st.SimulationMode()),
		Strategy:    string(sig.Strategy),
		TokenID:     tokenID,
		Side:        string(Buy),
		PriceMicros: quote.AskMicros,
		SpendMicros: spend,
		Reason:      sig.Reason,
		UptimeMs:    uptimeMs(e.started),
	})

	fill, err := e.submitBuy(ctx, tokenID, spend, quote)
	if err != nil {
		log.Printf("[warn] buy %s failed: %v", safePrefix(tokenID), err)
		logTradeEvent(e.events, tradeLogEvent{
			Event:    "buy_result",
			Mode:     modeLabel(e.st.SimulationMode()),
			Strategy: string(sig.Strategy),
			TokenID:  tokenID,
			Side:     string(Buy),
			Err:      err.Error(),
		})
		return
	}

	now := time.Now()
	e.st.AddActiveTrade(tokenID, ActiveTrade{
		EntryPriceMicros: fill.AvgPriceMicros,
		EntryTime:        now,
		AmountMicros:     fill.CostMicros,
		SharesMicros:     fill.SharesMicros,
		BotTriggered:     true,
		Reason:           sig.Reason,
	})
	e.st.MarkBuy(tokenID, now)
	e.st.MarkBoughtOnce(tokenID)
	keepSlot = true

	log.Printf("[post] buy %s %s shares @ %s cost %s (%s)",
		safePrefix(tokenID), micros.Format(fill.SharesMicros),
		micros.Format(fill.AvgPriceMicros), micros.Format(fill.CostMicros), sig.Reason)
	logTradeEvent(e.events, tradeLogEvent{
		Event:        "buy_result",
		Mode:         modeLabel(e.st.SimulationMode()),
		Strategy:     string(sig.Strategy),
		TokenID:      tokenID,
		Side:         string(Buy),
		PriceMicros:  fill.AvgPriceMicros,
		SharesMicros: fill.SharesMicros,
		CostMicros:   fill.CostMicros,
		Ok:           true,
		Reason:       sig.Reason,
	})
}

// PlaceDualBuy enters both legs of a pair together. Both slots and both
// locks are taken before any venue call; if either leg cannot fill, filled
// legs keep their slot and the rest unwind.
func (e *Executor) PlaceDualBuy(ctx context.Context, sig Signal) {
	if e.st.IsShutdown() {
		return
	}
	legs := []string{sig.TokenID, sig.PairTokenID}

	slots := 0
	for range legs {
		if !e.st.TryReserveTradeSlot() {
			break
		}
		slots++
	}
	if slots < len(legs) {
		for i := 0; i < slots; i++ {
			e.st.ReleaseTradeSlot()
		}
		e.skipEntry(sig, "pair needs two trade slots")
		return
	}
	keep := make(map[string]bool, len(legs))
	defer func() {
		for _, leg := range legs {
			if !keep[leg] {
				e.st.ReleaseTradeSlot()
			}
		}
	}()

	locked := 0
	for _, leg := range legs {
		if !e.st.TryAcquireAssetOrder(leg) {
			break
		}
		locked++
	}
	defer func() {
		for i := 0; i < locked; i++ {
			e.st.ReleaseAssetOrder(legs[i])
		}
	}()
	if locked < len(legs) {
		e.skipEntry(sig, "pair leg order in flight")
		return
	}

	if e.st.IsShutdown() {
		return
	}

	var reqs []OrderRequest
	quotes := make(map[string]Quote, len(legs))
	var askSum uint64
	for _, leg := range legs {
		if _, open := e.st.ActiveTrade(leg); open {
			e.skipEntry(sig, "pair leg already open")
			return
		}
		q, err := e.fetchQuote(ctx, leg)
		if err != nil || !q.HasAsk {
			e.skipEntry(sig, "pair leg quote unavailable")
			return
		}
		quotes[leg] = q
		askSum += q.AskMicros
	}
	// Revalidate the edge against fresh quotes.
	if askSum >= e.cfg.PairEntrySumMicros {
		e.skipEntry(sig, "pair edge gone: ask sum "+micros.Format(askSum))
		return
	}

	capital, err := e.availableCapital(ctx)
	if err != nil {
		e.skipEntry(sig, "balance: "+err.Error())
		return
	}
	for _, leg := range legs {
		q := quotes[leg]
		spend := e.cfg.TradeUnitMicros
		if depth := micros.CostForShares(q.AskSizeMicros, q.AskMicros); depth < spend {
			spend = depth
		}
		if spend > capital/2 {
			spend = capital / 2
		}
		if spend < e.cfg.MinOrderMicros {
			e.skipEntry(sig, "pair leg spend below min order")
			return
		}
		reqs = append(reqs, OrderRequest{
			TokenID:     leg,
			Side:        Buy,
			SpendMicros: spend,
			SlippageBps: e.cfg.OrderSlippageBps,
		})
	}

	logTradeEvent(e.events, tradeLogEvent{
		Event:       "pair_entry",
		Mode:        modeLabel(e.st.SimulationMode()),
		Strategy:    string(sig.Strategy),
		TokenID:     sig.TokenID,
		PairTokenID: sig.PairTokenID,
		Side:        string(Buy),
		PriceMicros: askSum,
		Reason:      sig.Reason,
	})

	fills, err := e.submitBatchBuy(ctx, reqs, quotes)
	if err != nil {
		log.Printf("[warn] pair entry failed: %v", err)
		return
	}
	now := time.Now()
	for i, fill := range fills {
		leg := reqs[i].TokenID
		if fill.SharesMicros == 0 {
			continue
		}
		e.st.AddActiveTrade(leg, ActiveTrade{
			EntryPriceMicros: fill.AvgPriceMicros,
			EntryTime:        now,
			AmountMicros:     fill.CostMicros,
			SharesMicros:     fill.SharesMicros,
			BotTriggered:     true,
			Reason:           sig.Reason,
		})
		e.st.MarkBuy(leg, now)
		e.st.MarkBoughtOnce(leg)
		keep[leg] = true
		log.Printf("[post] pair leg buy %s %s shares @ %s",
			safePrefix(leg), micros.Format(fill.SharesMicros), micros.Format(fill.AvgPriceMicros))
	}
}

// PlaceSell unwinds a held trade. sharesWanted of zero means "everything the
// position allows". Sells run during shutdown drain; only new entries are
// refused then.
func (e *Executor) PlaceSell(ctx context.Context, tokenID string, sharesWanted uint64, reason string) {
	if !e.st.TryAcquireAssetOrder(tokenID) {
		e.status.Set(safePrefix(tokenID), "sell skipped: order in flight")
		return
	}
	defer e.st.ReleaseAssetOrder(tokenID)

	pos, held := e.st.PositionByToken(tokenID)
	if !held || pos.SharesMicros == 0 {
		// No inventory but a dangling trade record: close it out.
		if _, open := e.st.ActiveTrade(tokenID); open {
			e.st.RemoveActiveTrade(tokenID)
			e.st.ReleaseTradeSlot()
			e.st.SetLastTradeClosed(time.Now())
		}
		return
	}

	quote, err := e.fetchQuote(ctx, tokenID)
	if err != nil {
		e.status.Set(safePrefix(tokenID), "sell skipped: "+err.Error())
		return
	}
	if !quote.HasBid || quote.BidMicros == 0 {
		e.status.Set(safePrefix(tokenID), "sell skipped: no bid")
		return
	}

	sellable := pos.SharesMicros
	if e.cfg.KeepMinSharesMicros > 0 && sellable > e.cfg.KeepMinSharesMicros {
		sellable -= e.cfg.KeepMinSharesMicros
	} else if e.cfg.KeepMinSharesMicros > 0 {
		sellable = 0
	}
	if sharesWanted > 0 && sharesWanted < sellable {
		sellable = sharesWanted
	}
	if sellable < minSellShares {
		e.status.Set(safePrefix(tokenID), "sell skipped: size below one share")
		return
	}

	logTradeEvent(e.events, tradeLogEvent{
		Event:        "sell_submit",
		Mode:         modeLabel(e.st.SimulationMode()),
		TokenID:      tokenID,
		Side:         string(Sell),
		PriceMicros:  quote.BidMicros,
		SharesMicros: sellable,
		Reason:       reason,
	})

	fill, err := e.submitSell(ctx, tokenID, sellable, quote, pos)
	if err != nil {
		log.Printf("[warn] sell %s failed: %v", safePrefix(tokenID), err)
		logTradeEvent(e.events, tradeLogEvent{
			Event:   "sell_result",
			Mode:    modeLabel(e.st.SimulationMode()),
			TokenID: tokenID,
			Side:    string(Sell),
			Err:     err.Error(),
		})
		return
	}

	now := time.Now()
	e.st.MarkSell(tokenID, now)

	// Reduce by what actually filled; a partial fill keeps the trade (and
	// its slot) open with the remainder. A sell against inventory with no
	// trade record never held a slot, so only a real close releases one.
	if _, closed := e.st.ReduceActiveTradeShares(tokenID, fill.SharesMicros); closed {
		e.st.ReleaseTradeSlot()
		e.st.SetLastTradeClosed(now)
	}

	pnl := int64(fill.CostMicros) - int64(micros.CostForShares(fill.SharesMicros, pos.AvgPriceMicros))
	log.Printf("[post] sell %s %s shares @ %s pnl %s (%s)",
		safePrefix(tokenID), micros.Format(fill.SharesMicros),
		micros.Format(fill.AvgPriceMicros), micros.FormatSigned(pnl), reason)
	logTradeEvent(e.events, tradeLogEvent{
		Event:        "sell_result",
		Mode:         modeLabel(e.st.SimulationMode()),
		TokenID:      tokenID,
		Side:         string(Sell),
		PriceMicros:  fill.AvgPriceMicros,
		SharesMicros: fill.SharesMicros,
		CostMicros:   fill.CostMicros,
		PnLMicros:    pnl,
		Ok:           true,
		Reason:       reason,
	})
}

// validateBuy applies the entry guards against a fresh quote and returns the
// collateral to spend.
func (e *Executor) validateBuy(sig Signal, quote Quote) (uint64, error) {
	if !quote.HasAsk || quote.AskMicros == 0 {
		return 0, ErrNoQuote
	}
	depth := micros.CostForShares(quote.AskSizeMicros, quote.AskMicros)
	if depth < e.cfg.MinLiquidityMicros {
		return 0, fmt.Errorf("%w: depth %s", ErrNoLiquidity, micros.Format(depth))
	}
	if quote.AskMicros > sig.PriceMicros && quote.AskMicros-sig.PriceMicros > e.cfg.SlippageTolMicros {
		return 0, fmt.Errorf("slippage: ask %s vs signal %s",
			micros.Format(quote.AskMicros), micros.Format(sig.PriceMicros))
	}
	if !inBand(quote.AskMicros, e.cfg.PriceLowerMicros, e.cfg.PriceUpperMicros) {
		return 0, fmt.Errorf("ask %s outside band", micros.Format(quote.AskMicros))
	}
	spend := e.cfg.TradeUnitMicros
	if depth < spend {
		spend = depth
	}
	return spend, nil
}

func (e *Executor) fetchQuote(ctx context.Context, tokenID string) (Quote, error) {
	if q, ok := e.st.CachedQuote(tokenID, e.cfg.QuoteTTL); ok {
		return q, nil
	}
	var quote Quote
	err := withRetry(ctx, e.retryCfg(), func() error {
		q, err := e.venue.Quote(ctx, tokenID)
		if err != nil {
			return err
		}
		quote = q
		return nil
	})
	if err != nil {
		return Quote{}, err
	}
	e.st.CacheQuotes(map[string]Quote{tokenID: quote})
	return quote, nil
}

func (e *Executor) availableCapital(ctx context.Context) (uint64, error) {
	if e.st.SimulationMode() {
		return e.st.SimBalanceMicros(), nil
	}
	var bal uint64
	err := withRetry(ctx, e.retryCfg(), func() error {
		b, err := e.venue.CollateralBalanceMicros(ctx)
		if err != nil {
			return err
		}
		bal = b
		return nil
	})
	return bal, err
}

func (e *Executor) submitBuy(ctx context.Context, tokenID string, spend uint64, quote Quote) (Fill, error) {
	if e.st.SimulationMode() {
		return e.simBuy(tokenID, spend, quote)
	}
	var fill Fill
	err := withRetry(ctx, e.retryCfg(), func() error {
		f, err := e.venue.PlaceOrder(ctx, OrderRequest{
			TokenID:     tokenID,
			Side:        Buy,
			SpendMicros: spend,
			SlippageBps: e.cfg.OrderSlippageBps,
		})
		if err != nil {
			return err
		}
		fill = f
		return nil
	})
	return fill, err
}

func (e *Executor) simBuy(tokenID string, spend uint64, quote Quote) (Fill, error) {
	shares := micros.SharesFromSpend(spend, quote.AskMicros)
	if shares == 0 {
		return Fill{}, ErrNoLiquidity
	}
	cost := micros.CostForShares(shares, quote.AskMicros)
	if !e.st.DebitSimBalance(cost) {
		return Fill{}, ErrInsufficient
	}
	e.st.UpsertSimPosition(tokenID, e.st.Meta(tokenID), quote.AskMicros, shares, quote.AskMicros)
	return Fill{
		SharesMicros:   shares,
		CostMicros:     cost,
		AvgPriceMicros: quote.AskMicros,
		Simulated:      true,
	}, nil
}

func (e *Executor) submitBatchBuy(ctx context.Context, reqs []OrderRequest, quotes map[string]Quote) ([]Fill, error) {
	if e.st.SimulationMode() {
		// Check total cost up front so the pair fills all-or-nothing.
		var total uint64
		for _, r := range reqs {
			total += r.SpendMicros
		}
		if e.st.SimBalanceMicros() < total {
			return nil, ErrInsufficient
		}
		fills := make([]Fill, len(reqs))
		for i, r := range reqs {
			f, err := e.simBuy(r.TokenID, r.SpendMicros, quotes[r.TokenID])
			if err != nil {
				return nil, err
			}
			fills[i] = f
		}
		return fills, nil
	}
	var fills []Fill
	err := withRetry(ctx, e.retryCfg(), func() error {
		fs, err := e.venue.PlaceOrders(ctx, reqs)
		if err != nil {
			return err
		}
		fills = fs
		return nil
	})
	return fills, err
}

func (e *Executor) submitSell(ctx context.Context, tokenID string, shares uint64, quote Quote, pos Position) (Fill, error) {
	if e.st.SimulationMode() {
		filled, price, proceeds := shares, quote.BidMicros, uint64(0)
		if shares > quote.BidSizeMicros {
			// Bigger than the touch: price the unwind across bid depth.
			if f, err := e.sellDepthFill(ctx, tokenID, shares); err == nil {
				filled, price, proceeds = f.SharesMicros, f.AvgPriceMicros, f.CostMicros
			} else {
				// No depth snapshot; fall back to what the touch absorbs.
				filled = quote.BidSizeMicros
			}
		}
		if filled < minSellShares {
			return Fill{}, ErrNoLiquidity
		}
		if proceeds == 0 {
			proceeds = micros.CostForShares(filled, price)
		}
		if !e.st.ReduceSimPosition(tokenID, filled, price) {
			return Fill{}, fmt.Errorf("no simulated position for %s", safePrefix(tokenID))
		}
		e.st.CreditSimBalance(proceeds)
		return Fill{
			SharesMicros:   filled,
			CostMicros:     proceeds,
			AvgPriceMicros: price,
			Simulated:      true,
		}, nil
	}
	var fill Fill
	err := withRetry(ctx, e.retryCfg(), func() error {
		f, err := e.venue.PlaceOrder(ctx, OrderRequest{
			TokenID:      tokenID,
			Side:         Sell,
			SharesMicros: shares,
			SlippageBps:  e.cfg.OrderSlippageBps,
		})
		if err != nil {
			return err
		}
		fill = f
		return nil
	})
	return fill, err
}

// sellDepthFill walks the bid side of a fresh depth snapshot for a sell
// larger than the top of book, returning the VWAP-priced fill.
func (e *Executor) sellDepthFill(ctx context.Context, tokenID string, shares uint64) (book.Fill, error) {
	if e.venue == nil {
		return book.Fill{}, ErrNoQuote
	}
	var b Book
	err := withRetry(ctx, e.retryCfg(), func() error {
		got, err := e.venue.Book(ctx, tokenID)
		if err != nil {
			return err
		}
		b = got
		return nil
	})
	if err != nil {
		return book.Fill{}, err
	}
	f := book.FillByShares(b.Bids, shares)
	if f.SharesMicros == 0 {
		return book.Fill{}, ErrNoLiquidity
	}
	return f, nil
}

// boughtMarket reports whether either side of the instrument's market has
// been entered before.
func (e *Executor) boughtMarket(tokenID string) bool {
	if e.st.BoughtOnce(tokenID) {
		return true
	}
	pair, ok := e.st.PairOf(tokenID)
	return ok && e.st.BoughtOnce(pair)
}

func (e *Executor) skipEntry(sig Signal, reason string) {
	e.status.Set(safePrefix(sig.TokenID), "entry skipped: "+reason)
	logTradeEvent(e.events, tradeLogEvent{
		Event:    "entry_skipped",
		Mode:     modeLabel(e.st.SimulationMode()),
		Strategy: string(sig.Strategy),
		TokenID:  sig.TokenID,
		Side:     string(sig.Side),
		Reason:   reason,
	})
}
