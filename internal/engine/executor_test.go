package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"poly-spiketrader/internal/book"
)

func execFixture(t *testing.T) (*Config, *State, *Executor) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaxRetries = 1
	cfg.RetryBaseDelay = time.Millisecond
	st := NewState(cfg.HistorySize, cfg.MaxConcurrentTrades, true, 1_000_000_000) // $1000
	st.RegisterPair("yes", "no",
		AssetMeta{EventSlug: "game", Outcome: "Yes"},
		AssetMeta{EventSlug: "game", Outcome: "No"})
	return &cfg, st, NewExecutor(&cfg, st, nil, nil)
}

func buySignal(tokenID string, price uint64) Signal {
	return Signal{Strategy: StrategySpike, TokenID: tokenID, Side: Buy, PriceMicros: price, Reason: "test entry"}
}

func TestPlaceBuySimulated(t *testing.T) {
	_, st, exec := execFixture(t)
	cacheTwoSided(st, "yes", 490_000, 500_000)

	exec.PlaceBuy(context.Background(), buySignal("yes", 500_000))

	trade, ok := st.ActiveTrade("yes")
	if !ok {
		t.Fatalf("trade not opened")
	}
	// $10 at 0.50 = 20 shares.
	if trade.SharesMicros != 20_000_000 || trade.EntryPriceMicros != 500_000 {
		t.Fatalf("trade=%+v", trade)
	}
	if st.ReservedSlots() != 1 {
		t.Fatalf("slot must stay reserved for the open trade")
	}
	if got := st.SimBalanceMicros(); got != 990_000_000 {
		t.Fatalf("ledger=%d want 990000000", got)
	}
	pos, ok := st.PositionByToken("yes")
	if !ok || pos.SharesMicros != 20_000_000 {
		t.Fatalf("pos=%+v ok=%v", pos, ok)
	}
	// Order lock released after the entry.
	if !st.TryAcquireAssetOrder("yes") {
		t.Fatalf("order lock leaked")
	}
}

func TestPlaceBuyThinBookSkipped(t *testing.T) {
	_, st, exec := execFixture(t)
	// 2 shares at 0.50: $1 of depth, below the $5 liquidity floor.
	st.CacheQuotes(map[string]Quote{"yes": {
		TokenID:   "yes",
		AskMicros: 500_000, AskSizeMicros: 2_000_000, HasAsk: true,
	}})

	exec.PlaceBuy(context.Background(), buySignal("yes", 500_000))

	if _, ok := st.ActiveTrade("yes"); ok {
		t.Fatalf("thin book must not fill")
	}
	if st.ReservedSlots() != 0 {
		t.Fatalf("slot must be released on skip")
	}
	if st.SimBalanceMicros() != 1_000_000_000 {
		t.Fatalf("ledger touched on skip")
	}
}

func TestPlaceBuySlippageSkipped(t *testing.T) {
	_, st, exec := execFixture(t)
	// Ask moved 0.06 above the signal; tolerance is 0.02.
	cacheTwoSided(st, "yes", 550_000, 560_000)

	exec.PlaceBuy(context.Background(), buySignal("yes", 500_000))

	if _, ok := st.ActiveTrade("yes"); ok {
		t.Fatalf("slipped quote must not fill")
	}
	if st.ReservedSlots() != 0 {
		t.Fatalf("slot must be released on skip")
	}
}

func TestPlaceBuySlotExhaustion(t *testing.T) {
	cfg, st, exec := execFixture(t)
	cacheTwoSided(st, "yes", 490_000, 500_000)
	for i := 0; i < cfg.MaxConcurrentTrades; i++ {
		if !st.TryReserveTradeSlot() {
			t.Fatalf("setup slot %d", i)
		}
	}

	exec.PlaceBuy(context.Background(), buySignal("yes", 500_000))

	if _, ok := st.ActiveTrade("yes"); ok {
		t.Fatalf("no slot, no trade")
	}
	if st.ReservedSlots() != cfg.MaxConcurrentTrades {
		t.Fatalf("slot accounting corrupted: %d", st.ReservedSlots())
	}
}

func TestPlaceBuyOrderLockContention(t *testing.T) {
	_, st, exec := execFixture(t)
	cacheTwoSided(st, "yes", 490_000, 500_000)

	// A competing worker already has the instrument's order in flight.
	if !st.TryAcquireAssetOrder("yes") {
		t.Fatalf("setup lock")
	}
	exec.PlaceBuy(context.Background(), buySignal("yes", 500_000))

	if _, ok := st.ActiveTrade("yes"); ok {
		t.Fatalf("contended lock must reject without side effects")
	}
	if st.ReservedSlots() != 0 {
		t.Fatalf("slot leaked on lock rejection")
	}
	if st.SimBalanceMicros() != 1_000_000_000 {
		t.Fatalf("ledger touched on lock rejection")
	}
}

func TestRacingBuysOpenOneTrade(t *testing.T) {
	_, st, exec := execFixture(t)
	cacheTwoSided(st, "yes", 490_000, 500_000)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			exec.PlaceBuy(context.Background(), buySignal("yes", 500_000))
		}()
	}
	wg.Wait()

	if len(st.ActiveTrades()) != 1 {
		t.Fatalf("trades=%v want exactly one", st.ActiveTrades())
	}
	if st.ReservedSlots() != 1 {
		t.Fatalf("slots=%d want 1", st.ReservedSlots())
	}
	// Exactly one $10 debit.
	if got := st.SimBalanceMicros(); got != 990_000_000 {
		t.Fatalf("ledger=%d want 990000000", got)
	}
}

func TestPlaceBuyRefusedDuringShutdown(t *testing.T) {
	_, st, exec := execFixture(t)
	cacheTwoSided(st, "yes", 490_000, 500_000)
	st.Shutdown()

	exec.PlaceBuy(context.Background(), buySignal("yes", 500_000))

	if _, ok := st.ActiveTrade("yes"); ok {
		t.Fatalf("entries must be refused during shutdown")
	}
}

func TestPlaceSellFullUnwind(t *testing.T) {
	_, st, exec := execFixture(t)
	cacheTwoSided(st, "yes", 490_000, 500_000)
	exec.PlaceBuy(context.Background(), buySignal("yes", 500_000))

	// Price rallies to 0.60 and the book absorbs everything.
	cacheTwoSided(st, "yes", 600_000, 610_000)
	exec.PlaceSell(context.Background(), "yes", 0, "take profit")

	if _, ok := st.ActiveTrade("yes"); ok {
		t.Fatalf("trade must close on full unwind")
	}
	if st.ReservedSlots() != 0 {
		t.Fatalf("slot must free when the trade closes")
	}
	if _, ok := st.PositionByToken("yes"); ok {
		t.Fatalf("position must be removed")
	}
	// $1000 - $10 + 20 shares * 0.60 = $1002.
	if got := st.SimBalanceMicros(); got != 1_002_000_000 {
		t.Fatalf("ledger=%d want 1002000000", got)
	}
}

func TestPlaceSellPartialFillKeepsRemainder(t *testing.T) {
	_, st, exec := execFixture(t)
	cacheTwoSided(st, "yes", 490_000, 500_000)
	exec.PlaceBuy(context.Background(), buySignal("yes", 500_000)) // 20 shares

	// Only 5 shares of bid depth.
	st.CacheQuotes(map[string]Quote{"yes": {
		TokenID:   "yes",
		BidMicros: 600_000, BidSizeMicros: 5_000_000, HasBid: true,
		AskMicros: 610_000, AskSizeMicros: 100_000_000, HasAsk: true,
	}})
	exec.PlaceSell(context.Background(), "yes", 0, "exit")

	trade, ok := st.ActiveTrade("yes")
	if !ok || trade.SharesMicros != 15_000_000 {
		t.Fatalf("trade=%+v ok=%v want 15 shares left", trade, ok)
	}
	if st.ReservedSlots() != 1 {
		t.Fatalf("slot must stay held for the remainder")
	}
	pos, _ := st.PositionByToken("yes")
	if pos.SharesMicros != 15_000_000 {
		t.Fatalf("pos=%+v", pos)
	}
}

func TestPlaceSellBelowOneShareSkipped(t *testing.T) {
	_, st, exec := execFixture(t)
	st.UpsertSimPosition("yes", st.Meta("yes"), 500_000, 500_000, 500_000) // 0.5 shares
	cacheTwoSided(st, "yes", 600_000, 610_000)

	exec.PlaceSell(context.Background(), "yes", 0, "exit")

	if _, ok := st.PositionByToken("yes"); !ok {
		t.Fatalf("dust position must remain untouched")
	}
}

func TestPlaceSellHonorsKeepMin(t *testing.T) {
	cfg, st, exec := execFixture(t)
	cfg.KeepMinSharesMicros = 5_000_000
	cacheTwoSided(st, "yes", 490_000, 500_000)
	exec.PlaceBuy(context.Background(), buySignal("yes", 500_000)) // 20 shares
	cacheTwoSided(st, "yes", 600_000, 610_000)

	exec.PlaceSell(context.Background(), "yes", 0, "exit")

	pos, ok := st.PositionByToken("yes")
	if !ok || pos.SharesMicros != 5_000_000 {
		t.Fatalf("pos=%+v ok=%v want keep-min remainder", pos, ok)
	}
}

func TestPlaceBuyOncePerMarket(t *testing.T) {
	cfg, st, exec := execFixture(t)
	cfg.BuyOncePerMarket = true
	cacheTwoSided(st, "yes", 490_000, 500_000)
	cacheTwoSided(st, "no", 490_000, 500_000)

	exec.PlaceBuy(context.Background(), buySignal("yes", 500_000))
	if _, ok := st.ActiveTrade("yes"); !ok {
		t.Fatalf("first entry must fill")
	}

	// Exit completely, then try again: the market stays spent.
	cacheTwoSided(st, "yes", 600_000, 610_000)
	exec.PlaceSell(context.Background(), "yes", 0, "exit")
	if st.ReservedSlots() != 0 {
		t.Fatalf("setup: trade must be closed")
	}

	exec.PlaceBuy(context.Background(), buySignal("yes", 600_000))
	if _, ok := st.ActiveTrade("yes"); ok {
		t.Fatalf("re-entry must be refused after a buy-once market is spent")
	}
	// The paired side counts as the same market.
	exec.PlaceBuy(context.Background(), buySignal("no", 500_000))
	if _, ok := st.ActiveTrade("no"); ok {
		t.Fatalf("paired side shares the buy-once mark")
	}
	if st.ReservedSlots() != 0 {
		t.Fatalf("refused entries must not hold slots: %d", st.ReservedSlots())
	}

	cfg.BuyOncePerMarket = false
	exec.PlaceBuy(context.Background(), buySignal("yes", 600_000))
	if _, ok := st.ActiveTrade("yes"); !ok {
		t.Fatalf("toggle off must allow re-entry")
	}
}

func TestPlaceSellUntrackedPositionKeepsSlot(t *testing.T) {
	_, st, exec := execFixture(t)
	cacheTwoSided(st, "yes", 490_000, 500_000)
	exec.PlaceBuy(context.Background(), buySignal("yes", 500_000))
	if st.ReservedSlots() != 1 {
		t.Fatalf("setup: want one held slot")
	}

	// Inventory with no trade record (a mean-reversion style sell target).
	st.UpsertSimPosition("other", st.Meta("other"), 400_000, 10_000_000, 400_000)
	cacheTwoSided(st, "other", 500_000, 510_000)

	exec.PlaceSell(context.Background(), "other", 0, "overextended")

	if _, ok := st.PositionByToken("other"); ok {
		t.Fatalf("untracked position must still sell")
	}
	// The open trade's slot must survive the unrelated sell.
	if st.ReservedSlots() != 1 {
		t.Fatalf("slots=%d want 1", st.ReservedSlots())
	}
	if _, ok := st.ActiveTrade("yes"); !ok {
		t.Fatalf("open trade must be untouched")
	}
}

func TestPlaceSellWalksBidDepth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 1
	cfg.RetryBaseDelay = time.Millisecond
	st := NewState(cfg.HistorySize, cfg.MaxConcurrentTrades, true, 1_000_000_000)
	st.RegisterPair("yes", "no",
		AssetMeta{EventSlug: "game", Outcome: "Yes"},
		AssetMeta{EventSlug: "game", Outcome: "No"})
	venue := &quoteVenue{books: map[string]Book{"yes": {
		TokenID: "yes",
		Bids: []book.Level{
			{PriceMicros: 500_000, SharesMicros: 40_000_000},
			{PriceMicros: 480_000, SharesMicros: 100_000_000},
		},
	}}}
	exec := NewExecutor(&cfg, st, venue, nil)

	st.UpsertSimPosition("yes", st.Meta("yes"), 400_000, 100_000_000, 400_000)
	if !st.TryReserveTradeSlot() {
		t.Fatalf("setup slot")
	}
	st.AddActiveTrade("yes", ActiveTrade{
		EntryPriceMicros: 400_000,
		EntryTime:        time.Now(),
		SharesMicros:     100_000_000,
		BotTriggered:     true,
	})
	// Touch shows only 40 of the 100 shares.
	st.CacheQuotes(map[string]Quote{"yes": {
		TokenID:   "yes",
		BidMicros: 500_000, BidSizeMicros: 40_000_000, HasBid: true,
		AskMicros: 510_000, AskSizeMicros: 100_000_000, HasAsk: true,
	}})

	exec.PlaceSell(context.Background(), "yes", 0, "exit")

	// 40 @ 0.50 + 60 @ 0.48 = $48.80 across two levels.
	if got := st.SimBalanceMicros(); got != 1_048_800_000 {
		t.Fatalf("ledger=%d want 1048800000", got)
	}
	if _, ok := st.ActiveTrade("yes"); ok {
		t.Fatalf("full depth fill must close the trade")
	}
	if st.ReservedSlots() != 0 {
		t.Fatalf("slot must free on close")
	}
	if _, ok := st.PositionByToken("yes"); ok {
		t.Fatalf("position must be emptied")
	}
}

func TestPlaceDualBuySimulated(t *testing.T) {
	_, st, exec := execFixture(t)
	cacheTwoSided(st, "yes", 470_000, 480_000)
	cacheTwoSided(st, "no", 480_000, 490_000)

	exec.PlaceDualBuy(context.Background(), Signal{
		Strategy:    StrategyPairArb,
		TokenID:     "yes",
		PairTokenID: "no",
		Side:        Buy,
		PriceMicros: 480_000,
		Reason:      "pair test",
	})

	if _, ok := st.ActiveTrade("yes"); !ok {
		t.Fatalf("leg yes not opened")
	}
	if _, ok := st.ActiveTrade("no"); !ok {
		t.Fatalf("leg no not opened")
	}
	if st.ReservedSlots() != 2 {
		t.Fatalf("slots=%d want 2", st.ReservedSlots())
	}
	if !st.TryAcquireAssetOrder("yes") || !st.TryAcquireAssetOrder("no") {
		t.Fatalf("order locks leaked")
	}
}

func TestPlaceDualBuyEdgeGoneUnwinds(t *testing.T) {
	_, st, exec := execFixture(t)
	// Fresh quotes show no discount any more.
	cacheTwoSided(st, "yes", 490_000, 500_000)
	cacheTwoSided(st, "no", 490_000, 500_000)

	exec.PlaceDualBuy(context.Background(), Signal{
		Strategy:    StrategyPairArb,
		TokenID:     "yes",
		PairTokenID: "no",
		Side:        Buy,
		PriceMicros: 480_000,
		Reason:      "pair test",
	})

	if len(st.ActiveTrades()) != 0 {
		t.Fatalf("stale edge must not fill")
	}
	if st.ReservedSlots() != 0 {
		t.Fatalf("slots leaked: %d", st.ReservedSlots())
	}
}
