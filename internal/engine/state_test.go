package engine

import (
	"sync"
	"testing"
	"time"
)

func newTestState(maxTrades int) *State {
	return NewState(5, maxTrades, true, 1_000_000_000) // $1000 sim ledger
}

func TestPriceRingBounded(t *testing.T) {
	s := newTestState(1)
	base := time.Now()
	for i := 0; i < 12; i++ {
		s.AddPrice("tok", base.Add(time.Duration(i)*time.Second), uint64(100_000+i), "slug", "Yes")
	}
	hist := s.PriceHistory("tok")
	if len(hist) != 5 {
		t.Fatalf("ring len=%d want 5", len(hist))
	}
	// Oldest entries evicted: first surviving point is i=7.
	if hist[0].PriceMicros != 100_007 {
		t.Fatalf("oldest=%d want 100007", hist[0].PriceMicros)
	}
	if hist[4].PriceMicros != 100_011 {
		t.Fatalf("newest=%d want 100011", hist[4].PriceMicros)
	}
}

func TestPriceHistoryIsCopy(t *testing.T) {
	s := newTestState(1)
	s.AddPrice("tok", time.Now(), 500_000, "", "")
	h := s.PriceHistory("tok")
	h[0].PriceMicros = 999_999
	if got := s.PriceHistory("tok")[0].PriceMicros; got != 500_000 {
		t.Fatalf("internal ring mutated through copy: %d", got)
	}
}

func TestUpdateSignalLevelTriggered(t *testing.T) {
	s := newTestState(1)
	for i := 0; i < 10; i++ {
		s.SignalUpdate()
	}
	select {
	case <-s.UpdateSignal():
	default:
		t.Fatalf("signal not pending after raise")
	}
	select {
	case <-s.UpdateSignal():
		t.Fatalf("signal must coalesce to one pending token")
	default:
	}
}

func TestTradeSlotNeverExceedsMax(t *testing.T) {
	const max = 3
	s := newTestState(max)

	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TryReserveTradeSlot() {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if won != max {
		t.Fatalf("won=%d want %d", won, max)
	}
	if s.ReservedSlots() != max {
		t.Fatalf("reserved=%d want %d", s.ReservedSlots(), max)
	}

	s.ReleaseTradeSlot()
	if !s.TryReserveTradeSlot() {
		t.Fatalf("slot must be reusable after release")
	}

	// Spurious extra releases never drive the counter negative.
	for i := 0; i < max+5; i++ {
		s.ReleaseTradeSlot()
	}
	if s.ReservedSlots() != 0 {
		t.Fatalf("reserved=%d want 0", s.ReservedSlots())
	}
}

func TestAssetOrderLock(t *testing.T) {
	s := newTestState(1)
	if !s.TryAcquireAssetOrder("tok") {
		t.Fatalf("first acquire must succeed")
	}
	if s.TryAcquireAssetOrder("tok") {
		t.Fatalf("second acquire must fail while held")
	}
	if !s.TryAcquireAssetOrder("other") {
		t.Fatalf("distinct instruments must not contend")
	}

	s.ReleaseAssetOrder("tok")
	s.ReleaseAssetOrder("tok") // double release is a no-op
	if !s.TryAcquireAssetOrder("tok") {
		t.Fatalf("acquire must succeed after release")
	}
}

func TestActiveTradeReduce(t *testing.T) {
	s := newTestState(1)
	s.AddActiveTrade("tok", ActiveTrade{
		EntryPriceMicros: 500_000,
		SharesMicros:     10_000_000,
		BotTriggered:     true,
	})

	left, closed := s.ReduceActiveTradeShares("tok", 4_000_000)
	if left != 6_000_000 || closed {
		t.Fatalf("left=%d closed=%v want 6000000, open", left, closed)
	}
	if tr, ok := s.ActiveTrade("tok"); !ok || tr.SharesMicros != 6_000_000 {
		t.Fatalf("trade=%+v ok=%v", tr, ok)
	}

	// Selling everything (or more) removes the trade.
	left, closed = s.ReduceActiveTradeShares("tok", 7_000_000)
	if left != 0 || !closed {
		t.Fatalf("left=%d closed=%v want 0, closed", left, closed)
	}
	if _, ok := s.ActiveTrade("tok"); ok {
		t.Fatalf("trade must be removed at zero shares")
	}

	// An instrument with no trade record is not "closed".
	if _, closed := s.ReduceActiveTradeShares("untracked", 1_000_000); closed {
		t.Fatalf("untracked instrument must not report a close")
	}
}

func TestPairRegistryBidirectional(t *testing.T) {
	s := newTestState(1)
	s.RegisterPair("yes", "no",
		AssetMeta{EventSlug: "game", Outcome: "Yes"},
		AssetMeta{EventSlug: "game", Outcome: "No"})

	if p, ok := s.PairOf("yes"); !ok || p != "no" {
		t.Fatalf("PairOf(yes)=%q ok=%v", p, ok)
	}
	if p, ok := s.PairOf("no"); !ok || p != "yes" {
		t.Fatalf("PairOf(no)=%q ok=%v", p, ok)
	}
	if m := s.Meta("no"); m.Outcome != "No" {
		t.Fatalf("meta=%+v", m)
	}
}

func TestCooldownMarks(t *testing.T) {
	s := newTestState(1)
	now := time.Now()
	s.MarkBuy("tok", now)

	if !s.RecentlyBought("tok", time.Minute, now.Add(30*time.Second)) {
		t.Fatalf("buy 30s ago must be inside 1m cooldown")
	}
	if s.RecentlyBought("tok", time.Minute, now.Add(2*time.Minute)) {
		t.Fatalf("buy 2m ago must be outside 1m cooldown")
	}
	if s.RecentlyBought("other", time.Minute, now) {
		t.Fatalf("unmarked instrument must not read as recent")
	}
}

func TestSimLedgerRoundTrip(t *testing.T) {
	s := newTestState(1)
	start := s.SimBalanceMicros()

	meta := AssetMeta{EventSlug: "game", Outcome: "Yes"}

	// Buy 10 shares @ 0.50 = $5.
	if !s.DebitSimBalance(5_000_000) {
		t.Fatalf("debit must succeed")
	}
	s.UpsertSimPosition("tok", meta, 500_000, 10_000_000, 500_000)

	p, ok := s.PositionByToken("tok")
	if !ok || p.SharesMicros != 10_000_000 || p.AvgPriceMicros != 500_000 {
		t.Fatalf("pos=%+v ok=%v", p, ok)
	}

	// Buy 10 more @ 0.70: avg blends to 0.60.
	if !s.DebitSimBalance(7_000_000) {
		t.Fatalf("debit must succeed")
	}
	s.UpsertSimPosition("tok", meta, 700_000, 10_000_000, 700_000)
	p, _ = s.PositionByToken("tok")
	if p.SharesMicros != 20_000_000 || p.AvgPriceMicros != 600_000 {
		t.Fatalf("blended pos=%+v", p)
	}

	// Sell everything @ 0.60: flat round trip, ledger restored.
	if !s.ReduceSimPosition("tok", 20_000_000, 600_000) {
		t.Fatalf("reduce must find the position")
	}
	s.CreditSimBalance(12_000_000)

	if _, ok := s.PositionByToken("tok"); ok {
		t.Fatalf("position must be removed at zero shares")
	}
	if got := s.SimBalanceMicros(); got != start {
		t.Fatalf("ledger=%d want %d after flat round trip", got, start)
	}
}

func TestSimLedgerRealizedPnL(t *testing.T) {
	s := newTestState(1)
	meta := AssetMeta{EventSlug: "game", Outcome: "Yes"}
	s.UpsertSimPosition("tok", meta, 500_000, 10_000_000, 500_000)

	// Sell 4 shares @ 0.80: realized = 4 * 0.30 = $1.20.
	if !s.ReduceSimPosition("tok", 4_000_000, 800_000) {
		t.Fatalf("reduce failed")
	}
	p, ok := s.PositionByToken("tok")
	if !ok {
		t.Fatalf("partial reduce must keep the position")
	}
	if p.SharesMicros != 6_000_000 {
		t.Fatalf("shares=%d want 6000000", p.SharesMicros)
	}
	if p.RealizedPnLMicros != 1_200_000 {
		t.Fatalf("realized=%d want 1200000", p.RealizedPnLMicros)
	}
	// Avg entry untouched by sells.
	if p.AvgPriceMicros != 500_000 {
		t.Fatalf("avg=%d want 500000", p.AvgPriceMicros)
	}
}

func TestDebitNeverOverdraws(t *testing.T) {
	s := NewState(5, 1, true, 3_000_000)
	if s.DebitSimBalance(4_000_000) {
		t.Fatalf("overdraw must be refused")
	}
	if got := s.SimBalanceMicros(); got != 3_000_000 {
		t.Fatalf("balance=%d changed by refused debit", got)
	}
}

func TestQuoteCacheTTL(t *testing.T) {
	s := newTestState(1)
	if _, ok := s.CachedQuote("tok", time.Second); ok {
		t.Fatalf("empty cache must miss")
	}
	s.CacheQuotes(map[string]Quote{"tok": {TokenID: "tok", AskMicros: 550_000, HasAsk: true}})
	q, ok := s.CachedQuote("tok", time.Minute)
	if !ok || q.AskMicros != 550_000 {
		t.Fatalf("q=%+v ok=%v", q, ok)
	}
	if _, ok := s.CachedQuote("tok", 0); ok {
		t.Fatalf("zero ttl must always miss")
	}
}

func TestShutdownIdempotent(t *testing.T) {
	s := newTestState(1)
	if s.IsShutdown() {
		t.Fatalf("fresh state must not be shut down")
	}
	s.Shutdown()
	s.Shutdown()
	if !s.IsShutdown() {
		t.Fatalf("shutdown flag lost")
	}
	select {
	case <-s.Done():
	default:
		t.Fatalf("done channel must be closed")
	}

	s.MarkCleanupDone()
	s.MarkCleanupDone()
	if !s.WaitCleanup(time.Second) {
		t.Fatalf("cleanup wait must return immediately once marked")
	}
}

func TestWaitCleanupTimesOut(t *testing.T) {
	s := newTestState(1)
	if s.WaitCleanup(10 * time.Millisecond) {
		t.Fatalf("wait must time out without cleanup")
	}
}
