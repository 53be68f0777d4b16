package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"poly-spiketrader/internal/micros"
)

// PricePoint is one observed mid price for an instrument.
type PricePoint struct {
	At          time.Time
	PriceMicros uint64
	EventSlug   string
	Outcome     string
}

// ActiveTrade tracks an open bot-entered trade for one instrument.
// At most one ActiveTrade exists per instrument at a time.
type ActiveTrade struct {
	EntryPriceMicros uint64
	EntryTime        time.Time
	AmountMicros     uint64
	SharesMicros     uint64
	BotTriggered     bool
	Reason           string
}

// Position is a venue-reported or simulated holding.
type Position struct {
	EventSlug          string
	Outcome            string
	TokenID            string
	AvgPriceMicros     uint64
	SharesMicros       uint64
	CurrentPriceMicros uint64
	InitialValueMicros uint64
	CurrentValueMicros uint64
	PnLMicros          int64
	PnLBps             int64
	RealizedPnLMicros  int64
}

// AssetMeta is display metadata for an instrument. No behavioral effect.
type AssetMeta struct {
	EventSlug string
	Outcome   string
}

type tradeMarks struct {
	lastBuyAt  time.Time
	lastSellAt time.Time
}

// State is the shared container all workers read and mutate. Every collection
// has its own lock; accessors copy values in and out so callers never hold a
// reference into internal storage across a lock release.
type State struct {
	historySize int
	maxTrades   int
	simulation  bool

	priceMu sync.Mutex
	prices  map[string][]PricePoint

	// updateCh is the level-triggered "prices changed" signal. Capacity 1,
	// non-blocking send; consumers drain and recheck.
	updateCh chan struct{}

	tradesMu sync.Mutex
	trades   map[string]ActiveTrade

	slotMu    sync.Mutex
	slotsUsed int

	orderMu  sync.Mutex
	inFlight map[string]struct{}

	pairsMu sync.Mutex
	pairs   map[string]string
	meta    map[string]AssetMeta

	marksMu    sync.Mutex
	marks      map[string]*tradeMarks
	boughtOnce map[string]struct{}

	posMu     sync.Mutex
	positions map[string][]Position

	ledgerMu   sync.Mutex
	simBalance uint64

	quoteMu      sync.Mutex
	quoteCache   map[string]Quote
	quoteCacheAt time.Time

	scanCount atomic.Uint64

	lastMu       sync.Mutex
	lastClosedAt time.Time
	lastSpikeID  string
	lastSpikePx  uint64

	shuttingDown atomic.Bool
	done         chan struct{}
	shutdownOnce sync.Once
	cleanupDone  chan struct{}
	cleanupOnce  sync.Once
}

// NewState builds an empty container. historySize bounds the per-instrument
// price ring; maxTrades bounds concurrently open trades.
func NewState(historySize, maxTrades int, simulation bool, simStartMicros uint64) *State {
	if historySize <= 0 {
		historySize = 30
	}
	if maxTrades <= 0 {
		maxTrades = 1
	}
	return &State{
		historySize: historySize,
		maxTrades:   maxTrades,
		simulation:  simulation,
		prices:      make(map[string][]PricePoint),
		updateCh:    make(chan struct{}, 1),
		trades:      make(map[string]ActiveTrade),
		inFlight:    make(map[string]struct{}),
		pairs:       make(map[string]string),
		meta:        make(map[string]AssetMeta),
		marks:       make(map[string]*tradeMarks),
		boughtOnce:  make(map[string]struct{}),
		positions:   make(map[string][]Position),
		simBalance:  simStartMicros,
		quoteCache:  make(map[string]Quote),
		done:        make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
}

func (s *State) SimulationMode() bool { return s.simulation }
func (s *State) MaxTrades() int       { return s.maxTrades }

// AddPrice appends to the instrument's bounded ring, creating it lazily, and
// raises the update signal. Zero prices are the caller's responsibility to
// filter; the ring stores whatever it is given.
func (s *State) AddPrice(tokenID string, at time.Time, priceMicros uint64, slug, outcome string) {
	s.priceMu.Lock()
	ring := s.prices[tokenID]
	ring = append(ring, PricePoint{At: at, PriceMicros: priceMicros, EventSlug: slug, Outcome: outcome})
	if len(ring) > s.historySize {
		ring = ring[len(ring)-s.historySize:]
	}
	s.prices[tokenID] = ring
	s.priceMu.Unlock()

	s.SignalUpdate()
}

// PriceHistory returns a copy of the instrument's ring, oldest first.
func (s *State) PriceHistory(tokenID string) []PricePoint {
	s.priceMu.Lock()
	defer s.priceMu.Unlock()
	ring := s.prices[tokenID]
	if len(ring) == 0 {
		return nil
	}
	out := make([]PricePoint, len(ring))
	copy(out, ring)
	return out
}

// TrackedInstruments returns the ids of all instruments with price history.
func (s *State) TrackedInstruments() []string {
	s.priceMu.Lock()
	defer s.priceMu.Unlock()
	out := make([]string, 0, len(s.prices))
	for id := range s.prices {
		out = append(out, id)
	}
	return out
}

// SignalUpdate raises the level-triggered price-update signal without
// blocking. A signal already pending is left as-is.
func (s *State) SignalUpdate() {
	select {
	case s.updateCh <- struct{}{}:
	default:
	}
}

// UpdateSignal returns the channel detectors block on. Receivers drain it and
// re-scan; delivery is at-least-once across all raises, not per-raise.
func (s *State) UpdateSignal() <-chan struct{} { return s.updateCh }

func (s *State) ActiveTrades() map[string]ActiveTrade {
	s.tradesMu.Lock()
	defer s.tradesMu.Unlock()
	out := make(map[string]ActiveTrade, len(s.trades))
	for k, v := range s.trades {
		out[k] = v
	}
	return out
}

func (s *State) ActiveTrade(tokenID string) (ActiveTrade, bool) {
	s.tradesMu.Lock()
	defer s.tradesMu.Unlock()
	t, ok := s.trades[tokenID]
	return t, ok
}

func (s *State) AddActiveTrade(tokenID string, t ActiveTrade) {
	s.tradesMu.Lock()
	defer s.tradesMu.Unlock()
	s.trades[tokenID] = t
}

func (s *State) RemoveActiveTrade(tokenID string) {
	s.tradesMu.Lock()
	defer s.tradesMu.Unlock()
	delete(s.trades, tokenID)
}

// ReduceActiveTradeShares subtracts filled shares from an open trade,
// removing the trade when it reaches zero. closed is true only when a
// tracked trade was actually removed; selling inventory that has no trade
// record returns (0, false) so the caller does not release a slot that was
// never this trade's.
func (s *State) ReduceActiveTradeShares(tokenID string, filledShares uint64) (remaining uint64, closed bool) {
	s.tradesMu.Lock()
	defer s.tradesMu.Unlock()
	t, ok := s.trades[tokenID]
	if !ok {
		return 0, false
	}
	if filledShares >= t.SharesMicros {
		delete(s.trades, tokenID)
		return 0, true
	}
	t.SharesMicros -= filledShares
	s.trades[tokenID] = t
	return t.SharesMicros, false
}

// TryReserveTradeSlot reserves one of the bounded concurrent-trade slots.
// The check-and-increment is atomic under the slot lock: two callers racing
// for the last slot cannot both win.
func (s *State) TryReserveTradeSlot() bool {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()
	if s.slotsUsed >= s.maxTrades {
		return false
	}
	s.slotsUsed++
	return true
}

func (s *State) ReleaseTradeSlot() {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()
	if s.slotsUsed > 0 {
		s.slotsUsed--
	}
}

func (s *State) ReservedSlots() int {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()
	return s.slotsUsed
}

// TryAcquireAssetOrder claims the per-instrument order lock without blocking.
// Returns false when another order is already in flight for the instrument.
func (s *State) TryAcquireAssetOrder(tokenID string) bool {
	s.orderMu.Lock()
	defer s.orderMu.Unlock()
	if _, held := s.inFlight[tokenID]; held {
		return false
	}
	s.inFlight[tokenID] = struct{}{}
	return true
}

// ReleaseAssetOrder releases the per-instrument order lock. Releasing a lock
// that is not held is a no-op.
func (s *State) ReleaseAssetOrder(tokenID string) {
	s.orderMu.Lock()
	defer s.orderMu.Unlock()
	delete(s.inFlight, tokenID)
}

// RegisterPair records a bidirectional pairing plus metadata for both legs.
func (s *State) RegisterPair(tokenA, tokenB string, metaA, metaB AssetMeta) {
	s.pairsMu.Lock()
	defer s.pairsMu.Unlock()
	s.pairs[tokenA] = tokenB
	s.pairs[tokenB] = tokenA
	s.meta[tokenA] = metaA
	s.meta[tokenB] = metaB
}

func (s *State) PairOf(tokenID string) (string, bool) {
	s.pairsMu.Lock()
	defer s.pairsMu.Unlock()
	p, ok := s.pairs[tokenID]
	return p, ok
}

func (s *State) Meta(tokenID string) AssetMeta {
	s.pairsMu.Lock()
	defer s.pairsMu.Unlock()
	return s.meta[tokenID]
}

// PairedInstruments returns all instrument ids in the pairing table.
func (s *State) PairedInstruments() []string {
	s.pairsMu.Lock()
	defer s.pairsMu.Unlock()
	out := make([]string, 0, len(s.pairs))
	for id := range s.pairs {
		out = append(out, id)
	}
	return out
}

func (s *State) MarkBuy(tokenID string, at time.Time) {
	s.marksMu.Lock()
	defer s.marksMu.Unlock()
	m := s.marks[tokenID]
	if m == nil {
		m = &tradeMarks{}
		s.marks[tokenID] = m
	}
	m.lastBuyAt = at
}

func (s *State) MarkSell(tokenID string, at time.Time) {
	s.marksMu.Lock()
	defer s.marksMu.Unlock()
	m := s.marks[tokenID]
	if m == nil {
		m = &tradeMarks{}
		s.marks[tokenID] = m
	}
	m.lastSellAt = at
}

// RecentlyBought reports whether a buy happened within the cooldown window.
func (s *State) RecentlyBought(tokenID string, cooldown time.Duration, now time.Time) bool {
	s.marksMu.Lock()
	defer s.marksMu.Unlock()
	m := s.marks[tokenID]
	if m == nil || m.lastBuyAt.IsZero() {
		return false
	}
	return now.Sub(m.lastBuyAt) < cooldown
}

func (s *State) RecentlySold(tokenID string, cooldown time.Duration, now time.Time) bool {
	s.marksMu.Lock()
	defer s.marksMu.Unlock()
	m := s.marks[tokenID]
	if m == nil || m.lastSellAt.IsZero() {
		return false
	}
	return now.Sub(m.lastSellAt) < cooldown
}

// MarkBoughtOnce records the one-shot "already entered" flag used by
// single-sided entry strategies.
func (s *State) MarkBoughtOnce(tokenID string) {
	s.marksMu.Lock()
	defer s.marksMu.Unlock()
	s.boughtOnce[tokenID] = struct{}{}
}

func (s *State) BoughtOnce(tokenID string) bool {
	s.marksMu.Lock()
	defer s.marksMu.Unlock()
	_, ok := s.boughtOnce[tokenID]
	return ok
}

// Positions returns a deep copy of the position table keyed by event slug.
func (s *State) Positions() map[string][]Position {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	out := make(map[string][]Position, len(s.positions))
	for k, v := range s.positions {
		cp := make([]Position, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// PositionByToken scans the position table for the instrument's holding.
func (s *State) PositionByToken(tokenID string) (Position, bool) {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	for _, ps := range s.positions {
		for _, p := range ps {
			if p.TokenID == tokenID {
				return p, true
			}
		}
	}
	return Position{}, false
}

// ReplacePositions swaps in a wholesale venue-reported snapshot (live mode).
func (s *State) ReplacePositions(next map[string][]Position) {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	s.positions = make(map[string][]Position, len(next))
	for k, v := range next {
		cp := make([]Position, len(v))
		copy(cp, v)
		s.positions[k] = cp
	}
}

// SimBalanceMicros returns the simulated USDC balance.
func (s *State) SimBalanceMicros() uint64 {
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()
	return s.simBalance
}

// DebitSimBalance subtracts from the simulated ledger. Returns false if the
// balance cannot cover the debit; the ledger never goes negative.
func (s *State) DebitSimBalance(amountMicros uint64) bool {
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()
	if s.simBalance < amountMicros {
		return false
	}
	s.simBalance -= amountMicros
	return true
}

func (s *State) CreditSimBalance(amountMicros uint64) {
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()
	s.simBalance += amountMicros
}

// SetSimBalance overwrites the ledger balance (checkpoint restore).
func (s *State) SetSimBalance(amountMicros uint64) {
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()
	s.simBalance = amountMicros
}

// UpsertSimPosition blends a simulated buy fill into the position table,
// averaging the entry price over existing shares.
func (s *State) UpsertSimPosition(tokenID string, meta AssetMeta, priceMicros, sharesMicros, currentPriceMicros uint64) {
	if !s.simulation || sharesMicros == 0 {
		return
	}
	cp := currentPriceMicros
	if cp == 0 {
		cp = priceMicros
	}

	s.posMu.Lock()
	defer s.posMu.Unlock()

	slug := meta.EventSlug
	if slug == "" {
		slug = "sim"
	}

	for k, ps := range s.positions {
		for i := range ps {
			if ps[i].TokenID != tokenID {
				continue
			}
			p := &s.positions[k][i]
			total := p.SharesMicros + sharesMicros
			oldCost := micros.CostForShares(p.SharesMicros, p.AvgPriceMicros)
			addCost := micros.CostForShares(sharesMicros, priceMicros)
			p.AvgPriceMicros = micros.MulDiv(oldCost+addCost, micros.Scale, total)
			p.SharesMicros = total
			p.CurrentPriceMicros = cp
			recomputePositionValue(p)
			return
		}
	}

	p := Position{
		EventSlug:          slug,
		Outcome:            meta.Outcome,
		TokenID:            tokenID,
		AvgPriceMicros:     priceMicros,
		SharesMicros:       sharesMicros,
		CurrentPriceMicros: cp,
	}
	recomputePositionValue(&p)
	s.positions[slug] = append(s.positions[slug], p)
}

// ReduceSimPosition applies a simulated sell fill: shares shrink, realized
// PnL accrues, empty positions are removed. Returns false when no position
// exists for the instrument.
func (s *State) ReduceSimPosition(tokenID string, sellShares, sellPriceMicros uint64) bool {
	if !s.simulation || sellShares == 0 {
		return false
	}
	s.posMu.Lock()
	defer s.posMu.Unlock()

	for k, ps := range s.positions {
		for i := range ps {
			if ps[i].TokenID != tokenID {
				continue
			}
			p := &s.positions[k][i]
			qty := sellShares
			if qty > p.SharesMicros {
				qty = p.SharesMicros
			}
			proceeds := int64(micros.CostForShares(qty, sellPriceMicros))
			basis := int64(micros.CostForShares(qty, p.AvgPriceMicros))
			p.RealizedPnLMicros += proceeds - basis
			p.SharesMicros -= qty
			p.CurrentPriceMicros = sellPriceMicros
			recomputePositionValue(p)

			if p.SharesMicros == 0 {
				s.positions[k] = append(ps[:i], ps[i+1:]...)
				if len(s.positions[k]) == 0 {
					delete(s.positions, k)
				}
			}
			return true
		}
	}
	return false
}

// UpdatePositionPrice refreshes the marked price of a holding (sim mode).
func (s *State) UpdatePositionPrice(tokenID string, priceMicros uint64) {
	if priceMicros == 0 {
		return
	}
	s.posMu.Lock()
	defer s.posMu.Unlock()
	for k, ps := range s.positions {
		for i := range ps {
			if ps[i].TokenID != tokenID {
				continue
			}
			p := &s.positions[k][i]
			p.CurrentPriceMicros = priceMicros
			recomputePositionValue(p)
			return
		}
	}
}

func recomputePositionValue(p *Position) {
	p.InitialValueMicros = micros.CostForShares(p.SharesMicros, p.AvgPriceMicros)
	p.CurrentValueMicros = micros.CostForShares(p.SharesMicros, p.CurrentPriceMicros)
	p.PnLMicros = int64(p.CurrentValueMicros) - int64(p.InitialValueMicros)
	if p.InitialValueMicros > 0 {
		p.PnLBps = p.PnLMicros * 10_000 / int64(p.InitialValueMicros)
	} else {
		p.PnLBps = 0
	}
}

// CacheQuotes stores a batch quote snapshot with its fetch time.
func (s *State) CacheQuotes(quotes map[string]Quote) {
	s.quoteMu.Lock()
	defer s.quoteMu.Unlock()
	for k, v := range quotes {
		s.quoteCache[k] = v
	}
	s.quoteCacheAt = time.Now()
}

// CachedQuote returns a quote if the cache is younger than ttl.
func (s *State) CachedQuote(tokenID string, ttl time.Duration) (Quote, bool) {
	s.quoteMu.Lock()
	defer s.quoteMu.Unlock()
	if s.quoteCacheAt.IsZero() || time.Since(s.quoteCacheAt) > ttl {
		return Quote{}, false
	}
	q, ok := s.quoteCache[tokenID]
	return q, ok
}

func (s *State) IncScanCount() uint64 { return s.scanCount.Add(1) }
func (s *State) ScanCount() uint64    { return s.scanCount.Load() }

func (s *State) SetLastSpike(tokenID string, priceMicros uint64) {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	s.lastSpikeID = tokenID
	s.lastSpikePx = priceMicros
}

func (s *State) LastSpike() (string, uint64) {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.lastSpikeID, s.lastSpikePx
}

func (s *State) SetLastTradeClosed(at time.Time) {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	s.lastClosedAt = at
}

func (s *State) LastTradeClosed() time.Time {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.lastClosedAt
}

// Shutdown flips the broadcast shutdown flag. Idempotent.
func (s *State) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.shuttingDown.Store(true)
		close(s.done)
	})
}

func (s *State) IsShutdown() bool { return s.shuttingDown.Load() }

// Done returns a channel closed on shutdown, for use in selects.
func (s *State) Done() <-chan struct{} { return s.done }

// MarkCleanupDone signals that post-shutdown drain has finished. Idempotent.
func (s *State) MarkCleanupDone() {
	s.cleanupOnce.Do(func() { close(s.cleanupDone) })
}

// WaitCleanup blocks until cleanup completes or the timeout elapses.
func (s *State) WaitCleanup(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.cleanupDone:
		return true
	case <-t.C:
		return false
	}
}
