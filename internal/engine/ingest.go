package engine

import (
	"context"
	"log"
	"time"

	"poly-spiketrader/internal/jsonl"
	"poly-spiketrader/internal/micros"
	"poly-spiketrader/internal/rtds"
)

// Ingest keeps the quote cache and per-instrument price rings fresh. The
// poll source asks the venue for fresh quotes on a fixed cadence; the stream
// source consumes the venue's websocket feed and falls back to polling while
// the socket is down. Ring appends are throttled to one point per instrument
// per poll interval regardless of source.
type Ingest struct {
	cfg     *Config
	st      *State
	venue   Venue
	wsURL   string // empty: poll only
	events  *jsonl.Writer
	status  *statusTracker
	lastAdd map[string]time.Time
}

func NewIngest(cfg *Config, st *State, venue Venue, wsURL string, events *jsonl.Writer) *Ingest {
	return &Ingest{
		cfg:     cfg,
		st:      st,
		venue:   venue,
		wsURL:   wsURL,
		events:  events,
		status:  newStatusTracker("[feed]", cfg.StatusInterval),
		lastAdd: make(map[string]time.Time),
	}
}

func (in *Ingest) Run(ctx context.Context) error {
	if in.wsURL != "" {
		return in.runStream(ctx)
	}
	return in.runPoll(ctx)
}

func (in *Ingest) runPoll(ctx context.Context) error {
	ticker := time.NewTicker(in.cfg.PollInterval)
	defer ticker.Stop()

	in.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-in.st.Done():
			return nil
		case <-ticker.C:
		}
		in.pollOnce(ctx)
	}
}

func (in *Ingest) pollOnce(ctx context.Context) {
	tokens := in.st.PairedInstruments()
	if len(tokens) == 0 {
		in.status.Set("poll", "no instruments tracked")
		return
	}
	quotes, err := in.venue.Quotes(ctx, tokens)
	if err != nil {
		in.status.Set("poll", "quote fetch failed: "+err.Error())
		return
	}
	in.st.CacheQuotes(quotes)

	now := time.Now()
	for tokenID, q := range quotes {
		mid, ok := q.Mid()
		if !ok || mid == 0 {
			continue
		}
		in.record(tokenID, now, mid)
	}
}

func (in *Ingest) runStream(ctx context.Context) error {
	tokens := in.st.PairedInstruments()
	sub, err := rtds.MarketSubscription(tokens)
	if err != nil {
		return err
	}

	msgs, errs := rtds.Start(ctx, in.wsURL, []rtds.Subscription{sub}, rtds.Options{})

	// The socket only pushes deltas; poll keeps snapshots flowing during
	// reconnects and fills the cache before the first push arrives.
	ticker := time.NewTicker(in.cfg.PollInterval)
	defer ticker.Stop()
	in.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-in.st.Done():
			return nil
		case <-ticker.C:
			in.pollOnce(ctx)
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			in.status.Set("stream", "feed error: "+err.Error())
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			in.handleMessage(msg)
		}
	}
}

func (in *Ingest) handleMessage(msg rtds.Message) {
	switch msg.Type {
	case rtds.TypeAggBook:
		p, err := rtds.DecodeBook(msg)
		if err != nil {
			log.Printf("[warn] feed decode: %v", err)
			return
		}
		q, ok := quoteFromBookPayload(p)
		if !ok {
			return
		}
		in.st.CacheQuotes(map[string]Quote{q.TokenID: q})
		if mid, ok := q.Mid(); ok {
			in.record(q.TokenID, time.Now(), mid)
		}
	case rtds.TypePriceChange:
		p, err := rtds.DecodePriceChange(msg)
		if err != nil {
			return
		}
		bid, errB := micros.Parse(p.BestBid)
		ask, errA := micros.Parse(p.BestAsk)
		if errB != nil || errA != nil || bid == 0 || ask == 0 {
			return
		}
		in.record(p.AssetID, time.Now(), (bid+ask)/2)
	}
}

// record appends a price point, throttled per instrument, and keeps any sim
// position marked at the latest price.
func (in *Ingest) record(tokenID string, now time.Time, priceMicros uint64) {
	if last, ok := in.lastAdd[tokenID]; ok && now.Sub(last) < in.cfg.PollInterval {
		return
	}
	in.lastAdd[tokenID] = now
	meta := in.st.Meta(tokenID)
	in.st.AddPrice(tokenID, now, priceMicros, meta.EventSlug, meta.Outcome)
	if in.st.SimulationMode() {
		in.st.UpdatePositionPrice(tokenID, priceMicros)
	}
	// Ticks feed the replay tool.
	logTradeEvent(in.events, tradeLogEvent{
		TsMs:        now.UnixMilli(),
		Event:       "price",
		TokenID:     tokenID,
		EventSlug:   meta.EventSlug,
		Outcome:     meta.Outcome,
		PriceMicros: priceMicros,
	})
}

func quoteFromBookPayload(p rtds.BookPayload) (Quote, bool) {
	if p.AssetID == "" {
		return Quote{}, false
	}
	q := Quote{TokenID: p.AssetID, FetchedAt: time.Now()}
	// Payload sides are sorted away from the touch; the best level is last.
	if len(p.Bids) > 0 {
		lvl := p.Bids[len(p.Bids)-1]
		if price, err := micros.Parse(lvl.Price); err == nil && price > 0 {
			size, _ := micros.Parse(lvl.Size)
			q.BidMicros, q.BidSizeMicros, q.HasBid = price, size, true
			q.MaxBidMicros = price
		}
	}
	if len(p.Asks) > 0 {
		lvl := p.Asks[len(p.Asks)-1]
		if price, err := micros.Parse(lvl.Price); err == nil && price > 0 {
			size, _ := micros.Parse(lvl.Size)
			q.AskMicros, q.AskSizeMicros, q.HasAsk = price, size, true
			q.MinAskMicros = price
		}
	}
	return q, q.HasBid || q.HasAsk
}
