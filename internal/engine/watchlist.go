package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"poly-spiketrader/internal/dataapi"
	"poly-spiketrader/internal/gamma"
	"poly-spiketrader/internal/micros"
)

// SlugResolver resolves a market slug to its binary token pair.
type SlugResolver interface {
	ResolveMarketBySlug(ctx context.Context, eventSlug string) (gamma.ResolvedMarket, error)
}

// PositionSource lists on-chain holdings for a wallet.
type PositionSource interface {
	GetPositions(ctx context.Context, params dataapi.PositionsParams) ([]dataapi.Position, error)
}

// Watchlist populates the pairing table from the configured discovery mode
// and, in live mode, keeps venue positions mirrored into shared state.
type Watchlist struct {
	cfg       *Config
	st        *State
	resolver  SlugResolver
	positions PositionSource
	user      string
}

func NewWatchlist(cfg *Config, st *State, resolver SlugResolver, positions PositionSource, user string) *Watchlist {
	return &Watchlist{cfg: cfg, st: st, resolver: resolver, positions: positions, user: user}
}

// Resolve fills the pairing table once at startup.
func (w *Watchlist) Resolve(ctx context.Context) error {
	switch w.cfg.WatchMode {
	case WatchPairs:
		return w.resolvePairs()
	case WatchSlugs:
		return w.resolveSlugs(ctx)
	case WatchPositions:
		return w.resolveFromPositions(ctx)
	default:
		return fmt.Errorf("unknown watch mode %q", w.cfg.WatchMode)
	}
}

func (w *Watchlist) resolvePairs() error {
	for _, entry := range w.cfg.WatchPairs {
		a, b, ok := strings.Cut(entry, ":")
		a, b = strings.TrimSpace(a), strings.TrimSpace(b)
		if !ok || a == "" || b == "" {
			return fmt.Errorf("invalid token pair %q", entry)
		}
		w.st.RegisterPair(a, b, AssetMeta{}, AssetMeta{})
	}
	log.Printf("[cfg] tracking %d explicit pair(s)", len(w.cfg.WatchPairs))
	return nil
}

func (w *Watchlist) resolveSlugs(ctx context.Context) error {
	if w.resolver == nil {
		return fmt.Errorf("slug watch mode needs a resolver")
	}
	resolved := 0
	for _, slug := range w.cfg.WatchSlugs {
		m, err := w.resolver.ResolveMarketBySlug(ctx, slug)
		if err != nil {
			log.Printf("[warn] resolve %q: %v", slug, err)
			continue
		}
		metaA := AssetMeta{EventSlug: m.EventSlug}
		metaB := AssetMeta{EventSlug: m.EventSlug}
		if len(m.Outcomes) >= 2 {
			metaA.Outcome = m.Outcomes[0]
			metaB.Outcome = m.Outcomes[1]
		}
		w.st.RegisterPair(m.TokenIDs[0], m.TokenIDs[1], metaA, metaB)
		log.Printf("[cfg] tracking %q: %s / %s", slug, safePrefix(m.TokenIDs[0]), safePrefix(m.TokenIDs[1]))
		resolved++
	}
	if resolved == 0 {
		return fmt.Errorf("none of %d slug(s) resolved", len(w.cfg.WatchSlugs))
	}
	return nil
}

func (w *Watchlist) resolveFromPositions(ctx context.Context) error {
	if w.positions == nil || strings.TrimSpace(w.user) == "" {
		return fmt.Errorf("positions watch mode needs a data api client and wallet address")
	}
	held, err := w.positions.GetPositions(ctx, dataapi.PositionsParams{User: w.user})
	if err != nil {
		return err
	}
	n := 0
	for _, p := range held {
		if p.Asset == "" || p.OppositeAsset == "" || p.Size <= 0 {
			continue
		}
		w.st.RegisterPair(p.Asset, p.OppositeAsset,
			AssetMeta{EventSlug: p.EventSlug, Outcome: p.Outcome},
			AssetMeta{EventSlug: p.EventSlug, Outcome: p.OppositeOutcome})
		n++
	}
	if n == 0 {
		return fmt.Errorf("no positions with paired assets for %s", w.user)
	}
	log.Printf("[cfg] tracking %d pair(s) from current positions", n)
	return nil
}

// SyncPositions mirrors venue-reported holdings into shared state on the
// check cadence. Live mode only; the simulated ledger owns positions in sim.
func (w *Watchlist) SyncPositions(ctx context.Context) error {
	if w.st.SimulationMode() {
		<-w.st.Done()
		return nil
	}
	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		if err := w.syncOnce(ctx); err != nil {
			log.Printf("[warn] position sync: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.st.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Watchlist) syncOnce(ctx context.Context) error {
	if w.positions == nil || strings.TrimSpace(w.user) == "" {
		return fmt.Errorf("position sync needs a data api client and wallet address")
	}
	held, err := w.positions.GetPositions(ctx, dataapi.PositionsParams{User: w.user})
	if err != nil {
		return err
	}
	next := make(map[string][]Position)
	for _, p := range held {
		if p.Asset == "" || p.Size <= 0 {
			continue
		}
		pos := Position{
			EventSlug:          p.EventSlug,
			Outcome:            p.Outcome,
			TokenID:            p.Asset,
			AvgPriceMicros:     micros.FromFloat(p.AvgPrice),
			SharesMicros:       micros.FromFloat(p.Size),
			CurrentPriceMicros: micros.FromFloat(p.CurPrice),
			InitialValueMicros: micros.FromFloat(p.InitialValue),
			CurrentValueMicros: micros.FromFloat(p.CurrentValue),
			RealizedPnLMicros:  int64(p.RealizedPnl * float64(micros.Scale)),
		}
		pos.PnLMicros = int64(pos.CurrentValueMicros) - int64(pos.InitialValueMicros)
		if pos.InitialValueMicros > 0 {
			pos.PnLBps = pos.PnLMicros * 10_000 / int64(pos.InitialValueMicros)
		}
		next[p.EventSlug] = append(next[p.EventSlug], pos)
	}
	w.st.ReplacePositions(next)
	return nil
}
