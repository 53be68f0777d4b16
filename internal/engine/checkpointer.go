package engine

import (
	"context"
	"log"
	"time"

	"poly-spiketrader/internal/checkpoint"
	"poly-spiketrader/internal/jsonl"
)

// Checkpointer persists the simulated ledger and open trades on a fixed
// cadence and once more at shutdown.
type Checkpointer struct {
	cfg    *Config
	st     *State
	events *jsonl.Writer
}

func NewCheckpointer(cfg *Config, st *State, events *jsonl.Writer) *Checkpointer {
	return &Checkpointer{cfg: cfg, st: st, events: events}
}

func (c *Checkpointer) Run(ctx context.Context) error {
	if c.cfg.CheckpointPath == "" {
		<-c.st.Done()
		return nil
	}
	ticker := time.NewTicker(c.cfg.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.saveOnce()
			return ctx.Err()
		case <-c.st.Done():
			c.saveOnce()
			return nil
		case <-ticker.C:
			c.saveOnce()
		}
	}
}

func (c *Checkpointer) saveOnce() {
	snap := SnapshotState(c.st)
	if err := checkpoint.Save(c.cfg.CheckpointPath, snap); err != nil {
		log.Printf("[warn] checkpoint save: %v", err)
		return
	}
	logTradeEvent(c.events, tradeLogEvent{
		Event:         "checkpoint",
		Mode:          modeLabel(c.st.SimulationMode()),
		BalanceMicros: snap.SimBalanceMicros,
	})
}

// SnapshotState collects everything worth carrying across a restart.
func SnapshotState(st *State) checkpoint.Snapshot {
	snap := checkpoint.Snapshot{
		Simulation:       st.SimulationMode(),
		SimBalanceMicros: st.SimBalanceMicros(),
		ScanCount:        st.ScanCount(),
	}
	for tokenID, trade := range st.ActiveTrades() {
		snap.OpenTrades = append(snap.OpenTrades, checkpoint.Trade{
			TokenID:          tokenID,
			EntryPriceMicros: trade.EntryPriceMicros,
			EntryTime:        trade.EntryTime,
			AmountMicros:     trade.AmountMicros,
			SharesMicros:     trade.SharesMicros,
			Reason:           trade.Reason,
		})
	}
	if st.SimulationMode() {
		for _, ps := range st.Positions() {
			for _, p := range ps {
				snap.SimPositions = append(snap.SimPositions, checkpoint.Position{
					TokenID:           p.TokenID,
					EventSlug:         p.EventSlug,
					Outcome:           p.Outcome,
					AvgPriceMicros:    p.AvgPriceMicros,
					SharesMicros:      p.SharesMicros,
					RealizedPnLMicros: p.RealizedPnLMicros,
				})
			}
		}
	}
	return snap
}

// RestoreState replays a snapshot into fresh state: ledger, positions, and
// open trades with their slots re-reserved. Trades beyond the configured
// slot ceiling are dropped with a warning rather than over-committing.
func RestoreState(st *State, snap checkpoint.Snapshot) {
	if snap.Simulation && st.SimulationMode() {
		st.SetSimBalance(snap.SimBalanceMicros)
		for _, p := range snap.SimPositions {
			st.UpsertSimPosition(p.TokenID,
				AssetMeta{EventSlug: p.EventSlug, Outcome: p.Outcome},
				p.AvgPriceMicros, p.SharesMicros, p.AvgPriceMicros)
		}
	}
	for _, tr := range snap.OpenTrades {
		if !st.TryReserveTradeSlot() {
			log.Printf("[warn] checkpoint trade %s dropped: no slot", safePrefix(tr.TokenID))
			continue
		}
		st.AddActiveTrade(tr.TokenID, ActiveTrade{
			EntryPriceMicros: tr.EntryPriceMicros,
			EntryTime:        tr.EntryTime,
			AmountMicros:     tr.AmountMicros,
			SharesMicros:     tr.SharesMicros,
			BotTriggered:     true,
			Reason:           tr.Reason,
		})
		st.MarkBoughtOnce(tr.TokenID)
	}
}
