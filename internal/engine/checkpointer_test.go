package engine

import (
	"testing"
	"time"

	"poly-spiketrader/internal/checkpoint"
)

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	src := NewState(cfg.HistorySize, cfg.MaxConcurrentTrades, true, 1_000_000_000)
	src.SetSimBalance(975_000_000)
	src.UpsertSimPosition("yes", AssetMeta{EventSlug: "game", Outcome: "Yes"}, 450_000, 20_000_000, 450_000)
	if !src.TryReserveTradeSlot() {
		t.Fatalf("setup slot")
	}
	src.AddActiveTrade("yes", ActiveTrade{
		EntryPriceMicros: 450_000,
		EntryTime:        time.Now().Add(-time.Minute),
		AmountMicros:     9_000_000,
		SharesMicros:     20_000_000,
		BotTriggered:     true,
		Reason:           "spike up +0.05",
	})

	snap := SnapshotState(src)
	if snap.SimBalanceMicros != 975_000_000 || len(snap.OpenTrades) != 1 || len(snap.SimPositions) != 1 {
		t.Fatalf("snap=%+v", snap)
	}

	dst := NewState(cfg.HistorySize, cfg.MaxConcurrentTrades, true, 0)
	RestoreState(dst, snap)

	if got := dst.SimBalanceMicros(); got != 975_000_000 {
		t.Fatalf("balance=%d", got)
	}
	trade, ok := dst.ActiveTrade("yes")
	if !ok || trade.SharesMicros != 20_000_000 || !trade.BotTriggered {
		t.Fatalf("trade=%+v ok=%v", trade, ok)
	}
	if dst.ReservedSlots() != 1 {
		t.Fatalf("restored trade must hold a slot")
	}
	pos, ok := dst.PositionByToken("yes")
	if !ok || pos.AvgPriceMicros != 450_000 || pos.SharesMicros != 20_000_000 {
		t.Fatalf("pos=%+v ok=%v", pos, ok)
	}
}

func TestRestoreDropsTradesBeyondSlots(t *testing.T) {
	cfg := DefaultConfig()
	snap := SnapshotState(NewState(cfg.HistorySize, 1, true, 0))
	snap.Simulation = true
	for _, id := range []string{"a", "b", "c"} {
		snap.OpenTrades = append(snap.OpenTrades, checkpoint.Trade{
			TokenID:          id,
			EntryPriceMicros: 450_000,
			SharesMicros:     10_000_000,
		})
	}

	dst := NewState(cfg.HistorySize, 1, true, 0)
	RestoreState(dst, snap)

	if len(dst.ActiveTrades()) != 1 || dst.ReservedSlots() != 1 {
		t.Fatalf("trades=%v slots=%d want one of each", dst.ActiveTrades(), dst.ReservedSlots())
	}
}
