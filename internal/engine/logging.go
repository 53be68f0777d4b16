package engine

import (
	"log"
	"time"

	"poly-spiketrader/internal/jsonl"
)

// tradeLogEvent is one JSONL record in the engine's event log. Event names:
// engine_start, spike, entry_skipped, buy_submit, buy_result, sell_submit,
// sell_result, exit, pair_entry, pair_exit, mm_quote, worker_restart,
// checkpoint, engine_stop.
type tradeLogEvent struct {
	TsMs  int64  `json:"ts_ms"`
	Event string `json:"event"`

	Mode     string `json:"mode,omitempty"` // sim | live
	Source   string `json:"source,omitempty"`
	Strategy string `json:"strategy,omitempty"`

	EventSlug string `json:"event_slug,omitempty"`
	Outcome   string `json:"outcome,omitempty"`

	TokenID     string `json:"token_id,omitempty"`
	PairTokenID string `json:"pair_token_id,omitempty"`
	Side        string `json:"side,omitempty"`

	PriceMicros  uint64 `json:"price_micros,omitempty"`
	DeltaMicros  int64  `json:"delta_micros,omitempty"`
	SpendMicros  uint64 `json:"spend_micros,omitempty"`
	SharesMicros uint64 `json:"shares_micros,omitempty"`
	CostMicros   uint64 `json:"cost_micros,omitempty"`

	PnLMicros int64 `json:"pnl_micros,omitempty"`
	PnLBps    int64 `json:"pnl_bps,omitempty"`

	BalanceMicros uint64 `json:"balance_micros,omitempty"`

	Reason string `json:"reason,omitempty"`
	Worker string `json:"worker,omitempty"`

	Ok  bool   `json:"ok,omitempty"`
	Err string `json:"err,omitempty"`

	UptimeMs int64 `json:"uptime_ms,omitempty"`
}

func modeLabel(simulation bool) string {
	if simulation {
		return "sim"
	}
	return "live"
}

func logTradeEvent(w *jsonl.Writer, ev tradeLogEvent) {
	if w == nil {
		return
	}
	if ev.TsMs == 0 {
		ev.TsMs = time.Now().UnixMilli()
	}
	if err := w.Write(ev); err != nil {
		log.Printf("[warn] trade log write failed: %v", err)
	}
}

func uptimeMs(startedAt time.Time) int64 {
	return time.Since(startedAt).Milliseconds()
}
