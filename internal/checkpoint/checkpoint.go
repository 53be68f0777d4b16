package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Trade is one open trade carried across restarts.
type Trade struct {
	TokenID          string    `json:"token_id"`
	EntryPriceMicros uint64    `json:"entry_price_micros"`
	EntryTime        time.Time `json:"entry_time"`
	AmountMicros     uint64    `json:"amount_micros"`
	SharesMicros     uint64    `json:"shares_micros"`
	Reason           string    `json:"reason,omitempty"`
}

// Position is one simulated holding carried across restarts.
type Position struct {
	TokenID           string `json:"token_id"`
	EventSlug         string `json:"event_slug,omitempty"`
	Outcome           string `json:"outcome,omitempty"`
	AvgPriceMicros    uint64 `json:"avg_price_micros"`
	SharesMicros      uint64 `json:"shares_micros"`
	RealizedPnLMicros int64  `json:"realized_pnl_micros,omitempty"`
}

// Snapshot is the engine state persisted between runs: the simulated ledger
// plus every open trade. Live-mode positions are venue-authoritative and are
// not checkpointed.
type Snapshot struct {
	SavedAt          time.Time  `json:"saved_at"`
	Simulation       bool       `json:"simulation"`
	SimBalanceMicros uint64     `json:"sim_balance_micros"`
	OpenTrades       []Trade    `json:"open_trades,omitempty"`
	SimPositions     []Position `json:"sim_positions,omitempty"`
	ScanCount        uint64     `json:"scan_count,omitempty"`
}

// Load reads a snapshot. A missing file is not an error; the second return
// reports whether a snapshot existed.
func Load(path string) (Snapshot, bool, error) {
	if path == "" {
		return Snapshot{}, false, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}

	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	return snap, true, nil
}

// Save writes the snapshot atomically: a temp file in the same directory is
// renamed over the target so a crash mid-write never truncates the previous
// checkpoint.
func Save(path string, snap Snapshot) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now().UTC()
	}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
