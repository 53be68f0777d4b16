package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "engine.json")

	want := Snapshot{
		Simulation:       true,
		SimBalanceMicros: 987_650_000,
		OpenTrades: []Trade{{
			TokenID:          "tok",
			EntryPriceMicros: 450_000,
			EntryTime:        time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
			AmountMicros:     10_000_000,
			SharesMicros:     22_222_222,
			Reason:           "spike up +0.05",
		}},
		SimPositions: []Position{{
			TokenID:        "tok",
			EventSlug:      "game",
			AvgPriceMicros: 450_000,
			SharesMicros:   22_222_222,
		}},
		ScanCount: 1234,
	}

	if err := Save(path, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, found, err := Load(path)
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if got.SimBalanceMicros != want.SimBalanceMicros || got.ScanCount != want.ScanCount {
		t.Fatalf("got=%+v", got)
	}
	if len(got.OpenTrades) != 1 || got.OpenTrades[0] != want.OpenTrades[0] {
		t.Fatalf("trades=%+v", got.OpenTrades)
	}
	if len(got.SimPositions) != 1 || got.SimPositions[0] != want.SimPositions[0] {
		t.Fatalf("positions=%+v", got.SimPositions)
	}
	if got.SavedAt.IsZero() {
		t.Fatalf("save must stamp SavedAt")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, found, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil || found {
		t.Fatalf("missing file: found=%v err=%v", found, err)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{truncated"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if _, _, err := Load(path); err == nil {
		t.Fatalf("corrupt checkpoint must error")
	}
}

func TestSaveEmptyPathNoop(t *testing.T) {
	if err := Save("", Snapshot{}); err != nil {
		t.Fatalf("empty path must be a no-op: %v", err)
	}
}
