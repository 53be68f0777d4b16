package book

import (
	"sort"

	"poly-spiketrader/internal/micros"
)

// Level is one price+size bucket of an order book side.
// Both price and size are in micro units (1e6 scale).
type Level struct {
	PriceMicros  uint64
	SharesMicros uint64
}

// NormalizeAsks returns levels sorted ascending by price, with same-price
// levels merged and zero levels removed. Use for the ask side, where the
// cheapest level fills first.
func NormalizeAsks(levels []Level) []Level {
	return normalize(levels, func(a, b Level) bool {
		if a.PriceMicros == b.PriceMicros {
			return a.SharesMicros < b.SharesMicros
		}
		return a.PriceMicros < b.PriceMicros
	})
}

// NormalizeBids returns levels sorted descending by price, with same-price
// levels merged and zero levels removed. Use for the bid side, where the
// highest level fills first.
func NormalizeBids(levels []Level) []Level {
	return normalize(levels, func(a, b Level) bool {
		if a.PriceMicros == b.PriceMicros {
			return a.SharesMicros < b.SharesMicros
		}
		return a.PriceMicros > b.PriceMicros
	})
}

func normalize(levels []Level, less func(a, b Level) bool) []Level {
	out := make([]Level, 0, len(levels))
	for _, l := range levels {
		if l.PriceMicros == 0 || l.SharesMicros == 0 {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	merged := out[:0]
	for _, l := range out {
		if len(merged) == 0 || merged[len(merged)-1].PriceMicros != l.PriceMicros {
			merged = append(merged, l)
			continue
		}
		merged[len(merged)-1].SharesMicros += l.SharesMicros
	}
	return merged
}

// Best returns the first level of a normalized side, if any.
func Best(levels []Level) (Level, bool) {
	if len(levels) == 0 {
		return Level{}, false
	}
	return levels[0], true
}

// TotalShares sums the size of all levels.
func TotalShares(levels []Level) uint64 {
	var sum uint64
	for _, l := range levels {
		sum += l.SharesMicros
	}
	return sum
}

// Mid returns the midpoint of the best bid and best ask of normalized sides.
// With one side missing it returns the available side; with both missing it
// returns false.
func Mid(bids, asks []Level) (uint64, bool) {
	bb, okB := Best(bids)
	ba, okA := Best(asks)
	switch {
	case okB && okA:
		return (bb.PriceMicros + ba.PriceMicros) / 2, true
	case okB:
		return bb.PriceMicros, true
	case okA:
		return ba.PriceMicros, true
	default:
		return 0, false
	}
}

// FilterByPrice keeps levels with minMicros <= price <= maxMicros.
func FilterByPrice(levels []Level, minMicros, maxMicros uint64) []Level {
	if len(levels) == 0 || minMicros == 0 || maxMicros == 0 || minMicros > maxMicros {
		return nil
	}
	filtered := make([]Level, 0, len(levels))
	for _, lvl := range levels {
		if lvl.PriceMicros == 0 || lvl.SharesMicros == 0 {
			continue
		}
		if lvl.PriceMicros < minMicros || lvl.PriceMicros > maxMicros {
			continue
		}
		filtered = append(filtered, lvl)
	}
	return filtered
}

// Fill is the result of walking depth: shares taken, collateral moved, the
// size-weighted average price and the worst level touched.
type Fill struct {
	SharesMicros    uint64
	CostMicros      uint64
	AvgPriceMicros  uint64
	LastPriceMicros uint64
	LevelsUsed      int
}

// FillBySpend walks normalized levels spending up to spendCapMicros
// collateral and returns the resulting fill. The last level may be consumed
// partially.
func FillBySpend(levels []Level, spendCapMicros uint64) Fill {
	if spendCapMicros == 0 || len(levels) == 0 {
		return Fill{}
	}
	remaining := spendCapMicros
	var shares, cost, lastPrice uint64
	levelsUsed := 0
	for _, lvl := range levels {
		if remaining == 0 {
			break
		}
		if lvl.PriceMicros == 0 || lvl.SharesMicros == 0 {
			continue
		}
		levelCost := micros.CostForShares(lvl.SharesMicros, lvl.PriceMicros)
		if levelCost <= remaining {
			shares += lvl.SharesMicros
			cost += levelCost
			remaining -= levelCost
			lastPrice = lvl.PriceMicros
			levelsUsed++
			continue
		}
		partialShares := micros.SharesFromSpend(remaining, lvl.PriceMicros)
		if partialShares == 0 {
			break
		}
		partialCost := micros.CostForShares(partialShares, lvl.PriceMicros)
		shares += partialShares
		cost += partialCost
		remaining = 0
		lastPrice = lvl.PriceMicros
		levelsUsed++
		break
	}
	return finishFill(shares, cost, lastPrice, levelsUsed)
}

// FillByShares walks normalized levels taking up to targetSharesMicros shares.
func FillByShares(levels []Level, targetSharesMicros uint64) Fill {
	if targetSharesMicros == 0 || len(levels) == 0 {
		return Fill{}
	}
	remaining := targetSharesMicros
	var shares, cost, lastPrice uint64
	levelsUsed := 0
	for _, lvl := range levels {
		if remaining == 0 {
			break
		}
		if lvl.PriceMicros == 0 || lvl.SharesMicros == 0 {
			continue
		}
		useShares := lvl.SharesMicros
		if useShares > remaining {
			useShares = remaining
		}
		useCost := micros.CostForShares(useShares, lvl.PriceMicros)
		shares += useShares
		cost += useCost
		remaining -= useShares
		lastPrice = lvl.PriceMicros
		levelsUsed++
	}
	return finishFill(shares, cost, lastPrice, levelsUsed)
}

func finishFill(shares, cost, lastPrice uint64, levelsUsed int) Fill {
	avg := uint64(0)
	if shares > 0 {
		avg = micros.MulDiv(cost, micros.Scale, shares)
	}
	return Fill{
		SharesMicros:    shares,
		CostMicros:      cost,
		AvgPriceMicros:  avg,
		LastPriceMicros: lastPrice,
		LevelsUsed:      levelsUsed,
	}
}
