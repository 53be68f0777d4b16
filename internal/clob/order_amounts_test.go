package clob

import (
	"math/big"
	"testing"
)

func TestComputeMarketOrderAmountsPrecision(t *testing.T) {
	// Venue rails for market orders: maker amounts round to 2 decimals,
	// taker amounts to 4, regardless of the book's tick size.
	cases := []struct {
		name       string
		side       Side
		makerIn    int64
		priceTicks int64
		priceScale int64
	}{
		{name: "buy_tick_0.01", side: SideBuy, makerIn: 1_234_567, priceTicks: 37, priceScale: 100},
		{name: "sell_tick_0.01", side: SideSell, makerIn: 9_876_543, priceTicks: 37, priceScale: 100},
		{name: "buy_tick_0.001", side: SideBuy, makerIn: 1_234_567, priceTicks: 512, priceScale: 1_000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			maker, taker, err := computeMarketOrderAmountsFromPrice(
				tc.side, big.NewInt(tc.makerIn), big.NewInt(tc.priceTicks), big.NewInt(tc.priceScale))
			if err != nil {
				t.Fatalf("compute: %v", err)
			}
			if maker.Sign() <= 0 || taker.Sign() <= 0 {
				t.Fatalf("non-positive amounts: maker=%s taker=%s", maker, taker)
			}
			if new(big.Int).Mod(maker, big.NewInt(10_000)).Sign() != 0 {
				t.Fatalf("maker %s not a 2dp multiple", maker)
			}
			if new(big.Int).Mod(taker, big.NewInt(100)).Sign() != 0 {
				t.Fatalf("taker %s not a 4dp multiple", taker)
			}
		})
	}
}

func TestComputeMarketOrderAmountsBuyRoundsMakerToNearestCent(t *testing.T) {
	// A $0.999999 buy must round to $1.00, not floor to $0.99; flooring used
	// to trip the venue's minimum order size.
	maker, taker, err := computeMarketOrderAmountsFromPrice(
		SideBuy, big.NewInt(999_999), big.NewInt(10), big.NewInt(100))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if maker.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("maker = %s, want 1000000", maker)
	}
	// $1.00 at $0.10 buys exactly 10 shares.
	if taker.Cmp(big.NewInt(10_000_000)) != 0 {
		t.Fatalf("taker = %s, want 10000000", taker)
	}
}

func TestComputeMarketOrderAmountsSellRoundsMakerDown(t *testing.T) {
	// Sells can never offer more shares than held, so maker rounds down.
	maker, _, err := computeMarketOrderAmountsFromPrice(
		SideSell, big.NewInt(1_239_999), big.NewInt(50), big.NewInt(100))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if maker.Cmp(big.NewInt(1_230_000)) != 0 {
		t.Fatalf("maker = %s, want 1230000", maker)
	}
}
