package clob

import (
	"context"
	"fmt"
	"math/big"
	"strings"
)

const collateralTokenDecimals = 6

// priceDecimalsByTickSize maps the venue's supported tick sizes to the number
// of price decimals they imply.
var priceDecimalsByTickSize = map[string]int{
	"0.1":    1,
	"0.01":   2,
	"0.001":  3,
	"0.0001": 4,
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// tickScaleFromTickSize returns 10^priceDecimals and priceDecimals for a
// canonical tick size string.
func tickScaleFromTickSize(tickSize string) (*big.Int, int, error) {
	dec, ok := priceDecimalsByTickSize[strings.TrimSpace(tickSize)]
	if !ok {
		return nil, 0, fmt.Errorf("unsupported tickSize %q", tickSize)
	}
	return pow10(dec), dec, nil
}

// parseDecimalToUnits converts a non-negative decimal string to integer units
// at the given precision. Extra fractional digits are truncated; for depth
// math, under-estimating is the safe direction.
func parseDecimalToUnits(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty decimal string")
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("negative not supported: %q", s)
	}

	whole, frac, _ := strings.Cut(s, ".")
	if strings.Contains(frac, ".") {
		return nil, fmt.Errorf("invalid decimal: %q", s)
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		frac = frac[:decimals]
	}
	frac += strings.Repeat("0", decimals-len(frac))

	units, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, fmt.Errorf("invalid whole part: %q", s)
	}
	units.Mul(units, pow10(decimals))
	if frac != "" {
		f, ok := new(big.Int).SetString(frac, 10)
		if !ok {
			return nil, fmt.Errorf("invalid fractional part: %q", s)
		}
		units.Add(units, f)
	}
	return units, nil
}

func roundStep(keepDecimals int) *big.Int {
	if keepDecimals < 0 {
		keepDecimals = 0
	}
	return pow10(collateralTokenDecimals - keepDecimals)
}

func roundDownUnits(units *big.Int, keepDecimals int) *big.Int {
	if units == nil {
		return nil
	}
	if keepDecimals >= collateralTokenDecimals {
		return new(big.Int).Set(units)
	}
	step := roundStep(keepDecimals)
	q := new(big.Int).Div(units, step)
	return q.Mul(q, step)
}

func roundNearestUnits(units *big.Int, keepDecimals int) *big.Int {
	if units == nil {
		return nil
	}
	if keepDecimals >= collateralTokenDecimals {
		return new(big.Int).Set(units)
	}
	step := roundStep(keepDecimals)
	q := new(big.Int).Add(units, new(big.Int).Rsh(step, 1))
	q.Div(q, step)
	return q.Mul(q, step)
}

// CalculateMarketPrice walks the book away from the touch until cumulative
// depth covers amountUnits, and returns the price level that fills the order
// plus the book's canonical tick size. Book sides arrive sorted away from the
// touch, so the walk runs from the last element backward. For FOK orders
// insufficient depth is an error; other order types fall back to the worst
// listed level.
func (c *Client) CalculateMarketPrice(ctx context.Context, tokenID string, side Side, amountUnits *big.Int, orderType OrderType) (string, string, error) {
	book, err := c.GetOrderBook(ctx, tokenID)
	if err != nil {
		return "", "", err
	}
	if book == nil {
		return "", "", fmt.Errorf("no orderbook")
	}
	tickSize := canonicalDecimalString(book.TickSize)
	scale, priceDecimals, err := tickScaleFromTickSize(tickSize)
	if err != nil {
		return "", "", err
	}

	var levels []OrderSummary
	switch side {
	case SideBuy:
		levels = book.Asks
	case SideSell:
		levels = book.Bids
	default:
		return "", "", fmt.Errorf("invalid side %q", side)
	}
	if len(levels) == 0 {
		return "", "", fmt.Errorf("no %s depth", map[Side]string{SideBuy: "ask", SideSell: "bid"}[side])
	}

	// Buys spend collateral, so depth accumulates as size*price; sells spend
	// shares, so raw size is enough.
	sum := new(big.Int)
	for i := len(levels) - 1; i >= 0; i-- {
		lvl := levels[i]
		sizeUnits, err := parseDecimalToUnits(lvl.Size, collateralTokenDecimals)
		if err != nil {
			return "", "", fmt.Errorf("parse level size %q: %w", lvl.Size, err)
		}
		if side == SideBuy {
			priceTicks, err := parseDecimalToUnits(lvl.Price, priceDecimals)
			if err != nil {
				return "", "", fmt.Errorf("parse level price %q: %w", lvl.Price, err)
			}
			value := new(big.Int).Mul(sizeUnits, priceTicks)
			sum.Add(sum, value.Div(value, scale))
		} else {
			sum.Add(sum, sizeUnits)
		}
		if sum.Cmp(amountUnits) >= 0 {
			return lvl.Price, tickSize, nil
		}
	}

	if orderType == OrderTypeFOK {
		return "", "", fmt.Errorf("insufficient depth for amount")
	}
	return levels[0].Price, tickSize, nil
}
