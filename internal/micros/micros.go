package micros

import (
	"fmt"
	"math"
	"math/big"
	"math/bits"
	"strings"
)

// Scale is the fixed-point scale for prices, shares and USD amounts (1e6).
const Scale = uint64(1_000_000)

// Cent is one cent of collateral in micro units.
const Cent = Scale / 100

// MulDiv computes a*b/div with an exact 128-bit intermediate.
func MulDiv(a, b, div uint64) uint64 {
	if div == 0 {
		panic("micros.MulDiv: div=0")
	}

	hi, lo := bits.Mul64(a, b)
	if hi == 0 {
		return lo / div
	}

	var x big.Int
	x.SetUint64(hi)
	x.Lsh(&x, 64)

	var y big.Int
	y.SetUint64(lo)
	x.Add(&x, &y)

	var d big.Int
	d.SetUint64(div)
	x.Div(&x, &d)

	if x.IsUint64() {
		return x.Uint64()
	}
	return math.MaxUint64
}

// CostForShares returns the collateral (in micros) required to buy
// sharesMicros shares at priceMicros.
func CostForShares(sharesMicros, priceMicros uint64) uint64 {
	return MulDiv(sharesMicros, priceMicros, Scale)
}

// SharesFromSpend returns the maximum shares (in micros) that spendMicros
// collateral buys at priceMicros.
func SharesFromSpend(spendMicros, priceMicros uint64) uint64 {
	if priceMicros == 0 {
		return 0
	}
	return MulDiv(spendMicros, Scale, priceMicros)
}

// Parse parses a base-10 decimal string into integer micro units.
//
// Examples:
//   - "1"        -> 1_000_000
//   - "0.55"     ->   550_000
//   - ".5"       ->   500_000
//   - "1.000001" -> 1_000_001
//
// If the input has more than 6 fractional digits, extra digits are truncated
// (not rounded).
func Parse(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty decimal")
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("negative not supported: %q", s)
	}
	if strings.HasPrefix(s, "+") {
		s = strings.TrimSpace(s[1:])
		if s == "" {
			return 0, fmt.Errorf("invalid decimal")
		}
	}

	var whole uint64
	var frac uint64
	fracDigits := 0
	seenDot := false
	seenDigit := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '.':
			if seenDot {
				return 0, fmt.Errorf("invalid decimal %q", s)
			}
			seenDot = true
		case c >= '0' && c <= '9':
			d := uint64(c - '0')
			seenDigit = true
			if !seenDot {
				if whole > (math.MaxUint64-d)/10 {
					return 0, fmt.Errorf("decimal overflow %q", s)
				}
				whole = whole*10 + d
				continue
			}
			if fracDigits < 6 {
				if frac > (math.MaxUint64-d)/10 {
					return 0, fmt.Errorf("decimal overflow %q", s)
				}
				frac = frac*10 + d
				fracDigits++
			}
			// Truncate extra fractional digits.
		default:
			return 0, fmt.Errorf("invalid decimal %q", s)
		}
	}

	if !seenDigit {
		return 0, fmt.Errorf("invalid decimal %q", s)
	}
	for fracDigits < 6 {
		frac *= 10
		fracDigits++
	}
	if whole > (math.MaxUint64-frac)/Scale {
		return 0, fmt.Errorf("decimal overflow %q", s)
	}
	return whole*Scale + frac, nil
}

// Format renders m as a decimal string with trailing zeros trimmed.
func Format(m uint64) string {
	whole := m / Scale
	frac := m % Scale
	if frac == 0 {
		return fmt.Sprintf("%d", whole)
	}
	fs := fmt.Sprintf("%06d", frac)
	fs = strings.TrimRight(fs, "0")
	return fmt.Sprintf("%d.%s", whole, fs)
}

// FormatSigned renders a signed micro amount (PnL values).
func FormatSigned(m int64) string {
	if m < 0 {
		return "-" + Format(uint64(-m))
	}
	return Format(uint64(m))
}

// FromFloat converts a non-negative float to micros, rounding to nearest.
// Values that do not fit return 0.
func FromFloat(v float64) uint64 {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	scaled := math.Round(v * float64(Scale))
	if scaled >= float64(math.MaxUint64) {
		return 0
	}
	return uint64(scaled)
}

// ToFloat converts micros to a float. Intended for statistics only; trade
// accounting stays in integer micros.
func ToFloat(m uint64) float64 {
	return float64(m) / float64(Scale)
}
