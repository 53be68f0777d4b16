package micros

import (
	"math"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{"0", 0},
		{"1", 1_000_000},
		{"1.0", 1_000_000},
		{"0.55", 550_000},
		{".5", 500_000},
		{"1.000001", 1_000_001},
		{"1.0000019", 1_000_001}, // truncate beyond 6dp
		{"  0.0100 ", 10_000},
		{"+2.5", 2_500_000},
	}

	for _, tt := range tests {
		got, err := Parse(tt.in)
		if err != nil {
			t.Fatalf("Parse(%q) unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("Parse(%q)=%d want %d", tt.in, got, tt.want)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	bad := []string{
		"",
		"   ",
		"-1",
		"1.2.3",
		"abc",
		"1-2",
		".",
		"+",
	}
	for _, in := range bad {
		if _, err := Parse(in); err == nil {
			t.Fatalf("Parse(%q) expected error", in)
		}
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0"},
		{1_000_000, "1"},
		{550_000, "0.55"},
		{1_000_001, "1.000001"},
		{12_340_000, "12.34"},
	}
	for _, tt := range tests {
		if got := Format(tt.in); got != tt.want {
			t.Fatalf("Format(%d)=%q want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatSigned(t *testing.T) {
	if got := FormatSigned(-550_000); got != "-0.55" {
		t.Fatalf("FormatSigned(-550000)=%q", got)
	}
	if got := FormatSigned(550_000); got != "0.55" {
		t.Fatalf("FormatSigned(550000)=%q", got)
	}
}

func TestMulDiv(t *testing.T) {
	if got := MulDiv(3_000_000, 500_000, Scale); got != 1_500_000 {
		t.Fatalf("MulDiv small=%d", got)
	}
	// Overflowing intermediate: (2^63)*4/2 saturates the 64-bit product path
	// and must fall back to exact big.Int division.
	a := uint64(1) << 63
	if got := MulDiv(a, 4, 2); got != math.MaxUint64 {
		t.Fatalf("MulDiv overflow=%d want MaxUint64", got)
	}
	if got := MulDiv(a, 2, 4); got != uint64(1)<<62 {
		t.Fatalf("MulDiv exact=%d want %d", got, uint64(1)<<62)
	}
}

func TestCostAndShares(t *testing.T) {
	cost := CostForShares(10_000_000, 550_000) // 10 shares @ 0.55
	if cost != 5_500_000 {
		t.Fatalf("CostForShares=%d want 5500000", cost)
	}
	shares := SharesFromSpend(5_500_000, 550_000)
	if shares != 10_000_000 {
		t.Fatalf("SharesFromSpend=%d want 10000000", shares)
	}
	if SharesFromSpend(1_000_000, 0) != 0 {
		t.Fatalf("SharesFromSpend at zero price must be 0")
	}
}

func TestFromFloat(t *testing.T) {
	if got := FromFloat(0.55); got != 550_000 {
		t.Fatalf("FromFloat(0.55)=%d", got)
	}
	if got := FromFloat(-1); got != 0 {
		t.Fatalf("FromFloat(-1)=%d want 0", got)
	}
	if got := FromFloat(math.NaN()); got != 0 {
		t.Fatalf("FromFloat(NaN)=%d want 0", got)
	}
}
