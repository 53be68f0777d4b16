package clob

import "testing"

func TestCanonicalDecimalString(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"0.01", "0.01"},
		{"0.0100", "0.01"},
		{".01", "0.01"},
		{" 0.1 ", "0.1"},
		{"1.000", "1"},
		{"5", "5"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := canonicalDecimalString(tc.in); got != tc.want {
			t.Fatalf("canonicalDecimalString(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}
