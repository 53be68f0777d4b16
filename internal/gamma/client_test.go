package gamma

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestResolveMarketBySlugStringifiedArrays(t *testing.T) {
	// gamma frequently returns list fields as a JSON string wrapping a JSON array.
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("slug"); got != "btc-up-or-down" {
			t.Fatalf("slug query = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"slug":"btc-up-or-down","markets":[
			{"slug":"btc-up-or-down","outcomes":"[\"Up\",\"Down\"]","clobTokenIds":"[\"111\",\"222\"]"}
		]}]`))
	})

	rm, err := c.ResolveMarketBySlug(context.Background(), "btc-up-or-down")
	if err != nil {
		t.Fatalf("ResolveMarketBySlug: %v", err)
	}
	if rm.EventSlug != "btc-up-or-down" {
		t.Fatalf("EventSlug = %q", rm.EventSlug)
	}
	if len(rm.TokenIDs) != 2 || rm.TokenIDs[0] != "111" || rm.TokenIDs[1] != "222" {
		t.Fatalf("TokenIDs = %v", rm.TokenIDs)
	}
	if len(rm.Outcomes) != 2 || rm.Outcomes[0] != "Up" || rm.Outcomes[1] != "Down" {
		t.Fatalf("Outcomes = %v", rm.Outcomes)
	}
}

func TestResolveMarketBySlugPlainArrays(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"slug":"eth-up-or-down","markets":[
			{"slug":"eth-up-or-down","outcomes":["Up","Down"],"clobTokenIds":["333","444"]}
		]}]`))
	})

	rm, err := c.ResolveMarketBySlug(context.Background(), "eth-up-or-down")
	if err != nil {
		t.Fatalf("ResolveMarketBySlug: %v", err)
	}
	if len(rm.TokenIDs) != 2 || rm.TokenIDs[0] != "333" || rm.TokenIDs[1] != "444" {
		t.Fatalf("TokenIDs = %v", rm.TokenIDs)
	}
}

func TestResolveMarketBySlugPrefersExactMarket(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"slug":"sol-weekly","markets":[
			{"slug":"sol-weekly-other","outcomes":["Yes","No"],"clobTokenIds":["1","2"]},
			{"slug":"sol-weekly","outcomes":["Yes","No"],"clobTokenIds":["9","10"]}
		]}]`))
	})

	rm, err := c.ResolveMarketBySlug(context.Background(), "sol-weekly")
	if err != nil {
		t.Fatalf("ResolveMarketBySlug: %v", err)
	}
	if rm.TokenIDs[0] != "9" || rm.TokenIDs[1] != "10" {
		t.Fatalf("TokenIDs = %v, want exact-slug market", rm.TokenIDs)
	}
}

func TestResolveMarketBySlugFallsBackToBinaryMarket(t *testing.T) {
	// No market slug matches the event slug; the first binary market wins.
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"slug":"election","markets":[
			{"slug":"election-multi","outcomes":["A","B","C"],"clobTokenIds":["1","2","3"]},
			{"slug":"election-binary","outcomes":["Yes","No"],"clobTokenIds":["7","8"]}
		]}]`))
	})

	rm, err := c.ResolveMarketBySlug(context.Background(), "election")
	if err != nil {
		t.Fatalf("ResolveMarketBySlug: %v", err)
	}
	if rm.TokenIDs[0] != "7" || rm.TokenIDs[1] != "8" {
		t.Fatalf("TokenIDs = %v, want binary fallback market", rm.TokenIDs)
	}
}

func TestResolveMarketBySlugErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	})
	if _, err := c.ResolveMarketBySlug(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown slug")
	}
	if _, err := c.ResolveMarketBySlug(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty slug")
	}
}

func TestFlexStringsForms(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{`["a","b"]`, []string{"a", "b"}},
		{`"[\"a\",\"b\"]"`, []string{"a", "b"}},
		{`null`, nil},
		{`""`, nil},
	}
	for _, tc := range cases {
		var got flexStrings
		if err := got.UnmarshalJSON([]byte(tc.in)); err != nil {
			t.Fatalf("UnmarshalJSON(%s): %v", tc.in, err)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("UnmarshalJSON(%s) = %v want %v", tc.in, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("UnmarshalJSON(%s)[%d] = %q want %q", tc.in, i, got[i], tc.want[i])
			}
		}
	}
}
