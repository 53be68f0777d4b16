// Package gamma resolves market slugs to the binary token pairs the engine
// trades, via the Polymarket gamma API.
package gamma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultURL = "https://gamma-api.polymarket.com"

// defaultUserAgent mimics a browser UA to avoid Cloudflare 403s.
const defaultUserAgent = "Mozilla/5.0"

type Client struct {
	host       string
	httpClient *http.Client
	userAgent  string
}

func NewClient(host string) (*Client, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		host = DefaultURL
	}
	host = strings.TrimRight(host, "/")

	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("gamma url parse %q: %w", host, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("gamma url must be http(s), got %q", host)
	}

	return &Client{
		host: host,
		httpClient: &http.Client{
			Timeout: 12 * time.Second,
		},
		userAgent: defaultUserAgent,
	}, nil
}

// flexStrings decodes gamma list fields, which arrive either as a JSON array
// or as a JSON string containing a JSON array.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = nil
		return nil
	}

	if b[0] == '"' {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			*f = nil
			return nil
		}
		var vals []string
		if err := json.Unmarshal([]byte(raw), &vals); err != nil {
			return err
		}
		*f = vals
		return nil
	}

	var vals []string
	if err := json.Unmarshal(b, &vals); err != nil {
		return err
	}
	*f = vals
	return nil
}

type event struct {
	Slug    string   `json:"slug"`
	Markets []market `json:"markets"`
}

type market struct {
	Slug         string      `json:"slug"`
	Outcomes     flexStrings `json:"outcomes"`
	ClobTokenIDs flexStrings `json:"clobTokenIds"`
}

// tokenIDs returns the market's trimmed clob token ids.
func (m *market) tokenIDs() []string {
	ids := make([]string, 0, len(m.ClobTokenIDs))
	for _, id := range m.ClobTokenIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// ResolvedMarket is a binary market: two outcomes, two token ids, in the
// same order.
type ResolvedMarket struct {
	EventSlug string
	Outcomes  []string
	TokenIDs  []string
}

// ResolveMarketBySlug finds the binary market behind a slug. Markets with a
// slug equal to the query are preferred; otherwise the event's first binary
// market wins.
func (c *Client) ResolveMarketBySlug(ctx context.Context, eventSlug string) (ResolvedMarket, error) {
	if c == nil {
		return ResolvedMarket{}, fmt.Errorf("gamma client nil")
	}
	eventSlug = strings.TrimSpace(eventSlug)
	if eventSlug == "" {
		return ResolvedMarket{}, fmt.Errorf("event slug required")
	}

	q := url.Values{}
	q.Set("slug", eventSlug)
	var events []event
	if err := c.getJSON(ctx, "/events?"+q.Encode(), &events); err != nil {
		return ResolvedMarket{}, err
	}
	if len(events) == 0 {
		return ResolvedMarket{}, fmt.Errorf("gamma: no event for slug %q", eventSlug)
	}

	var chosen *market
	for i := range events {
		ev := &events[i]
		for j := range ev.Markets {
			m := &ev.Markets[j]
			if strings.TrimSpace(m.Slug) == eventSlug {
				chosen = m
				break
			}
		}
		if chosen != nil {
			break
		}
	}
	if chosen == nil {
		for j := range events[0].Markets {
			if len(events[0].Markets[j].tokenIDs()) == 2 {
				chosen = &events[0].Markets[j]
				break
			}
		}
	}
	if chosen == nil {
		return ResolvedMarket{}, fmt.Errorf("gamma: event %q has no binary market", eventSlug)
	}

	ids := chosen.tokenIDs()
	if len(ids) != 2 {
		return ResolvedMarket{}, fmt.Errorf("gamma: expected 2 clobTokenIds for %q, got %d", eventSlug, len(ids))
	}

	return ResolvedMarket{
		EventSlug: eventSlug,
		Outcomes:  append([]string(nil), chosen.Outcomes...),
		TokenIDs:  ids,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, pathAndQuery string, out any) error {
	endpoint := c.host + pathAndQuery
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return fmt.Errorf("gamma %s: status=%d body=%q", endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gamma decode: %w", err)
	}
	return nil
}
