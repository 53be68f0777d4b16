package rtds

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Topics and message types used for market data subscriptions.
const (
	TopicClobMarket = "clob_market"
	TypeAggBook     = "agg_orderbook"
	TypePriceChange = "price_change"
)

// BookLevel is one side level in an aggregated book payload. Price and size
// arrive as decimal strings.
type BookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookPayload is the aggregated order book snapshot for one instrument.
type BookPayload struct {
	Market    string      `json:"market"`
	AssetID   string      `json:"asset_id"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Timestamp int64       `json:"timestamp"`
}

// PriceChangePayload is a best bid/ask move notification.
type PriceChangePayload struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Side    string `json:"side"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
	Market  string `json:"market"`
	EventTs int64  `json:"timestamp"`
}

// DecodeBook unmarshals an agg_orderbook message payload.
func DecodeBook(m Message) (BookPayload, error) {
	var p BookPayload
	if m.Type != TypeAggBook {
		return p, fmt.Errorf("rtds: not a book message: %s/%s", m.Topic, m.Type)
	}
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return p, fmt.Errorf("rtds book decode: %w", err)
	}
	return p, nil
}

// DecodePriceChange unmarshals a price_change message payload.
func DecodePriceChange(m Message) (PriceChangePayload, error) {
	var p PriceChangePayload
	if m.Type != TypePriceChange {
		return p, fmt.Errorf("rtds: not a price change message: %s/%s", m.Topic, m.Type)
	}
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return p, fmt.Errorf("rtds price change decode: %w", err)
	}
	return p, nil
}

// MarketSubscription builds the clob_market subscription for a set of token
// ids. Filters is a JSON string per the wire format, not a nested object.
func MarketSubscription(tokenIDs []string) (Subscription, error) {
	if len(tokenIDs) == 0 {
		return Subscription{}, fmt.Errorf("rtds: no token ids to subscribe")
	}
	quoted := make([]string, len(tokenIDs))
	for i, id := range tokenIDs {
		b, err := json.Marshal(id)
		if err != nil {
			return Subscription{}, err
		}
		quoted[i] = string(b)
	}
	return Subscription{
		Topic:   TopicClobMarket,
		Type:    "*",
		Filters: "[" + strings.Join(quoted, ",") + "]",
	}, nil
}
