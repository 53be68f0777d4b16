package rtds

import (
	"encoding/json"
	"testing"
)

func TestMarketSubscription(t *testing.T) {
	sub, err := MarketSubscription([]string{"100", "200"})
	if err != nil {
		t.Fatalf("MarketSubscription: %v", err)
	}
	if sub.Topic != TopicClobMarket || sub.Type != "*" {
		t.Fatalf("topic/type = %q/%q", sub.Topic, sub.Type)
	}
	if sub.Filters != `["100","200"]` {
		t.Fatalf("Filters = %q", sub.Filters)
	}

	if _, err := MarketSubscription(nil); err == nil {
		t.Fatalf("expected error for empty token list")
	}
}

func TestDecodeBook(t *testing.T) {
	msg := Message{
		Topic: TopicClobMarket,
		Type:  TypeAggBook,
		Payload: json.RawMessage(`{
			"asset_id":"100",
			"bids":[{"price":"0.45","size":"120"}],
			"asks":[{"price":"0.47","size":"80"}],
			"timestamp":1700000000000
		}`),
	}
	p, err := DecodeBook(msg)
	if err != nil {
		t.Fatalf("DecodeBook: %v", err)
	}
	if p.AssetID != "100" {
		t.Fatalf("AssetID = %q", p.AssetID)
	}
	if len(p.Bids) != 1 || p.Bids[0].Price != "0.45" {
		t.Fatalf("Bids = %v", p.Bids)
	}
	if len(p.Asks) != 1 || p.Asks[0].Size != "80" {
		t.Fatalf("Asks = %v", p.Asks)
	}

	msg.Type = TypePriceChange
	if _, err := DecodeBook(msg); err == nil {
		t.Fatalf("expected type mismatch error")
	}
}

func TestDecodePriceChange(t *testing.T) {
	msg := Message{
		Topic:   TopicClobMarket,
		Type:    TypePriceChange,
		Payload: json.RawMessage(`{"asset_id":"200","best_bid":"0.44","best_ask":"0.46"}`),
	}
	p, err := DecodePriceChange(msg)
	if err != nil {
		t.Fatalf("DecodePriceChange: %v", err)
	}
	if p.AssetID != "200" || p.BestBid != "0.44" || p.BestAsk != "0.46" {
		t.Fatalf("payload = %+v", p)
	}

	msg.Type = TypeAggBook
	if _, err := DecodePriceChange(msg); err == nil {
		t.Fatalf("expected type mismatch error")
	}
}
