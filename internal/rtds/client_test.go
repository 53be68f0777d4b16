package rtds

import (
	"encoding/json"
	"testing"
)

func TestSubscribeRequestShape(t *testing.T) {
	req := subscribeRequest{
		Action: "subscribe",
		Subscriptions: []Subscription{{
			Topic:   TopicClobMarket,
			Type:    "*",
			Filters: `["100","200"]`,
		}},
	}
	b, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got, _ := m["action"].(string); got != "subscribe" {
		t.Fatalf("action = %#v", m["action"])
	}
	subs, ok := m["subscriptions"].([]any)
	if !ok || len(subs) != 1 {
		t.Fatalf("subscriptions = %#v", m["subscriptions"])
	}
	sub0 := subs[0].(map[string]any)
	// filters must stay a JSON string on the wire, never a nested array.
	if got := sub0["filters"]; got != `["100","200"]` {
		t.Fatalf("filters = %#v", got)
	}
	if _, present := sub0["clob_auth"]; present {
		t.Fatalf("empty clob_auth should be omitted")
	}
}

func TestOptionsWithDefaults(t *testing.T) {
	o := (Options{}).withDefaults()
	if o.PingInterval != DefaultPingInterval {
		t.Fatalf("PingInterval = %s", o.PingInterval)
	}
	if o.BackoffMin <= 0 || o.BackoffMax <= o.BackoffMin {
		t.Fatalf("backoff defaults = %s/%s", o.BackoffMin, o.BackoffMax)
	}
	if o.OutBuffer <= 0 {
		t.Fatalf("OutBuffer = %d", o.OutBuffer)
	}

	custom := (Options{PingInterval: 1, BackoffMin: 2, BackoffMax: 3, OutBuffer: 4}).withDefaults()
	if custom.PingInterval != 1 || custom.BackoffMin != 2 || custom.BackoffMax != 3 || custom.OutBuffer != 4 {
		t.Fatalf("explicit options overwritten: %#v", custom)
	}
}
