// Package rtds streams market data from the Polymarket real-time data
// service over WebSocket, reconnecting with backoff until the context ends.
package rtds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const DefaultURL = "wss://ws-live-data.polymarket.com"

const DefaultPingInterval = 5 * time.Second

type Subscription struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`

	// Filters is a JSON string per the wire format, not a nested object.
	Filters string `json:"filters,omitempty"`

	ClobAuth  any `json:"clob_auth,omitempty"`
	GammaAuth any `json:"gamma_auth,omitempty"`
}

type subscribeRequest struct {
	Action        string         `json:"action"`
	Subscriptions []Subscription `json:"subscriptions"`
}

// Message is the service's message envelope. Payload stays raw so callers can
// decode by topic/type.
type Message struct {
	Topic        string          `json:"topic"`
	Type         string          `json:"type"`
	Timestamp    int64           `json:"timestamp"`
	Payload      json.RawMessage `json:"payload"`
	ConnectionID string          `json:"connection_id,omitempty"`
}

type Options struct {
	PingInterval time.Duration

	BackoffMin time.Duration
	BackoffMax time.Duration

	OutBuffer int
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 15 * time.Second
	}
	if o.OutBuffer <= 0 {
		o.OutBuffer = 256
	}
	return o
}

type stream struct {
	url  string
	subs []Subscription
	opts Options
	out  chan Message
	errs chan error
}

// Start dials the service and emits decoded messages on the returned channel.
// Sessions are re-established with jittered exponential backoff; both channels
// close once ctx is done. Slow consumers drop messages rather than stall the
// read loop.
func Start(ctx context.Context, url string, subs []Subscription, opts Options) (<-chan Message, <-chan error) {
	if url == "" {
		url = DefaultURL
	}
	s := &stream{
		url:  url,
		subs: subs,
		opts: opts.withDefaults(),
		out:  make(chan Message, opts.withDefaults().OutBuffer),
		errs: make(chan error, 16),
	}
	go s.run(ctx)
	return s.out, s.errs
}

func (s *stream) run(ctx context.Context) {
	defer close(s.out)
	defer close(s.errs)

	delay := s.opts.BackoffMin
	for ctx.Err() == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.reportErr(fmt.Errorf("rtds dial: %w", err))
		} else {
			delay = s.opts.BackoffMin
			if err := s.session(ctx, conn); err != nil && ctx.Err() == nil {
				s.reportErr(err)
			}
			conn.Close()
		}
		if ctx.Err() != nil {
			return
		}
		waitJittered(ctx, delay)
		if delay *= 2; delay > s.opts.BackoffMax {
			delay = s.opts.BackoffMax
		}
	}
}

// session subscribes and pumps messages until the connection breaks or ctx
// ends. The keepalive writer shares the connection with the subscribe write,
// so writes are serialized behind a mutex.
func (s *stream) session(ctx context.Context, conn *websocket.Conn) error {
	body, err := json.Marshal(subscribeRequest{Action: "subscribe", Subscriptions: s.subs})
	if err != nil {
		return fmt.Errorf("rtds subscribe marshal: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
		return fmt.Errorf("rtds subscribe write: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var writeMu sync.Mutex
	go func() {
		t := time.NewTicker(s.opts.PingInterval)
		defer t.Stop()
		for {
			select {
			case <-sessionCtx.Done():
				return
			case <-t.C:
			}
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
			err := conn.WriteMessage(websocket.TextMessage, []byte("ping"))
			writeMu.Unlock()
			if err != nil {
				s.reportErr(fmt.Errorf("rtds ping: %w", err))
				conn.Close()
				return
			}
		}
	}()
	go func() {
		<-sessionCtx.Done()
		conn.Close()
	}()

	for {
		typ, raw, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrCloseSent) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("rtds read: %w", err)
		}
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		if len(raw) == 0 || string(raw) == "ping" || string(raw) == "pong" {
			continue
		}

		var m Message
		if err := json.Unmarshal(raw, &m); err != nil {
			s.reportErr(fmt.Errorf("rtds decode: %w", err))
			continue
		}
		select {
		case s.out <- m:
		default:
		}
	}
}

func (s *stream) reportErr(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

// waitJittered sleeps for d plus or minus roughly 1/7, honoring ctx.
func waitJittered(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	if j := int64(d) / 7; j > 0 {
		d = time.Duration(int64(d) + rand.Int64N(2*j+1) - j)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
