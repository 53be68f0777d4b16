package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"poly-spiketrader/internal/book"
)

// Quote is the top of book for one instrument. Absence of a side is explicit:
// a zero price never means "no quote", HasBid/HasAsk do.
type Quote struct {
	TokenID        string
	BidMicros      uint64
	BidSizeMicros  uint64
	AskMicros      uint64
	AskSizeMicros  uint64
	HasBid         bool
	HasAsk         bool
	FetchedAt      time.Time
	MinAskMicros   uint64 // cheapest resting ask, for slippage checks
	MaxBidMicros   uint64 // highest resting bid
	TickSizeMicros uint64
}

// Mid returns the midpoint of available sides, false with an empty book.
func (q Quote) Mid() (uint64, bool) {
	switch {
	case q.HasBid && q.HasAsk:
		return (q.BidMicros + q.AskMicros) / 2, true
	case q.HasBid:
		return q.BidMicros, true
	case q.HasAsk:
		return q.AskMicros, true
	default:
		return 0, false
	}
}

// Book is a normalized two-sided depth snapshot.
type Book struct {
	TokenID   string
	Bids      []book.Level // descending
	Asks      []book.Level // ascending
	FetchedAt time.Time
}

// Fill reports what an order actually moved.
type Fill struct {
	OrderID        string
	SharesMicros   uint64
	CostMicros     uint64
	AvgPriceMicros uint64
	Simulated      bool
}

// Side of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderRequest is a marketable FOK order sized in collateral (buys) or
// shares (sells).
type OrderRequest struct {
	TokenID      string
	Side         Side
	SpendMicros  uint64 // buys: collateral to spend
	SharesMicros uint64 // sells: shares to release
	SlippageBps  uint64
}

// Venue error kinds. Callers branch on these rather than parsing messages;
// only Transient failures are retried.
var (
	ErrNoQuote       = errors.New("no quote available")
	ErrNoLiquidity   = errors.New("insufficient liquidity")
	ErrOrderRejected = errors.New("order rejected")
	ErrInsufficient  = errors.New("not enough balance or allowance")
)

// TransientError marks a failure worth retrying (timeouts, 5xx, transport).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. Nil stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err (or anything it wraps) is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Venue is the market access surface: quotes, depth and order placement.
// Implementations must be safe for concurrent use.
type Venue interface {
	// Quote returns the top of book for one instrument.
	Quote(ctx context.Context, tokenID string) (Quote, error)
	// Quotes returns the top of book for several instruments in one pass.
	// Instruments that fail individually are omitted, not fatal.
	Quotes(ctx context.Context, tokenIDs []string) (map[string]Quote, error)
	// Book returns normalized full depth for one instrument.
	Book(ctx context.Context, tokenID string) (Book, error)
	// PlaceOrder submits a fill-or-kill marketable order.
	PlaceOrder(ctx context.Context, req OrderRequest) (Fill, error)
	// PlaceOrders submits several orders as one batch (pair entries).
	PlaceOrders(ctx context.Context, reqs []OrderRequest) ([]Fill, error)
	// CollateralBalanceMicros returns spendable USDC.
	CollateralBalanceMicros(ctx context.Context) (uint64, error)
}

// retryCfg controls withRetry. Defaults mirror the usual three attempts with
// exponential backoff from one second.
type retryCfg struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func defaultRetryCfg() retryCfg {
	return retryCfg{MaxRetries: 3, BaseDelay: time.Second}
}

// withRetry runs fn up to cfg.MaxRetries times, sleeping BaseDelay*2^attempt
// between tries. Only transient failures are retried; anything else returns
// immediately.
func withRetry(ctx context.Context, cfg retryCfg, fn func() error) error {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	var last error
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := cfg.BaseDelay << (attempt - 1)
			if !sleepCtx(ctx, delay) {
				return ctx.Err()
			}
		}
		last = fn()
		if last == nil {
			return nil
		}
		if !IsTransient(last) {
			return last
		}
	}
	return last
}

// sleepCtx sleeps for d or until ctx is done. Returns false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// sleepWithJitter sleeps d plus up to d/7 of random jitter, honoring ctx.
func sleepWithJitter(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	jitter := time.Duration(rand.Int64N(int64(d/7) + 1))
	return sleepCtx(ctx, d+jitter)
}

// nextBackoff doubles d up to max.
func nextBackoff(d, max time.Duration) time.Duration {
	d *= 2
	if d > max {
		return max
	}
	return d
}
