package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net"
	"strings"
	"time"

	ordermodel "github.com/polymarket/go-order-utils/pkg/model"

	"poly-spiketrader/internal/book"
	"poly-spiketrader/internal/clob"
	"poly-spiketrader/internal/micros"
	"poly-spiketrader/internal/polygonutil"
)

// ClobVenue adapts the CLOB REST client to the Venue interface. All orders
// go out fill-or-kill; a killed order reports as ErrNoLiquidity, not as a
// transport failure.
type ClobVenue struct {
	client        *clob.Client
	saltGen       func() int64
	useServerTime bool
	rpcURL        string // polygon RPC for collateral balance reads
}

func NewClobVenue(client *clob.Client, saltGen func() int64, useServerTime bool, rpcURL string) *ClobVenue {
	return &ClobVenue{
		client:        client,
		saltGen:       saltGen,
		useServerTime: useServerTime,
		rpcURL:        rpcURL,
	}
}

func (v *ClobVenue) Quote(ctx context.Context, tokenID string) (Quote, error) {
	ob, err := v.client.GetOrderBook(ctx, tokenID)
	if err != nil {
		return Quote{}, classifyVenueErr(err)
	}
	q, ok := quoteFromSummary(tokenID, ob)
	if !ok {
		return Quote{}, ErrNoQuote
	}
	return q, nil
}

func (v *ClobVenue) Quotes(ctx context.Context, tokenIDs []string) (map[string]Quote, error) {
	out := make(map[string]Quote, len(tokenIDs))
	for _, id := range tokenIDs {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		q, err := v.Quote(ctx, id)
		if err != nil {
			// One dead book must not starve the rest of the watchlist.
			log.Printf("[warn] quote %s: %v", safePrefix(id), err)
			continue
		}
		out[id] = q
	}
	return out, nil
}

func (v *ClobVenue) Book(ctx context.Context, tokenID string) (Book, error) {
	ob, err := v.client.GetOrderBook(ctx, tokenID)
	if err != nil {
		return Book{}, classifyVenueErr(err)
	}
	return Book{
		TokenID:   tokenID,
		Bids:      book.NormalizeBids(levelsFromSummaries(ob.Bids)),
		Asks:      book.NormalizeAsks(levelsFromSummaries(ob.Asks)),
		FetchedAt: time.Now(),
	}, nil
}

func (v *ClobVenue) PlaceOrder(ctx context.Context, req OrderRequest) (Fill, error) {
	res, err := v.createSigned(ctx, req)
	if err != nil {
		return Fill{}, err
	}
	resp, _, err := v.client.PostSignedOrder(ctx, res.SignedOrder, clob.OrderTypeFOK, false, v.useServerTime)
	if err != nil {
		return Fill{}, classifyVenueErr(err)
	}
	if !postSucceeded(resp) {
		return Fill{}, fmt.Errorf("%w: %s", ErrNoLiquidity, postErrorMsg(resp))
	}
	fill, err := fillFromResult(req, res)
	if err != nil {
		return Fill{}, err
	}
	if id, ok := resp["orderID"].(string); ok {
		fill.OrderID = id
	}
	return fill, nil
}

// PlaceOrders signs every request, then posts them as one batch. Legs that
// the venue kills come back as zero fills; the caller decides how to handle
// a partially-filled batch.
func (v *ClobVenue) PlaceOrders(ctx context.Context, reqs []OrderRequest) ([]Fill, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("no orders to place")
	}
	results := make([]*clob.OrderResult, len(reqs))
	orders := make([]*ordermodel.SignedOrder, len(reqs))
	types := make([]clob.OrderType, len(reqs))
	for i, req := range reqs {
		res, err := v.createSigned(ctx, req)
		if err != nil {
			return nil, err
		}
		results[i] = res
		orders[i] = res.SignedOrder
		types[i] = clob.OrderTypeFOK
	}

	batchRes, _, err := v.client.PostSignedOrders(ctx, orders, types, v.useServerTime)
	if err != nil {
		return nil, classifyVenueErr(err)
	}

	fills := make([]Fill, len(reqs))
	for i, br := range batchRes {
		if i >= len(reqs) {
			break
		}
		if !br.Filled() {
			continue
		}
		fill, ferr := fillFromResult(reqs[i], results[i])
		if ferr != nil {
			continue
		}
		fill.OrderID = br.OrderID
		fills[i] = fill
	}
	return fills, nil
}

func (v *ClobVenue) CollateralBalanceMicros(ctx context.Context) (uint64, error) {
	bal, err := polygonutil.USDCTokenBalanceMicros(ctx, v.rpcURL, v.client.FunderAddress())
	if err != nil {
		return 0, Transient(err)
	}
	return bal, nil
}

func (v *ClobVenue) createSigned(ctx context.Context, req OrderRequest) (*clob.OrderResult, error) {
	var (
		side   clob.Side
		amount *big.Int
	)
	switch req.Side {
	case Buy:
		side = clob.SideBuy
		amount = new(big.Int).SetUint64(req.SpendMicros)
	case Sell:
		side = clob.SideSell
		amount = new(big.Int).SetUint64(req.SharesMicros)
	default:
		return nil, fmt.Errorf("invalid side %q", req.Side)
	}
	res, err := v.client.CreateSignedMarketOrderWithSlippage(
		ctx, req.TokenID, side, amount, clob.OrderTypeFOK, int(req.SlippageBps), v.saltGen)
	if err != nil {
		return nil, classifyVenueErr(err)
	}
	return res, nil
}

func fillFromResult(req OrderRequest, res *clob.OrderResult) (Fill, error) {
	price, err := micros.Parse(res.Price)
	if err != nil || price == 0 {
		return Fill{}, fmt.Errorf("unparseable fill price %q", res.Price)
	}
	switch req.Side {
	case Buy:
		shares := micros.SharesFromSpend(req.SpendMicros, price)
		return Fill{
			SharesMicros:   shares,
			CostMicros:     micros.CostForShares(shares, price),
			AvgPriceMicros: price,
		}, nil
	default:
		return Fill{
			SharesMicros:   req.SharesMicros,
			CostMicros:     micros.CostForShares(req.SharesMicros, price),
			AvgPriceMicros: price,
		}, nil
	}
}

// quoteFromSummary extracts the touch. CLOB book sides arrive sorted away
// from the touch, so the best level of each side is the last element.
func quoteFromSummary(tokenID string, ob *clob.OrderBookSummary) (Quote, bool) {
	if ob == nil {
		return Quote{}, false
	}
	q := Quote{TokenID: tokenID, FetchedAt: time.Now()}
	if ts, err := micros.Parse(ob.TickSize); err == nil {
		q.TickSizeMicros = ts
	}
	if n := len(ob.Bids); n > 0 {
		if price, err := micros.Parse(ob.Bids[n-1].Price); err == nil && price > 0 {
			size, _ := micros.Parse(ob.Bids[n-1].Size)
			q.BidMicros, q.BidSizeMicros, q.HasBid = price, size, true
			q.MaxBidMicros = price
		}
	}
	if n := len(ob.Asks); n > 0 {
		if price, err := micros.Parse(ob.Asks[n-1].Price); err == nil && price > 0 {
			size, _ := micros.Parse(ob.Asks[n-1].Size)
			q.AskMicros, q.AskSizeMicros, q.HasAsk = price, size, true
			q.MinAskMicros = price
		}
	}
	return q, q.HasBid || q.HasAsk
}

func levelsFromSummaries(in []clob.OrderSummary) []book.Level {
	out := make([]book.Level, 0, len(in))
	for _, s := range in {
		price, errP := micros.Parse(s.Price)
		size, errS := micros.Parse(s.Size)
		if errP != nil || errS != nil {
			continue
		}
		out = append(out, book.Level{PriceMicros: price, SharesMicros: size})
	}
	return out
}

func postSucceeded(resp map[string]any) bool {
	if resp == nil {
		return false
	}
	ok, _ := resp["success"].(bool)
	return ok && postErrorMsg(resp) == ""
}

func postErrorMsg(resp map[string]any) string {
	if resp == nil {
		return "empty response"
	}
	msg, _ := resp["errorMsg"].(string)
	return msg
}

// classifyVenueErr maps raw client errors onto the venue error kinds so
// callers retry only what is worth retrying.
func classifyVenueErr(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not enough balance") || strings.Contains(msg, "allowance"):
		return fmt.Errorf("%w: %v", ErrInsufficient, err)
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "status=4"):
		return fmt.Errorf("%w: %v", ErrOrderRejected, err)
	}
	var netErr net.Error
	if (errors.As(err, &netErr) && netErr.Timeout()) ||
		strings.Contains(msg, "status=5") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "eof") ||
		strings.Contains(msg, "deadline exceeded") {
		return Transient(err)
	}
	return err
}
