package marketdata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/hftcore/internal/ringbuf"
	"github.com/abdoElHodaky/hftcore/internal/types"
)

// wsTick is the JSON shape of a feed message on the websocket adapter.
type wsTick struct {
	Symbol string  `json:"symbol"`
	Kind   string  `json:"kind"`
	Price  float64 `json:"price"`
	Qty    float64 `json:"qty"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	BidSz  float64 `json:"bid_size"`
	AskSz  float64 `json:"ask_size"`
	Side   string  `json:"side"`
}

// ClockSource stamps packets at receive time.
type ClockSource interface {
	Now() uint64
}

// SymbolResolver maps feed symbols to internal ids.
type SymbolResolver interface {
	Lookup(symbol string) (uint32, bool)
}

// WSIngress adapts a JSON websocket feed to the Ingress trait. The reader
// goroutine blocks on the socket (I/O stays off the pinned workers) and
// publishes into an SPSC ring the ingress worker drains with RecvBurst.
type WSIngress struct {
	url      string
	logger   *zap.Logger
	clock    ClockSource
	symbols  SymbolResolver
	ring     *ringbuf.SPSC[Packet]
	cancel   context.CancelFunc
}

// NewWSIngress creates the adapter. Call Start to connect.
func NewWSIngress(url string, clock ClockSource, symbols SymbolResolver, logger *zap.Logger) (*WSIngress, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ring, err := ringbuf.NewSPSC[Packet](8192)
	if err != nil {
		return nil, err
	}
	return &WSIngress{
		url:     url,
		logger:  logger,
		clock:   clock,
		symbols: symbols,
		ring:    ring,
	}, nil
}

// Start connects and launches the reader goroutine, reconnecting with
// backoff until the context is cancelled.
func (w *WSIngress) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.readLoop(ctx)
}

// Stop tears the connection down.
func (w *WSIngress) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *WSIngress) readLoop(ctx context.Context) {
	backoff := time.Second
	for ctx.Err() == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
		if err != nil {
			w.logger.Warn("Feed dial failed",
				zap.String("url", w.url),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		w.logger.Info("Feed connected", zap.String("url", w.url))

		for ctx.Err() == nil {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				w.logger.Warn("Feed read failed", zap.Error(err))
				break
			}
			var tick wsTick
			if err := json.Unmarshal(payload, &tick); err != nil {
				continue
			}
			symbolID, ok := w.symbols.Lookup(tick.Symbol)
			if !ok {
				continue
			}
			// Push fails fast when the worker falls behind; the drop is
			// visible on the ring's counter.
			_ = w.ring.Push(Packet{
				TimestampTSC: w.clock.Now(),
				SymbolID:     symbolID,
				Payload:      payload,
			})
		}
		conn.Close()
	}
}

// RecvBurst implements Ingress.
func (w *WSIngress) RecvBurst(buf []Packet) int {
	return w.ring.PopBatch(buf)
}

// Dropped returns the count of packets dropped on ring overflow.
func (w *WSIngress) Dropped() uint64 { return w.ring.Dropped() }

// JSONParser parses the websocket adapter's JSON payloads into events.
type JSONParser struct{}

// Parse implements Parser.
func (JSONParser) Parse(pkt *Packet, out *types.MarketDataEvent) error {
	var tick wsTick
	if err := json.Unmarshal(pkt.Payload, &tick); err != nil {
		return ErrParse
	}

	*out = types.MarketDataEvent{
		TimestampTSC: pkt.TimestampTSC,
		SymbolID:     pkt.SymbolID,
	}
	switch tick.Kind {
	case "trade":
		out.Kind = types.EventTrade
		out.Price = toPrice(tick.Price)
		out.Quantity = uint64(tick.Qty)
	case "quote":
		out.Kind = types.EventQuote
		out.BidPrice = toPrice(tick.Bid)
		out.AskPrice = toPrice(tick.Ask)
		out.BidSize = uint64(tick.BidSz)
		out.AskSize = uint64(tick.AskSz)
	default:
		return ErrParse
	}
	if tick.Side == "sell" {
		out.Side = types.SideSell
	}
	return nil
}

// toPrice converts a decimal feed price to fixed-point units.
func toPrice(v float64) uint64 {
	return uint64(v*types.PriceScale + 0.5)
}
