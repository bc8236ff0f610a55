// Package book implements the per-symbol price-time-priority limit order
// book view: sorted price levels with O(1) best quote, aggregate depth, and
// immutable snapshots published for cross-thread readers.
package book

import (
	"math"
	"sort"
	"sync/atomic"

	"github.com/abdoElHodaky/hftcore/internal/types"
	"go.uber.org/zap"
)

// Default capacity bounds.
const (
	DefaultMaxOrders       = 100_000
	DefaultMaxLevelsPerSide = 10_000
)

// SymbolSpec carries the per-symbol price and size constraints.
type SymbolSpec struct {
	SymbolID    uint32
	Symbol      string
	TickSize    uint64 // price units per tick
	MinPrice    uint64
	MaxPrice    uint64
	MaxQuantity uint64
}

// PriceLevel aggregates resting orders at one price.
type PriceLevel struct {
	Price         uint64
	TotalQty      uint64
	OrderCount    uint32
	LastUpdateTSC uint64
}

// bookOrder is the book's internal order record.
type bookOrder struct {
	price uint64
	qty   uint64
	side  types.Side
}

// Config bounds a book instance.
type Config struct {
	MaxOrders        int
	MaxLevelsPerSide int
}

// Book is a single-symbol order book. Exactly one writer thread mutates it;
// concurrent readers load the Snapshot that a Publisher builds from it.
type Book struct {
	spec   SymbolSpec
	cfg    Config
	logger *zap.Logger

	// bids descending, asks ascending by price.
	bids []PriceLevel
	asks []PriceLevel

	// Sparse price -> level index, per side.
	bidIndex map[uint64]int
	askIndex map[uint64]int

	orders map[uint64]bookOrder

	totalBidQty uint64
	totalAskQty uint64

	// seq is incremented before and after every mutation (odd while a write
	// is in progress). The externally visible sequence number is seq/2.
	seq atomic.Uint64

	lastTSC uint64
}

// New creates an empty book for a symbol.
func New(spec SymbolSpec, cfg Config, logger *zap.Logger) *Book {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxOrders <= 0 {
		cfg.MaxOrders = DefaultMaxOrders
	}
	if cfg.MaxLevelsPerSide <= 0 {
		cfg.MaxLevelsPerSide = DefaultMaxLevelsPerSide
	}
	return &Book{
		spec:     spec,
		cfg:      cfg,
		logger:   logger,
		bids:     make([]PriceLevel, 0, 256),
		asks:     make([]PriceLevel, 0, 256),
		bidIndex: make(map[uint64]int, 256),
		askIndex: make(map[uint64]int, 256),
		orders:   make(map[uint64]bookOrder, cfg.MaxOrders),
	}
}

// Spec returns the symbol constraints the book was built with.
func (b *Book) Spec() SymbolSpec { return b.spec }

// SeqNum returns the mutation sequence number. Strictly increasing by one
// per successful mutation.
func (b *Book) SeqNum() uint64 { return b.seq.Load() / 2 }

// beginWrite/endWrite bracket every successful mutation for seq-guarded
// readers.
func (b *Book) beginWrite() { b.seq.Add(1) }
func (b *Book) endWrite()   { b.seq.Add(1) }

// validatePrice checks tick alignment and the configured band.
func (b *Book) validatePrice(price uint64) error {
	if price < b.spec.MinPrice || price > b.spec.MaxPrice {
		return ErrPriceOutOfBand
	}
	if b.spec.TickSize == 0 || price%b.spec.TickSize != 0 {
		return ErrPriceNotAligned
	}
	return nil
}

// AddOrder inserts a resting order. Level aggregates update in place when
// the price level exists; otherwise a level is inserted at its sorted
// position. The book is not mutated on any rejection.
func (b *Book) AddOrder(orderID, price, qty uint64, side types.Side, tsc uint64) error {
	if err := b.validatePrice(price); err != nil {
		return err
	}
	if qty == 0 || qty > b.spec.MaxQuantity {
		return ErrInvalidQuantity
	}
	if _, exists := b.orders[orderID]; exists {
		return ErrDuplicateOrder
	}
	if len(b.orders) >= b.cfg.MaxOrders {
		return ErrBookCapacity
	}
	levels, index := b.side(side)
	if _, ok := index[price]; !ok && len(*levels) >= b.cfg.MaxLevelsPerSide {
		return ErrBookCapacity
	}

	b.beginWrite()
	defer b.endWrite()

	b.orders[orderID] = bookOrder{price: price, qty: qty, side: side}
	b.addToLevel(side, price, qty, tsc)
	if side == types.SideBuy {
		b.totalBidQty += qty
	} else {
		b.totalAskQty += qty
	}
	b.lastTSC = tsc
	return nil
}

// CancelOrder removes a resting order, collapsing its level when the order
// count drops to zero.
func (b *Book) CancelOrder(orderID uint64, tsc uint64) error {
	ord, exists := b.orders[orderID]
	if !exists {
		return ErrOrderNotFound
	}

	b.beginWrite()
	defer b.endWrite()

	delete(b.orders, orderID)
	b.removeFromLevel(ord.side, ord.price, ord.qty, tsc)
	if ord.side == types.SideBuy {
		b.totalBidQty -= ord.qty
	} else {
		b.totalAskQty -= ord.qty
	}
	b.lastTSC = tsc
	return nil
}

// ModifyOrder re-prices or re-sizes a resting order. Observers see a single
// sequence advance: equivalent to cancel+add performed atomically.
func (b *Book) ModifyOrder(orderID, newPrice, newQty uint64, tsc uint64) error {
	ord, exists := b.orders[orderID]
	if !exists {
		return ErrOrderNotFound
	}
	if err := b.validatePrice(newPrice); err != nil {
		return err
	}
	if newQty == 0 || newQty > b.spec.MaxQuantity {
		return ErrInvalidQuantity
	}
	levels, index := b.side(ord.side)
	if _, ok := index[newPrice]; !ok && newPrice != ord.price && len(*levels) >= b.cfg.MaxLevelsPerSide {
		// The old level may collapse, freeing a slot, but only when this
		// order is its last. Check before mutating.
		if idx, ok := index[ord.price]; !ok || (*levels)[idx].OrderCount > 1 {
			return ErrBookCapacity
		}
	}

	b.beginWrite()
	defer b.endWrite()

	b.removeFromLevel(ord.side, ord.price, ord.qty, tsc)
	b.addToLevel(ord.side, newPrice, newQty, tsc)
	if ord.side == types.SideBuy {
		b.totalBidQty += newQty - ord.qty
	} else {
		b.totalAskQty += newQty - ord.qty
	}
	b.orders[orderID] = bookOrder{price: newPrice, qty: newQty, side: ord.side}
	b.lastTSC = tsc
	return nil
}

// side returns the level slice and index for a side.
func (b *Book) side(side types.Side) (*[]PriceLevel, map[uint64]int) {
	if side == types.SideBuy {
		return &b.bids, b.bidIndex
	}
	return &b.asks, b.askIndex
}

// insertionPoint finds the sorted position for a new price level via binary
// search: bids descend, asks ascend.
func insertionPoint(levels []PriceLevel, price uint64, descending bool) int {
	if descending {
		return sort.Search(len(levels), func(i int) bool { return levels[i].Price < price })
	}
	return sort.Search(len(levels), func(i int) bool { return levels[i].Price > price })
}

// addToLevel updates an existing level in place or inserts a new one.
func (b *Book) addToLevel(side types.Side, price, qty, tsc uint64) {
	levels, index := b.side(side)
	if idx, ok := index[price]; ok {
		lv := &(*levels)[idx]
		lv.TotalQty += qty
		lv.OrderCount++
		lv.LastUpdateTSC = tsc
		return
	}

	pos := insertionPoint(*levels, price, side == types.SideBuy)
	*levels = append(*levels, PriceLevel{})
	copy((*levels)[pos+1:], (*levels)[pos:])
	(*levels)[pos] = PriceLevel{Price: price, TotalQty: qty, OrderCount: 1, LastUpdateTSC: tsc}
	for i := pos; i < len(*levels); i++ {
		index[(*levels)[i].Price] = i
	}
}

// removeFromLevel decrements a level's aggregates and removes the level
// when its order count drops to zero.
func (b *Book) removeFromLevel(side types.Side, price, qty, tsc uint64) {
	levels, index := b.side(side)
	idx, ok := index[price]
	if !ok {
		return
	}
	lv := &(*levels)[idx]
	lv.TotalQty -= qty
	lv.OrderCount--
	lv.LastUpdateTSC = tsc
	if lv.OrderCount > 0 {
		return
	}

	copy((*levels)[idx:], (*levels)[idx+1:])
	*levels = (*levels)[:len(*levels)-1]
	delete(index, price)
	for i := idx; i < len(*levels); i++ {
		index[(*levels)[i].Price] = i
	}
}

// BestBidAsk returns the best quotes; a zero value with false means the
// side is empty.
func (b *Book) BestBidAsk() (bid uint64, bidOK bool, ask uint64, askOK bool) {
	if len(b.bids) > 0 {
		bid, bidOK = b.bids[0].Price, true
	}
	if len(b.asks) > 0 {
		ask, askOK = b.asks[0].Price, true
	}
	return
}

// QtyAtPrice returns the aggregate resting quantity at a price, zero when
// no level exists.
func (b *Book) QtyAtPrice(side types.Side, price uint64) uint64 {
	levels, index := b.side(side)
	if idx, ok := index[price]; ok {
		return (*levels)[idx].TotalQty
	}
	return 0
}

// Depth copies up to len(out) levels from the top of a side into out and
// returns the count.
func (b *Book) Depth(side types.Side, out []PriceLevel) int {
	levels, _ := b.side(side)
	n := copy(out, *levels)
	return n
}

// LevelCount returns the number of distinct price levels on a side.
func (b *Book) LevelCount(side types.Side) int {
	levels, _ := b.side(side)
	return len(*levels)
}

// TotalQty returns the aggregate resting quantity on a side.
func (b *Book) TotalQty(side types.Side) uint64 {
	if side == types.SideBuy {
		return b.totalBidQty
	}
	return b.totalAskQty
}

// OrderCount returns the number of resting orders.
func (b *Book) OrderCount() int { return len(b.orders) }

// VWAP computes the volume-weighted average price over the top n levels of
// a side, in whole price units. Zero when the side is empty.
func (b *Book) VWAP(side types.Side, n int) float64 {
	levels, _ := b.side(side)
	var qtySum, pxQty float64
	for i := 0; i < len(*levels) && i < n; i++ {
		lv := (*levels)[i]
		qtySum += float64(lv.TotalQty)
		pxQty += float64(lv.Price) * float64(lv.TotalQty)
	}
	if qtySum == 0 {
		return 0
	}
	return pxQty / qtySum / types.PriceScale
}

// SpreadBps returns the bid/ask spread in basis points of the mid. Zero
// when either side is empty.
func (b *Book) SpreadBps() float64 {
	bid, bidOK, ask, askOK := b.BestBidAsk()
	if !bidOK || !askOK {
		return 0
	}
	mid := float64(bid+ask) / 2
	if mid == 0 {
		return 0
	}
	return float64(ask-bid) / mid * 10_000
}

// MidPrice returns the midpoint of the best quotes in price units, zero
// when either side is empty.
func (b *Book) MidPrice() uint64 {
	bid, bidOK, ask, askOK := b.BestBidAsk()
	if !bidOK || !askOK {
		return 0
	}
	return (bid + ask) / 2
}

// EstimateImpactBps estimates the cost in basis points of sweeping qty from
// a side using a square-root market-impact model over visible depth.
func (b *Book) EstimateImpactBps(side types.Side, qty uint64) float64 {
	visible := b.TotalQty(side.Opposite())
	if visible == 0 || qty == 0 {
		return 0
	}
	participation := float64(qty) / float64(visible)
	spread := b.SpreadBps()
	if spread == 0 {
		spread = 1
	}
	return spread/2 + 10*math.Sqrt(participation)*spread
}

// Validate sweeps the book invariants: strict ordering, positive level
// aggregates, aggregate sums, and an uncrossed market. A non-nil error is a
// fatal condition for the owning worker.
func (b *Book) Validate() error {
	var bidSum uint64
	for i, lv := range b.bids {
		if lv.OrderCount == 0 || lv.TotalQty == 0 {
			return ErrAggregateMismatch
		}
		if i > 0 && b.bids[i-1].Price <= lv.Price {
			return ErrAggregateMismatch
		}
		bidSum += lv.TotalQty
	}
	var askSum uint64
	for i, lv := range b.asks {
		if lv.OrderCount == 0 || lv.TotalQty == 0 {
			return ErrAggregateMismatch
		}
		if i > 0 && b.asks[i-1].Price >= lv.Price {
			return ErrAggregateMismatch
		}
		askSum += lv.TotalQty
	}
	if bidSum != b.totalBidQty || askSum != b.totalAskQty {
		return ErrAggregateMismatch
	}

	var orderBid, orderAsk uint64
	for _, ord := range b.orders {
		if ord.side == types.SideBuy {
			orderBid += ord.qty
		} else {
			orderAsk += ord.qty
		}
	}
	if orderBid != bidSum || orderAsk != askSum {
		return ErrAggregateMismatch
	}

	if bid, bidOK, ask, askOK := b.BestBidAsk(); bidOK && askOK && bid >= ask {
		return ErrCrossedBook
	}
	return nil
}

// ApplyEvent maintains the book from a normalized feed event. Trade and
// Quote events do not mutate resting depth.
func (b *Book) ApplyEvent(ev *types.MarketDataEvent) error {
	switch ev.Kind {
	case types.EventAddOrder:
		return b.AddOrder(ev.OrderID, ev.Price, ev.Quantity, ev.Side, ev.TimestampTSC)
	case types.EventDeleteOrder:
		return b.CancelOrder(ev.OrderID, ev.TimestampTSC)
	case types.EventModify:
		return b.ModifyOrder(ev.OrderID, ev.Price, ev.Quantity, ev.TimestampTSC)
	default:
		return nil
	}
}
