// Package types holds the shared trading domain types. Prices are
// fixed-point tick-scaled integers; no floating point crosses the order-book
// or risk hot paths.
package types

// PriceScale is the fixed-point scale: 1e6 price units per 1.0 of quote
// currency (6 decimal places).
const PriceScale = 1_000_000

// Side is the order side.
type Side uint8

const (
	SideBuy Side = iota
	SideSell
)

// String returns the string representation of the side.
func (s Side) String() string {
	if s == SideBuy {
		return "buy"
	}
	return "sell"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType is the order type.
type OrderType uint8

const (
	OrderTypeMarket OrderType = iota
	OrderTypeLimit
	OrderTypeStop
	OrderTypeStopLimit
	OrderTypeIceberg
)

// String returns the string representation of the order type.
func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "market"
	case OrderTypeLimit:
		return "limit"
	case OrderTypeStop:
		return "stop"
	case OrderTypeStopLimit:
		return "stop_limit"
	case OrderTypeIceberg:
		return "iceberg"
	default:
		return "unknown"
	}
}

// TimeInForce is the order time in force.
type TimeInForce uint8

const (
	TIFGTC TimeInForce = iota
	TIFIOC
	TIFFOK
	TIFDay
	TIFGTD
)

// String returns the string representation of the time in force.
func (t TimeInForce) String() string {
	switch t {
	case TIFGTC:
		return "gtc"
	case TIFIOC:
		return "ioc"
	case TIFFOK:
		return "fok"
	case TIFDay:
		return "day"
	case TIFGTD:
		return "gtd"
	default:
		return "unknown"
	}
}

// OrderState is the lifecycle state of an order.
type OrderState uint8

const (
	OrderStatePending OrderState = iota
	OrderStateSubmitted
	OrderStateAcknowledged
	OrderStatePartiallyFilled
	OrderStateFilled
	OrderStateCancelled
	OrderStateRejected
	OrderStateExpired
)

// String returns the string representation of the order state.
func (s OrderState) String() string {
	switch s {
	case OrderStatePending:
		return "pending"
	case OrderStateSubmitted:
		return "submitted"
	case OrderStateAcknowledged:
		return "acknowledged"
	case OrderStatePartiallyFilled:
		return "partially_filled"
	case OrderStateFilled:
		return "filled"
	case OrderStateCancelled:
		return "cancelled"
	case OrderStateRejected:
		return "rejected"
	case OrderStateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is terminal.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderStateFilled, OrderStateCancelled, OrderStateRejected, OrderStateExpired:
		return true
	}
	return false
}

// MarketPrice marks an order as unpriced (market order sentinel).
const MarketPrice uint64 = 0

// Order is the core order record. Hot fields are packed first so the
// frequently touched part of the struct stays within one cache line.
type Order struct {
	OrderID       uint64
	Price         uint64 // fixed-point price units; MarketPrice for market orders
	Quantity      uint64
	FilledQty     uint64
	CreatedTSC    uint64
	LastUpdateTSC uint64
	SymbolID      uint32
	StrategyID    uint32
	Side          Side
	Type          OrderType
	TIF           TimeInForce
	State         OrderState

	VenueID       uint8
	ParentID      uint64 // non-zero for router child orders
	ExpiryTSC     uint64 // TIF Day/GTD expiry, 0 otherwise
	ClientOrderID string
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() uint64 {
	if o.FilledQty >= o.Quantity {
		return 0
	}
	return o.Quantity - o.FilledQty
}

// Notional returns the order value in whole currency units. Market orders
// have no price; callers substitute a mark price before the check.
func (o *Order) Notional() uint64 {
	return o.Price * o.Quantity / PriceScale
}

// NotionalAt returns the order value in whole currency units at a given
// mark price.
func NotionalAt(price, qty uint64) uint64 {
	return price * qty / PriceScale
}

// EventKind is the market-data event kind.
type EventKind uint8

const (
	EventTrade EventKind = iota
	EventQuote
	EventAddOrder
	EventDeleteOrder
	EventModify
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventTrade:
		return "trade"
	case EventQuote:
		return "quote"
	case EventAddOrder:
		return "add_order"
	case EventDeleteOrder:
		return "delete_order"
	case EventModify:
		return "modify"
	default:
		return "unknown"
	}
}

// MarketDataEvent is a normalized market-data event produced by a parser.
type MarketDataEvent struct {
	TimestampTSC uint64
	OrderID      uint64 // for AddOrder/DeleteOrder/Modify
	Price        uint64
	Quantity     uint64
	BidPrice     uint64 // for Quote
	AskPrice     uint64
	BidSize      uint64
	AskSize      uint64
	SymbolID     uint32
	Kind         EventKind
	Side         Side
}

// SignalKind classifies a trading signal.
type SignalKind uint8

const (
	SignalEntry SignalKind = iota
	SignalExit
	SignalRiskReduce
)

// String returns the string representation of the signal kind.
func (k SignalKind) String() string {
	switch k {
	case SignalEntry:
		return "entry"
	case SignalExit:
		return "exit"
	case SignalRiskReduce:
		return "risk_reduce"
	default:
		return "unknown"
	}
}

// Signal is a strategy output. Strength is in [-1, 1] (sign is direction),
// confidence in [0, 1]. SuggestedPrice of MarketPrice means market.
type Signal struct {
	TimestampTSC   uint64
	SymbolID       uint32
	StrategyID     uint32
	Strength       float64
	Confidence     float64
	SuggestedQty   uint64
	SuggestedPrice uint64
	UrgencyMs      uint16
	Kind           SignalKind
}

// Fill is a single execution applied to an order.
type Fill struct {
	OrderID  uint64
	ExecID   string
	Price    uint64
	Quantity uint64
	TSC      uint64
	VenueID  uint8
	Side     Side
	SymbolID uint32
}

// ExecutionReport is the venue's view of an order event.
type ExecutionReport struct {
	OrderID      uint64
	VenueOrderID uint64
	ExecID       string
	State        OrderState
	ExecutedQty  uint64
	RemainingQty uint64
	ExecPrice    uint64
	TimestampTSC uint64
	VenueID      uint8
	RejectReason string
}

// VenueState is the live per-venue, per-symbol quote and quality record the
// router scores against.
type VenueState struct {
	VenueID         uint8
	SymbolID        uint32
	Bid             uint64
	Ask             uint64
	BidSize         uint64
	AskSize         uint64
	FillRateEWMA    float64
	AckLatencyEWMA  float64 // microseconds
	HiddenLiquidity float64 // estimated, in shares
	CapacityUtil    float64
	Operational     bool
	LastUpdateTSC   uint64
}
