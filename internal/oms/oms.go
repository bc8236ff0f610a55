// Package oms implements the order management system: the order lifecycle
// state machine, pre-submit validation, fill accounting, TIF expiration,
// per-venue latency tracking, and archival of terminal orders.
package oms

import (
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/hftcore/internal/book"
	"github.com/abdoElHodaky/hftcore/internal/position"
	"github.com/abdoElHodaky/hftcore/internal/risk"
	"github.com/abdoElHodaky/hftcore/internal/types"
)

// Validation errors.
var (
	ErrZeroQuantity     = errors.New("oms: zero quantity")
	ErrPriceNotAligned  = errors.New("oms: limit price not tick aligned")
	ErrExcessiveNotional = errors.New("oms: notional above validation cap")
	ErrUnknownOrder     = errors.New("oms: unknown order")
	ErrUnknownSymbol    = errors.New("oms: unknown symbol")
	ErrDuplicateOrder   = errors.New("oms: duplicate order id")
)

// LifecycleEvent notifies subscribers of an order transition or fill.
type LifecycleEvent struct {
	Order *types.Order
	Fill  *types.Fill // nil for non-fill transitions
	Prev  types.OrderState
}

// Subscriber receives lifecycle events on the OMS thread; it must not
// block.
type Subscriber func(ev LifecycleEvent)

// Archiver receives terminal orders and risk verdicts for audit.
type Archiver interface {
	ArchiveOrder(order types.Order, tsc uint64)
	ArchiveVerdict(order types.Order, verdict risk.Verdict, tsc uint64)
}

// Config bounds the OMS.
type Config struct {
	MaxNotional uint64 // pre-submit sanity cap, currency units
}

// OMS owns every order from creation until terminal archival. All methods
// run on the OMS/risk thread.
type OMS struct {
	cfg    Config
	logger *zap.Logger

	active   map[uint64]*types.Order
	specs    map[uint32]book.SymbolSpec
	seen     map[string]struct{} // exec ids already applied
	children map[uint64][]uint64 // parent -> child order ids

	positions *position.Store
	riskEng   *risk.Engine
	latency   *LatencyTracker
	archiver  Archiver
	subs      []Subscriber

	submitTSC map[uint64]uint64 // order id -> submit time for latency
}

// New creates the OMS.
func New(cfg Config, store *position.Store, riskEng *risk.Engine, archiver Archiver, logger *zap.Logger) *OMS {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OMS{
		cfg:       cfg,
		logger:    logger,
		active:    make(map[uint64]*types.Order),
		specs:     make(map[uint32]book.SymbolSpec),
		seen:      make(map[string]struct{}),
		children:  make(map[uint64][]uint64),
		positions: store,
		riskEng:   riskEng,
		latency:   NewLatencyTracker(),
		archiver:  archiver,
	}
}

// RegisterSymbol installs the validation spec for a symbol.
func (o *OMS) RegisterSymbol(spec book.SymbolSpec) {
	o.specs[spec.SymbolID] = spec
}

// Subscribe registers a lifecycle listener.
func (o *OMS) Subscribe(sub Subscriber) {
	o.subs = append(o.subs, sub)
}

// Latency exposes the venue latency tracker.
func (o *OMS) Latency() *LatencyTracker { return o.latency }

// Active returns the number of live orders.
func (o *OMS) Active() int { return len(o.active) }

// Get returns a copy of a tracked order.
func (o *OMS) Get(orderID uint64) (types.Order, bool) {
	ord, ok := o.active[orderID]
	if !ok {
		return types.Order{}, false
	}
	return *ord, true
}

// Validate applies the pre-submit sanity checks: rejects obviously invalid
// orders before they reach the risk engine.
func (o *OMS) Validate(order *types.Order) error {
	if order.Quantity == 0 {
		return ErrZeroQuantity
	}
	spec, ok := o.specs[order.SymbolID]
	if !ok {
		return ErrUnknownSymbol
	}
	if order.Type != types.OrderTypeMarket {
		if order.Price == types.MarketPrice ||
			spec.TickSize == 0 || order.Price%spec.TickSize != 0 {
			return ErrPriceNotAligned
		}
	}
	if o.cfg.MaxNotional > 0 && order.Notional() > o.cfg.MaxNotional {
		return ErrExcessiveNotional
	}
	return nil
}

// Track registers a new order in Pending state. The order must carry a
// unique id; a client order id is assigned when absent.
func (o *OMS) Track(order *types.Order, tsc uint64) error {
	if _, exists := o.active[order.OrderID]; exists {
		return ErrDuplicateOrder
	}
	order.State = types.OrderStatePending
	order.CreatedTSC = tsc
	order.LastUpdateTSC = tsc
	if order.ClientOrderID == "" {
		order.ClientOrderID = uuid.NewString()
	}
	o.active[order.OrderID] = order
	if order.ParentID != 0 {
		o.children[order.ParentID] = append(o.children[order.ParentID], order.OrderID)
	}
	return nil
}

// ApplyVerdict resolves a risk decision: approved orders move to Submitted,
// rejections terminate. The verdict is archived either way.
func (o *OMS) ApplyVerdict(orderID uint64, verdict risk.Verdict, tsc uint64) error {
	order, ok := o.active[orderID]
	if !ok {
		return ErrUnknownOrder
	}
	if o.archiver != nil {
		o.archiver.ArchiveVerdict(*order, verdict, tsc)
	}

	prev := order.State
	if !verdict.Approved {
		if err := transition(order, types.OrderStateRejected, tsc); err != nil {
			return err
		}
		o.logger.Debug("Order rejected by risk",
			zap.Uint64("order_id", orderID),
			zap.String("reason", verdict.Reason.String()))
		o.notify(LifecycleEvent{Order: order, Prev: prev})
		return nil
	}
	if err := transition(order, types.OrderStateSubmitted, tsc); err != nil {
		return err
	}
	if o.submitTSC == nil {
		o.submitTSC = make(map[uint64]uint64)
	}
	o.submitTSC[orderID] = tsc
	o.notify(LifecycleEvent{Order: order, Prev: prev})
	return nil
}

// Cancel terminates a live order locally (venue cancel-ack path).
func (o *OMS) Cancel(orderID uint64, tsc uint64) error {
	order, ok := o.active[orderID]
	if !ok {
		return ErrUnknownOrder
	}
	prev := order.State
	if err := transition(order, types.OrderStateCancelled, tsc); err != nil {
		return err
	}
	o.notify(LifecycleEvent{Order: order, Prev: prev})
	return nil
}

// ApplyExecutionReport folds a venue report into the order state. A report
// whose exec id has already been applied is a no-op. Fill quantity flows
// into the position store, the risk engine's volume window, and the
// subscribers.
func (o *OMS) ApplyExecutionReport(rep *types.ExecutionReport) error {
	if rep.ExecID != "" {
		if _, dup := o.seen[rep.ExecID]; dup {
			return nil
		}
	}
	order, ok := o.active[rep.OrderID]
	if !ok {
		return ErrUnknownOrder
	}
	if rep.ExecID != "" {
		o.seen[rep.ExecID] = struct{}{}
	}

	prev := order.State
	switch rep.State {
	case types.OrderStateAcknowledged:
		if err := transition(order, types.OrderStateAcknowledged, rep.TimestampTSC); err != nil {
			return err
		}
		if sub, ok := o.submitTSC[order.OrderID]; ok && rep.TimestampTSC > sub {
			o.latency.RecordAck(rep.VenueID, int64(rep.TimestampTSC-sub))
		}
		order.VenueID = rep.VenueID
		o.notify(LifecycleEvent{Order: order, Prev: prev})
		return nil

	case types.OrderStatePartiallyFilled, types.OrderStateFilled:
		return o.applyFill(order, rep, prev)

	case types.OrderStateRejected:
		if err := transition(order, types.OrderStateRejected, rep.TimestampTSC); err != nil {
			return err
		}
		o.logger.Debug("Order rejected by venue",
			zap.Uint64("order_id", order.OrderID),
			zap.String("reason", rep.RejectReason))
		o.notify(LifecycleEvent{Order: order, Prev: prev})
		return nil

	case types.OrderStateCancelled:
		return o.Cancel(order.OrderID, rep.TimestampTSC)

	default:
		return &IllegalTransitionError{OrderID: order.OrderID, From: prev, To: rep.State}
	}
}

// applyFill applies executed quantity and routes the fill downstream.
func (o *OMS) applyFill(order *types.Order, rep *types.ExecutionReport, prev types.OrderState) error {
	target := types.OrderStatePartiallyFilled
	if order.FilledQty+rep.ExecutedQty >= order.Quantity {
		target = types.OrderStateFilled
	}
	if err := transition(order, target, rep.TimestampTSC); err != nil {
		return err
	}
	order.FilledQty += rep.ExecutedQty

	fill := &types.Fill{
		OrderID:  order.OrderID,
		ExecID:   rep.ExecID,
		Price:    rep.ExecPrice,
		Quantity: rep.ExecutedQty,
		TSC:      rep.TimestampTSC,
		VenueID:  rep.VenueID,
		Side:     order.Side,
		SymbolID: order.SymbolID,
	}
	if err := o.positions.ApplyFill(fill); err != nil {
		return err
	}
	if o.riskEng != nil {
		o.riskEng.RecordFill(fill)
	}
	if sub, ok := o.submitTSC[order.OrderID]; ok && rep.TimestampTSC > sub {
		o.latency.RecordFill(rep.VenueID, int64(rep.TimestampTSC-sub))
	}

	// Aggregate child fills up to the parent order.
	if order.ParentID != 0 {
		if parent, ok := o.active[order.ParentID]; ok {
			parent.FilledQty += rep.ExecutedQty
			if parent.FilledQty >= parent.Quantity {
				parent.State = types.OrderStateFilled
			} else {
				parent.State = types.OrderStatePartiallyFilled
			}
			if rep.TimestampTSC > parent.LastUpdateTSC {
				parent.LastUpdateTSC = rep.TimestampTSC
			}
		}
	}

	o.notify(LifecycleEvent{Order: order, Fill: fill, Prev: prev})
	return nil
}

// ExpireSweep expires orders whose TIF deadline has passed. Runs on the
// OMS timer.
func (o *OMS) ExpireSweep(tsc uint64) int {
	expired := 0
	for _, order := range o.active {
		if order.State.Terminal() || order.ExpiryTSC == 0 || tsc < order.ExpiryTSC {
			continue
		}
		prev := order.State
		if err := transition(order, types.OrderStateExpired, tsc); err != nil {
			continue
		}
		o.notify(LifecycleEvent{Order: order, Prev: prev})
		expired++
	}
	return expired
}

// Housekeep archives and evicts terminal orders. Runs on the OMS timer,
// after ExpireSweep.
func (o *OMS) Housekeep(tsc uint64) int {
	evicted := 0
	for id, order := range o.active {
		if !order.State.Terminal() {
			continue
		}
		if o.archiver != nil {
			o.archiver.ArchiveOrder(*order, tsc)
		}
		delete(o.active, id)
		delete(o.submitTSC, id)
		delete(o.children, id)
		evicted++
	}
	return evicted
}

// OpenOrders returns copies of all non-terminal orders, for snapshot
// persistence.
func (o *OMS) OpenOrders() []types.Order {
	out := make([]types.Order, 0, len(o.active))
	for _, order := range o.active {
		if !order.State.Terminal() {
			out = append(out, *order)
		}
	}
	return out
}

// ChildFillSum returns the aggregated child fill quantity for a parent.
func (o *OMS) ChildFillSum(parentID uint64) uint64 {
	var sum uint64
	for _, childID := range o.children[parentID] {
		if child, ok := o.active[childID]; ok {
			sum += child.FilledQty
		}
	}
	return sum
}

// notify fans an event out to subscribers.
func (o *OMS) notify(ev LifecycleEvent) {
	for _, sub := range o.subs {
		sub(ev)
	}
}
