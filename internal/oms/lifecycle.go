package oms

import (
	"fmt"

	"github.com/abdoElHodaky/hftcore/internal/types"
)

// IllegalTransitionError reports an attempted transition outside the state
// diagram. Treated as fatal by the supervisor: it means the OMS and venue
// disagree about an order's history.
type IllegalTransitionError struct {
	OrderID uint64
	From    types.OrderState
	To      types.OrderState
}

// Error implements the error interface.
func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal order transition %s -> %s (order %d)", e.From, e.To, e.OrderID)
}

// legalTransitions is the order lifecycle diagram.
var legalTransitions = map[types.OrderState][]types.OrderState{
	types.OrderStatePending: {
		types.OrderStateSubmitted,
		types.OrderStateRejected,
		types.OrderStateCancelled,
	},
	types.OrderStateSubmitted: {
		types.OrderStateAcknowledged,
		types.OrderStateRejected,
		types.OrderStateCancelled,
		types.OrderStateExpired,
	},
	types.OrderStateAcknowledged: {
		types.OrderStatePartiallyFilled,
		types.OrderStateFilled,
		types.OrderStateCancelled,
		types.OrderStateRejected,
		types.OrderStateExpired,
	},
	types.OrderStatePartiallyFilled: {
		types.OrderStatePartiallyFilled,
		types.OrderStateFilled,
		types.OrderStateCancelled,
		types.OrderStateExpired,
	},
}

// canTransition reports whether from -> to is on the diagram.
func canTransition(from, to types.OrderState) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition applies a state change, enforcing diagram legality and
// monotonic update timestamps.
func transition(order *types.Order, to types.OrderState, tsc uint64) error {
	if !canTransition(order.State, to) {
		return &IllegalTransitionError{OrderID: order.OrderID, From: order.State, To: to}
	}
	order.State = to
	if tsc > order.LastUpdateTSC {
		order.LastUpdateTSC = tsc
	}
	return nil
}
