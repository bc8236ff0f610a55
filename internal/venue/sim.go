package venue

import (
	"fmt"
	"sync/atomic"

	"github.com/abdoElHodaky/hftcore/internal/ringbuf"
	"github.com/abdoElHodaky/hftcore/internal/types"
)

// SimGateway is an in-process venue that acknowledges and fully fills every
// accepted order. Used by tests and the dry-run mode of the binary.
type SimGateway struct {
	id      uint8
	clock   func() uint64
	reports *ringbuf.MPSC[types.ExecutionReport]
	execSeq atomic.Uint64
	venueSeq atomic.Uint64

	// Down simulates an outage: submits fail until cleared.
	Down atomic.Bool
}

// NewSimGateway creates a simulator with the given venue id.
func NewSimGateway(id uint8, clock func() uint64) (*SimGateway, error) {
	reports, err := ringbuf.NewMPSC[types.ExecutionReport](4096)
	if err != nil {
		return nil, err
	}
	return &SimGateway{id: id, clock: clock, reports: reports}, nil
}

// VenueID implements Gateway.
func (g *SimGateway) VenueID() uint8 { return g.id }

// Submit implements Gateway: accepted orders produce an ack report and a
// full fill report on the next poll.
func (g *SimGateway) Submit(order *types.Order) (SubmitOutcome, error) {
	if g.Down.Load() {
		return SubmitUnavailable, ErrUnavailable
	}
	now := g.clock()
	venueOrderID := g.venueSeq.Add(1)

	ack := types.ExecutionReport{
		OrderID:      order.OrderID,
		VenueOrderID: venueOrderID,
		ExecID:       g.execID(),
		State:        types.OrderStateAcknowledged,
		RemainingQty: order.Quantity,
		TimestampTSC: now,
		VenueID:      g.id,
	}
	if err := g.reports.Push(ack); err != nil {
		return SubmitRejected, err
	}

	px := order.Price
	if px == types.MarketPrice {
		px = types.PriceScale // simulator fallback mark
	}
	fill := types.ExecutionReport{
		OrderID:      order.OrderID,
		VenueOrderID: venueOrderID,
		ExecID:       g.execID(),
		State:        types.OrderStateFilled,
		ExecutedQty:  order.Quantity,
		ExecPrice:    px,
		TimestampTSC: now + 1,
		VenueID:      g.id,
	}
	if err := g.reports.Push(fill); err != nil {
		return SubmitRejected, err
	}
	return SubmitAccepted, nil
}

// PollReports implements Gateway.
func (g *SimGateway) PollReports(buf []types.ExecutionReport) int {
	return g.reports.PopBatch(buf)
}

func (g *SimGateway) execID() string {
	return fmt.Sprintf("sim-%d-%d", g.id, g.execSeq.Add(1))
}
