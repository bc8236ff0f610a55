// Package venue defines the execution egress edge: the gateway trait the
// router submits through, a circuit-breaker wrapper that feeds venue
// operational state, and an in-process simulator for tests and dry runs.
package venue

import (
	"errors"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/hftcore/internal/types"
)

// SubmitOutcome is the synchronous result of a submit attempt.
type SubmitOutcome uint8

const (
	SubmitAccepted SubmitOutcome = iota
	SubmitRejected
	SubmitUnavailable
)

// String returns the string representation of the outcome.
func (o SubmitOutcome) String() string {
	switch o {
	case SubmitAccepted:
		return "accepted"
	case SubmitRejected:
		return "rejected"
	case SubmitUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ErrUnavailable is returned when the venue cannot take orders.
var ErrUnavailable = errors.New("venue: unavailable")

// Gateway is the venue I/O trait. Submit is called on the router worker;
// PollReports on the OMS worker. Neither may block.
type Gateway interface {
	VenueID() uint8
	Submit(order *types.Order) (SubmitOutcome, error)
	PollReports(buf []types.ExecutionReport) int
}

// OperationalFunc is notified when a wrapped gateway changes availability.
type OperationalFunc func(venueID uint8, up bool)

// BreakerGateway wraps a Gateway in a circuit breaker: repeated submit
// failures open the breaker, the venue is marked non-operational, and
// half-open probes restore it.
type BreakerGateway struct {
	inner    Gateway
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
	onChange OperationalFunc
}

// NewBreakerGateway wraps a gateway. onChange may be nil.
func NewBreakerGateway(inner Gateway, onChange OperationalFunc, logger *zap.Logger) *BreakerGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if onChange == nil {
		onChange = func(uint8, bool) {}
	}
	g := &BreakerGateway{inner: inner, logger: logger, onChange: onChange}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "venue",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			up := to == gobreaker.StateClosed
			logger.Warn("Venue breaker state change",
				zap.Uint8("venue", inner.VenueID()),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			g.onChange(inner.VenueID(), up)
		},
	})
	return g
}

// VenueID implements Gateway.
func (g *BreakerGateway) VenueID() uint8 { return g.inner.VenueID() }

// Submit implements Gateway through the breaker.
func (g *BreakerGateway) Submit(order *types.Order) (SubmitOutcome, error) {
	res, err := g.breaker.Execute(func() (interface{}, error) {
		outcome, err := g.inner.Submit(order)
		if err != nil {
			return outcome, err
		}
		if outcome == SubmitUnavailable {
			return outcome, ErrUnavailable
		}
		return outcome, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return SubmitUnavailable, ErrUnavailable
		}
		return SubmitUnavailable, err
	}
	return res.(SubmitOutcome), nil
}

// PollReports implements Gateway.
func (g *BreakerGateway) PollReports(buf []types.ExecutionReport) int {
	return g.inner.PollReports(buf)
}
