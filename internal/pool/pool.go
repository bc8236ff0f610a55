// Package pool provides preallocated object pools for hot-path records so
// the steady state allocates nothing. Exhaustion is a reportable error,
// never a crash.
package pool

import (
	"errors"
	"sync/atomic"

	"github.com/abdoElHodaky/hftcore/internal/types"
)

// ErrExhausted is returned when a bounded pool has no free object.
var ErrExhausted = errors.New("pool exhausted")

// Pool is a bounded free-list pool. Single-threaded: each worker owns its
// own pool instance.
type Pool[T any] struct {
	free    []*T
	reset   func(*T)
	inUse   int
	high    int
	misses  atomic.Uint64
}

// New creates a pool of size objects. reset clears an object on Put; nil
// means no clearing.
func New[T any](size int, reset func(*T)) *Pool[T] {
	p := &Pool[T]{
		free:  make([]*T, size),
		reset: reset,
	}
	for i := range p.free {
		p.free[i] = new(T)
	}
	return p
}

// Get takes an object from the pool.
func (p *Pool[T]) Get() (*T, error) {
	if len(p.free) == 0 {
		p.misses.Add(1)
		return nil, ErrExhausted
	}
	obj := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.inUse++
	if p.inUse > p.high {
		p.high = p.inUse
	}
	return obj, nil
}

// Put returns an object to the pool.
func (p *Pool[T]) Put(obj *T) {
	if obj == nil {
		return
	}
	if p.reset != nil {
		p.reset(obj)
	}
	p.free = append(p.free, obj)
	p.inUse--
}

// InUse returns the number of outstanding objects.
func (p *Pool[T]) InUse() int { return p.inUse }

// HighWater returns the peak outstanding count.
func (p *Pool[T]) HighWater() int { return p.high }

// Free returns the number of available objects.
func (p *Pool[T]) Free() int { return len(p.free) }

// Misses returns the exhaustion count.
func (p *Pool[T]) Misses() uint64 { return p.misses.Load() }

// Utilization returns in-use as a fraction of capacity.
func (p *Pool[T]) Utilization() float64 {
	total := p.inUse + len(p.free)
	if total == 0 {
		return 0
	}
	return float64(p.inUse) / float64(total)
}

// NewOrderPool creates an order pool with field clearing.
func NewOrderPool(size int) *Pool[types.Order] {
	return New(size, func(o *types.Order) { *o = types.Order{} })
}

// NewEventPool creates a market-data event pool with field clearing.
func NewEventPool(size int) *Pool[types.MarketDataEvent] {
	return New(size, func(e *types.MarketDataEvent) { *e = types.MarketDataEvent{} })
}
