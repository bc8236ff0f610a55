package pool

import (
	"testing"

	"github.com/abdoElHodaky/hftcore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_GetPut(t *testing.T) {
	p := NewOrderPool(2)

	a, err := p.Get()
	require.NoError(t, err)
	b, err := p.Get()
	require.NoError(t, err)
	assert.Equal(t, 2, p.InUse())

	_, err = p.Get()
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, uint64(1), p.Misses())

	a.OrderID = 42
	p.Put(a)
	p.Put(b)
	assert.Equal(t, 0, p.InUse())
	assert.Equal(t, 2, p.HighWater())

	// Objects come back cleared.
	c, err := p.Get()
	require.NoError(t, err)
	assert.Equal(t, types.Order{}, *c)
}

func TestPool_Utilization(t *testing.T) {
	p := NewEventPool(4)
	assert.Zero(t, p.Utilization())

	ev, err := p.Get()
	require.NoError(t, err)
	assert.InDelta(t, 0.25, p.Utilization(), 1e-9)
	p.Put(ev)
}
