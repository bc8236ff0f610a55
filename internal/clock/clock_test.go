package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock_MonotonicAndCalibrated(t *testing.T) {
	c := New(nil)

	a := c.Now()
	time.Sleep(5 * time.Millisecond)
	b := c.Now()
	require.Greater(t, b, a)

	// Calibration maps the counter onto wall time within a loose bound.
	elapsed := c.ToNanos(b) - c.ToNanos(a)
	assert.InDelta(t, 5e6, float64(elapsed), 5e6)

	wall := c.WallTime(c.Now())
	assert.WithinDuration(t, time.Now(), wall, time.Second)
}

func TestClock_SecondBucketAdvances(t *testing.T) {
	c := New(nil)
	b1 := c.SecondBucket(c.Now())
	b2 := c.SecondBucket(c.Now() + 2_000_000_000)
	assert.GreaterOrEqual(t, b2, b1+1)
}

func TestClock_DriftSmallAfterCalibration(t *testing.T) {
	c := New(nil)
	drift := c.DriftCheck()
	if drift < 0 {
		drift = -drift
	}
	assert.Less(t, drift, 100*time.Millisecond)
}

func TestOrderIDSource_MonotonicUnique(t *testing.T) {
	s := NewOrderIDSource(100)
	a := s.Next()
	b := s.Next()
	assert.Equal(t, a+1, b)
	assert.Greater(t, a, uint64(100))

	s.Seed(500)
	assert.Greater(t, s.Next(), uint64(500))
	// Seeding backwards is a no-op.
	s.Seed(10)
	assert.Greater(t, s.Next(), uint64(500))
}

func TestSymbolRegistry(t *testing.T) {
	r := NewSymbolRegistry()
	aapl := r.Register("AAPL")
	msft := r.Register("MSFT")
	assert.NotEqual(t, aapl, msft)
	assert.Equal(t, aapl, r.Register("AAPL"), "re-registration is stable")

	id, ok := r.Lookup("MSFT")
	require.True(t, ok)
	assert.Equal(t, msft, id)

	name, err := r.Name(aapl)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", name)

	_, err = r.Name(99)
	assert.Error(t, err)
	assert.Equal(t, 2, r.Count())
}
