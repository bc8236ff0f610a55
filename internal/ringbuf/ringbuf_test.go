package ringbuf

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSPSC_FIFO(t *testing.T) {
	q, err := NewSPSC[int](8)
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		require.NoError(t, q.Push(i))
	}
	assert.ErrorIs(t, q.Push(99), ErrQueueFull)
	assert.Equal(t, uint64(1), q.Dropped())

	for i := 0; i < 8; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestSPSC_InvalidCapacity(t *testing.T) {
	_, err := NewSPSC[int](6)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
	_, err = NewSPSC[int](0)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestSPSC_WrapAround(t *testing.T) {
	q, err := NewSPSC[int](4)
	require.NoError(t, err)

	for round := 0; round < 100; round++ {
		require.NoError(t, q.Push(round))
		v, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, round, v)
	}
	assert.Equal(t, 0, q.Len())
}

func TestSPSC_ConcurrentProducerConsumer(t *testing.T) {
	q, err := NewSPSC[uint64](1024)
	require.NoError(t, err)

	const total = 200000
	var got []uint64

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := uint64(0); i < total; {
			if q.Push(i) == nil {
				i++
			}
		}
	}()
	go func() {
		defer wg.Done()
		for uint64(len(got)) < total {
			if v, ok := q.Pop(); ok {
				got = append(got, v)
			}
		}
	}()
	wg.Wait()

	require.Len(t, got, total)
	for i := uint64(0); i < total; i++ {
		require.Equal(t, i, got[i])
	}
}

func TestMPSC_FIFOPerProducer(t *testing.T) {
	q, err := NewMPSC[[2]uint64](4096)
	require.NoError(t, err)

	const producers = 4
	const perProducer = 50000

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p uint64) {
			defer wg.Done()
			for i := uint64(0); i < perProducer; {
				if q.Push([2]uint64{p, i}) == nil {
					i++
				}
			}
		}(uint64(p))
	}

	done := make(chan struct{})
	lastSeen := make([]int64, producers)
	for i := range lastSeen {
		lastSeen[i] = -1
	}
	go func() {
		defer close(done)
		count := 0
		for count < producers*perProducer {
			v, ok := q.Pop()
			if !ok {
				continue
			}
			p, i := v[0], int64(v[1])
			// Per-producer order must be preserved.
			if i != lastSeen[p]+1 {
				t.Errorf("producer %d: got %d after %d", p, i, lastSeen[p])
				return
			}
			lastSeen[p] = i
			count++
		}
	}()

	wg.Wait()
	<-done
}

func TestMPSC_FullFailsFast(t *testing.T) {
	q, err := NewMPSC[int](4)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, q.Push(i))
	}
	assert.ErrorIs(t, q.Push(4), ErrQueueFull)
	assert.Equal(t, uint64(1), q.Dropped())

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 0, v)

	// One slot freed, one push succeeds again.
	assert.NoError(t, q.Push(4))
}

func TestPopBatch(t *testing.T) {
	q, err := NewMPSC[int](16)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Push(i))
	}

	buf := make([]int, 4)
	n := q.PopBatch(buf)
	assert.Equal(t, 4, n)
	assert.Equal(t, []int{0, 1, 2, 3}, buf)

	buf2 := make([]int, 16)
	n = q.PopBatch(buf2)
	assert.Equal(t, 6, n)
}
