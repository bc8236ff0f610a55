package supervisor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdoElHodaky/hftcore/internal/clock"
	"github.com/abdoElHodaky/hftcore/internal/risk"
)

func newTestSupervisor(t *testing.T) (*Supervisor, *risk.KillSwitch) {
	t.Helper()
	ks := risk.NewKillSwitch(nil)
	s, err := New(clock.New(nil), ks, nil)
	require.NoError(t, err)
	return s, ks
}

func TestSupervisor_StartStopDrains(t *testing.T) {
	s, _ := newTestSupervisor(t)

	var polls, drains atomic.Uint64
	s.Register(&Worker{
		Name: "w1",
		Core: -1,
		Poll: func() bool { polls.Add(1); return false },
		Drain: func() { drains.Add(1) },
	})

	s.Start()
	assert.True(t, s.Running())
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	assert.False(t, s.Running())
	assert.Positive(t, polls.Load())
	assert.Equal(t, uint64(1), drains.Load(), "drain runs exactly once")

	// Stop is idempotent.
	s.Stop()
	assert.Equal(t, uint64(1), drains.Load())
}

func TestSupervisor_ProbeReportsWorkersAndQueues(t *testing.T) {
	s, _ := newTestSupervisor(t)
	s.Register(&Worker{Name: "ingress", Core: -1, Poll: func() bool { return false }})
	s.AddQueueProbe(func() QueueProbe {
		return QueueProbe{Name: "md-ring", Depth: 3, Drops: 7}
	})

	s.Start()
	defer s.Stop()
	time.Sleep(10 * time.Millisecond)

	h := s.Probe()
	require.Len(t, h.Workers, 1)
	assert.Equal(t, "ingress", h.Workers[0].Name)
	assert.False(t, h.Workers[0].Stale, "active worker is fresh")
	require.Len(t, h.Queues, 1)
	assert.Equal(t, uint64(7), h.Queues[0].Drops)
}

func TestSupervisor_MonitorDegradesToReduceOnly(t *testing.T) {
	s, ks := newTestSupervisor(t)
	s.AddMonitor(func() string { return "queue drop rate above threshold" })

	s.Register(&Worker{Name: "w", Core: -1, Poll: func() bool { return false }})
	s.Start()
	defer s.Stop()

	s.sweep()
	assert.Equal(t, risk.LevelReduceOnly, ks.Level())
}

func TestSupervisor_FatalEscalatesToEmergencyStop(t *testing.T) {
	s, ks := newTestSupervisor(t)
	s.Fatal("book invariant violation")
	assert.Equal(t, risk.LevelEmergencyStop, ks.Level())
}
