// Package supervisor owns the worker threads: construction from config,
// CPU pinning and real-time priority, startup and shutdown ordering, and
// health/degraded-mode monitoring.
package supervisor

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/abdoElHodaky/hftcore/internal/clock"
	"github.com/abdoElHodaky/hftcore/internal/risk"
)

// Worker is one pinned polling loop. Poll returns true when it did work;
// idle loops may briefly yield. Drain is called once after the running
// flag drops, before the worker exits.
type Worker struct {
	Name     string
	Core     int // -1 disables pinning
	Realtime bool
	Poll     func() bool
	Drain    func()

	lastTick atomic.Uint64
}

// Supervisor starts workers leaves-first, in registration order. A single
// atomic running flag cancels every loop at once, so shutdown follows no
// fixed order: all workers drain and exit concurrently.
type Supervisor struct {
	logger *zap.Logger
	clock  *clock.Clock
	ks     *risk.KillSwitch

	workers []*Worker
	running atomic.Bool
	wg      sync.WaitGroup

	background  *ants.Pool
	monitors    []MonitorFunc
	queueProbes []QueueProbeFunc
	staleAfter  time.Duration
	fatalCh     chan string
}

// MonitorFunc inspects one health dimension and returns a degraded-mode
// reason, or "" when healthy. Monitors run on the background pool.
type MonitorFunc func() string

// New creates a supervisor. The background pool runs the cold-path health
// sweep; its size stays minimal so it never competes with pinned workers.
func New(clk *clock.Clock, ks *risk.KillSwitch, logger *zap.Logger) (*Supervisor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := ants.NewPool(2, ants.WithPreAlloc(true), ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	return &Supervisor{
		logger:     logger,
		clock:      clk,
		ks:         ks,
		background: pool,
		staleAfter: 5 * time.Second,
		fatalCh:    make(chan string, 1),
	}, nil
}

// Register appends a worker. Registration order is startup order; shutdown
// stops all workers together, not in reverse.
func (s *Supervisor) Register(w *Worker) {
	s.workers = append(s.workers, w)
}

// AddMonitor registers a degraded-mode probe.
func (s *Supervisor) AddMonitor(m MonitorFunc) {
	s.monitors = append(s.monitors, m)
}

// Running reports whether the worker set is live.
func (s *Supervisor) Running() bool { return s.running.Load() }

// Start launches every worker in registration order.
func (s *Supervisor) Start() {
	s.running.Store(true)
	for _, w := range s.workers {
		s.wg.Add(1)
		go s.run(w)
		s.logger.Info("Worker started",
			zap.String("worker", w.Name),
			zap.Int("core", w.Core))
	}
}

// Stop flips the running flag; workers observe it within one polling
// iteration, drain their queues, and exit. Blocks until all are down.
func (s *Supervisor) Stop() {
	if !s.running.Swap(false) {
		return
	}
	s.wg.Wait()
	s.background.Release()
	s.logger.Info("All workers stopped")
}

// run is the worker loop: lock, pin, raise priority, poll until cancelled,
// then drain.
func (s *Supervisor) run(w *Worker) {
	defer s.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if w.Core >= 0 {
		if err := pinToCore(w.Core); err != nil {
			s.logger.Warn("CPU pin failed",
				zap.String("worker", w.Name),
				zap.Int("core", w.Core),
				zap.Error(err))
		}
	}
	if w.Realtime {
		if err := raisePriority(); err != nil {
			s.logger.Warn("Realtime priority unavailable",
				zap.String("worker", w.Name),
				zap.Error(err))
		}
	}

	idle := 0
	for s.running.Load() {
		w.lastTick.Store(s.clock.Now())
		if w.Poll() {
			idle = 0
			continue
		}
		// Brief yield after a quiet stretch keeps the core responsive
		// without a suspension point in the busy case.
		idle++
		if idle > 1024 {
			runtime.Gosched()
		}
	}
	if w.Drain != nil {
		w.Drain()
	}
	s.logger.Info("Worker drained", zap.String("worker", w.Name))
}

// pinToCore binds the calling thread to one CPU.
func pinToCore(core int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	return unix.SchedSetaffinity(0, &set)
}

// rtPriority is the SCHED_FIFO priority requested for hot workers.
const rtPriority = 80

// raisePriority requests SCHED_FIFO for the calling thread. Fails without
// CAP_SYS_NICE; callers treat that as advisory.
func raisePriority() error {
	attr := unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: rtPriority,
	}
	return unix.SchedSetAttr(0, &attr, 0)
}

// MonitorInterval is the cadence of the degraded-mode sweep.
const MonitorInterval = time.Second

// StartMonitoring schedules the periodic health sweep on the background
// pool. A tripped monitor moves the kill switch to ReduceOnly; monitoring
// continues so a later fatal can still escalate.
func (s *Supervisor) StartMonitoring() {
	go func() {
		ticker := time.NewTicker(MonitorInterval)
		defer ticker.Stop()
		for range ticker.C {
			if !s.running.Load() {
				return
			}
			_ = s.background.Submit(s.sweep)
		}
	}()
}

// sweep runs every monitor plus the built-in clock-drift and worker
// staleness checks.
func (s *Supervisor) sweep() {
	if drift := s.clock.DriftCheck(); drift > 50*time.Millisecond || drift < -50*time.Millisecond {
		s.degrade("clock drift beyond tolerance")
	}
	for _, m := range s.monitors {
		if reason := m(); reason != "" {
			s.degrade(reason)
		}
	}
}

// degrade escalates to ReduceOnly with the probe's reason.
func (s *Supervisor) degrade(reason string) {
	if s.ks.Escalate(risk.LevelReduceOnly, reason) {
		s.logger.Warn("Degraded mode", zap.String("reason", reason))
	}
}

// Fatal escalates to EmergencyStop and wakes the process owner, which
// flushes audit and exits non-zero. No automatic restart.
func (s *Supervisor) Fatal(reason string) {
	s.ks.Escalate(risk.LevelEmergencyStop, reason)
	s.logger.Error("Fatal condition", zap.String("reason", reason))
	select {
	case s.fatalCh <- reason:
	default:
	}
}

// FatalCh delivers the first fatal reason; the binary's run loop selects
// on it alongside signals.
func (s *Supervisor) FatalCh() <-chan string {
	return s.fatalCh
}
