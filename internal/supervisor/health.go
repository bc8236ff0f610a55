package supervisor

import (
	"time"
)

// WorkerHealth is one worker's probe snapshot.
type WorkerHealth struct {
	Name        string        `json:"name"`
	Core        int           `json:"core"`
	LastTickAge time.Duration `json:"last_tick_age"`
	Stale       bool          `json:"stale"`
}

// QueueProbe reports one queue's live depth and drop count.
type QueueProbe struct {
	Name    string `json:"name"`
	Depth   int    `json:"depth"`
	Drops   uint64 `json:"drops"`
}

// QueueProbeFunc samples a queue.
type QueueProbeFunc func() QueueProbe

// Health is the full probe snapshot the CLI's probe verb renders.
type Health struct {
	Running bool           `json:"running"`
	Workers []WorkerHealth `json:"workers"`
	Queues  []QueueProbe   `json:"queues"`
}

// AddQueueProbe registers a queue sampler for health reporting.
func (s *Supervisor) AddQueueProbe(p QueueProbeFunc) {
	s.queueProbes = append(s.queueProbes, p)
}

// Probe samples every worker's last-tick age and every registered queue.
// A worker whose last tick is older than the staleness threshold is
// flagged.
func (s *Supervisor) Probe() Health {
	now := s.clock.Now()
	h := Health{Running: s.running.Load()}
	for _, w := range s.workers {
		age := time.Duration(now - w.lastTick.Load())
		h.Workers = append(h.Workers, WorkerHealth{
			Name:        w.Name,
			Core:        w.Core,
			LastTickAge: age,
			Stale:       h.Running && age > s.staleAfter,
		})
	}
	for _, p := range s.queueProbes {
		h.Queues = append(h.Queues, p())
	}
	return h
}
