package risk

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Level is the kill-switch level. Levels only move upward during a session;
// a manual Reset is required to lower them.
type Level uint32

const (
	LevelNone Level = iota
	LevelReduceOnly
	LevelCloseOnly
	LevelEmergencyStop
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelReduceOnly:
		return "reduce_only"
	case LevelCloseOnly:
		return "close_only"
	case LevelEmergencyStop:
		return "emergency_stop"
	default:
		return "unknown"
	}
}

// KillSwitch is the process-wide monotonic trading gate. Readers observe a
// single atomic scalar; writers only ratchet upward.
type KillSwitch struct {
	level       atomic.Uint32
	activations atomic.Uint64
	logger      *zap.Logger
}

// NewKillSwitch creates a kill switch at LevelNone.
func NewKillSwitch(logger *zap.Logger) *KillSwitch {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KillSwitch{logger: logger}
}

// Level returns the current level.
func (k *KillSwitch) Level() Level {
	return Level(k.level.Load())
}

// Escalate raises the level. Downward transitions are ignored; the return
// value reports whether the level changed.
func (k *KillSwitch) Escalate(to Level, reason string) bool {
	for {
		cur := k.level.Load()
		if uint32(to) <= cur {
			return false
		}
		if k.level.CompareAndSwap(cur, uint32(to)) {
			k.activations.Add(1)
			k.logger.Warn("Kill switch escalated",
				zap.String("from", Level(cur).String()),
				zap.String("to", to.String()),
				zap.String("reason", reason))
			return true
		}
	}
}

// Reset lowers the switch back to LevelNone. Operator action only, never
// called by the engine itself.
func (k *KillSwitch) Reset(operator string) {
	prev := Level(k.level.Swap(uint32(LevelNone)))
	k.logger.Warn("Kill switch reset",
		zap.String("from", prev.String()),
		zap.String("operator", operator))
}

// Activations returns the number of successful escalations.
func (k *KillSwitch) Activations() uint64 {
	return k.activations.Load()
}
