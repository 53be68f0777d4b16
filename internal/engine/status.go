package engine

import (
	"log"
	"sync"
	"time"
)

type statusSlot struct {
	msg    string
	lastAt time.Time
}

// statusTracker dedups per-slot status lines so steady states (waiting for
// liquidity, cooldown active) do not flood the log. A repeated message is
// re-emitted only after minInterval.
type statusTracker struct {
	mu          sync.Mutex
	prefix      string
	minInterval time.Duration
	slots       map[string]statusSlot
}

func newStatusTracker(prefix string, minInterval time.Duration) *statusTracker {
	if minInterval < 0 {
		minInterval = 0
	}
	return &statusTracker{
		prefix:      prefix,
		minInterval: minInterval,
		slots:       make(map[string]statusSlot),
	}
}

func (s *statusTracker) Set(slot, msg string) {
	if s == nil || slot == "" || msg == "" {
		return
	}
	s.mu.Lock()
	now := time.Now()
	prev := s.slots[slot]
	if prev.msg == msg && !prev.lastAt.IsZero() && now.Sub(prev.lastAt) < s.minInterval {
		s.mu.Unlock()
		return
	}
	s.slots[slot] = statusSlot{msg: msg, lastAt: now}
	s.mu.Unlock()
	log.Printf("%s status %s=%s", s.prefix, slot, msg)
}
