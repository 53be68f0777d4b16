package engine

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"poly-spiketrader/internal/jsonl"
	"poly-spiketrader/internal/micros"
)

// Worker is a named long-running loop the supervisor keeps alive.
type Worker struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervisor runs workers and restarts crashed ones after a delay. A worker
// that fails too many times in a row is cooled down for a longer pause and
// then retried; a task is never abandoned while the engine runs. A clean
// return (nil, or context cancellation) is not a failure.
type Supervisor struct {
	cfg    *Config
	st     *State
	events *jsonl.Writer
}

func NewSupervisor(cfg *Config, st *State, events *jsonl.Writer) *Supervisor {
	return &Supervisor{cfg: cfg, st: st, events: events}
}

// Run blocks until every worker has exited.
func (s *Supervisor) Run(ctx context.Context, workers []Worker) {
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w Worker) {
			defer wg.Done()
			s.keepAlive(ctx, w)
		}(w)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.heartbeat(ctx)
	}()

	wg.Wait()
}

func (s *Supervisor) keepAlive(ctx context.Context, w Worker) {
	failures := 0
	for {
		started := time.Now()
		err := s.safeRun(ctx, w)

		if ctx.Err() != nil || s.st.IsShutdown() {
			return
		}
		if err == nil {
			// Worker loops only return cleanly on shutdown; a nil return
			// with the engine still running counts as a silent crash.
			err = fmt.Errorf("worker %s exited unexpectedly", w.Name)
		}

		// A run that held up through the cooldown window was healthy; its
		// crash starts a fresh streak instead of extending an old one.
		if s.cfg.WorkerCooldown > 0 && time.Since(started) >= s.cfg.WorkerCooldown {
			failures = 0
		}

		failures++
		log.Printf("[warn] worker %s failed (%d/%d): %v", w.Name, failures, s.cfg.MaxWorkerErrors, err)
		logTradeEvent(s.events, tradeLogEvent{
			Event:  "worker_restart",
			Worker: w.Name,
			Err:    err.Error(),
		})

		delay := s.cfg.RestartDelay
		if failures >= s.cfg.MaxWorkerErrors {
			log.Printf("[warn] worker %s hit failure ceiling, cooling down %s", w.Name, s.cfg.WorkerCooldown)
			delay = s.cfg.WorkerCooldown
			failures = 0
		}
		if !sleepWithJitter(ctx, delay) {
			return
		}
	}
}

func (s *Supervisor) safeRun(ctx context.Context, w Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return w.Run(ctx)
}

// heartbeat logs a liveness line on the check cadence.
func (s *Supervisor) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.st.Done():
			return
		case <-ticker.C:
		}
		open := len(s.st.ActiveTrades())
		line := fmt.Sprintf("scans=%d open_trades=%d slots=%d/%d",
			s.st.ScanCount(), open, s.st.ReservedSlots(), s.cfg.MaxConcurrentTrades)
		if s.st.SimulationMode() {
			line += " sim_balance=" + micros.Format(s.st.SimBalanceMicros())
		}
		log.Printf("[status] %s", line)
	}
}
