// Package scheduler runs collection windows on a fixed period without ever
// overlapping two of them.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/ringtap/internal/ble"
	"github.com/chaz8081/ringtap/internal/session"
)

// Collector is the part of the session controller the scheduler drives.
type Collector interface {
	Linked() bool
	Busy() bool // collecting or still draining the last window
	ScanAndConnect(ctx context.Context) (ble.Device, error)
	StartCollection(ctx context.Context, d time.Duration, label string) error
}

// Options configures a periodic run.
type Options struct {
	Period      time.Duration // time between window starts
	Window      time.Duration // length of each collection window
	Label       string
	AutoConnect bool // connect before a tick when no device is linked
}

// Outcome is what a single tick did.
type Outcome int

const (
	Started Outcome = iota
	SkippedCollecting
	SkippedNoDevice
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Started:
		return "started"
	case SkippedCollecting:
		return "skipped_collecting"
	case SkippedNoDevice:
		return "skipped_no_device"
	default:
		return "failed"
	}
}

// Scheduler triggers a collection window every Period.
type Scheduler struct {
	c Collector

	mu      sync.Mutex
	running bool
	opts    Options
	cancel  context.CancelFunc
	ticks   int
	started int
}

// New creates a stopped scheduler.
func New(c Collector) *Scheduler {
	return &Scheduler{c: c}
}

// Start fires one tick immediately and then one every opts.Period. Calling
// Start while running is a no-op.
func (s *Scheduler) Start(opts Options) error {
	if opts.Period <= 0 {
		return errors.New("scheduler: period must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		slog.Debug("[SCHED] Already running")
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.opts = opts
	s.cancel = cancel

	slog.Info("[SCHED] Started", "period", opts.Period, "window", opts.Window, "label", opts.Label, "auto_connect", opts.AutoConnect)
	go s.run(ctx, opts)
	return nil
}

func (s *Scheduler) run(ctx context.Context, opts Options) {
	s.tick(ctx, opts)

	t := time.NewTicker(opts.Period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.tick(ctx, opts)
		}
	}
}

// tick starts one collection window unless one is already active.
func (s *Scheduler) tick(ctx context.Context, opts Options) Outcome {
	s.mu.Lock()
	s.ticks++
	s.mu.Unlock()

	if s.c.Busy() {
		slog.Info("[SCHED] Tick skipped, collection already active")
		return SkippedCollecting
	}

	if !s.c.Linked() {
		if !opts.AutoConnect {
			slog.Info("[SCHED] Tick skipped, no device linked")
			return SkippedNoDevice
		}
		if _, err := s.c.ScanAndConnect(ctx); err != nil {
			slog.Warn("[SCHED] Auto-connect failed, tick skipped", "error", err)
			return SkippedNoDevice
		}
	}

	if err := s.c.StartCollection(ctx, opts.Window, opts.Label); err != nil {
		if errors.Is(err, session.ErrAlreadyCollecting) {
			slog.Info("[SCHED] Tick skipped, collection already active")
			return SkippedCollecting
		}
		slog.Warn("[SCHED] Collection start failed", "error", err)
		return Failed
	}

	s.mu.Lock()
	s.started++
	s.mu.Unlock()
	return Started
}

// Stop cancels the timer. An active collection window runs to its end.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	s.running = false
	slog.Info("[SCHED] Stopped", "ticks", s.ticks, "started", s.started)
}

// Running reports whether the timer is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stats returns how many ticks fired and how many started a window.
func (s *Scheduler) Stats() (ticks, started int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks, s.started
}
