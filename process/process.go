// Package process runs one analysis pass per task on its own goroutine and
// publishes immutable snapshots of the best known state for the UI to render.
// The snapshot slot is the only state shared between the background task and
// the foreground reader; publishing is a single atomic pointer swap, so a
// reader never observes a half-updated snapshot.
package process

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rust-minidump/minidump-debugger/spanlog"
	"github.com/rust-minidump/minidump-debugger/stackwalk"
)

type Status uint8

const (
	StatusRunning Status = iota
	StatusSucceeded
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s != StatusRunning
}

// Outcome is the progress of one analysis pass. Err is set only for
// StatusFailed.
type Outcome struct {
	Status  Status
	Elapsed time.Duration
	Err     error
}

// Snapshot is an immutable pairing of the log tree state, the outcome, and
// the analysis result so far. Result is non-nil only once the pass
// succeeded.
type Snapshot struct {
	// Gen identifies the task that produced this snapshot. Sessions use it
	// to discard publications from superseded tasks.
	Gen     uint64
	Log     *spanlog.Node
	Outcome Outcome
	Result  *stackwalk.Result
}

// Store holds the latest published snapshot for one task. One writer, many
// readers.
type Store struct {
	cur atomic.Pointer[Snapshot]
}

// NewStore returns a store seeded with an empty Running snapshot, so that
// Current never has nothing to return.
func NewStore(gen uint64) *Store {
	s := &Store{}
	s.cur.Store(&Snapshot{
		Gen: gen,
		Log: spanlog.NewTree().Snapshot(),
	})
	return s
}

// Publish replaces the visible snapshot. Once a terminal snapshot is in
// place nothing can replace it; outcomes only move forward.
func (s *Store) Publish(snap *Snapshot) bool {
	for {
		old := s.cur.Load()
		if old.Outcome.Status.Terminal() {
			return false
		}
		if s.cur.CompareAndSwap(old, snap) {
			return true
		}
	}
}

// Current returns the latest published snapshot. Non-blocking, never nil.
func (s *Store) Current() *Snapshot {
	return s.cur.Load()
}

// Analyzer is the external analysis operation from the task's point of view:
// synchronous, cancellable through ctx, reporting its diagnostics through
// sink.
type Analyzer func(ctx context.Context, sink spanlog.Sink) (*stackwalk.Result, error)

// Config configures one task.
type Config struct {
	Analyze Analyzer
	// Gen tags every snapshot this task publishes.
	Gen uint64
	// PublishInterval bounds how often Running snapshots are produced.
	// Terminal snapshots are always published immediately. Defaults to
	// 50ms.
	PublishInterval time.Duration
	// Invalidate, if set, is called after every publication so the UI can
	// schedule a redraw.
	Invalidate func()
}

const defaultPublishInterval = 50 * time.Millisecond

// Task is one running analysis pass.
type Task struct {
	gen    uint64
	tree   *spanlog.Tree
	store  *Store
	cancel context.CancelFunc
	done   chan struct{}
	start  time.Time
}

// Start begins an analysis pass on its own goroutine and returns
// immediately. The caller polls the task's store for progress.
func Start(cfg Config) *Task {
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = defaultPublishInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		gen:    cfg.Gen,
		tree:   spanlog.NewTree(),
		store:  NewStore(cfg.Gen),
		cancel: cancel,
		done:   make(chan struct{}),
		start:  time.Now(),
	}
	go t.run(ctx, cfg)
	return t
}

// Gen returns the task's generation tag.
func (t *Task) Gen() uint64 {
	return t.gen
}

// Store returns the task's snapshot store.
func (t *Task) Store() *Store {
	return t.store
}

// Done is closed once the terminal snapshot has been published.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Cancel requests cooperative cancellation. The outcome becomes Cancelled
// only once the underlying analysis actually returns; events still arriving
// until then are ingested, and the final snapshot is published afterwards.
func (t *Task) Cancel() {
	t.cancel()
}

func (t *Task) run(ctx context.Context, cfg Config) {
	defer close(t.done)

	// Periodic Running snapshots while the analysis is in flight.
	stopTicker := make(chan struct{})
	tickerDone := make(chan struct{})
	go func() {
		defer close(tickerDone)
		ticker := time.NewTicker(cfg.PublishInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopTicker:
				return
			case <-ticker.C:
				t.publish(cfg, &Snapshot{
					Gen:     t.gen,
					Log:     t.tree.Snapshot(),
					Outcome: Outcome{Status: StatusRunning, Elapsed: time.Since(t.start)},
				})
			}
		}
	}()

	result, err := t.runAnalyze(ctx, cfg)

	// Stop the ticker before the terminal publication so no Running
	// snapshot can race in after it (the store would refuse it anyway).
	close(stopTicker)
	<-tickerDone

	outcome := Outcome{Elapsed: time.Since(t.start)}
	switch {
	case err == nil:
		outcome.Status = StatusSucceeded
	case errors.Is(err, context.Canceled):
		outcome.Status = StatusCancelled
	default:
		outcome.Status = StatusFailed
		outcome.Err = err
	}

	t.publish(cfg, &Snapshot{
		Gen:     t.gen,
		Log:     t.tree.Detach(),
		Outcome: outcome,
		Result:  result,
	})
}

// runAnalyze guards the external call: a panicking analyzer resolves to a
// failed outcome instead of taking down the host process.
func (t *Task) runAnalyze(ctx context.Context, cfg Config) (result *stackwalk.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("analysis panicked: %v", r)
		}
	}()
	return cfg.Analyze(ctx, t.tree.Ingest)
}

func (t *Task) publish(cfg Config, snap *Snapshot) {
	if t.store.Publish(snap) && cfg.Invalidate != nil {
		cfg.Invalidate()
	}
}
