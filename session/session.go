// Package session owns the lifecycle of one open dump: starting, cancelling
// and restarting analysis passes, holding the user's filter and symbol
// configuration, and handing the presentation layer the latest snapshot to
// render. A Controller is confined to the UI goroutine; only the snapshot
// store it polls is shared with background work.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rust-minidump/minidump-debugger/minidump"
	"github.com/rust-minidump/minidump-debugger/process"
	"github.com/rust-minidump/minidump-debugger/spanlog"
	"github.com/rust-minidump/minidump-debugger/stackwalk"
	"github.com/rust-minidump/minidump-debugger/symbolize"
)

// ErrBusy is returned for operations that cannot run while an analysis pass
// is in flight.
var ErrBusy = errors.New("analysis in progress")

type State uint8

const (
	StateIdle State = iota
	StateAnalyzing
	StateDone
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAnalyzing:
		return "analyzing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// SymbolConfig configures symbol acquisition for one analysis pass. The
// running task reads it; the controller must not mutate the cache directory
// underneath it.
type SymbolConfig struct {
	Paths        []string
	URLs         []string
	CacheDir     string
	CacheEnabled bool
	HTTPTimeout  time.Duration
}

// DefaultSymbolConfig enables Mozilla's public symbol server, a cache under
// the system temp directory, and a generous timeout, since breakpad symbol
// files for big modules run into hundreds of megabytes.
func DefaultSymbolConfig() SymbolConfig {
	return SymbolConfig{
		URLs:         []string{"https://symbols.mozilla.org/"},
		CacheDir:     filepath.Join(os.TempDir(), "minidump-cache"),
		CacheEnabled: true,
		HTTPTimeout:  1000 * time.Second,
	}
}

// Controller drives one session.
type Controller struct {
	state  State
	path   string
	config SymbolConfig
	filter spanlog.Filter

	task *process.Task
	gen  uint64

	// invalidate schedules a redraw; called from task goroutines.
	invalidate func()
	// publishInterval overrides the task's snapshot cadence; zero means the
	// task default.
	publishInterval time.Duration
}

func New(invalidate func()) *Controller {
	return &Controller{invalidate: invalidate}
}

// State returns the lifecycle state as of the last Snapshot call.
func (c *Controller) State() State {
	return c.state
}

// Path returns the currently open dump path, if any.
func (c *Controller) Path() string {
	return c.path
}

// Config returns the symbol configuration for the current session.
func (c *Controller) Config() SymbolConfig {
	return c.config
}

// SetFilter updates the log filter. A pure state update: it takes effect on
// the next render and does not affect the running task.
func (c *Controller) SetFilter(f spanlog.Filter) {
	c.filter = f
}

func (c *Controller) Filter() spanlog.Filter {
	return c.filter
}

// Open validates that path is a readable minidump and starts an analysis
// pass against it. Any in-flight pass is cancelled first.
func (c *Controller) Open(path string, config SymbolConfig) error {
	dump, err := minidump.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open dump: %w", err)
	}
	c.path = path
	c.config = config
	c.startTask(dump)
	return nil
}

// Restart cancels any in-flight pass and starts a fresh one against the same
// dump with a new symbol configuration. The new task gets a fresh log tree
// and a fresh generation; anything the old task still produces is discarded
// by the generation check in Snapshot.
func (c *Controller) Restart(config SymbolConfig) error {
	if c.path == "" {
		return errors.New("no dump open")
	}
	dump, err := minidump.Open(c.path)
	if err != nil {
		return fmt.Errorf("cannot reopen dump: %w", err)
	}
	c.config = config
	c.startTask(dump)
	return nil
}

// Cancel requests cancellation of the in-flight pass, if any.
func (c *Controller) Cancel() {
	if c.task != nil {
		c.task.Cancel()
	}
}

func (c *Controller) startTask(dump *minidump.Dump) {
	if c.task != nil {
		c.task.Cancel()
	}
	c.gen++
	config := c.config
	c.task = process.Start(process.Config{
		Gen:             c.gen,
		PublishInterval: c.publishInterval,
		Invalidate:      c.invalidate,
		Analyze: func(ctx context.Context, sink spanlog.Sink) (*stackwalk.Result, error) {
			defer dump.Close()
			// The resolver logs into this task's tree, so it is built per
			// pass, inside the capture boundary.
			return stackwalk.Analyze(ctx, dump, buildResolver(config, sink), sink)
		},
	})
	c.state = StateAnalyzing
}

// Snapshot returns the latest snapshot of the current session and keeps the
// lifecycle state in sync with it. Snapshots from superseded tasks are
// rejected by generation. Never blocks; may return nil before the first
// Open.
func (c *Controller) Snapshot() *process.Snapshot {
	if c.task == nil {
		return nil
	}
	snap := c.task.Store().Current()
	if snap.Gen != c.gen {
		return nil
	}
	switch snap.Outcome.Status {
	case process.StatusRunning:
		c.state = StateAnalyzing
	case process.StatusSucceeded:
		c.state = StateDone
	case process.StatusFailed:
		c.state = StateFailed
	case process.StatusCancelled:
		c.state = StateCancelled
	}
	return snap
}

// ClearSymbolCache removes the contents of the configured cache directory.
// Refused while a pass that may be reading it is in flight, and refused for
// directories the tool cannot prove it created.
func (c *Controller) ClearSymbolCache() error {
	if c.Snapshot() != nil && c.state == StateAnalyzing {
		return fmt.Errorf("%w: cache is in use", ErrBusy)
	}
	return symbolize.ClearDir(c.config.CacheDir)
}

func buildResolver(config SymbolConfig, sink spanlog.Sink) symbolize.Resolver {
	var chain symbolize.Chain
	if len(config.Paths) > 0 {
		chain = append(chain, &symbolize.DirResolver{Dirs: config.Paths})
	}
	if len(config.URLs) > 0 {
		srv := &symbolize.ServerResolver{
			URLs:   config.URLs,
			Client: &http.Client{Timeout: config.HTTPTimeout},
			Log: func(format string, args ...any) {
				sink(spanlog.Event{
					Level:   spanlog.LevelInfo,
					Message: fmt.Sprintf(format, args...),
					Time:    time.Now(),
					Path:    []string{"symbols"},
				})
			},
		}
		if config.CacheEnabled && config.CacheDir != "" {
			srv.Cache = &symbolize.Cache{Dir: config.CacheDir}
		}
		chain = append(chain, srv)
	}
	if len(chain) == 0 {
		return nil
	}
	return chain
}
