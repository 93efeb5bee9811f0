package session

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rust-minidump/minidump-debugger/minidump/dumptest"
	"github.com/rust-minidump/minidump-debugger/process"
	"github.com/rust-minidump/minidump-debugger/spanlog"
	"github.com/rust-minidump/minidump-debugger/symbolize"
)

func writeDump(t *testing.T) string {
	stack := make([]byte, 64)
	binary.LittleEndian.PutUint64(stack[8:], 0x10001234)
	b := &dumptest.Builder{
		Modules: []dumptest.Module{{Name: "app.exe", Base: 0x10000000, Size: 0x10000}},
		Threads: []dumptest.Thread{{ID: 1, IP: 0x10001000, SP: 0x7ffe0000, Stack: stack}},
	}
	return b.Write(t)
}

// offlineConfig has no symbol sources, so tests never touch the network.
func offlineConfig() SymbolConfig {
	return SymbolConfig{}
}

func waitTerminal(t *testing.T, c *Controller) *process.Snapshot {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		snap := c.Snapshot()
		if snap != nil && snap.Outcome.Status.Terminal() {
			return snap
		}
		select {
		case <-deadline:
			t.Fatal("no terminal snapshot")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestOpenAnalyzes(t *testing.T) {
	c := New(nil)
	c.publishInterval = time.Millisecond
	if c.State() != StateIdle {
		t.Fatalf("initial state = %v", c.State())
	}
	if err := c.Open(writeDump(t), offlineConfig()); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateAnalyzing {
		t.Fatalf("state after Open = %v", c.State())
	}
	snap := waitTerminal(t, c)
	if snap.Outcome.Status != process.StatusSucceeded {
		t.Fatalf("outcome = %v (%v)", snap.Outcome.Status, snap.Outcome.Err)
	}
	if c.State() != StateDone {
		t.Errorf("state = %v, want done", c.State())
	}
	if snap.Result == nil || len(snap.Result.Threads) != 1 {
		t.Errorf("result = %+v", snap.Result)
	}
	if snap.Log.MatchCount(spanlog.Filter{}) == 0 {
		t.Error("no log events captured")
	}
}

func TestOpenRejectsBadPath(t *testing.T) {
	c := New(nil)
	if err := c.Open(filepath.Join(t.TempDir(), "nope.dmp"), offlineConfig()); err == nil {
		t.Fatal("Open of missing file succeeded")
	}
	if err := c.Open(dumptest.WriteBytes(t, []byte("not a dump")), offlineConfig()); err == nil {
		t.Fatal("Open of non-dump succeeded")
	}
	if c.State() != StateIdle {
		t.Errorf("state = %v after failed opens", c.State())
	}
}

func TestOpenFailedAnalysisKeepsLog(t *testing.T) {
	// Valid header, but nothing else: analysis fails after it has started
	// logging.
	data := (&dumptest.Builder{}).Build()
	binary.LittleEndian.PutUint32(data[8:], 0) // no streams
	c := New(nil)
	c.publishInterval = time.Millisecond
	if err := c.Open(dumptest.WriteBytes(t, data), offlineConfig()); err != nil {
		t.Fatal(err)
	}
	snap := waitTerminal(t, c)
	if snap.Outcome.Status != process.StatusFailed {
		t.Fatalf("outcome = %v", snap.Outcome.Status)
	}
	if snap.Outcome.Err == nil {
		t.Fatal("no error message")
	}
	if c.State() != StateFailed {
		t.Errorf("state = %v", c.State())
	}
	if snap.Log.MatchCount(spanlog.Filter{}) == 0 {
		t.Error("log events from before the failure were discarded")
	}
}

func TestRestartIsolatesGenerations(t *testing.T) {
	c := New(nil)
	c.publishInterval = time.Millisecond
	if err := c.Open(writeDump(t), offlineConfig()); err != nil {
		t.Fatal(err)
	}
	first := waitTerminal(t, c)
	firstGen := first.Gen

	if err := c.Restart(offlineConfig()); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateAnalyzing {
		t.Fatalf("state after Restart = %v", c.State())
	}
	second := waitTerminal(t, c)
	if second.Gen == firstGen {
		t.Error("restart reused the generation")
	}
	// The new tree starts fresh; it holds this run's events only, not an
	// accumulation of both runs.
	if a, b := first.Log.MatchCount(spanlog.Filter{}), second.Log.MatchCount(spanlog.Filter{}); b > a {
		t.Errorf("restarted log grew from %d to %d events; trees were shared", a, b)
	}
}

func TestCancelBeforeCompletion(t *testing.T) {
	// A dump with a huge scannable stack keeps the walk busy long enough to
	// observe cancellation reliably; module hits on every word maximize the
	// per-word work.
	stack := make([]byte, 1<<22)
	for i := 0; i+8 <= len(stack); i += 8 {
		binary.LittleEndian.PutUint64(stack[i:], 0x10000040)
	}
	b := &dumptest.Builder{
		Modules: []dumptest.Module{{Name: "app.exe", Base: 0x10000000, Size: 0x10000}},
		Threads: []dumptest.Thread{{ID: 1, IP: 0x10001000, SP: 0x7ffe0000, Stack: stack}},
	}
	c := New(nil)
	c.publishInterval = time.Millisecond
	if err := c.Open(b.Write(t), offlineConfig()); err != nil {
		t.Fatal(err)
	}
	c.Cancel()
	snap := waitTerminal(t, c)
	switch snap.Outcome.Status {
	case process.StatusCancelled:
		if c.State() != StateCancelled {
			t.Errorf("state = %v", c.State())
		}
	case process.StatusSucceeded:
		// The walk can win the race on a fast machine; that is not a bug.
	default:
		t.Fatalf("outcome = %v (%v)", snap.Outcome.Status, snap.Outcome.Err)
	}
}

func TestClearSymbolCacheRefusedWhileAnalyzing(t *testing.T) {
	cacheDir := filepath.Join(t.TempDir(), "cache")
	cache := &symbolize.Cache{Dir: cacheDir}
	if err := cache.Store(symbolize.ModuleID{DebugFile: "a.pdb", DebugID: "1"}, []byte("FUNC 0 1 0 x\n")); err != nil {
		t.Fatal(err)
	}

	stack := make([]byte, 1<<22)
	for i := 0; i+8 <= len(stack); i += 8 {
		binary.LittleEndian.PutUint64(stack[i:], 0x10000040)
	}
	b := &dumptest.Builder{
		Modules: []dumptest.Module{{Name: "app.exe", Base: 0x10000000, Size: 0x10000}},
		Threads: []dumptest.Thread{{ID: 1, IP: 0x10001000, SP: 0x7ffe0000, Stack: stack}},
	}
	cfg := SymbolConfig{CacheDir: cacheDir, CacheEnabled: true}
	c := New(nil)
	c.publishInterval = time.Millisecond
	if err := c.Open(b.Write(t), cfg); err != nil {
		t.Fatal(err)
	}
	err := c.ClearSymbolCache()
	if err == nil {
		t.Skip("analysis finished before the clear was attempted")
	}
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	// Nothing was removed.
	if _, ok := cache.Load(symbolize.ModuleID{DebugFile: "a.pdb", DebugID: "1"}); !ok {
		t.Error("cache mutated while busy")
	}

	c.Cancel()
	waitTerminal(t, c)
	if err := c.ClearSymbolCache(); err != nil {
		t.Fatalf("clear after terminal state: %v", err)
	}
	if _, ok := cache.Load(symbolize.ModuleID{DebugFile: "a.pdb", DebugID: "1"}); ok {
		t.Error("cache entry survived clear")
	}
}

func TestClearSymbolCacheUnsafePath(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "file.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := New(nil)
	c.config.CacheDir = dir
	if err := c.ClearSymbolCache(); !errors.Is(err, symbolize.ErrCacheUnsafe) {
		t.Fatalf("err = %v, want ErrCacheUnsafe", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "file.txt")); err != nil {
		t.Error("unsafe clear mutated the directory")
	}
}

func TestSetFilterIsPure(t *testing.T) {
	c := New(nil)
	f := spanlog.Filter{Substring: "cfi", MinLevel: spanlog.LevelWarn}
	c.SetFilter(f)
	if got := c.Filter(); got.Substring != "cfi" || got.MinLevel != spanlog.LevelWarn {
		t.Errorf("filter = %+v", got)
	}
	if c.State() != StateIdle {
		t.Error("SetFilter changed the lifecycle state")
	}
}
