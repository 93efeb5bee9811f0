// Package stackwalk reconstructs call stacks from a minidump. Frame 0 of each
// thread comes from the captured CPU context; further frames come from
// scanning the thread's stack memory for return addresses that land inside a
// loaded module. CFI and frame-pointer unwinding are deliberately absent;
// scanning is the strategy that needs nothing but the dump itself.
//
// Everything the walk has to say about its own progress goes to a spanlog
// sink, tagged with the span of work it happened in.
package stackwalk

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/rust-minidump/minidump-debugger/minidump"
	"github.com/rust-minidump/minidump-debugger/spanlog"
	"github.com/rust-minidump/minidump-debugger/symbolize"
)

// Resolver is the symbol lookup capability the walk consumes. A nil resolver
// leaves every frame unresolved.
type Resolver = symbolize.Resolver

func moduleID(m minidump.Module) symbolize.ModuleID {
	return symbolize.ModuleID{DebugFile: m.DebugFile, DebugID: m.DebugID}
}

// Trust says how a frame's address was recovered.
type Trust uint8

const (
	TrustContext Trust = iota
	TrustScan
)

func (t Trust) String() string {
	switch t {
	case TrustContext:
		return "context"
	case TrustScan:
		return "scan"
	default:
		return "unknown"
	}
}

// Frame is one reconstructed stack frame. Symbol is nil when resolution
// failed or was not attempted.
type Frame struct {
	Addr         uint64
	Module       string
	ModuleOffset uint64
	Symbol       *symbolize.Sym
	Trust        Trust
}

// CallStack is the reconstructed stack of one thread.
type CallStack struct {
	ThreadID uint32
	Frames   []Frame
}

// Result is the outcome of a successful analysis pass.
type Result struct {
	System  minidump.SystemInfo
	Modules []minidump.Module
	Threads []CallStack
}

const (
	maxFramesPerThread = 256
	cancelCheckStride  = 4096
)

// Analyze walks every thread in the dump, resolving frame addresses through
// res. It is synchronous; cancel it through ctx. Per-thread trouble is
// logged and skipped, only dump-level problems fail the pass. Symbol misses
// are recorded on the frame, never escalated.
func Analyze(ctx context.Context, dump *minidump.Dump, res Resolver, sink spanlog.Sink) (*Result, error) {
	logf := logger(sink)

	logf(spanlog.LevelInfo, nil, "analyzing %s (%d bytes, %d streams)", dump.Path, dump.Size(), len(dump.Streams()))

	si, err := dump.System()
	if err != nil {
		return nil, fmt.Errorf("reading system info: %w", err)
	}
	logf(spanlog.LevelInfo, nil, "system: %s, os build %d", si.ArchName(), si.BuildNumber)
	if si.Arch != minidump.ArchAMD64 {
		return nil, fmt.Errorf("unsupported architecture %s", si.ArchName())
	}

	modules, err := dump.Modules()
	if err != nil {
		return nil, fmt.Errorf("reading module list: %w", err)
	}
	logf(spanlog.LevelInfo, nil, "%d modules loaded", len(modules))

	threads, err := dump.Threads()
	if err != nil {
		return nil, fmt.Errorf("reading thread list: %w", err)
	}
	logf(spanlog.LevelInfo, nil, "%d threads to walk", len(threads))

	result := &Result{System: si, Modules: modules}
	w := &walker{dump: dump, si: si, modules: modules, res: res, logf: logf}
	for i, th := range threads {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stack, err := w.walkThread(ctx, i, th)
		if err != nil {
			return nil, err
		}
		result.Threads = append(result.Threads, stack)
	}
	logf(spanlog.LevelInfo, nil, "analysis complete: %d threads walked", len(result.Threads))
	return result, nil
}

type walker struct {
	dump    *minidump.Dump
	si      minidump.SystemInfo
	modules []minidump.Module
	res     Resolver
	logf    logFunc
}

func (w *walker) walkThread(ctx context.Context, idx int, th minidump.Thread) (CallStack, error) {
	span := []string{fmt.Sprintf("unwind_thread %d", idx)}
	stack := CallStack{ThreadID: th.ID}

	regs, err := w.dump.Registers(th, w.si)
	if err != nil {
		w.logf(spanlog.LevelWarn, span, "skipping thread %d: %v", th.ID, err)
		return stack, nil
	}
	w.logf(spanlog.LevelDebug, span, "thread %d: ip=0x%x sp=0x%x", th.ID, regs.IP, regs.SP)

	stack.Frames = append(stack.Frames, w.makeFrame(span, 0, regs.IP, TrustContext))

	mem, err := w.dump.StackMemory(th)
	if err != nil {
		w.logf(spanlog.LevelWarn, span, "no stack memory for thread %d: %v", th.ID, err)
		return stack, nil
	}

	// Scan upward from SP for pointer-aligned words inside a module.
	start := uint64(0)
	if regs.SP > th.StackStart {
		start = regs.SP - th.StackStart
	}
	start &^= 7
	for off, step := start, 0; off+8 <= uint64(len(mem)); off, step = off+8, step+1 {
		if step%cancelCheckStride == cancelCheckStride-1 {
			if err := ctx.Err(); err != nil {
				return stack, err
			}
		}
		word := binary.LittleEndian.Uint64(mem[off:])
		if !w.inAnyModule(word) {
			continue
		}
		stack.Frames = append(stack.Frames, w.makeFrame(span, len(stack.Frames), word, TrustScan))
		if len(stack.Frames) >= maxFramesPerThread {
			w.logf(spanlog.LevelWarn, span, "thread %d: frame limit reached, truncating", th.ID)
			break
		}
	}
	w.logf(spanlog.LevelInfo, span, "thread %d: %d frames", th.ID, len(stack.Frames))
	return stack, nil
}

func (w *walker) makeFrame(threadSpan []string, idx int, addr uint64, trust Trust) Frame {
	span := append(append([]string(nil), threadSpan...), fmt.Sprintf("unwind_frame %d", idx))
	f := Frame{Addr: addr, Trust: trust}
	mod, ok := w.moduleFor(addr)
	if !ok {
		w.logf(spanlog.LevelDebug, span, "0x%x not in any module", addr)
		return f
	}
	f.Module = mod.Basename()
	f.ModuleOffset = addr - mod.ImageBase
	w.logf(spanlog.LevelDebug, span, "0x%x is %s+0x%x (%s)", addr, f.Module, f.ModuleOffset, trust)

	if w.res == nil {
		return f
	}
	sym, ok := w.res.Lookup(moduleID(mod), f.ModuleOffset)
	if !ok {
		// Not fatal; the frame stays unresolved.
		w.logf(spanlog.LevelWarn, span, "no symbol for %s+0x%x", f.Module, f.ModuleOffset)
		return f
	}
	f.Symbol = &sym
	if sym.File != "" {
		w.logf(spanlog.LevelDebug, span, "resolved to %s (%s:%d)", sym.Name, sym.File, sym.Line)
	} else {
		w.logf(spanlog.LevelDebug, span, "resolved to %s", sym.Name)
	}
	return f
}

func (w *walker) moduleFor(addr uint64) (minidump.Module, bool) {
	for _, m := range w.modules {
		if m.Contains(addr) {
			return m, true
		}
	}
	return minidump.Module{}, false
}

func (w *walker) inAnyModule(addr uint64) bool {
	_, ok := w.moduleFor(addr)
	return ok
}

type logFunc func(level spanlog.Level, path []string, format string, args ...any)

func logger(sink spanlog.Sink) logFunc {
	return func(level spanlog.Level, path []string, format string, args ...any) {
		if sink == nil {
			return
		}
		sink(spanlog.Event{
			Level:   level,
			Message: fmt.Sprintf(format, args...),
			Time:    time.Now(),
			Path:    path,
		})
	}
}
