package stackwalk_test

import (
	"context"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/rust-minidump/minidump-debugger/minidump"
	"github.com/rust-minidump/minidump-debugger/minidump/dumptest"
	"github.com/rust-minidump/minidump-debugger/spanlog"
	"github.com/rust-minidump/minidump-debugger/stackwalk"
	"github.com/rust-minidump/minidump-debugger/symbolize"
)

// fakeResolver resolves a fixed set of module offsets.
type fakeResolver map[uint64]string

func (r fakeResolver) Lookup(mod symbolize.ModuleID, addr uint64) (symbolize.Sym, bool) {
	name, ok := r[addr]
	if !ok {
		return symbolize.Sym{}, false
	}
	return symbolize.Sym{Name: name, Base: addr}, true
}

func buildDump(t *testing.T) *minidump.Dump {
	// One module at 0x10000000, one thread whose stack holds two return
	// addresses into it, plus garbage words.
	stack := make([]byte, 128)
	binary.LittleEndian.PutUint64(stack[16:], 0x10002000) // return into module
	binary.LittleEndian.PutUint64(stack[24:], 0xdeadbeef) // not a module address
	binary.LittleEndian.PutUint64(stack[48:], 0x10003000) // return into module

	b := &dumptest.Builder{
		Modules: []dumptest.Module{
			{Name: "app.exe", Base: 0x10000000, Size: 0x10000, DebugFile: "app.pdb", Age: 1},
		},
		Threads: []dumptest.Thread{
			{ID: 7, IP: 0x10001000, SP: 0x7ffe0000, Stack: stack},
		},
	}
	d, err := minidump.Open(b.Write(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestAnalyze(t *testing.T) {
	d := buildDump(t)
	res := fakeResolver{0x1000: "main", 0x2000: "caller"}
	tree := spanlog.NewTree()

	result, err := stackwalk.Analyze(context.Background(), d, res, tree.Ingest)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Threads) != 1 {
		t.Fatalf("got %d threads", len(result.Threads))
	}
	frames := result.Threads[0].Frames
	if len(frames) != 3 {
		t.Fatalf("got %d frames: %+v", len(frames), frames)
	}

	if frames[0].Trust != stackwalk.TrustContext || frames[0].Addr != 0x10001000 {
		t.Errorf("frame 0 = %+v", frames[0])
	}
	if frames[0].Symbol == nil || frames[0].Symbol.Name != "main" {
		t.Errorf("frame 0 symbol = %+v", frames[0].Symbol)
	}
	if frames[1].Trust != stackwalk.TrustScan || frames[1].Addr != 0x10002000 {
		t.Errorf("frame 1 = %+v", frames[1])
	}
	if frames[1].Symbol == nil || frames[1].Symbol.Name != "caller" {
		t.Errorf("frame 1 symbol = %+v", frames[1].Symbol)
	}
	// 0x10003000 has no symbol: the frame survives unresolved.
	if frames[2].Addr != 0x10003000 || frames[2].Symbol != nil {
		t.Errorf("frame 2 = %+v", frames[2])
	}
	if frames[2].Module != "app.exe" || frames[2].ModuleOffset != 0x3000 {
		t.Errorf("frame 2 module info = %+v", frames[2])
	}
}

func TestAnalyzeEmitsSpans(t *testing.T) {
	d := buildDump(t)
	tree := spanlog.NewTree()
	if _, err := stackwalk.Analyze(context.Background(), d, nil, tree.Ingest); err != nil {
		t.Fatal(err)
	}
	root := tree.Snapshot()

	// Top-level progress events attach to the root.
	if len(root.Events) == 0 {
		t.Fatal("no root events")
	}
	th, ok := root.Child("unwind_thread 0")
	if !ok {
		t.Fatal("no unwind_thread 0 span")
	}
	if _, ok := th.Child("unwind_frame 0"); !ok {
		t.Error("no unwind_frame 0 span under unwind_thread 0")
	}
	// A symbol miss with a nil resolver is not possible; but module hits are
	// logged per frame.
	if th.MatchCount(spanlog.Filter{}) == 0 {
		t.Error("thread span has no events")
	}
}

func TestAnalyzeSymbolMissLogged(t *testing.T) {
	d := buildDump(t)
	tree := spanlog.NewTree()
	// Resolver that never resolves: every frame logs a warning, none fails.
	if _, err := stackwalk.Analyze(context.Background(), d, fakeResolver{}, tree.Ingest); err != nil {
		t.Fatal(err)
	}
	c := tree.Snapshot().Query(spanlog.Filter{MinLevel: spanlog.LevelWarn, Substring: "no symbol"})
	if _, ok := c.Next(); !ok {
		t.Error("symbol misses not logged")
	}
}

func TestAnalyzeCancelled(t *testing.T) {
	d := buildDump(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := stackwalk.Analyze(ctx, d, nil, nil); err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestAnalyzeRejectsBadDump(t *testing.T) {
	// A dump with a header but no streams at all.
	data := (&dumptest.Builder{}).Build()
	// Zero out the stream count to drop even the empty lists.
	binary.LittleEndian.PutUint32(data[8:], 0)
	d, err := minidump.Open(dumptest.WriteBytes(t, data))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	tree := spanlog.NewTree()
	_, err = stackwalk.Analyze(context.Background(), d, nil, tree.Ingest)
	if err == nil || !strings.Contains(err.Error(), "system info") {
		t.Errorf("err = %v, want system info failure", err)
	}
	// Events emitted before the failure stay in the tree.
	if tree.Snapshot().MatchCount(spanlog.Filter{}) == 0 {
		t.Error("no events captured before failure")
	}
}
