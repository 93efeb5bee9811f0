// Package dumptest builds small synthetic minidumps for tests. The dumps are
// well-formed amd64 minidumps with a system info stream, thread, module and
// memory lists, and per-thread CPU contexts and stack memory.
package dumptest

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

type Module struct {
	Name      string
	Base      uint64
	Size      uint32
	DebugFile string
	GUID      [16]byte
	Age       uint32
}

type Thread struct {
	ID uint32
	IP uint64
	SP uint64
	BP uint64
	// Stack is the captured stack memory. StackBase is the address of
	// Stack[0]; if zero, SP is used.
	Stack     []byte
	StackBase uint64
}

type Builder struct {
	Modules []Module
	Threads []Thread
}

type writer struct {
	buf []byte
}

func (w *writer) rva() uint32 { return uint32(len(w.buf)) }

func (w *writer) bytes(p []byte) uint32 {
	r := w.rva()
	w.buf = append(w.buf, p...)
	return r
}

func (w *writer) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *writer) u64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

func (w *writer) pad(n int) {
	w.buf = append(w.buf, make([]byte, n)...)
}

// utf16String appends a MINIDUMP_STRING and returns its RVA.
func (w *writer) utf16String(s string) uint32 {
	r := w.rva()
	w.u32(uint32(len(s) * 2))
	for _, c := range s {
		w.u16(uint16(c))
	}
	return r
}

const (
	amd64CtxRsp  = 0x98
	amd64CtxRbp  = 0xa0
	amd64CtxRip  = 0xf8
	amd64CtxSize = 0x100
)

// Build serializes the dump.
func (b *Builder) Build() []byte {
	w := &writer{}

	// Header, patched at the end.
	w.pad(32)

	// System info: amd64, minimal fields.
	sysRVA := w.rva()
	w.u16(9) // PROCESSOR_ARCHITECTURE_AMD64
	w.u16(0)
	w.buf = append(w.buf, 1, 0, 0, 0) // NumberOfProcessors etc.
	w.u32(10)
	w.u32(0)
	w.u32(19045)
	w.pad(32)
	sysSize := w.rva() - sysRVA

	// Per-thread contexts and stack memory.
	type threadLoc struct {
		ctxRVA    uint32
		stackRVA  uint32
		stackBase uint64
	}
	locs := make([]threadLoc, len(b.Threads))
	for i, t := range b.Threads {
		ctx := make([]byte, amd64CtxSize)
		binary.LittleEndian.PutUint64(ctx[amd64CtxRsp:], t.SP)
		binary.LittleEndian.PutUint64(ctx[amd64CtxRbp:], t.BP)
		binary.LittleEndian.PutUint64(ctx[amd64CtxRip:], t.IP)
		locs[i].ctxRVA = w.bytes(ctx)
		locs[i].stackRVA = w.bytes(t.Stack)
		locs[i].stackBase = t.StackBase
		if locs[i].stackBase == 0 {
			locs[i].stackBase = t.SP
		}
	}

	// Thread list.
	threadsRVA := w.rva()
	w.u32(uint32(len(b.Threads)))
	for i, t := range b.Threads {
		w.u32(t.ID)
		w.u32(0) // SuspendCount
		w.u32(0) // PriorityClass
		w.u32(0) // Priority
		w.u64(0) // TEB
		w.u64(locs[i].stackBase)
		w.u32(uint32(len(t.Stack)))
		w.u32(locs[i].stackRVA)
		w.u32(amd64CtxSize)
		w.u32(locs[i].ctxRVA)
	}
	threadsSize := w.rva() - threadsRVA

	// Module names and CodeView records, then the module list.
	nameRVAs := make([]uint32, len(b.Modules))
	cvRVAs := make([]uint32, len(b.Modules))
	cvSizes := make([]uint32, len(b.Modules))
	for i, m := range b.Modules {
		nameRVAs[i] = w.utf16String(m.Name)
		if m.DebugFile != "" {
			cvRVAs[i] = w.rva()
			w.u32(0x53445352) // "RSDS"
			w.bytes(m.GUID[:])
			w.u32(m.Age)
			w.bytes(append([]byte(m.DebugFile), 0))
			cvSizes[i] = w.rva() - cvRVAs[i]
		}
	}
	modulesRVA := w.rva()
	w.u32(uint32(len(b.Modules)))
	for i, m := range b.Modules {
		w.u64(m.Base)
		w.u32(m.Size)
		w.u32(0) // Checksum
		w.u32(0) // TimeDateStamp
		w.u32(nameRVAs[i])
		w.pad(52) // VS_FIXEDFILEINFO
		w.u32(cvSizes[i])
		w.u32(cvRVAs[i])
		w.u32(0) // MiscRecord
		w.u32(0)
		w.pad(16) // Reserved
	}
	modulesSize := w.rva() - modulesRVA

	// Memory list mirrors the thread stacks.
	memRVA := w.rva()
	w.u32(uint32(len(b.Threads)))
	for i, t := range b.Threads {
		w.u64(locs[i].stackBase)
		w.u32(uint32(len(t.Stack)))
		w.u32(locs[i].stackRVA)
	}
	memSize := w.rva() - memRVA

	// Stream directory.
	dirRVA := w.rva()
	streams := []struct{ typ, size, rva uint32 }{
		{7, sysSize, sysRVA},
		{3, threadsSize, threadsRVA},
		{4, modulesSize, modulesRVA},
		{5, memSize, memRVA},
	}
	for _, s := range streams {
		w.u32(s.typ)
		w.u32(s.size)
		w.u32(s.rva)
	}

	// Patch the header.
	binary.LittleEndian.PutUint32(w.buf[0:], 0x504d444d) // "MDMP"
	binary.LittleEndian.PutUint32(w.buf[4:], 0xa793)
	binary.LittleEndian.PutUint32(w.buf[8:], uint32(len(streams)))
	binary.LittleEndian.PutUint32(w.buf[12:], dirRVA)
	return w.buf
}

// Write serializes the dump into a temp file and returns its path.
func (b *Builder) Write(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.dmp")
	if err := os.WriteFile(path, b.Build(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// WriteBytes writes arbitrary dump bytes to a temp file. Useful for
// truncation and corruption tests.
func WriteBytes(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.dmp")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
