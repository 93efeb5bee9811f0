package minidump

import (
	"encoding/binary"
	"fmt"
	"strings"

	"honnef.co/go/safeish"
)

// Module is one loaded module from the ModuleListStream.
type Module struct {
	Name      string
	ImageBase uint64
	ImageSize uint32
	Checksum  uint32
	Timestamp uint32

	// DebugFile and DebugID come from the CodeView record and identify the
	// module's symbol file on a breakpad symbol server.
	DebugFile string
	DebugID   string
}

// Contains reports whether addr falls inside the module's image range.
func (m Module) Contains(addr uint64) bool {
	return addr >= m.ImageBase && addr < m.ImageBase+uint64(m.ImageSize)
}

// Basename returns the file name portion of the module path, with Windows
// and POSIX separators both honored.
func (m Module) Basename() string {
	name := m.Name
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// Modules decodes the module list. Modules without a parseable CodeView
// record are returned with empty debug identifiers rather than dropped.
func (d *Dump) Modules() ([]Module, error) {
	s, ok := d.Stream(ModuleListStream)
	if !ok {
		return nil, nil
	}
	buf, err := d.StreamBytes(s)
	if err != nil {
		return nil, fmt.Errorf("module list: %w", err)
	}
	if len(buf) < 4 {
		return nil, fmt.Errorf("%w: module list too short", ErrNotMinidump)
	}
	count := binary.LittleEndian.Uint32(buf)
	if uint64(len(buf)) < 4+uint64(count)*rawModuleSize {
		return nil, fmt.Errorf("%w: module list truncated", ErrNotMinidump)
	}

	out := make([]Module, 0, count)
	for i := uint32(0); i < count; i++ {
		// MINIDUMP_MODULE is packed to 4 bytes, so the uint64 fields sit at
		// unaligned offsets and the record is read field by field.
		rec := buf[4+i*rawModuleSize:]
		m := Module{
			ImageBase: binary.LittleEndian.Uint64(rec),
			ImageSize: binary.LittleEndian.Uint32(rec[8:]),
			Checksum:  binary.LittleEndian.Uint32(rec[12:]),
			Timestamp: binary.LittleEndian.Uint32(rec[16:]),
		}
		nameRVA := binary.LittleEndian.Uint32(rec[20:])
		if name, err := d.readString(nameRVA); err == nil {
			m.Name = name
		}
		cv := rawLocation{
			DataSize: binary.LittleEndian.Uint32(rec[76:]),
			RVA:      binary.LittleEndian.Uint32(rec[80:]),
		}
		m.DebugFile, m.DebugID = d.parseCodeView(cv)
		out = append(out, m)
	}
	return out, nil
}

const cvSignaturePDB70 = 0x53445352 // "RSDS"

// parseCodeView extracts the debug file name and breakpad-style debug id
// from a PDB70 CodeView record. Anything else yields empty identifiers;
// symbolication for that module is simply skipped.
func (d *Dump) parseCodeView(loc rawLocation) (file, id string) {
	if loc.DataSize < 24 {
		return "", ""
	}
	buf, err := d.Bytes(loc.RVA, loc.DataSize)
	if err != nil {
		return "", ""
	}
	if binary.LittleEndian.Uint32(buf) != cvSignaturePDB70 {
		return "", ""
	}
	guid := buf[4:20]
	age := binary.LittleEndian.Uint32(buf[20:24])
	name := buf[24:]
	if i := strings.IndexByte(string(name), 0); i >= 0 {
		name = name[:i]
	}
	// Breakpad formats the GUID fields big-endian-looking despite the
	// little-endian storage of the first three.
	id = fmt.Sprintf("%08X%04X%04X%02X%02X%02X%02X%02X%02X%02X%02X%X",
		binary.LittleEndian.Uint32(guid[0:4]),
		binary.LittleEndian.Uint16(guid[4:6]),
		binary.LittleEndian.Uint16(guid[6:8]),
		guid[8], guid[9], guid[10], guid[11], guid[12], guid[13], guid[14], guid[15],
		age)
	file = string(name)
	if i := strings.LastIndexAny(file, `/\`); i >= 0 {
		file = file[i+1:]
	}
	return file, id
}

// Thread is one thread from the ThreadListStream.
type Thread struct {
	ID         uint32
	StackStart uint64
	StackRVA   uint32
	StackSize  uint32
	ContextRVA uint32
	ContextLen uint32
}

// Threads decodes the thread list.
func (d *Dump) Threads() ([]Thread, error) {
	s, ok := d.Stream(ThreadListStream)
	if !ok {
		return nil, fmt.Errorf("%w: no thread list stream", ErrNotMinidump)
	}
	buf, err := d.StreamBytes(s)
	if err != nil {
		return nil, fmt.Errorf("thread list: %w", err)
	}
	if len(buf) < 4 {
		return nil, fmt.Errorf("%w: thread list too short", ErrNotMinidump)
	}
	count := binary.LittleEndian.Uint32(buf)
	if uint64(len(buf)) < 4+uint64(count)*rawThreadSize {
		return nil, fmt.Errorf("%w: thread list truncated", ErrNotMinidump)
	}
	// Re-read past the count so the record array starts on a fresh, aligned
	// allocation before being reinterpreted.
	recs, err := d.Bytes(s.RVA+4, count*rawThreadSize)
	if err != nil {
		return nil, fmt.Errorf("thread list: %w", err)
	}
	raw := safeish.SliceCast[[]rawThread](recs)

	out := make([]Thread, 0, count)
	for _, r := range raw {
		out = append(out, Thread{
			ID:         r.ID,
			StackStart: r.Stack.Start,
			StackRVA:   r.Stack.Loc.RVA,
			StackSize:  r.Stack.Loc.DataSize,
			ContextRVA: r.Context.RVA,
			ContextLen: r.Context.DataSize,
		})
	}
	return out, nil
}

// StackMemory returns the thread's stack bytes as captured in the dump.
func (d *Dump) StackMemory(t Thread) ([]byte, error) {
	return d.Bytes(t.StackRVA, t.StackSize)
}

// MemoryRange is one captured region from the MemoryListStream.
type MemoryRange struct {
	Start uint64
	Size  uint32
	RVA   uint32
}

// MemoryRanges decodes the memory list.
func (d *Dump) MemoryRanges() ([]MemoryRange, error) {
	s, ok := d.Stream(MemoryListStream)
	if !ok {
		return nil, nil
	}
	buf, err := d.StreamBytes(s)
	if err != nil {
		return nil, fmt.Errorf("memory list: %w", err)
	}
	if len(buf) < 4 {
		return nil, fmt.Errorf("%w: memory list too short", ErrNotMinidump)
	}
	count := binary.LittleEndian.Uint32(buf)
	const descSize = 16
	if uint64(len(buf)) < 4+uint64(count)*descSize {
		return nil, fmt.Errorf("%w: memory list truncated", ErrNotMinidump)
	}
	recs, err := d.Bytes(s.RVA+4, count*descSize)
	if err != nil {
		return nil, fmt.Errorf("memory list: %w", err)
	}
	raw := safeish.SliceCast[[]rawMemoryDescriptor](recs)
	out := make([]MemoryRange, 0, count)
	for _, r := range raw {
		out = append(out, MemoryRange{Start: r.Start, Size: r.Loc.DataSize, RVA: r.Loc.RVA})
	}
	return out, nil
}
