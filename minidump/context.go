package minidump

import (
	"encoding/binary"
	"fmt"
)

// Processor architectures from the SystemInfoStream.
const (
	ArchX86     = 0
	ArchARM     = 5
	ArchARM64   = 12
	ArchAMD64   = 9
	ArchUnknown = 0xffff
)

type SystemInfo struct {
	Arch         uint16
	NumCPUs      uint8
	MajorVersion uint32
	MinorVersion uint32
	BuildNumber  uint32
}

// ArchName returns a human-readable architecture name.
func (si SystemInfo) ArchName() string {
	switch si.Arch {
	case ArchX86:
		return "x86"
	case ArchARM:
		return "arm"
	case ArchARM64:
		return "arm64"
	case ArchAMD64:
		return "amd64"
	default:
		return fmt.Sprintf("unknown(%d)", si.Arch)
	}
}

// System decodes the SystemInfoStream.
func (d *Dump) System() (SystemInfo, error) {
	s, ok := d.Stream(SystemInfoStream)
	if !ok {
		return SystemInfo{}, fmt.Errorf("%w: no system info stream", ErrNotMinidump)
	}
	buf, err := d.StreamBytes(s)
	if err != nil {
		return SystemInfo{}, fmt.Errorf("system info: %w", err)
	}
	if len(buf) < 24 {
		return SystemInfo{}, fmt.Errorf("%w: system info too short", ErrNotMinidump)
	}
	return SystemInfo{
		Arch:         binary.LittleEndian.Uint16(buf),
		NumCPUs:      buf[4],
		MajorVersion: binary.LittleEndian.Uint32(buf[8:]),
		MinorVersion: binary.LittleEndian.Uint32(buf[12:]),
		BuildNumber:  binary.LittleEndian.Uint32(buf[16:]),
	}, nil
}

// Offsets of the registers we need inside a CONTEXT_AMD64 record.
const (
	amd64CtxRsp  = 0x98
	amd64CtxRbp  = 0xa0
	amd64CtxRip  = 0xf8
	amd64CtxSize = 0x100
)

// ThreadRegs holds the registers a stackwalk starts from.
type ThreadRegs struct {
	IP uint64
	SP uint64
	BP uint64
}

// Registers extracts the instruction, stack and base pointers from the
// thread's captured CPU context. Only amd64 contexts are understood.
func (d *Dump) Registers(t Thread, si SystemInfo) (ThreadRegs, error) {
	if si.Arch != ArchAMD64 {
		return ThreadRegs{}, fmt.Errorf("unsupported architecture %s", si.ArchName())
	}
	if t.ContextLen < amd64CtxSize {
		return ThreadRegs{}, fmt.Errorf("thread %d: context record too short (%d bytes)", t.ID, t.ContextLen)
	}
	buf, err := d.Bytes(t.ContextRVA, t.ContextLen)
	if err != nil {
		return ThreadRegs{}, fmt.Errorf("thread %d: %w", t.ID, err)
	}
	return ThreadRegs{
		IP: binary.LittleEndian.Uint64(buf[amd64CtxRip:]),
		SP: binary.LittleEndian.Uint64(buf[amd64CtxRsp:]),
		BP: binary.LittleEndian.Uint64(buf[amd64CtxRbp:]),
	}, nil
}
