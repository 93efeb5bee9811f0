// Package minidump provides read-only access to the raw structured records of
// a minidump file: the header, the stream directory, and the module, thread
// and memory lists. It decodes just enough of the format to drive a raw-dump
// view and to seed a stackwalk; everything else is exposed as raw stream
// bytes.
package minidump

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf16"

	"golang.org/x/exp/mmap"
	"honnef.co/go/safeish"
)

var ErrNotMinidump = errors.New("not a minidump file")

const (
	signature     = 0x504d444d // "MDMP"
	headerSize    = 32
	direntSize    = 12
	rawThreadSize = 48
	rawModuleSize = 108
)

// Stream types we know how to name. The directory can contain arbitrary
// types; unknown ones are still listed and hexdumpable.
const (
	ThreadListStream   = 3
	ModuleListStream   = 4
	MemoryListStream   = 5
	ExceptionStream    = 6
	SystemInfoStream   = 7
	ThreadExListStream = 8
	Memory64ListStream = 9
	CommentStreamA     = 10
	CommentStreamW     = 11
	HandleDataStream   = 12
	FunctionTableStrm  = 13
	UnloadedModuleStrm = 14
	MiscInfoStream     = 15
	MemoryInfoStream   = 16
	ThreadInfoStream   = 17
	ThreadNamesStream  = 24
	CrashpadInfoStream = 0x43500001
)

var streamNames = map[uint32]string{
	ThreadListStream:   "ThreadListStream",
	ModuleListStream:   "ModuleListStream",
	MemoryListStream:   "MemoryListStream",
	ExceptionStream:    "ExceptionStream",
	SystemInfoStream:   "SystemInfoStream",
	ThreadExListStream: "ThreadExListStream",
	Memory64ListStream: "Memory64ListStream",
	CommentStreamA:     "CommentStreamA",
	CommentStreamW:     "CommentStreamW",
	HandleDataStream:   "HandleDataStream",
	FunctionTableStrm:  "FunctionTableStream",
	UnloadedModuleStrm: "UnloadedModuleListStream",
	MiscInfoStream:     "MiscInfoStream",
	MemoryInfoStream:   "MemoryInfoListStream",
	ThreadInfoStream:   "ThreadInfoListStream",
	ThreadNamesStream:  "ThreadNamesStream",
	CrashpadInfoStream: "CrashpadInfoStream",
}

// StreamName returns a human-readable name for a stream type.
func StreamName(typ uint32) string {
	if name, ok := streamNames[typ]; ok {
		return name
	}
	return fmt.Sprintf("UnknownStream(0x%x)", typ)
}

type Header struct {
	Version       uint32
	StreamCount   uint32
	StreamDirRVA  uint32
	Checksum      uint32
	TimeDateStamp uint32
	Flags         uint64
}

type StreamDesc struct {
	Type uint32
	Size uint32
	RVA  uint32
}

func (s StreamDesc) Name() string {
	return StreamName(s.Type)
}

// Location and memory descriptors, as they appear on disk.

type rawLocation struct {
	DataSize uint32
	RVA      uint32
}

type rawMemoryDescriptor struct {
	Start uint64
	Loc   rawLocation
}

type rawThread struct {
	ID            uint32
	SuspendCount  uint32
	PriorityClass uint32
	Priority      uint32
	TEB           uint64
	Stack         rawMemoryDescriptor
	Context       rawLocation
}

// Dump is an open minidump, backed by a memory-mapped file. All methods read
// from the mapping on demand; none of them mutate the file.
type Dump struct {
	Path   string
	Header Header

	ra      *mmap.ReaderAt
	streams []StreamDesc
}

// Open maps the file at path and parses the header and stream directory.
// A file that is too short or does not carry the MDMP signature fails with
// ErrNotMinidump.
func Open(path string) (*Dump, error) {
	ra, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dump: %w", err)
	}
	d := &Dump{Path: path, ra: ra}
	if err := d.parseHeader(); err != nil {
		ra.Close()
		return nil, err
	}
	return d, nil
}

func (d *Dump) Close() error {
	return d.ra.Close()
}

// Size returns the mapped file size in bytes.
func (d *Dump) Size() int {
	return d.ra.Len()
}

// Bytes reads size bytes at the given file offset ("RVA" in minidump terms).
// Out-of-bounds ranges fail instead of truncating, so callers can trust the
// length of what they get back.
func (d *Dump) Bytes(rva uint32, size uint32) ([]byte, error) {
	end := int64(rva) + int64(size)
	if end > int64(d.ra.Len()) {
		return nil, fmt.Errorf("%w: record at 0x%x+0x%x extends past end of file (0x%x)", ErrNotMinidump, rva, size, d.ra.Len())
	}
	buf := make([]byte, size)
	if _, err := d.ra.ReadAt(buf, int64(rva)); err != nil {
		return nil, fmt.Errorf("reading record at 0x%x: %w", rva, err)
	}
	return buf, nil
}

func (d *Dump) parseHeader() error {
	buf, err := d.Bytes(0, headerSize)
	if err != nil {
		return fmt.Errorf("%w: file shorter than header", ErrNotMinidump)
	}
	if binary.LittleEndian.Uint32(buf) != signature {
		return fmt.Errorf("%w: bad signature", ErrNotMinidump)
	}
	d.Header = Header{
		Version:       binary.LittleEndian.Uint32(buf[4:]),
		StreamCount:   binary.LittleEndian.Uint32(buf[8:]),
		StreamDirRVA:  binary.LittleEndian.Uint32(buf[12:]),
		Checksum:      binary.LittleEndian.Uint32(buf[16:]),
		TimeDateStamp: binary.LittleEndian.Uint32(buf[20:]),
		Flags:         binary.LittleEndian.Uint64(buf[24:]),
	}

	// Widen before multiplying: a hostile count must fail the bounds check,
	// not wrap to a small size.
	dirSize := uint64(d.Header.StreamCount) * direntSize
	if dirSize > uint64(d.ra.Len()) {
		return fmt.Errorf("%w: stream directory out of bounds", ErrNotMinidump)
	}
	dir, err := d.Bytes(d.Header.StreamDirRVA, uint32(dirSize))
	if err != nil {
		return fmt.Errorf("%w: stream directory out of bounds", ErrNotMinidump)
	}
	d.streams = safeish.SliceCast[[]StreamDesc](dir)
	return nil
}

// Streams returns the stream directory in file order.
func (d *Dump) Streams() []StreamDesc {
	return d.streams
}

// Stream returns the first stream of the given type.
func (d *Dump) Stream(typ uint32) (StreamDesc, bool) {
	for _, s := range d.streams {
		if s.Type == typ {
			return s, true
		}
	}
	return StreamDesc{}, false
}

// StreamBytes returns the raw contents of a stream.
func (d *Dump) StreamBytes(s StreamDesc) ([]byte, error) {
	return d.Bytes(s.RVA, s.Size)
}

// readString decodes a MINIDUMP_STRING: a byte length followed by UTF-16LE
// code units.
func (d *Dump) readString(rva uint32) (string, error) {
	if rva == 0 {
		return "", nil
	}
	lenBuf, err := d.Bytes(rva, 4)
	if err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint32(lenBuf)
	buf, err := d.Bytes(rva+4, n)
	if err != nil {
		return "", err
	}
	u16 := make([]uint16, n/2)
	for i := range u16 {
		u16[i] = binary.LittleEndian.Uint16(buf[i*2:])
	}
	return string(utf16.Decode(u16)), nil
}
