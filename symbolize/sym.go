package symbolize

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// Table holds the parsed contents of one breakpad .sym file.
type Table struct {
	funcs   []funcSym
	publics []publicSym
	files   map[int]string
}

type funcSym struct {
	Addr  uint64
	Size  uint64
	Name  string
	lines []lineRec
}

type lineRec struct {
	Addr uint64
	Size uint64
	Line int
	File int
}

type publicSym struct {
	Addr uint64
	Name string
}

// ParseSym reads a breakpad symbol file. FUNC, PUBLIC, FILE and line records
// are decoded; STACK and INFO records are skipped (CFI evaluation is not this
// tool's job). Malformed lines are skipped rather than failing the whole
// file, matching how the breakpad processors treat them.
func ParseSym(r io.Reader) (*Table, error) {
	t := &Table{files: map[int]string{}}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var cur *funcSym
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "MODULE "), strings.HasPrefix(line, "INFO "),
			strings.HasPrefix(line, "STACK "), strings.HasPrefix(line, "INLINE"):
			continue

		case strings.HasPrefix(line, "FILE "):
			rest := line[len("FILE "):]
			numStr, name, ok := strings.Cut(rest, " ")
			if !ok {
				continue
			}
			num, err := strconv.Atoi(numStr)
			if err != nil {
				continue
			}
			t.files[num] = name

		case strings.HasPrefix(line, "FUNC "):
			fields := strings.SplitN(strings.TrimPrefix(line, "FUNC "), " ", 5)
			if len(fields) > 0 && fields[0] == "m" {
				fields = fields[1:]
			}
			if len(fields) < 4 {
				continue
			}
			addr, err1 := strconv.ParseUint(fields[0], 16, 64)
			size, err2 := strconv.ParseUint(fields[1], 16, 64)
			if err1 != nil || err2 != nil {
				continue
			}
			t.funcs = append(t.funcs, funcSym{Addr: addr, Size: size, Name: strings.Join(fields[3:], " ")})
			cur = &t.funcs[len(t.funcs)-1]

		case strings.HasPrefix(line, "PUBLIC "):
			fields := strings.SplitN(strings.TrimPrefix(line, "PUBLIC "), " ", 4)
			if len(fields) > 0 && fields[0] == "m" {
				fields = fields[1:]
			}
			if len(fields) < 3 {
				continue
			}
			addr, err := strconv.ParseUint(fields[0], 16, 64)
			if err != nil {
				continue
			}
			t.publics = append(t.publics, publicSym{Addr: addr, Name: strings.Join(fields[2:], " ")})

		default:
			// A bare hex line is source line info for the current FUNC:
			// "address size line filenum".
			if cur == nil {
				continue
			}
			fields := strings.Fields(line)
			if len(fields) != 4 {
				continue
			}
			addr, err1 := strconv.ParseUint(fields[0], 16, 64)
			size, err2 := strconv.ParseUint(fields[1], 16, 64)
			lineNo, err3 := strconv.Atoi(fields[2])
			fileNo, err4 := strconv.Atoi(fields[3])
			if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
				continue
			}
			cur.lines = append(cur.lines, lineRec{Addr: addr, Size: size, Line: lineNo, File: fileNo})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading symbol file: %w", err)
	}

	slices.SortFunc(t.funcs, func(a, b funcSym) int {
		switch {
		case a.Addr < b.Addr:
			return -1
		case a.Addr > b.Addr:
			return 1
		default:
			return 0
		}
	})
	slices.SortFunc(t.publics, func(a, b publicSym) int {
		switch {
		case a.Addr < b.Addr:
			return -1
		case a.Addr > b.Addr:
			return 1
		default:
			return 0
		}
	})
	return t, nil
}

// Lookup resolves a module-relative address. FUNC ranges win; for addresses
// outside every FUNC the nearest preceding PUBLIC is used, since publics
// carry no size.
func (t *Table) Lookup(addr uint64) (Sym, bool) {
	// Find the last func with Addr <= addr.
	i, found := slices.BinarySearchFunc(t.funcs, addr, func(f funcSym, addr uint64) int {
		switch {
		case f.Addr < addr:
			return -1
		case f.Addr > addr:
			return 1
		default:
			return 0
		}
	})
	if !found {
		i--
	}
	if i >= 0 && i < len(t.funcs) {
		f := &t.funcs[i]
		if addr >= f.Addr && addr < f.Addr+f.Size {
			sym := Sym{Name: f.Name, Base: f.Addr}
			if file, line, ok := t.lineFor(f, addr); ok {
				sym.File, sym.Line = file, line
			}
			return sym, true
		}
	}

	j, found := slices.BinarySearchFunc(t.publics, addr, func(p publicSym, addr uint64) int {
		switch {
		case p.Addr < addr:
			return -1
		case p.Addr > addr:
			return 1
		default:
			return 0
		}
	})
	if !found {
		j--
	}
	if j >= 0 && j < len(t.publics) {
		return Sym{Name: t.publics[j].Name, Base: t.publics[j].Addr}, true
	}
	return Sym{}, false
}

func (t *Table) lineFor(f *funcSym, addr uint64) (string, int, bool) {
	for i := range f.lines {
		l := &f.lines[i]
		if addr >= l.Addr && addr < l.Addr+l.Size {
			return t.files[l.File], l.Line, true
		}
	}
	return "", 0, false
}
