package symbolize

import (
	"os"
	"path/filepath"
)

// DirResolver looks for symbol files in local directories laid out the
// breakpad way: <dir>/<debug_file>/<debug_id>/<debug_file>.sym. Parsed
// tables are retained for the lifetime of the resolver; misses are
// remembered too, so an absent file is only stat'd once per run.
//
// A DirResolver is not safe for concurrent use. One analysis pass owns it.
type DirResolver struct {
	Dirs   []string
	tables map[ModuleID]*Table
}

func (r *DirResolver) Lookup(mod ModuleID, addr uint64) (Sym, bool) {
	if mod.DebugFile == "" || mod.DebugID == "" {
		return Sym{}, false
	}
	if r.tables == nil {
		r.tables = map[ModuleID]*Table{}
	}
	t, seen := r.tables[mod]
	if !seen {
		t = r.load(mod)
		r.tables[mod] = t
	}
	if t == nil {
		return Sym{}, false
	}
	return t.Lookup(addr)
}

func (r *DirResolver) load(mod ModuleID) *Table {
	for _, dir := range r.Dirs {
		path := filepath.Join(dir, mod.DebugFile, mod.DebugID, SymFileName(mod.DebugFile))
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		t, err := ParseSym(f)
		f.Close()
		if err != nil {
			continue
		}
		return t
	}
	return nil
}
