// Package symbolize resolves module-relative addresses to symbol names using
// breakpad .sym files found in local directories, a compressed on-disk cache,
// or HTTP symbol servers.
package symbolize

import (
	"strings"
)

// ModuleID identifies a module's symbol file on a breakpad symbol server.
type ModuleID struct {
	DebugFile string
	DebugID   string
}

// Sym is a resolved symbol.
type Sym struct {
	Name string
	// Base is the module-relative address the symbol starts at.
	Base uint64
	File string
	Line int
}

// Resolver maps a module-relative address to a symbol. A failed lookup is a
// miss, never an error; unresolved frames stay unresolved.
type Resolver interface {
	Lookup(mod ModuleID, addr uint64) (Sym, bool)
}

// Chain tries each resolver in order and returns the first hit.
type Chain []Resolver

func (c Chain) Lookup(mod ModuleID, addr uint64) (Sym, bool) {
	for _, r := range c {
		if sym, ok := r.Lookup(mod, addr); ok {
			return sym, true
		}
	}
	return Sym{}, false
}

// SymFileName returns the name of the .sym file for a debug file, following
// the breakpad convention: "app.pdb" becomes "app.sym", anything else gets
// ".sym" appended.
func SymFileName(debugFile string) string {
	if strings.HasSuffix(strings.ToLower(debugFile), ".pdb") {
		return debugFile[:len(debugFile)-len(".pdb")] + ".sym"
	}
	return debugFile + ".sym"
}
