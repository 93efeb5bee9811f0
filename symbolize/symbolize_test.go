package symbolize

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testSym = `MODULE windows x86_64 12345678ABCD41338A8EF8FF8AD0E8C91 app.pdb
FILE 0 src/main.rs
FILE 1 src/lib.rs
FUNC 1000 40 0 main
1000 10 12 0
1010 30 13 0
FUNC m 1040 20 0 handle_request(Request const&)
1040 20 99 1
PUBLIC 2000 0 _start
PUBLIC 3000 0 exported_thing
STACK CFI INIT 1000 40 .cfa: $rsp 8 +
`

func parseTestSym(t *testing.T) *Table {
	t.Helper()
	table, err := ParseSym(strings.NewReader(testSym))
	if err != nil {
		t.Fatal(err)
	}
	return table
}

func TestParseSymFuncLookup(t *testing.T) {
	table := parseTestSym(t)

	sym, ok := table.Lookup(0x1015)
	if !ok {
		t.Fatal("no symbol for 0x1015")
	}
	if sym.Name != "main" || sym.Base != 0x1000 {
		t.Errorf("sym = %+v", sym)
	}
	if sym.File != "src/main.rs" || sym.Line != 13 {
		t.Errorf("line info = %s:%d, want src/main.rs:13", sym.File, sym.Line)
	}

	sym, ok = table.Lookup(0x1050)
	if !ok || sym.Name != "handle_request(Request const&)" {
		t.Errorf("sym = %+v, ok = %v", sym, ok)
	}
	if sym.File != "src/lib.rs" || sym.Line != 99 {
		t.Errorf("line info = %s:%d", sym.File, sym.Line)
	}
}

func TestParseSymPublicFallback(t *testing.T) {
	table := parseTestSym(t)

	// Between the FUNC ranges and the publics: nearest preceding PUBLIC.
	sym, ok := table.Lookup(0x2abc)
	if !ok || sym.Name != "_start" || sym.Base != 0x2000 {
		t.Errorf("sym = %+v, ok = %v", sym, ok)
	}
	// Before everything: miss.
	if _, ok := table.Lookup(0x10); ok {
		t.Error("lookup below all symbols succeeded")
	}
}

func TestSymFileName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"app.pdb", "app.sym"},
		{"App.PDB", "App.sym"},
		{"libc.so", "libc.so.sym"},
		{"firefox", "firefox.sym"},
	}
	for _, tt := range tests {
		if got := SymFileName(tt.in); got != tt.want {
			t.Errorf("SymFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDirResolver(t *testing.T) {
	mod := ModuleID{DebugFile: "app.pdb", DebugID: "12345678ABCD41338A8EF8FF8AD0E8C91"}
	dir := t.TempDir()
	symPath := filepath.Join(dir, "app.pdb", mod.DebugID, "app.sym")
	if err := os.MkdirAll(filepath.Dir(symPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(symPath, []byte(testSym), 0o644); err != nil {
		t.Fatal(err)
	}

	r := &DirResolver{Dirs: []string{t.TempDir(), dir}}
	sym, ok := r.Lookup(mod, 0x1000)
	if !ok || sym.Name != "main" {
		t.Errorf("sym = %+v, ok = %v", sym, ok)
	}
	if _, ok := r.Lookup(ModuleID{DebugFile: "other.pdb", DebugID: "FFFF"}, 0x1000); ok {
		t.Error("lookup for unknown module succeeded")
	}
	// Modules without debug identifiers never resolve.
	if _, ok := r.Lookup(ModuleID{}, 0x1000); ok {
		t.Error("lookup with empty module id succeeded")
	}
}

func TestCacheRoundTrip(t *testing.T) {
	mod := ModuleID{DebugFile: "app.pdb", DebugID: "ABCD1"}
	c := &Cache{Dir: filepath.Join(t.TempDir(), "cache")}

	if _, ok := c.Load(mod); ok {
		t.Fatal("empty cache reports a hit")
	}
	if err := c.Store(mod, []byte(testSym)); err != nil {
		t.Fatal(err)
	}
	data, ok := c.Load(mod)
	if !ok || string(data) != testSym {
		t.Fatalf("round trip failed (hit=%v)", ok)
	}
	// The stored entry is compressed, not plaintext.
	raw, err := os.ReadFile(filepath.Join(c.Dir, "app.pdb", "ABCD1", "app.sym.sz"))
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) == testSym {
		t.Error("cache entry stored uncompressed")
	}
	// Creating the cache wrote the ownership marker.
	if _, err := os.Stat(filepath.Join(c.Dir, "cache.tag")); err != nil {
		t.Errorf("marker missing: %v", err)
	}
}

func TestCacheRefusesForeignDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "precious.txt"), []byte("do not delete"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := &Cache{Dir: dir}
	if err := c.Store(ModuleID{DebugFile: "a", DebugID: "b"}, []byte("x")); !errors.Is(err, ErrCacheUnsafe) {
		t.Errorf("Store into foreign dir = %v, want ErrCacheUnsafe", err)
	}
}

func TestClearDir(t *testing.T) {
	c := &Cache{Dir: filepath.Join(t.TempDir(), "cache")}
	mod := ModuleID{DebugFile: "app.pdb", DebugID: "ABCD1"}
	if err := c.Store(mod, []byte(testSym)); err != nil {
		t.Fatal(err)
	}
	if err := ClearDir(c.Dir); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Load(mod); ok {
		t.Error("entry survived ClearDir")
	}
	// The directory itself survives and is still a valid cache.
	if err := checkMarker(c.Dir); err != nil {
		t.Errorf("marker after clear: %v", err)
	}
}

func TestClearDirRefusesUnmarkedPath(t *testing.T) {
	dir := t.TempDir()
	victim := filepath.Join(dir, "important.txt")
	if err := os.WriteFile(victim, []byte("keep me"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ClearDir(dir); !errors.Is(err, ErrCacheUnsafe) {
		t.Fatalf("ClearDir = %v, want ErrCacheUnsafe", err)
	}
	if _, err := os.Stat(victim); err != nil {
		t.Error("ClearDir mutated an unmarked directory")
	}

	// A forged marker is also refused.
	if err := os.WriteFile(filepath.Join(dir, "cache.tag"), []byte("something else"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ClearDir(dir); !errors.Is(err, ErrCacheUnsafe) {
		t.Errorf("ClearDir with forged marker = %v, want ErrCacheUnsafe", err)
	}
	if err := ClearDir(""); !errors.Is(err, ErrCacheUnsafe) {
		t.Errorf("ClearDir(\"\") = %v, want ErrCacheUnsafe", err)
	}
}

func TestServerResolver(t *testing.T) {
	var requests []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.Path)
		if r.URL.Path == "/app.pdb/ABCD1/app.sym" {
			w.Write([]byte(testSym))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cache := &Cache{Dir: filepath.Join(t.TempDir(), "cache")}
	r := &ServerResolver{URLs: []string{srv.URL}, Client: srv.Client(), Cache: cache}
	mod := ModuleID{DebugFile: "app.pdb", DebugID: "ABCD1"}

	sym, ok := r.Lookup(mod, 0x1000)
	if !ok || sym.Name != "main" {
		t.Fatalf("sym = %+v, ok = %v", sym, ok)
	}
	// Second lookup hits the in-memory table, not the server.
	r.Lookup(mod, 0x1010)
	if len(requests) != 1 {
		t.Errorf("server saw %d requests, want 1", len(requests))
	}
	// The fetch populated the disk cache.
	if _, ok := cache.Load(mod); !ok {
		t.Error("fetch did not populate the cache")
	}

	// A fresh resolver with the same cache never asks the server.
	r2 := &ServerResolver{URLs: []string{srv.URL}, Client: srv.Client(), Cache: cache}
	if _, ok := r2.Lookup(mod, 0x1000); !ok {
		t.Error("cached lookup failed")
	}
	if len(requests) != 1 {
		t.Errorf("server saw %d requests after cached lookup, want 1", len(requests))
	}

	// Misses are misses, not errors, and are not retried within a run.
	unknown := ModuleID{DebugFile: "nope.pdb", DebugID: "F00D"}
	if _, ok := r.Lookup(unknown, 0x1); ok {
		t.Error("unknown module resolved")
	}
	before := len(requests)
	r.Lookup(unknown, 0x2)
	if len(requests) != before {
		t.Error("negative result was retried")
	}
}

func TestChain(t *testing.T) {
	mod := ModuleID{DebugFile: "app.pdb", DebugID: "ABCD1"}
	dir := t.TempDir()
	symPath := filepath.Join(dir, "app.pdb", "ABCD1", "app.sym")
	os.MkdirAll(filepath.Dir(symPath), 0o755)
	os.WriteFile(symPath, []byte(testSym), 0o644)

	chain := Chain{&DirResolver{Dirs: []string{t.TempDir()}}, &DirResolver{Dirs: []string{dir}}}
	if sym, ok := chain.Lookup(mod, 0x2000); !ok || sym.Name != "_start" {
		t.Errorf("chain lookup = %+v, %v", sym, ok)
	}
	if _, ok := chain.Lookup(ModuleID{DebugFile: "x", DebugID: "y"}, 0); ok {
		t.Error("chain resolved unknown module")
	}
}
