package symbolize

import (
	"bytes"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ServerResolver fetches symbol files from HTTP symbol servers. Fetched
// files are parsed once and optionally persisted to a Cache; servers are
// only asked once per module per run, hit or miss.
//
// A ServerResolver is not safe for concurrent use.
type ServerResolver struct {
	URLs   []string
	Client *http.Client
	Cache  *Cache

	// Log, if set, receives a line per fetch attempt.
	Log func(format string, args ...any)

	tables map[ModuleID]*Table
}

func (r *ServerResolver) logf(format string, args ...any) {
	if r.Log != nil {
		r.Log(format, args...)
	}
}

func (r *ServerResolver) Lookup(mod ModuleID, addr uint64) (Sym, bool) {
	if mod.DebugFile == "" || mod.DebugID == "" {
		return Sym{}, false
	}
	if r.tables == nil {
		r.tables = map[ModuleID]*Table{}
	}
	t, seen := r.tables[mod]
	if !seen {
		t = r.acquire(mod)
		r.tables[mod] = t
	}
	if t == nil {
		return Sym{}, false
	}
	return t.Lookup(addr)
}

func (r *ServerResolver) acquire(mod ModuleID) *Table {
	if r.Cache != nil {
		if data, ok := r.Cache.Load(mod); ok {
			r.logf("symbols for %s %s loaded from cache", mod.DebugFile, mod.DebugID)
			t, err := ParseSym(bytes.NewReader(data))
			if err == nil {
				return t
			}
		}
	}
	for _, base := range r.URLs {
		data, err := r.fetch(base, mod)
		if err != nil {
			r.logf("no symbols for %s %s at %s: %v", mod.DebugFile, mod.DebugID, base, err)
			continue
		}
		r.logf("fetched symbols for %s %s from %s (%d bytes)", mod.DebugFile, mod.DebugID, base, len(data))
		if r.Cache != nil {
			if err := r.Cache.Store(mod, data); err != nil {
				r.logf("failed to cache symbols for %s: %v", mod.DebugFile, err)
			}
		}
		t, err := ParseSym(bytes.NewReader(data))
		if err != nil {
			continue
		}
		return t
	}
	return nil
}

func (r *ServerResolver) fetch(base string, mod ModuleID) ([]byte, error) {
	url := strings.TrimSuffix(base, "/") + "/" + path.Join(mod.DebugFile, mod.DebugID, SymFileName(mod.DebugFile))
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &httpError{resp.StatusCode}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	// Some servers store the files gzipped and serve them as-is, bypassing
	// transport-level content encoding.
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	}
	return data, nil
}

type httpError struct {
	status int
}

func (e *httpError) Error() string {
	return "HTTP " + strconv.Itoa(e.status) + " " + http.StatusText(e.status)
}
