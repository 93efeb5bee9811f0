package symbolize

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"
	"github.com/google/uuid"
)

// ErrCacheUnsafe is returned for cache operations on a directory this tool
// did not create. The marker written at creation time is the only proof of
// ownership we accept before touching anything; a mistyped path must never
// get its contents deleted or overwritten.
var ErrCacheUnsafe = errors.New("directory is not a minidump-debugger symbol cache")

const markerName = "cache.tag"
const markerPrefix = "minidump-debugger cache "

// Cache is an on-disk store of fetched symbol files under one directory.
// Entries are stored snappy-compressed in the breakpad layout with a ".sz"
// suffix. The directory is created lazily, together with its ownership
// marker.
type Cache struct {
	Dir string
}

func (c *Cache) entryPath(mod ModuleID) string {
	return filepath.Join(c.Dir, mod.DebugFile, mod.DebugID, SymFileName(mod.DebugFile)+".sz")
}

// ensure creates the cache directory and its marker. An existing, non-empty
// directory without a marker is refused: we will not adopt a directory we
// cannot prove we own.
func (c *Cache) ensure() error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return err
	}
	if err := checkMarker(c.Dir); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return fmt.Errorf("%w: %s", ErrCacheUnsafe, c.Dir)
	}
	return writeMarker(c.Dir)
}

// Load returns the cached symbol file bytes for a module, if present.
func (c *Cache) Load(mod ModuleID) ([]byte, bool) {
	compressed, err := os.ReadFile(c.entryPath(mod))
	if err != nil {
		return nil, false
	}
	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		// A corrupt entry behaves like a miss; it will be refetched.
		return nil, false
	}
	return data, true
}

// Store writes a fetched symbol file into the cache.
func (c *Cache) Store(mod ModuleID, data []byte) error {
	if err := c.ensure(); err != nil {
		return err
	}
	path := c.entryPath(mod)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, snappy.Encode(nil, data), 0o644)
}

func writeMarker(dir string) error {
	content := markerPrefix + uuid.NewString() + "\n"
	return os.WriteFile(filepath.Join(dir, markerName), []byte(content), 0o644)
}

func checkMarker(dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, markerName))
	if err != nil {
		return err
	}
	content := strings.TrimSpace(string(data))
	token, ok := strings.CutPrefix(content, markerPrefix)
	if !ok {
		return fmt.Errorf("%w: malformed marker", ErrCacheUnsafe)
	}
	if _, err := uuid.Parse(token); err != nil {
		return fmt.Errorf("%w: malformed marker token", ErrCacheUnsafe)
	}
	return nil
}

// ClearDir removes the contents of a cache directory. It refuses to touch a
// directory without a valid ownership marker and reports what stopped it;
// the filesystem is left exactly as found in that case. The directory itself
// survives, with a fresh marker, so the path stays usable as a cache.
func ClearDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("%w: empty path", ErrCacheUnsafe)
	}
	if err := checkMarker(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: no marker at %s", ErrCacheUnsafe, dir)
		}
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return writeMarker(dir)
}
