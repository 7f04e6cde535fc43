package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/checkdeck/checkdeck/internal/models"
)

// Cache stores check results keyed by content hash, so unchanged units skip
// re-running their checks.
type Cache struct {
	dir string
	mu  sync.Mutex
}

// New creates a cache backed by the given directory. An empty directory
// disables the cache.
func New(dir string) *Cache {
	return &Cache{dir: dir}
}

// Key generates the cache key for one (check, target) execution.
// The key covers:
// - the full check definition (name, kind, scope, advisory flag, params)
// - the pipeline-wide tool timeout
// - every file under the target's working directory
// Any change to the check or the files invalidates the entry.
func Key(def models.CheckDef, timeoutSec int, workDir string) (string, error) {
	h := sha256.New()

	defJSON, err := json.Marshal(def)
	if err != nil {
		return "", fmt.Errorf("marshaling check definition: %w", err)
	}
	if _, err := h.Write(defJSON); err != nil {
		return "", err
	}

	if err := writeInt(h, timeoutSec); err != nil {
		return "", err
	}

	if err := hashTree(h, workDir); err != nil {
		return "", fmt.Errorf("hashing %s: %w", workDir, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Get retrieves a cached result if it exists.
func (c *Cache) Get(key string) (*models.CheckResult, bool) {
	if c.dir == "" {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.cachePath(key))
	if err != nil {
		// Cache miss
		return nil, false
	}

	var result models.CheckResult
	if err := json.Unmarshal(data, &result); err != nil {
		// Invalid cache entry, treat as miss
		return nil, false
	}

	return &result, true
}

// Put stores a check result in the cache. Skipped results are not stored:
// a tool that was missing may be installed before the next run.
func (c *Cache) Put(key string, result *models.CheckResult) error {
	if c.dir == "" || result.Status == models.StatusSkipped {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}

	if err := os.WriteFile(c.cachePath(key), data, 0o644); err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}

	return nil
}

// Clear removes all cached results.
func (c *Cache) Clear() error {
	if c.dir == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := os.Stat(c.dir); os.IsNotExist(err) {
		return nil
	}

	// Safety check: verify this looks like a checkdeck cache directory
	// before removing anything.
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("reading cache directory: %w", err)
	}

	if len(entries) > 0 {
		hasValidCache := false
		for _, entry := range entries {
			if entry.IsDir() {
				return fmt.Errorf("cache directory contains subdirectories - refusing to delete for safety")
			}
			if filepath.Ext(entry.Name()) == ".json" {
				hasValidCache = true
			} else {
				return fmt.Errorf("cache directory contains non-cache files - refusing to delete for safety")
			}
		}
		if !hasValidCache {
			return fmt.Errorf("no valid cache files found in directory - refusing to delete for safety")
		}
	}

	return os.RemoveAll(c.dir)
}

// cachePath returns the file path for a cache key
func (c *Cache) cachePath(key string) string {
	return filepath.Join(c.dir, key+".json")
}

// skipDirs are directory names excluded from content hashing.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"target":       true,
}

// hashTree hashes every file under dir in a deterministic order. Hidden
// directories and build output are excluded, matching what checks scan.
func hashTree(h io.Writer, dir string) error {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible entries
		}
		if d.IsDir() {
			if path != dir && (strings.HasPrefix(d.Name(), ".") || skipDirs[d.Name()]) {
				return fs.SkipDir
			}
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return err
	}

	// Sort for deterministic hashing
	sort.Strings(files)

	for _, path := range files {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}
		if err := writeString(h, filepath.ToSlash(rel)); err != nil {
			return err
		}
		if err := hashFile(h, path); err != nil {
			// A file deleted mid-walk still contributes its path, so the
			// key changes when it reappears.
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
	}

	return nil
}

// Helper functions

func writeString(w io.Writer, s string) error {
	// Write string with null byte delimiter to prevent hash collisions
	_, err := w.Write([]byte(s + "\x00"))
	return err
}

func writeInt(w io.Writer, i int) error {
	// Write int with null byte delimiter to prevent hash collisions
	_, err := fmt.Fprintf(w, "%d\x00", i)
	return err
}

func hashFile(h io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	if _, err := io.Copy(h, f); err != nil {
		return err
	}

	return nil
}
