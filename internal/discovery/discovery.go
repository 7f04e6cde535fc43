package discovery

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Unit represents a buildable unit found during directory traversal.
type Unit struct {
	Name         string // root-relative, slash-separated path of the unit directory
	Dir          string // absolute path to the unit directory
	ManifestPath string // absolute path to the manifest file
}

// skipDirs are directory names that never contain units worth scanning.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"target":       true,
}

// Discover walks the given root directory and finds all units. A unit is any
// subdirectory of root (immediate or nested) containing the manifest file,
// e.g. Cargo.toml. The root directory itself is never a unit; a manifest
// there is treated as a workspace-level file. Results are ordered
// lexicographically by unit name.
func Discover(root string, manifest string) ([]Unit, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root path: %w", err)
	}

	// Verify root exists and is readable before walking
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("root path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path %s is not a directory", absRoot)
	}
	if _, err := os.ReadDir(absRoot); err != nil {
		return nil, fmt.Errorf("reading root directory: %w", err)
	}

	var units []Unit

	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible entries
		}

		// Skip hidden directories
		if d.IsDir() && path != absRoot && strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}

		// Skip build output and dependency trees
		if d.IsDir() && skipDirs[d.Name()] {
			return fs.SkipDir
		}

		if !d.IsDir() && d.Name() == manifest {
			dir := filepath.Dir(path)
			if dir == absRoot {
				return nil
			}
			rel, relErr := filepath.Rel(absRoot, dir)
			if relErr != nil {
				return relErr
			}
			units = append(units, Unit{
				Name:         filepath.ToSlash(rel),
				Dir:          dir,
				ManifestPath: path,
			})
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory %s: %w", absRoot, err)
	}

	sort.Slice(units, func(i, j int) bool { return units[i].Name < units[j].Name })

	return units, nil
}

// Names returns the unit names in discovery order.
func Names(units []Unit) []string {
	names := make([]string, 0, len(units))
	for _, u := range units {
		names = append(names, u.Name)
	}
	return names
}

// Filter returns the subset of units whose name matches at least one of the
// given glob patterns. An empty patterns slice returns all units unchanged.
func Filter(units []Unit, patterns []string) ([]Unit, error) {
	if len(patterns) == 0 {
		return units, nil
	}

	var matched []Unit
	for _, u := range units {
		for _, p := range patterns {
			ok, err := filepath.Match(p, u.Name)
			if err != nil {
				return nil, fmt.Errorf("invalid unit filter pattern %q: %w", p, err)
			}
			if ok {
				matched = append(matched, u)
				break
			}
		}
	}
	return matched, nil
}
