package orchestration

import (
	"fmt"
	"path/filepath"

	"github.com/checkdeck/checkdeck/internal/models"
)

// FilterChecks returns the subset of defs whose Name matches at least one of
// the given glob patterns. An empty patterns slice returns all definitions
// unchanged.
func FilterChecks(defs []models.CheckDef, patterns []string) ([]models.CheckDef, error) {
	if len(patterns) == 0 {
		return defs, nil
	}

	var matched []models.CheckDef
	for _, def := range defs {
		ok, err := matchesAny(def.Name, patterns)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, def)
		}
	}
	return matched, nil
}

// matchesAny reports whether a check name matches any pattern.
func matchesAny(name string, patterns []string) (bool, error) {
	for _, p := range patterns {
		ok, err := filepath.Match(p, name)
		if err != nil {
			return false, fmt.Errorf("invalid check filter pattern %q: %w", p, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
