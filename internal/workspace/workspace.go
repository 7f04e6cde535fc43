// Package workspace locates the pipeline spec governing a directory.
// Commands may run from anywhere inside a workspace; the nearest
// checkdeck.yaml in the directory or its parents wins.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// maxParentWalk is the maximum number of parent directories searched.
const maxParentWalk = 10

// specNames are the accepted spec file names, in priority order.
var specNames = []string{"checkdeck.yaml", "checkdeck.yml"}

// Find walks from dir up through its parents looking for a pipeline spec.
func Find(dir string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving absolute path: %w", err)
	}

	current := absDir
	for i := 0; i <= maxParentWalk; i++ {
		for _, name := range specNames {
			candidate := filepath.Join(current, name)
			if isFile(candidate) {
				return candidate, nil
			}
		}
		parent := filepath.Dir(current)
		if parent == current {
			break // reached filesystem root
		}
		current = parent
	}

	return "", fmt.Errorf("no checkdeck.yaml found in %s or its parents", absDir)
}

// Resolve returns the spec path for a command invocation. An explicit arg
// wins; otherwise the working directory and its parents are searched.
func Resolve(arg, dir string) (string, error) {
	if arg != "" {
		if !isFile(arg) {
			return "", fmt.Errorf("spec file %s does not exist", arg)
		}
		return arg, nil
	}
	return Find(dir)
}

// isFile returns true if path exists and is a regular file.
func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
