package utils

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolvePath(t *testing.T) {
	base := filepath.Join("/", "work", "repo")

	assert.Equal(t, filepath.Join(base, "checkdeck-out"), ResolvePath("checkdeck-out", base))
	assert.Equal(t, filepath.Join(base, "out", "report.json"), ResolvePath(filepath.Join("out", "report.json"), base))

	abs := filepath.Join("/", "tmp", "report.json")
	assert.Equal(t, abs, ResolvePath(abs, base))

	assert.Equal(t, "", ResolvePath("", base))
}
