package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheClearCommand_RemovesCacheDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "abc123.json"), []byte(`{"check":"x"}`), 0o644))

	var buf bytes.Buffer
	cmd := newCacheClearCommand()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--cache-dir", dir})
	require.NoError(t, cmd.Execute())

	assert.NoDirExists(t, dir)
	assert.Contains(t, buf.String(), "Cache cleared")
}

func TestCacheClearCommand_MissingDirIsFine(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "never-created")

	cmd := newCacheClearCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--cache-dir", dir})
	require.NoError(t, cmd.Execute())
}

func TestCacheClearCommand_RefusesForeignDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep"), 0o644))

	cmd := newCacheClearCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--cache-dir", dir})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to delete")
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
}
