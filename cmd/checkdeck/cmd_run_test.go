package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkdeck/checkdeck/internal/models"
	"github.com/checkdeck/checkdeck/internal/reporting"
)

// writeUnit creates a manifest-bearing unit directory with one source file.
func writeUnit(t *testing.T, root, name, source string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte("[package]\nname = \""+name+"\"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "lib.rs"), []byte(source), 0o644))
}

// writeSpec writes a checkdeck.yaml into dir and returns its path.
func writeSpec(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "checkdeck.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const patternSpec = `name: demo
root: .
manifest: Cargo.toml
max_workers: 2
timeout_seconds: 30
checks:
  - name: no-dbg
    kind: pattern
    scope: per-unit
    params:
      forbid: ["dbg!\\("]
      files: ["*.rs"]
`

func TestRunCommand_PassingPipeline(t *testing.T) {
	ws := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	writeUnit(t, ws, "alpha", "pub fn add(a: i32, b: i32) -> i32 { a + b }\n")
	writeUnit(t, ws, "beta", "pub fn sub(a: i32, b: i32) -> i32 { a - b }\n")
	specPath := writeSpec(t, ws, patternSpec)

	cmd := newRunCommand()
	cmd.SetArgs([]string{specPath, "--output-dir", out})
	require.NoError(t, cmd.Execute())

	assert.FileExists(t, filepath.Join(out, "report.json"))
	assert.FileExists(t, filepath.Join(out, "report.md"))

	report, err := models.LoadReport(filepath.Join(out, "report.json"))
	require.NoError(t, err)
	assert.Equal(t, "demo", report.Pipeline)
	assert.Equal(t, []string{"alpha", "beta"}, report.Units)
	assert.Len(t, report.Results, 2)
	assert.Equal(t, models.StatusSuccess, report.Overall())
}

func TestRunCommand_FailingCheckReturnsCheckFailure(t *testing.T) {
	ws := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	writeUnit(t, ws, "alpha", "pub fn add(a: i32, b: i32) -> i32 { a + b }\n")
	writeUnit(t, ws, "beta", "pub fn sub(a: i32, b: i32) -> i32 { dbg!(a - b) }\n")
	specPath := writeSpec(t, ws, patternSpec)

	cmd := newRunCommand()
	cmd.SetArgs([]string{specPath, "--output-dir", out})
	err := cmd.Execute()
	require.Error(t, err)

	var checkErr *CheckFailureError
	require.True(t, errors.As(err, &checkErr), "expected CheckFailureError, got %T", err)
	assert.Contains(t, checkErr.Message, "1 failed")

	// The report is saved even when checks fail.
	report, err := models.LoadReport(filepath.Join(out, "report.json"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailure, report.Overall())

	res, ok := report.ResultFor("no-dbg", "beta")
	require.True(t, ok)
	assert.Equal(t, models.StatusFailure, res.Status)

	// Failure output is persisted as a per-unit check log.
	assert.FileExists(t, filepath.Join(out, "units", "beta", "no-dbg.log"))
}

func TestRunCommand_AdvisoryFailureStillSucceeds(t *testing.T) {
	ws := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	writeUnit(t, ws, "alpha", "pub fn add() {} // TODO: overflow\n")
	specPath := writeSpec(t, ws, `name: demo
root: .
checks:
  - name: no-dbg
    kind: pattern
    scope: per-unit
    params:
      forbid: ["dbg!\\("]
  - name: no-todo
    kind: pattern
    scope: per-unit
    advisory: true
    params:
      forbid: ["TODO"]
`)

	cmd := newRunCommand()
	cmd.SetArgs([]string{specPath, "--output-dir", out})
	require.NoError(t, cmd.Execute())

	report, err := models.LoadReport(filepath.Join(out, "report.json"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, report.Overall())

	res, ok := report.ResultFor("no-todo", "alpha")
	require.True(t, ok)
	assert.Equal(t, models.StatusFailure, res.Status)
}

func TestRunCommand_UnitFilter(t *testing.T) {
	ws := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	writeUnit(t, ws, "alpha", "pub fn a() {}\n")
	writeUnit(t, ws, "beta", "pub fn b() {}\n")
	specPath := writeSpec(t, ws, patternSpec)

	cmd := newRunCommand()
	cmd.SetArgs([]string{specPath, "--output-dir", out, "--unit", "alpha"})
	require.NoError(t, cmd.Execute())

	report, err := models.LoadReport(filepath.Join(out, "report.json"))
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, report.Units)
	assert.Len(t, report.Results, 1)
}

func TestRunCommand_Formats(t *testing.T) {
	ws := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	writeUnit(t, ws, "alpha", "pub fn a() {}\n")
	specPath := writeSpec(t, ws, patternSpec)

	cmd := newRunCommand()
	cmd.SetArgs([]string{specPath, "--output-dir", out, "--format", "junit", "-f", "html"})
	require.NoError(t, cmd.Execute())

	assert.FileExists(t, filepath.Join(out, "junit.xml"))
	assert.FileExists(t, filepath.Join(out, "index.html"))
	assert.NoFileExists(t, filepath.Join(out, "report.md"))
}

func TestRunCommand_InvalidFormat(t *testing.T) {
	ws := t.TempDir()
	writeUnit(t, ws, "alpha", "pub fn a() {}\n")
	specPath := writeSpec(t, ws, patternSpec)

	cmd := newRunCommand()
	cmd.SetArgs([]string{specPath, "--format", "pdf"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid report format")
}

func TestRunCommand_MissingSpec(t *testing.T) {
	cmd := newRunCommand()
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "nope.yaml")})
	err := cmd.Execute()
	require.Error(t, err)

	var checkErr *CheckFailureError
	assert.False(t, errors.As(err, &checkErr), "a missing spec is a config error, not a check failure")
	assert.Contains(t, err.Error(), "does not exist")
}

func TestRunCommand_ToolUnavailableSkips(t *testing.T) {
	ws := t.TempDir()
	writeUnit(t, ws, "alpha", "pub fn a() {}\n")
	specPath := writeSpec(t, ws, `name: demo
root: .
checks:
  - name: audit
    kind: command
    scope: global
    params:
      command: checkdeck-no-such-tool
`)

	t.Run("default exits zero", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "out")
		cmd := newRunCommand()
		cmd.SetArgs([]string{specPath, "--output-dir", out})
		require.NoError(t, cmd.Execute())

		report, err := models.LoadReport(filepath.Join(out, "report.json"))
		require.NoError(t, err)
		assert.Equal(t, models.StatusSkipped, report.Overall())

		res, ok := report.ResultFor("audit", "")
		require.True(t, ok)
		assert.Equal(t, models.StatusSkipped, res.Status)
		assert.Contains(t, res.Reason, "unavailable")
	})

	t.Run("fail-on-skipped exits non-zero", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "out")
		cmd := newRunCommand()
		cmd.SetArgs([]string{specPath, "--output-dir", out, "--fail-on-skipped"})
		err := cmd.Execute()
		require.Error(t, err)

		var checkErr *CheckFailureError
		assert.True(t, errors.As(err, &checkErr))
	})
}

func TestRunCommand_CacheReusesResults(t *testing.T) {
	ws := t.TempDir()
	cacheDir := filepath.Join(t.TempDir(), "cache")
	writeUnit(t, ws, "alpha", "pub fn a() {}\n")
	specPath := writeSpec(t, ws, patternSpec)

	out1 := filepath.Join(t.TempDir(), "out1")
	cmd1 := newRunCommand()
	cmd1.SetArgs([]string{specPath, "--output-dir", out1, "--cache", "--cache-dir", cacheDir})
	require.NoError(t, cmd1.Execute())

	first, err := models.LoadReport(filepath.Join(out1, "report.json"))
	require.NoError(t, err)
	require.Len(t, first.Results, 1)
	assert.False(t, first.Results[0].Cached)

	out2 := filepath.Join(t.TempDir(), "out2")
	cmd2 := newRunCommand()
	cmd2.SetArgs([]string{specPath, "--output-dir", out2, "--cache", "--cache-dir", cacheDir})
	require.NoError(t, cmd2.Execute())

	second, err := models.LoadReport(filepath.Join(out2, "report.json"))
	require.NoError(t, err)
	require.Len(t, second.Results, 1)
	assert.True(t, second.Results[0].Cached)
}

func TestRunCommand_SequentialFlag(t *testing.T) {
	ws := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	writeUnit(t, ws, "alpha", "pub fn a() {}\n")
	writeUnit(t, ws, "beta", "pub fn b() {}\n")
	specPath := writeSpec(t, ws, patternSpec)

	cmd := newRunCommand()
	cmd.SetArgs([]string{specPath, "--output-dir", out, "--sequential"})
	require.NoError(t, cmd.Execute())

	report, err := models.LoadReport(filepath.Join(out, "report.json"))
	require.NoError(t, err)
	assert.Len(t, report.Results, 2)
}

func TestRunCommand_BundleArchive(t *testing.T) {
	ws := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	archive := filepath.Join(t.TempDir(), "run.tar.gz")
	writeUnit(t, ws, "alpha", "pub fn a() {}\n")
	specPath := writeSpec(t, ws, patternSpec)

	cmd := newRunCommand()
	cmd.SetArgs([]string{specPath, "--output-dir", out, "--bundle", archive})
	require.NoError(t, cmd.Execute())

	assert.FileExists(t, archive)
}

func TestRunCommand_WorkspaceDiscovery(t *testing.T) {
	ws := t.TempDir()
	writeUnit(t, ws, "alpha", "pub fn a() {}\n")
	writeSpec(t, ws, patternSpec)

	origDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(filepath.Join(ws, "alpha")))
	t.Cleanup(func() {
		os.Chdir(origDir) //nolint:errcheck // best-effort cleanup
	})

	out := filepath.Join(t.TempDir(), "out")
	cmd := newRunCommand()
	cmd.SetArgs([]string{"--output-dir", out})
	require.NoError(t, cmd.Execute())

	assert.FileExists(t, filepath.Join(out, "report.json"))
}

func TestResolveBundlePath(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	got := resolveBundlePath(dir, "demo", now)
	assert.Equal(t, filepath.Join(dir, "demo-20260314-093000.tar.gz"), got)

	explicit := filepath.Join(dir, "custom.tar.gz")
	assert.Equal(t, explicit, resolveBundlePath(explicit, "demo", now))
}

func TestParseFormats(t *testing.T) {
	formats, err := parseFormats(nil)
	require.NoError(t, err)
	assert.Equal(t, []reporting.Format{reporting.FormatMarkdown}, formats)

	formats, err = parseFormats([]string{"junit", "markdown", "md"})
	require.NoError(t, err)
	assert.Equal(t, []reporting.Format{reporting.FormatJUnit, reporting.FormatMarkdown}, formats)

	_, err = parseFormats([]string{"pdf"})
	assert.Error(t, err)
}
