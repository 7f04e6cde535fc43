// Package patch generates fix diffs without touching the working tree.
// A fix command runs against a scratch copy of the unit directory; whatever
// it changed there is captured as a unified diff and written as a .patch
// artifact for the user to review and apply.
package patch

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/checkdeck/checkdeck/internal/invoke"
	"github.com/checkdeck/checkdeck/internal/models"
)

// contextLines is the number of unchanged lines shown around each hunk.
const contextLines = 3

// skipDirs are directory names excluded from scratch copies and diffs,
// matching the set unit discovery ignores.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"target":       true,
}

// Result describes one fix run against one unit.
type Result struct {
	Fix      string
	Unit     string
	ExitCode int
	Output   string
	// Changed lists the files the fix modified, as slash-separated paths
	// relative to the unit directory. Empty means the fix was a no-op.
	Changed []string
	// PatchPath is the absolute path of the written .patch file, empty
	// when the fix changed nothing.
	PatchPath string
}

// Generator runs fix commands in scratch copies and diffs the outcome.
type Generator struct {
	invoker invoke.Invoker
	timeout time.Duration
}

// NewGenerator creates a Generator. The timeout bounds each fix command;
// zero means no limit.
func NewGenerator(inv invoke.Invoker, timeout time.Duration) *Generator {
	return &Generator{invoker: inv, timeout: timeout}
}

// Generate copies unitDir to a scratch directory, runs the fix command
// there, and writes the resulting diff as <fix>.patch under artifactDir.
// The unit directory itself is never modified. A fix that changes nothing
// produces a Result with no patch; a fix whose tool is missing or whose
// run is cancelled returns an error.
func (g *Generator) Generate(ctx context.Context, fix models.FixDef, unitName, unitDir, artifactDir string) (*Result, error) {
	scratch, err := os.MkdirTemp("", "checkdeck-fix-")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	if err := copyTree(unitDir, scratch); err != nil {
		return nil, fmt.Errorf("copying %s: %w", unitDir, err)
	}

	before, err := snapshot(scratch)
	if err != nil {
		return nil, err
	}

	res, err := g.invoker.Run(ctx, invoke.Invocation{
		Command: fix.Command,
		Args:    fix.Args,
		Dir:     scratch,
		Env: []string{
			"CHECKDECK_UNIT=" + unitName,
			"CHECKDECK_UNIT_DIR=" + scratch,
		},
		Timeout: g.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("fix %q: %w", fix.Name, err)
	}

	after, err := snapshot(scratch)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Fix:      fix.Name,
		Unit:     unitName,
		ExitCode: res.ExitCode,
		Output:   res.Output,
	}

	patchText, changed := diffTrees(before, after)
	if patchText == "" {
		return result, nil
	}
	result.Changed = changed

	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}
	path := filepath.Join(artifactDir, fix.Name+".patch")
	if err := os.WriteFile(path, []byte(patchText), 0o644); err != nil {
		return nil, fmt.Errorf("writing patch: %w", err)
	}
	result.PatchPath = path

	return result, nil
}

// copyTree copies the regular files under src into dst, skipping hidden
// entries, build output and dependency trees. Symlinks are not followed.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") || skipDirs[name] {
				return fs.SkipDir
			}
			return os.MkdirAll(filepath.Join(dst, rel), 0o755)
		}
		if strings.HasPrefix(name, ".") || !d.Type().IsRegular() {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		mode := fs.FileMode(0o644)
		if info, infoErr := d.Info(); infoErr == nil && info.Mode()&0o111 != 0 {
			mode = 0o755
		}
		return os.WriteFile(filepath.Join(dst, rel), data, mode)
	})
}

// snapshot maps slash-separated relative paths to file contents. Hidden
// entries, skipped directories and binary files stay out of the diff.
func snapshot(root string) (map[string]string, error) {
	files := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !d.Type().IsRegular() {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if bytes.IndexByte(data, 0) >= 0 {
			return nil // binary
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", root, err)
	}
	return files, nil
}

// diffTrees renders a single unified diff covering every file that differs
// between the two snapshots, in path order. Files present on only one side
// diff against nothing.
func diffTrees(before, after map[string]string) (string, []string) {
	paths := make(map[string]bool, len(before))
	for p := range before {
		paths[p] = true
	}
	for p := range after {
		paths[p] = true
	}
	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	var b strings.Builder
	var changed []string
	for _, p := range sorted {
		oldText, inBefore := before[p]
		newText, inAfter := after[p]
		if oldText == newText && inBefore == inAfter {
			continue
		}
		writeFileDiff(&b, p, oldText, newText, inBefore, inAfter)
		changed = append(changed, p)
	}
	return b.String(), changed
}

// writeFileDiff emits the unified diff for one file.
func writeFileDiff(b *strings.Builder, relPath, oldText, newText string, inBefore, inAfter bool) {
	oldLabel := "a/" + relPath
	if !inBefore {
		oldLabel = "/dev/null"
	}
	newLabel := "b/" + relPath
	if !inAfter {
		newLabel = "/dev/null"
	}
	fmt.Fprintf(b, "--- %s\n", oldLabel)
	fmt.Fprintf(b, "+++ %s\n", newLabel)

	ops := lineOps(oldText, newText)
	for _, r := range hunkRanges(ops) {
		writeHunk(b, ops, r)
	}
}

// lineOp is one line of a diff with its position in each version.
// oldLine and newLine are 1-based; zero means the line is absent there.
type lineOp struct {
	kind    diffmatchpatch.Operation
	text    string
	oldLine int
	newLine int
}

// lineOps computes a line-level diff. Reducing each line to a rune before
// diffing keeps the comparison at line granularity and fast on large files.
func lineOps(oldText, newText string) []lineOp {
	dmp := diffmatchpatch.New()
	chars1, chars2, lineArray := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffMain(chars1, chars2, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var ops []lineOp
	oldLine, newLine := 0, 0
	for _, d := range diffs {
		for _, text := range splitLines(d.Text) {
			op := lineOp{kind: d.Type, text: text}
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				oldLine++
				newLine++
				op.oldLine, op.newLine = oldLine, newLine
			case diffmatchpatch.DiffDelete:
				oldLine++
				op.oldLine = oldLine
			case diffmatchpatch.DiffInsert:
				newLine++
				op.newLine = newLine
			}
			ops = append(ops, op)
		}
	}
	return ops
}

// splitLines splits diff text into lines, dropping the empty fragment a
// trailing newline produces.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// hunkRange is a half-open index range into an op slice.
type hunkRange struct {
	start, end int
}

// hunkRanges locates the changed regions and pads each with context lines,
// merging ranges whose context overlaps.
func hunkRanges(ops []lineOp) []hunkRange {
	var ranges []hunkRange
	for i, op := range ops {
		if op.kind == diffmatchpatch.DiffEqual {
			continue
		}
		start := i - contextLines
		if start < 0 {
			start = 0
		}
		end := i + contextLines + 1
		if end > len(ops) {
			end = len(ops)
		}
		if n := len(ranges); n > 0 && start <= ranges[n-1].end {
			if end > ranges[n-1].end {
				ranges[n-1].end = end
			}
			continue
		}
		ranges = append(ranges, hunkRange{start: start, end: end})
	}
	return ranges
}

// writeHunk emits one @@ header and its prefixed lines.
func writeHunk(b *strings.Builder, ops []lineOp, r hunkRange) {
	oldStart, oldCount := 0, 0
	newStart, newCount := 0, 0
	for _, op := range ops[r.start:r.end] {
		if op.oldLine > 0 {
			if oldStart == 0 {
				oldStart = op.oldLine
			}
			oldCount++
		}
		if op.newLine > 0 {
			if newStart == 0 {
				newStart = op.newLine
			}
			newCount++
		}
	}
	// A side with no lines in the hunk anchors at the line before it, the
	// unified-diff convention for pure insertions and deletions.
	if oldCount == 0 {
		oldStart = anchorLine(ops, r.start, true)
	}
	if newCount == 0 {
		newStart = anchorLine(ops, r.start, false)
	}

	fmt.Fprintf(b, "@@ -%d,%d +%d,%d @@\n", oldStart, oldCount, newStart, newCount)
	for _, op := range ops[r.start:r.end] {
		switch op.kind {
		case diffmatchpatch.DiffDelete:
			b.WriteString("-")
		case diffmatchpatch.DiffInsert:
			b.WriteString("+")
		default:
			b.WriteString(" ")
		}
		b.WriteString(op.text)
		b.WriteString("\n")
	}
}

// anchorLine returns the last old (or new) line number before index idx,
// or zero when nothing precedes it.
func anchorLine(ops []lineOp, idx int, old bool) int {
	for i := idx - 1; i >= 0; i-- {
		if old && ops[i].oldLine > 0 {
			return ops[i].oldLine
		}
		if !old && ops[i].newLine > 0 {
			return ops[i].newLine
		}
	}
	return 0
}
