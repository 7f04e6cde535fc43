package checks

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/checkdeck/checkdeck/internal/models"
)

// maxPatternMatches bounds the match lines recorded in a result.
const maxPatternMatches = 100

// skipDirs are directory names excluded from scans.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"target":       true,
}

// PatternCheckArgs holds the arguments for creating a pattern check.
type PatternCheckArgs struct {
	// Name is the identifier for this check, used in results and error messages.
	Name string
	// Forbid is the list of regular expressions that must not match.
	Forbid []string
	// Files restricts the scan to paths matching these globs. Patterns with
	// a slash match against the slash-separated relative path, others
	// against the base name. Empty means every text file.
	Files []string
}

// patternCheck scans a target's files for forbidden regular expressions.
// Any match is a failure; a clean scan is a success. Binary files are
// ignored.
type patternCheck struct {
	name    string
	forbid  []*regexp.Regexp
	sources []string
	files   []string
}

// NewPatternCheck creates a [patternCheck]. Patterns are compiled eagerly so
// a bad regex fails configuration, not the run.
func NewPatternCheck(args PatternCheckArgs) (*patternCheck, error) {
	if len(args.Forbid) == 0 {
		return nil, fmt.Errorf("pattern check '%s' must have at least one 'forbid' pattern", args.Name)
	}

	compiled := make([]*regexp.Regexp, 0, len(args.Forbid))
	for _, p := range args.Forbid {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pattern check '%s': invalid pattern %q: %w", args.Name, p, err)
		}
		compiled = append(compiled, re)
	}

	for _, g := range args.Files {
		if _, err := path.Match(g, ""); err != nil {
			return nil, fmt.Errorf("pattern check '%s': invalid file glob %q: %w", args.Name, g, err)
		}
	}

	return &patternCheck{
		name:    args.Name,
		forbid:  compiled,
		sources: args.Forbid,
		files:   args.Files,
	}, nil
}

func (c *patternCheck) Name() string           { return c.name }
func (c *patternCheck) Kind() models.CheckKind { return models.KindPattern }

func (c *patternCheck) Run(ctx context.Context, target *Target) (*models.CheckResult, error) {
	return measureTime(func() (*models.CheckResult, error) {
		result := &models.CheckResult{
			Check: c.name,
			Unit:  target.UnitName(),
		}

		matches, capped, err := c.scan(ctx, target.WorkDir())
		if ctx.Err() != nil {
			result.Status = models.StatusSkipped
			result.Reason = models.SkipReasonCancelled
			result.Output = strings.Join(matches, "\n")
			return result, ctx.Err()
		}
		if err != nil {
			result.Status = models.StatusFailure
			result.Reason = err.Error()
			return result, nil
		}

		if len(matches) > 0 {
			result.Status = models.StatusFailure
			result.Reason = fmt.Sprintf("%d forbidden pattern match(es)", len(matches))
			if capped {
				result.Reason = fmt.Sprintf("%d+ forbidden pattern match(es)", len(matches))
				matches = append(matches, "(further matches omitted)")
			}
			result.Output = strings.Join(matches, "\n")
			return result, nil
		}

		result.Status = models.StatusSuccess
		return result, nil
	})
}

// scan walks dir and returns one formatted line per forbidden match, capped
// at maxPatternMatches.
func (c *patternCheck) scan(ctx context.Context, dir string) ([]string, bool, error) {
	var matches []string
	capped := false

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible entries
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if d.IsDir() {
			if p != dir && (strings.HasPrefix(d.Name(), ".") || skipDirs[d.Name()]) {
				return fs.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(dir, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if !c.wantFile(rel) {
			return nil
		}

		data, readErr := os.ReadFile(p)
		if readErr != nil {
			return fmt.Errorf("reading %s: %w", rel, readErr)
		}
		if bytes.IndexByte(data, 0) >= 0 {
			return nil // binary
		}

		for lineNo, line := range strings.Split(string(data), "\n") {
			for i, re := range c.forbid {
				if !re.MatchString(line) {
					continue
				}
				if len(matches) >= maxPatternMatches {
					capped = true
					return fs.SkipAll
				}
				matches = append(matches, fmt.Sprintf("%s:%d: %s (pattern: %s)",
					rel, lineNo+1, strings.TrimSpace(line), c.sources[i]))
			}
		}
		return nil
	})
	return matches, capped, err
}

// wantFile reports whether a relative path is in scope for the scan.
func (c *patternCheck) wantFile(rel string) bool {
	if len(c.files) == 0 {
		return true
	}
	base := path.Base(rel)
	for _, g := range c.files {
		target := base
		if strings.Contains(g, "/") {
			target = rel
		}
		if ok, _ := path.Match(g, target); ok {
			return true
		}
	}
	return false
}
