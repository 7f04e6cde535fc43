package models

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// CheckKind identifies how a check is executed.
type CheckKind string

const (
	// KindCommand runs an external tool and judges it by exit code.
	KindCommand CheckKind = "command"
	// KindPattern scans unit sources for forbidden regular expressions.
	KindPattern CheckKind = "pattern"
)

// Scope determines whether a check runs once or once per discovered unit.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopePerUnit Scope = "per-unit"
)

// CheckDef defines a single named check in the pipeline.
type CheckDef struct {
	Name  string    `yaml:"name" json:"name"`
	Kind  CheckKind `yaml:"kind" json:"kind"`
	Scope Scope     `yaml:"scope" json:"scope"`
	// Advisory checks are recorded and rendered but never fail the run.
	Advisory bool `yaml:"advisory,omitempty" json:"advisory,omitempty"`
	// Params carries kind-specific configuration (command, args, patterns, ...).
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// FixDef defines a fix command used by patch generation. Fix commands are
// never run against the working tree; they run in a scratch copy and their
// effect is captured as a reviewable diff.
type FixDef struct {
	Name    string   `yaml:"name" json:"name"`
	Command string   `yaml:"command" json:"command"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`
}

// Spec represents a complete pipeline configuration, normally loaded
// from checkdeck.yaml.
type Spec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	// Root is the directory scanned for units, relative to the spec file.
	Root string `yaml:"root,omitempty"`
	// Manifest is the file name that marks a directory as a unit.
	Manifest  string `yaml:"manifest,omitempty"`
	OutputDir string `yaml:"output_dir,omitempty"`
	// Workers bounds the per-unit worker pool. Zero means the default.
	Workers int `yaml:"max_workers,omitempty"`
	// TimeoutSec is the per-invocation tool timeout.
	TimeoutSec int `yaml:"timeout_seconds,omitempty"`
	// FailOnSkipped makes a skip-only run exit non-zero.
	FailOnSkipped bool       `yaml:"fail_on_skipped,omitempty"`
	Checks        []CheckDef `yaml:"checks"`
	Fixes         []FixDef   `yaml:"fixes,omitempty"`
}

// Defaults applied by Normalize when the corresponding field is unset.
const (
	DefaultManifest   = "Cargo.toml"
	DefaultOutputDir  = "checkdeck-out"
	DefaultWorkers    = 4
	DefaultTimeoutSec = 600
)

// LoadSpec loads and validates a pipeline spec from a YAML file.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, err
	}

	spec.Normalize()
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	return &spec, nil
}

// Save writes the spec as YAML to the given path.
func (s *Spec) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling spec: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Normalize fills unset fields with defaults.
func (s *Spec) Normalize() {
	if s.Root == "" {
		s.Root = "."
	}
	if s.Manifest == "" {
		s.Manifest = DefaultManifest
	}
	if s.OutputDir == "" {
		s.OutputDir = DefaultOutputDir
	}
	if s.Workers <= 0 {
		s.Workers = DefaultWorkers
	}
	if s.TimeoutSec <= 0 {
		s.TimeoutSec = DefaultTimeoutSec
	}
}

// Check and fix names become file names under the output directory, so
// they are restricted to a path-safe character set.
var nameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// Validate checks that the spec is internally consistent.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("pipeline name is required")
	}
	if len(s.Checks) == 0 {
		return fmt.Errorf("at least one check must be configured")
	}

	seen := make(map[string]bool, len(s.Checks))
	for i, c := range s.Checks {
		if c.Name == "" {
			return fmt.Errorf("check %d: name is required", i)
		}
		if !nameRe.MatchString(c.Name) {
			return fmt.Errorf("check %q: name may only contain letters, digits, '.', '_' and '-'", c.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate check name %q", c.Name)
		}
		seen[c.Name] = true

		switch c.Kind {
		case KindCommand, KindPattern:
		default:
			return fmt.Errorf("check %q: unknown kind %q", c.Name, c.Kind)
		}
		switch c.Scope {
		case ScopeGlobal, ScopePerUnit:
		default:
			return fmt.Errorf("check %q: unknown scope %q", c.Name, c.Scope)
		}
	}

	for i, f := range s.Fixes {
		if f.Name == "" {
			return fmt.Errorf("fix %d: name is required", i)
		}
		if !nameRe.MatchString(f.Name) {
			return fmt.Errorf("fix %q: name may only contain letters, digits, '.', '_' and '-'", f.Name)
		}
		if f.Command == "" {
			return fmt.Errorf("fix %q: command is required", f.Name)
		}
	}

	return nil
}

// CheckInfos converts the spec's check definitions to the summary form
// embedded in reports, so rendering and status derivation survive a JSON
// round trip without the original spec file.
func (s *Spec) CheckInfos() []CheckInfo {
	infos := make([]CheckInfo, 0, len(s.Checks))
	for _, c := range s.Checks {
		infos = append(infos, CheckInfo{
			Name:     c.Name,
			Kind:     c.Kind,
			Scope:    c.Scope,
			Advisory: c.Advisory,
		})
	}
	return infos
}
