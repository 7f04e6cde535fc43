// Package wizard collects the answers needed to write a starter
// checkdeck.yaml and renders the file.
package wizard

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"text/template"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// PipelineSpec holds all fields collected during the interactive wizard.
type PipelineSpec struct {
	Name     string
	Root     string
	Manifest string
	Checks   []string
	Fixes    bool
}

// StarterCheck is one of the canned checks the init wizard offers.
type StarterCheck struct {
	Name    string
	Label   string
	Default bool
	snippet string
}

var starterChecks = []StarterCheck{
	{
		Name:    "compile",
		Label:   "compile (cargo build --all-targets)",
		Default: true,
		snippet: `  - name: compile
    kind: command
    scope: per-unit
    params:
      command: cargo
      args: ["build", "--all-targets"]`,
	},
	{
		Name:    "fmt",
		Label:   "fmt (cargo fmt --check)",
		Default: true,
		snippet: `  - name: fmt
    kind: command
    scope: per-unit
    params:
      command: cargo
      args: ["fmt", "--check"]`,
	},
	{
		Name:  "clippy",
		Label: "clippy (lint, advisory)",
		snippet: `  - name: clippy
    kind: command
    scope: per-unit
    advisory: true
    params:
      command: cargo
      args: ["clippy", "--", "-D", "warnings"]`,
	},
	{
		Name:    "test",
		Label:   "test (cargo test)",
		Default: true,
		snippet: `  - name: test
    kind: command
    scope: per-unit
    params:
      command: cargo
      args: ["test"]`,
	},
	{
		Name:  "no-todo",
		Label: "no-todo (forbid TODO and FIXME markers)",
		snippet: `  - name: no-todo
    kind: pattern
    scope: per-unit
    params:
      forbid: ["TODO", "FIXME"]
      files: ["*.rs"]`,
	},
	{
		Name:  "audit",
		Label: "audit (cargo audit once per run, advisory)",
		snippet: `  - name: audit
    kind: command
    scope: global
    advisory: true
    params:
      command: cargo
      args: ["audit"]`,
	},
}

// StarterNames returns every offered check name, in menu order.
func StarterNames() []string {
	names := make([]string, 0, len(starterChecks))
	for _, sc := range starterChecks {
		names = append(names, sc.Name)
	}
	return names
}

// Defaults returns the checks selected when the user just hits enter.
func Defaults() []string {
	var names []string
	for _, sc := range starterChecks {
		if sc.Default {
			names = append(names, sc.Name)
		}
	}
	return names
}

func findStarter(name string) (StarterCheck, bool) {
	for _, sc := range starterChecks {
		if sc.Name == name {
			return sc, true
		}
	}
	return StarterCheck{}, false
}

const configTemplate = `# Pipeline configuration for checkdeck.
# Units are directories containing the manifest file below.
name: {{ .Name }}
root: {{ .Root }}
manifest: {{ .Manifest }}

checks:
{{- range .Checks }}
{{ snippet . }}
{{- end }}
{{- if .Fixes }}

fixes:
  - name: fmt
    command: cargo
    args: ["fmt", "--all"]
{{- end }}
`

// Run collects pipeline settings interactively. Terminal sessions get the
// full form; piped input falls back to plain line prompts so init stays
// scriptable. If initialName is non-empty it pre-populates the name.
func Run(in io.Reader, out io.Writer, initialName string) (*PipelineSpec, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return runForm(f, out, initialName)
	}
	return runPlain(in, out, initialName)
}

func runForm(in *os.File, out io.Writer, initialName string) (*PipelineSpec, error) {
	spec := &PipelineSpec{
		Name:     initialName,
		Root:     ".",
		Manifest: "Cargo.toml",
		Checks:   Defaults(),
	}

	options := make([]huh.Option[string], 0, len(starterChecks))
	for _, sc := range starterChecks {
		options = append(options, huh.NewOption(sc.Label, sc.Name).Selected(sc.Default))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Pipeline name").
				Description("Shown in report headers").
				Placeholder("rust-contracts").
				Value(&spec.Name).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("pipeline name is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Source root").
				Description("Directory scanned for units").
				Value(&spec.Root),
			huh.NewInput().
				Title("Manifest file").
				Description("Marks a directory as a unit").
				Value(&spec.Manifest),
			huh.NewMultiSelect[string]().
				Title("Starter checks").
				Options(options...).
				Value(&spec.Checks),
			huh.NewConfirm().
				Title("Include a cargo fmt fix stub?").
				Value(&spec.Fixes),
		),
	).
		WithInput(in).
		WithOutput(out)

	if err := form.Run(); err != nil {
		return nil, fmt.Errorf("wizard failed: %w", err)
	}

	spec.Name = strings.TrimSpace(spec.Name)
	spec.Root = strings.TrimSpace(spec.Root)
	spec.Manifest = strings.TrimSpace(spec.Manifest)
	return spec, nil
}

func runPlain(in io.Reader, out io.Writer, initialName string) (*PipelineSpec, error) {
	r := bufio.NewReader(in)

	name := strings.TrimSpace(initialName)
	if name == "" {
		fmt.Fprint(out, "Pipeline name: ")
		line, err := readLine(r)
		if err != nil {
			return nil, err
		}
		name = line
	}
	if name == "" {
		return nil, fmt.Errorf("pipeline name is required")
	}

	fmt.Fprint(out, "Source root [.]: ")
	root, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if root == "" {
		root = "."
	}

	fmt.Fprint(out, "Manifest file [Cargo.toml]: ")
	manifest, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if manifest == "" {
		manifest = "Cargo.toml"
	}

	fmt.Fprintf(out, "Starter checks [%s] (available: %s): ",
		strings.Join(Defaults(), ","), strings.Join(StarterNames(), ", "))
	checksRaw, err := readLine(r)
	if err != nil {
		return nil, err
	}
	checks := splitAndTrim(checksRaw)
	if len(checks) == 0 {
		checks = Defaults()
	}
	for _, c := range checks {
		if _, ok := findStarter(c); !ok {
			return nil, fmt.Errorf("%q is not a starter check (available: %s)", c, strings.Join(StarterNames(), ", "))
		}
	}

	fmt.Fprint(out, "Include a cargo fmt fix stub? [y/N]: ")
	answer, err := readLine(r)
	if err != nil {
		return nil, err
	}
	fixes, err := parseYesNo(answer)
	if err != nil {
		return nil, err
	}

	return &PipelineSpec{
		Name:     name,
		Root:     root,
		Manifest: manifest,
		Checks:   checks,
		Fixes:    fixes,
	}, nil
}

// GenerateYAML renders the starter checkdeck.yaml for the collected
// answers. The output passes schema validation as written.
func GenerateYAML(spec *PipelineSpec) (string, error) {
	for _, name := range spec.Checks {
		if _, ok := findStarter(name); !ok {
			return "", fmt.Errorf("%q is not a starter check", name)
		}
	}

	tmpl, err := template.New("checkdeck").Funcs(template.FuncMap{
		"snippet": func(name string) (string, error) {
			sc, ok := findStarter(name)
			if !ok {
				return "", fmt.Errorf("%q is not a starter check", name)
			}
			return sc.snippet, nil
		},
	}).Parse(configTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, spec); err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	return buf.String(), nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		if err == io.EOF {
			return "", fmt.Errorf("unexpected end of input")
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func parseYesNo(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "y", "yes":
		return true, nil
	case "", "n", "no":
		return false, nil
	default:
		return false, fmt.Errorf("answer %q is not yes or no", s)
	}
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
