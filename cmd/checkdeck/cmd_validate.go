package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/checkdeck/checkdeck/internal/models"
	"github.com/checkdeck/checkdeck/internal/validation"
	"github.com/checkdeck/checkdeck/internal/workspace"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [checkdeck.yaml]",
		Short: "Validate a pipeline spec",
		Long: `Validate a pipeline spec against the schema and semantic rules.

The spec is checked twice: first against the JSON schema, which catches
structural problems like unknown fields and missing required keys, then
against the semantic rules (duplicate names, kind-specific parameters).

With no argument, the working directory and its parents are searched for
checkdeck.yaml.`,
		Args:          cobra.MaximumNArgs(1),
		RunE:          runValidate,
		SilenceErrors: true,
	}
	cmd.Flags().String("format", "text", "Output format: text | json")
	return cmd
}

// validateJSONReport is the machine-readable result of a validate run.
type validateJSONReport struct {
	Spec       string   `json:"spec"`
	Valid      bool     `json:"valid"`
	Violations []string `json:"violations,omitempty"`
	Pipeline   string   `json:"pipeline,omitempty"`
	Checks     int      `json:"checks,omitempty"`
	Advisory   int      `json:"advisory,omitempty"`
	Fixes      int      `json:"fixes,omitempty"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid format %q: expected text or json", format)
	}

	arg := ""
	if len(args) > 0 {
		arg = args[0]
	}
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}
	specPath, err := workspace.Resolve(arg, wd)
	if err != nil {
		return err
	}

	result := validateJSONReport{Spec: specPath}

	violations, err := validation.ValidateSpecFile(specPath)
	if err != nil {
		return fmt.Errorf("validating %s: %w", specPath, err)
	}
	result.Violations = violations

	var spec *models.Spec
	if len(violations) == 0 {
		spec, err = models.LoadSpec(specPath)
		if err != nil {
			result.Violations = append(result.Violations, err.Error())
		}
	}

	result.Valid = len(result.Violations) == 0
	if spec != nil {
		result.Pipeline = spec.Name
		result.Checks = len(spec.Checks)
		for _, c := range spec.Checks {
			if c.Advisory {
				result.Advisory++
			}
		}
		result.Fixes = len(spec.Fixes)
	}

	if format == "json" {
		if err := writeValidateJSON(cmd, result); err != nil {
			return err
		}
	} else {
		writeValidateText(cmd, result)
	}

	if !result.Valid {
		return fmt.Errorf("%s has %d violation(s)", specPath, len(result.Violations))
	}
	return nil
}

//nolint:errcheck // display function
func writeValidateText(cmd *cobra.Command, result validateJSONReport) {
	w := cmd.OutOrStdout()
	if !result.Valid {
		fmt.Fprintf(w, "%s is not valid:\n", result.Spec)
		for _, v := range result.Violations {
			fmt.Fprintf(w, "  - %s\n", v)
		}
		return
	}

	fmt.Fprintf(w, "%s is valid\n", result.Spec)
	fmt.Fprintf(w, "Pipeline: %s\n", result.Pipeline)
	fmt.Fprintf(w, "Checks: %d (%d advisory)\n", result.Checks, result.Advisory)
	if result.Fixes > 0 {
		fmt.Fprintf(w, "Fixes: %d\n", result.Fixes)
	}
}

func writeValidateJSON(cmd *cobra.Command, result validateJSONReport) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	_, err := fmt.Fprint(cmd.OutOrStdout(), buf.String())
	return err
}
