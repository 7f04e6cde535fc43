package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/checkdeck/checkdeck/internal/wizard"
)

var (
	initDir   string
	initForce bool
)

func newInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [pipeline-name]",
		Short: "Create a checkdeck.yaml pipeline spec",
		Long: `Create a checkdeck.yaml pipeline spec through a short wizard.

The wizard asks for the pipeline name, the source root, the manifest file
that marks a unit, and which starter checks to include. On a terminal it
runs interactively; with piped input it reads plain prompts, so it can be
scripted:

  printf 'my-pipeline\n.\nCargo.toml\n\nn\n' | checkdeck init`,
		Args: cobra.MaximumNArgs(1),
		RunE: runInit,
	}

	cmd.Flags().StringVar(&initDir, "dir", ".", "Directory to write checkdeck.yaml into")
	cmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing checkdeck.yaml")

	return cmd
}

func runInit(cmd *cobra.Command, args []string) error {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}

	target := filepath.Join(initDir, "checkdeck.yaml")
	if _, err := os.Stat(target); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", target)
	}

	pipeline, err := wizard.Run(cmd.InOrStdin(), cmd.OutOrStdout(), name)
	if err != nil {
		return err
	}

	content, err := wizard.GenerateYAML(pipeline)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(initDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", initDir, err)
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", target, err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "\nPipeline spec created: %s\n", target) //nolint:errcheck
	fmt.Fprintf(w, "\nNext steps:\n")                       //nolint:errcheck
	fmt.Fprintf(w, "  checkdeck validate    Confirm the spec is well-formed\n") //nolint:errcheck
	fmt.Fprintf(w, "  checkdeck list        See which units will be checked\n") //nolint:errcheck
	fmt.Fprintf(w, "  checkdeck run         Run the pipeline\n")                //nolint:errcheck

	return nil
}
