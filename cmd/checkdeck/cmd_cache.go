package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/checkdeck/checkdeck/internal/cache"
)

var cacheDir string

func newCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the check result cache",
		Long: `Manage the check result cache.

The cache stores check outcomes to speed up repeated runs over unchanged
inputs. Cached results are keyed by the check definition, its timeout, and
the content of the target directory.`,
	}

	cmd.AddCommand(newCacheClearCommand())

	return cmd
}

func newCacheClearCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the check result cache",
		Long: `Clear all cached check results.

The next run will re-execute every check from scratch.`,
		RunE: cacheClearE,
	}

	cmd.Flags().StringVar(&cacheDir, "cache-dir", ".checkdeck-cache", "Cache directory to clear")

	return cmd
}

func cacheClearE(cmd *cobra.Command, args []string) error {
	// Resolve to absolute path
	absDir, err := filepath.Abs(cacheDir)
	if err != nil {
		return fmt.Errorf("resolving cache directory: %w", err)
	}

	c := cache.New(absDir)
	if err := c.Clear(); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Cache cleared: %s\n", absDir) //nolint:errcheck
	return nil
}
