package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/promptlab/refinery/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with the current settings",
	Long: `Write the effective configuration (defaults, .env, REFINERY_* variables and
flags) to a YAML file, refinery.yaml by default. API keys and secrets are
never written; keep them in the environment or a .env file.

Example:
  refinery init
  refinery --offline init offline.yaml`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{noService: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultPath
		if len(args) > 0 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := cfg.Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", color.GreenString("✓"), path)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
	rootCmd.AddCommand(initCmd)
}
