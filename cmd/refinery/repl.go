package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/promptlab/refinery/internal/repl"
)

var replHistoryFile string

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Start the interactive refinement shell",
	Long: `Start an interactive shell for refining prompts.

Paste a prompt to refine it, then use 'abtest' to validate the refinement
against the original. The shell also lists test cases, past runs and cost.

Type 'help' in the shell for available commands.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		historyFile := replHistoryFile
		if historyFile != "" {
			if err := os.MkdirAll(filepath.Dir(historyFile), 0o755); err != nil {
				return fmt.Errorf("failed to create history directory: %w", err)
			}
		}

		r, err := repl.New(&repl.Config{
			API:         svc,
			Out:         cmd.OutOrStdout(),
			HistoryFile: historyFile,
		})
		if err != nil {
			return fmt.Errorf("failed to create REPL: %w", err)
		}

		if err := r.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	replCmd.Flags().StringVar(&replHistoryFile, "history-file", filepath.Join(".refinery", "repl_history"), "readline history file (empty keeps history in memory)")
	rootCmd.AddCommand(replCmd)
}
