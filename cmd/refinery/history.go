package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/promptlab/refinery/internal/repl"
)

var (
	historyPromptID string
	historyLimit    int
	historyShow     string
	historyScores   bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past refinement runs",
	Long: `List stored refinement runs, newest first.

Examples:
  refinery history
  refinery history --prompt-id onboarding --limit 5
  refinery history --prompt-id onboarding --scores
  refinery history --show <run-id>`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if historyShow != "" {
			run, err := svc.Refinement(ctx, historyShow)
			if err != nil {
				return err
			}
			if run == nil {
				return fmt.Errorf("refinement %s not found", historyShow)
			}
			repl.PrintRefinement(out, run)
			if run.Validation != nil {
				ab, _, err := svc.ABTest(ctx, run.Validation.TestID)
				if err != nil {
					return err
				}
				if ab != nil {
					repl.PrintABTest(out, ab)
				}
			}
			return nil
		}

		if historyScores {
			if historyPromptID == "" {
				return fmt.Errorf("--scores requires --prompt-id")
			}
			scores, err := svc.QualityHistory(ctx, historyPromptID, historyLimit)
			if err != nil {
				return err
			}
			if len(scores) == 0 {
				fmt.Fprintf(out, "No scores recorded for %s\n", historyPromptID)
			}
			for _, s := range scores {
				marker := ""
				if s.Fallback {
					marker = " (fallback)"
				}
				fmt.Fprintf(out, "%s  overall %.2f  clarity %.2f  specificity %.2f  context %.2f  alignment %.2f  safety %.2f%s\n",
					s.CreatedAt.Local().Format("2006-01-02 15:04"), s.Overall,
					s.Clarity, s.Specificity, s.ContextUsage, s.TaskAlignment, s.Safety, marker)
			}
			return nil
		}

		runs, err := svc.History(ctx, historyPromptID, historyLimit)
		if err != nil {
			return err
		}
		repl.PrintHistory(out, runs)
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyPromptID, "prompt-id", "", "only runs of this prompt")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum entries (0 for all)")
	historyCmd.Flags().StringVar(&historyShow, "show", "", "show one run in full")
	historyCmd.Flags().BoolVar(&historyScores, "scores", false, "list recorded quality scores instead of runs")
	rootCmd.AddCommand(historyCmd)
}
