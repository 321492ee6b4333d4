package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/promptlab/refinery/internal/repl"
	"github.com/promptlab/refinery/internal/service"
	"github.com/promptlab/refinery/internal/types"
)

var (
	refineFile       string
	refineTask       string
	refinePromptID   string
	refineIterations int
	refineOutput     string
)

var refineCmd = &cobra.Command{
	Use:   "refine [prompt]",
	Short: "Iteratively refine a prompt",
	Long: `Score a prompt, ask the model for targeted suggestions, rewrite it, and
repeat until the quality threshold or the iteration limit is reached.

When the refinement improves quality by more than the improvement threshold
it is validated with an A/B test (disable with refinement.validate: false).

The prompt is read from the arguments, from --file, or from stdin.

Examples:
  refinery refine "Summarize this article"
  refinery refine --file prompt.txt --task "support replies" --iterations 5
  cat prompt.txt | refinery refine -o refined.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := readPrompt(refineFile, args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		if refineIterations < 0 {
			return fmt.Errorf("--iterations must be >= 0")
		}

		result, err := svc.Refine(cmd.Context(), service.RefineRequest{
			PromptID:        refinePromptID,
			Content:         content,
			TaskDescription: refineTask,
			MaxIterations:   refineIterations,
		})
		if err != nil {
			return err
		}
		repl.PrintRefinement(cmd.OutOrStdout(), result)

		if refineOutput != "" && result.Status == types.RefinementCompleted {
			if err := os.WriteFile(refineOutput, []byte(result.RefinedPrompt.Content+"\n"), 0o644); err != nil {
				return fmt.Errorf("failed to write refined prompt: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Refined prompt written to %s\n", refineOutput)
		}
		if result.Status == types.RefinementFailed {
			return fmt.Errorf("refinement failed: %s", result.ErrorMessage)
		}
		return nil
	},
}

func init() {
	refineCmd.Flags().StringVarP(&refineFile, "file", "f", "", "read the prompt from a file")
	refineCmd.Flags().StringVar(&refineTask, "task", "", "what the prompt is meant to accomplish")
	refineCmd.Flags().StringVar(&refinePromptID, "prompt-id", "", "stable ID to group runs of the same prompt")
	refineCmd.Flags().IntVarP(&refineIterations, "iterations", "n", 0, "iteration limit (0 uses the configured default)")
	refineCmd.Flags().StringVarP(&refineOutput, "output", "o", "", "write the refined prompt to a file")
	rootCmd.AddCommand(refineCmd)
}
