package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/promptlab/refinery/internal/repl"
	"github.com/promptlab/refinery/internal/types"
)

var (
	validateOriginal       string
	validateRefined        string
	validateTask           string
	validateCases          int
	validateMinImprovement float64
)

var validateCmd = &cobra.Command{
	Use:   "validate --original <file> --refined <file>",
	Short: "Decide whether a refined prompt significantly improves on the original",
	Long: `A/B test the original prompt against the refined one and report whether
the refinement is both statistically significant (p < 0.05) and a practical
improvement (mean gain above the minimum improvement).

The command exits with an error when the refinement is not an improvement,
so it can gate scripts.

Example:
  refinery validate --original prompt.txt --refined prompt.refined.txt`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if validateOriginal == "" || validateRefined == "" {
			return fmt.Errorf("both --original and --refined are required")
		}
		original, err := loadCandidate(validateOriginal, validateTask)
		if err != nil {
			return err
		}
		refined, err := loadCandidate(validateRefined, validateTask)
		if err != nil {
			return err
		}
		refined.ParentID = original.ID

		var cases []types.TestCase
		if validateCases > 0 {
			cases = svc.GenerateTestCases(original, validateCases)
		}
		if cmd.Flags().Changed("min-improvement") {
			cfg.ABTest.MinImprovement = validateMinImprovement
		}

		v, ab, err := svc.ValidateRefinement(cmd.Context(), original, refined, cases)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		repl.PrintABTest(out, ab)
		repl.PrintValidation(out, v)
		fmt.Fprintln(out)

		if !v.IsSignificantImprovement {
			return fmt.Errorf("refined prompt is not a significant improvement")
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateOriginal, "original", "", "file holding the original prompt")
	validateCmd.Flags().StringVar(&validateRefined, "refined", "", "file holding the refined prompt")
	validateCmd.Flags().StringVar(&validateTask, "task", "", "task the prompts serve; added to every test case")
	validateCmd.Flags().IntVar(&validateCases, "cases", 0, "number of test cases (0 uses the configured count)")
	validateCmd.Flags().Float64Var(&validateMinImprovement, "min-improvement", 0, "minimum mean gain (overrides abtest.min_improvement)")
	rootCmd.AddCommand(validateCmd)
}
