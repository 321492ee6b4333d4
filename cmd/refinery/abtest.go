package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/promptlab/refinery/internal/repl"
	"github.com/promptlab/refinery/internal/types"
)

var (
	abPromptA string
	abPromptB string
	abTask    string
	abCases   int
)

var abtestCmd = &cobra.Command{
	Use:   "abtest --a <file> --b <file>",
	Short: "Compare two prompts with a statistical A/B test",
	Long: `Run both prompts over the same generated test cases, score every output,
and compare the scores with Welch's t-test.

Examples:
  refinery abtest --a old.txt --b new.txt
  refinery abtest --a old.txt --b new.txt --cases 6 --task "support replies"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if abPromptA == "" || abPromptB == "" {
			return fmt.Errorf("both --a and --b are required")
		}
		a, err := loadCandidate(abPromptA, abTask)
		if err != nil {
			return err
		}
		b, err := loadCandidate(abPromptB, abTask)
		if err != nil {
			return err
		}

		var cases []types.TestCase
		if abCases > 0 {
			cases = svc.GenerateTestCases(a, abCases)
		}

		ab, err := svc.RunABTest(cmd.Context(), a, b, cases)
		if err != nil {
			return err
		}
		repl.PrintABTest(cmd.OutOrStdout(), ab)
		return nil
	},
}

func init() {
	abtestCmd.Flags().StringVar(&abPromptA, "a", "", "file holding prompt A (the baseline)")
	abtestCmd.Flags().StringVar(&abPromptB, "b", "", "file holding prompt B (the candidate)")
	abtestCmd.Flags().StringVar(&abTask, "task", "", "task the prompts serve; added to every test case")
	abtestCmd.Flags().IntVar(&abCases, "cases", 0, "number of test cases (0 uses the configured count)")
	rootCmd.AddCommand(abtestCmd)
}
