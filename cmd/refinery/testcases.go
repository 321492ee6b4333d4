package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/promptlab/refinery/internal/repl"
	"github.com/promptlab/refinery/internal/testcases"
	"github.com/promptlab/refinery/internal/types"
)

var (
	casesCount int
	casesTask  string
	casesJSON  bool
)

var testcasesCmd = &cobra.Command{
	Use:   "testcases",
	Short: "List the standard A/B test scenarios",
	Long: `Print the test cases an A/B test would run. Cases cover the standard
categories (simple, complex, edge case, ambiguous, multi-step, ...) and are
prefixed with the task when one is given.`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{noService: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := types.NewPromptCandidate("")
		prompt.Task = casesTask
		cases := testcases.Generate(prompt, casesCount)

		if casesJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cases)
		}
		repl.PrintTestCases(cmd.OutOrStdout(), cases)
		return nil
	},
}

func init() {
	testcasesCmd.Flags().IntVarP(&casesCount, "count", "n", testcases.LibrarySize, "number of cases")
	testcasesCmd.Flags().StringVar(&casesTask, "task", "", "task the prompt serves")
	testcasesCmd.Flags().BoolVar(&casesJSON, "json", false, "print JSON")
	rootCmd.AddCommand(testcasesCmd)
}
