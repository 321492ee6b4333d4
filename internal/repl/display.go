package repl

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/promptlab/refinery/internal/types"
)

// PrintRefinement writes a summary of a refinement run, including the
// refined prompt and any validation verdict.
func PrintRefinement(w io.Writer, r *types.RefinementResult) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(w, "\n%s %s\n", cyan("Refinement"), gray(r.ID))
	fmt.Fprintf(w, "  Status:      %s\n", statusColor(r.Status))
	fmt.Fprintf(w, "  Quality:     %.2f → %.2f (%s)\n", r.InitialQuality, r.FinalQuality, signed(r.QualityImprovement))
	fmt.Fprintf(w, "  Iterations:  %d\n", r.Iterations)
	fmt.Fprintf(w, "  Duration:    %s\n", r.ProcessingTime.Round(time.Millisecond))
	if r.ErrorMessage != "" {
		fmt.Fprintf(w, "  Error:       %s\n", color.RedString(r.ErrorMessage))
	}

	if len(r.History) > 0 {
		scores := make([]string, len(r.History))
		for i, s := range r.History {
			scores[i] = fmt.Sprintf("%.2f", s.Overall)
			if s.Fallback {
				scores[i] += "*"
			}
		}
		fmt.Fprintf(w, "  Scores:      %s\n", strings.Join(scores, " → "))
	}

	switch {
	case r.Validation != nil:
		PrintValidation(w, r.Validation)
	case r.ValidationError != "":
		fmt.Fprintf(w, "  Validation:  %s\n", color.RedString(r.ValidationError))
	case r.ABTestTriggered:
		fmt.Fprintf(w, "  Validation:  %s\n", gray("skipped"))
	}

	if r.Status == types.RefinementCompleted && !r.RefinedPrompt.SameContent(r.OriginalPrompt) {
		fmt.Fprintf(w, "\n%s\n%s\n", yellow("Refined prompt:"), indent(r.RefinedPrompt.Content))
	}
	fmt.Fprintln(w)
}

// PrintValidation writes a one-line validation verdict.
func PrintValidation(w io.Writer, v *types.ValidationResult) {
	verdict := color.YellowString("not significant")
	if v.IsSignificantImprovement {
		verdict = color.GreenString("significant improvement")
	}
	fmt.Fprintf(w, "  Validation:  %s (%s, p=%.4f, d=%.2f, n=%d)\n",
		verdict, signedPercent(v.ImprovementPercentage), v.PValue, v.EffectSize, v.SampleSize)
}

// PrintABTest writes the statistics, winner and recommendations of an A/B test.
func PrintABTest(w io.Writer, ab *types.ABTestResult) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	a := ab.Analysis

	fmt.Fprintf(w, "\n%s %s\n", cyan("A/B test"), gray(ab.TestID))
	fmt.Fprintf(w, "  Cases:       %d\n", len(ab.TestCases))
	if a.Error != "" {
		fmt.Fprintf(w, "  Analysis:    %s\n", color.RedString(a.Error))
	} else {
		fmt.Fprintf(w, "  Mean A:      %.3f ± %.3f\n", a.MeanA, a.StdA)
		fmt.Fprintf(w, "  Mean B:      %.3f ± %.3f\n", a.MeanB, a.StdB)
		fmt.Fprintf(w, "  Difference:  %s  95%% CI [%.3f, %.3f]\n", signed(a.MeanDiff), a.CILow, a.CIHigh)
		fmt.Fprintf(w, "  t=%.3f  df=%.1f  p=%.4f  d=%.2f\n", a.TStatistic, a.DegreesOfFreedom, a.PValue, a.EffectSize)
	}
	fmt.Fprintf(w, "  Winner:      %s\n", winnerColor(ab.Winner))
	if ab.TranscriptURI != "" {
		fmt.Fprintf(w, "  Transcript:  %s\n", ab.TranscriptURI)
	}
	if len(ab.Recommendations) > 0 {
		fmt.Fprintf(w, "\n%s\n", yellow("Recommendations:"))
		for _, rec := range ab.Recommendations {
			fmt.Fprintf(w, "  • %s\n", rec)
		}
	}
	fmt.Fprintln(w)
}

// PrintHistory writes one line per refinement run.
func PrintHistory(w io.Writer, runs []*types.RefinementResult) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No refinement runs recorded")
		return
	}
	gray := color.New(color.FgHiBlack).SprintFunc()
	for _, r := range runs {
		fmt.Fprintf(w, "%s  %-10s  %.2f → %.2f  %d iter  %s\n",
			gray(r.CreatedAt.Format("2006-01-02 15:04")),
			statusColor(r.Status),
			r.InitialQuality, r.FinalQuality, r.Iterations,
			truncate(firstLine(r.OriginalPrompt.Content), 48))
	}
}

// PrintTestCases writes generated test cases.
func PrintTestCases(w io.Writer, cases []types.TestCase) {
	green := color.New(color.FgGreen).SprintFunc()
	for _, tc := range cases {
		fmt.Fprintf(w, "%s %s\n  %s\n", green("["+tc.Category+"]"), tc.ID, tc.InputText)
		if tc.ExpectedCriteria != "" {
			fmt.Fprintf(w, "  expects: %s\n", tc.ExpectedCriteria)
		}
	}
}

func statusColor(s types.RefinementStatus) string {
	switch s {
	case types.RefinementCompleted:
		return color.GreenString(string(s))
	case types.RefinementFailed:
		return color.RedString(string(s))
	default:
		return color.YellowString(string(s))
	}
}

func winnerColor(w types.Winner) string {
	switch w {
	case types.WinnerA, types.WinnerB:
		return color.GreenString(string(w))
	case types.WinnerTie:
		return color.YellowString("tie")
	default:
		return color.RedString("none")
	}
}

func signed(v float64) string {
	return fmt.Sprintf("%+.3f", v)
}

func signedPercent(v float64) string {
	return fmt.Sprintf("%+.1f%%", v*100)
}

func indent(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
