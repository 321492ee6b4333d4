package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/promptlab/refinery/internal/cost"
)

var costReset bool

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Show model cost budget and usage statistics",
	Long:  `Display the current cost budget status, token usage for the budget window, and all-time spend.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		budget := cfg.Cost

		if costReset {
			if err := svc.ResetCosts(); err != nil {
				return fmt.Errorf("failed to reset cost state: %w", err)
			}
			fmt.Fprintf(out, "%s Cost state reset\n", color.GreenString("✓"))
			return nil
		}

		if !budget.Enabled {
			fmt.Fprintln(out, "Cost budgeting is disabled")
			fmt.Fprintf(out, "Set %sENABLED=true to enable cost tracking\n", cost.EnvPrefix)
			return nil
		}

		stats := svc.CostStats()

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Fprintf(out, "\n%s\n\n", cyan("=== Model Cost Budget ==="))

		statusColor := color.New(color.FgGreen)
		statusIcon := "✓"
		switch stats.Status {
		case cost.BudgetWarning:
			statusColor = color.New(color.FgYellow)
			statusIcon = "⚠️"
		case cost.BudgetExceeded:
			statusColor = color.New(color.FgRed, color.Bold)
			statusIcon = "🚨"
		}
		fmt.Fprintf(out, "%s Budget Status: %s\n\n", statusIcon, statusColor.Sprint(stats.Status.String()))

		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Fprintf(out, "%s\n", yellow("Budget Window:"))
		if budget.MaxTokensPerHour > 0 {
			tokenPercent := float64(stats.HourlyTokensUsed) / float64(budget.MaxTokensPerHour) * 100
			fmt.Fprintf(out, "  Tokens:  %s / %s (%.1f%%)\n",
				formatTokens(stats.HourlyTokensUsed), formatTokens(budget.MaxTokensPerHour), tokenPercent)
			fmt.Fprintf(out, "           %s\n", renderProgressBar(tokenPercent, 40))
		} else {
			fmt.Fprintf(out, "  Tokens:  %s (unlimited)\n", formatTokens(stats.HourlyTokensUsed))
		}
		if budget.MaxCostPerHour > 0 {
			costPercent := stats.HourlyCostUsed / budget.MaxCostPerHour * 100
			fmt.Fprintf(out, "  Cost:    $%.4f / $%.2f (%.1f%%)\n", stats.HourlyCostUsed, budget.MaxCostPerHour, costPercent)
			fmt.Fprintf(out, "           %s\n", renderProgressBar(costPercent, 40))
		} else {
			fmt.Fprintf(out, "  Cost:    $%.4f (unlimited)\n", stats.HourlyCostUsed)
		}
		fmt.Fprintf(out, "  Window:  %s → %s\n\n",
			stats.WindowStartTime.Local().Format("15:04:05"),
			stats.WindowResetsAt.Local().Format("15:04:05"))

		fmt.Fprintf(out, "%s\n", yellow("All-Time Usage:"))
		fmt.Fprintf(out, "  Tokens:  %s\n", formatTokens(stats.TotalTokensUsed))
		fmt.Fprintf(out, "  Cost:    $%.2f\n", stats.TotalCostUsed)
		if stats.TotalTokensUsed > 0 {
			fmt.Fprintf(out, "  Avg:     $%.2f per 1M tokens\n", stats.TotalCostUsed/float64(stats.TotalTokensUsed)*1_000_000)
		}
		fmt.Fprintln(out)

		fmt.Fprintf(out, "%s\n", yellow("Configuration:"))
		fmt.Fprintf(out, "  Per-Run Limit:      %s\n", limitOrUnlimited(budget.MaxTokensPerRun))
		fmt.Fprintf(out, "  Alert Threshold:    %.0f%%\n", budget.AlertThreshold*100)
		fmt.Fprintf(out, "  Budget Reset:       %v\n", budget.BudgetResetInterval)
		fmt.Fprintf(out, "  State Persistence:  %s\n", valueOr(budget.PersistStatePath, "off"))
		fmt.Fprintf(out, "  Pricing (per 1M):   $%.2f in / $%.2f out\n\n", budget.InputTokenCost, budget.OutputTokenCost)
		return nil
	},
}

func init() {
	costCmd.Flags().BoolVar(&costReset, "reset", false, "clear the budget window and all-time totals")
	rootCmd.AddCommand(costCmd)
}

// formatTokens formats a token count compactly
func formatTokens(tokens int64) string {
	switch {
	case tokens < 1000:
		return fmt.Sprintf("%d", tokens)
	case tokens < 1_000_000:
		return fmt.Sprintf("%.1fK", float64(tokens)/1000)
	default:
		return fmt.Sprintf("%.2fM", float64(tokens)/1_000_000)
	}
}

func limitOrUnlimited(tokens int64) string {
	if tokens <= 0 {
		return "unlimited"
	}
	return formatTokens(tokens) + " tokens"
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// renderProgressBar renders a text-based progress bar
func renderProgressBar(percent float64, width int) string {
	percent = max(0, min(percent, 100))
	filled := int(percent / 100.0 * float64(width))

	var barColor *color.Color
	switch {
	case percent >= 100:
		barColor = color.New(color.FgRed, color.Bold)
	case percent >= 80:
		barColor = color.New(color.FgYellow)
	default:
		barColor = color.New(color.FgGreen)
	}

	var bar strings.Builder
	for i := 0; i < width; i++ {
		if i < filled {
			bar.WriteString(barColor.Sprint("█"))
		} else {
			bar.WriteString(color.New(color.FgHiBlack).Sprint("░"))
		}
	}
	return "[" + bar.String() + "]"
}
