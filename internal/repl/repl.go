// Package repl is the interactive refinement shell: paste a prompt, refine
// it, A/B test the result, and browse history without leaving the terminal.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/promptlab/refinery/internal/cost"
	"github.com/promptlab/refinery/internal/service"
	"github.com/promptlab/refinery/internal/types"
)

// API is the part of service.Service the shell drives.
type API interface {
	Refine(ctx context.Context, req service.RefineRequest) (*types.RefinementResult, error)
	ValidateRefinement(ctx context.Context, original, refined types.PromptCandidate, testCases []types.TestCase) (*types.ValidationResult, *types.ABTestResult, error)
	GenerateTestCases(prompt types.PromptCandidate, count int) []types.TestCase
	History(ctx context.Context, promptID string, limit int) ([]*types.RefinementResult, error)
	CostStats() cost.BudgetStats
}

var _ API = (*service.Service)(nil)

// errExit ends the loop
var errExit = errors.New("exit")

// CommandHandler handles a specific command. args is the raw text after
// the command word.
type CommandHandler func(args string) error

// Config holds REPL configuration
type Config struct {
	API         API
	Out         io.Writer // Default: os.Stdout
	HistoryFile string    // Readline history; empty keeps it in memory
}

// REPL represents the interactive shell
type REPL struct {
	api         API
	out         io.Writer
	historyFile string
	ctx         context.Context
	commands    map[string]CommandHandler

	task       string
	iterations int
	last       *types.RefinementResult
}

// New creates a new REPL instance
func New(cfg *Config) (*REPL, error) {
	if cfg == nil || cfg.API == nil {
		return nil, fmt.Errorf("API is required")
	}
	r := &REPL{
		api:         cfg.API,
		out:         cfg.Out,
		historyFile: cfg.HistoryFile,
		ctx:         context.Background(),
		commands:    make(map[string]CommandHandler),
	}
	if r.out == nil {
		r.out = os.Stdout
	}
	r.registerCommands()
	return r, nil
}

// Run starts the REPL loop
func (r *REPL) Run(ctx context.Context) error {
	r.ctx = ctx

	cyan := color.New(color.FgCyan).SprintFunc()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            cyan("refinery> "),
		HistoryFile:       r.historyFile,
		AutoComplete:      r.completer(),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	r.printWelcome()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out, "\nGoodbye!")
				return nil
			}
			return err
		}

		if err := r.processInput(line); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			fmt.Fprintf(r.out, "%s %v\n", color.RedString("Error:"), err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// processInput processes a single line of input. Lines that are not a
// command are refined as a prompt.
func (r *REPL) processInput(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	command, args, _ := strings.Cut(line, " ")
	if handler, ok := r.commands[strings.ToLower(command)]; ok {
		return handler(strings.TrimSpace(args))
	}
	return r.cmdRefine(line)
}

func (r *REPL) registerCommands() {
	r.commands["help"] = r.cmdHelp
	r.commands["?"] = r.cmdHelp
	r.commands["exit"] = r.cmdExit
	r.commands["quit"] = r.cmdExit
	r.commands["refine"] = r.cmdRefine
	r.commands["task"] = r.cmdTask
	r.commands["iterations"] = r.cmdIterations
	r.commands["abtest"] = r.cmdABTest
	r.commands["show"] = r.cmdShow
	r.commands["history"] = r.cmdHistory
	r.commands["cases"] = r.cmdCases
	r.commands["cost"] = r.cmdCost
}

func (r *REPL) completer() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(r.commands))
	for name := range r.commands {
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}

func (r *REPL) printWelcome() {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Fprintf(r.out, "\n%s\n", cyan("refinery - prompt refinement shell"))
	fmt.Fprintln(r.out, "Paste a prompt to refine it. Type 'help' for commands, 'exit' to quit.")
	fmt.Fprintln(r.out)
}

func (r *REPL) cmdHelp(string) error {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(r.out, "\n%s\n\n", cyan("Available Commands:"))

	commands := []struct{ name, desc string }{
		{"refine <prompt>", "Refine a prompt (bare text does the same)"},
		{"task <description>", "Set the task used for the next refinements ('task' alone clears it)"},
		{"iterations <n>", "Override the iteration limit (0 restores the default)"},
		{"show", "Show the last refinement again"},
		{"abtest", "A/B test the last original prompt against its refinement"},
		{"cases [n]", "List the test cases an A/B test would use"},
		{"history [n]", "List recent refinement runs"},
		{"cost", "Show token and cost usage"},
		{"help, ?", "Show this help message"},
		{"exit, quit", "Exit the REPL"},
	}
	for _, c := range commands {
		fmt.Fprintf(r.out, "  %-20s %s\n", green(c.name), c.desc)
	}
	fmt.Fprintln(r.out)
	return nil
}

func (r *REPL) cmdExit(string) error {
	fmt.Fprintf(r.out, "\n%s Goodbye!\n", color.GreenString("✓"))
	return errExit
}

func (r *REPL) cmdRefine(args string) error {
	if args == "" {
		return fmt.Errorf("usage: refine <prompt>")
	}
	fmt.Fprintln(r.out, color.HiBlackString("Refining..."))
	result, err := r.api.Refine(r.ctx, service.RefineRequest{
		Content:         args,
		TaskDescription: r.task,
		MaxIterations:   r.iterations,
	})
	if err != nil {
		return err
	}
	r.last = result
	PrintRefinement(r.out, result)
	return nil
}

func (r *REPL) cmdTask(args string) error {
	r.task = args
	if args == "" {
		fmt.Fprintln(r.out, "Task cleared")
	} else {
		fmt.Fprintf(r.out, "Task set: %s\n", args)
	}
	return nil
}

func (r *REPL) cmdIterations(args string) error {
	n, err := strconv.Atoi(args)
	if err != nil || n < 0 {
		return fmt.Errorf("usage: iterations <n> (n >= 0)")
	}
	r.iterations = n
	if n == 0 {
		fmt.Fprintln(r.out, "Iteration limit restored to the configured default")
	} else {
		fmt.Fprintf(r.out, "Iteration limit set to %d\n", n)
	}
	return nil
}

func (r *REPL) cmdShow(string) error {
	if r.last == nil {
		return fmt.Errorf("nothing refined yet")
	}
	PrintRefinement(r.out, r.last)
	return nil
}

func (r *REPL) cmdABTest(string) error {
	if r.last == nil {
		return fmt.Errorf("nothing refined yet")
	}
	if r.last.RefinedPrompt.SameContent(r.last.OriginalPrompt) {
		return fmt.Errorf("the last refinement did not change the prompt")
	}
	fmt.Fprintln(r.out, color.HiBlackString("Running A/B test..."))
	v, ab, err := r.api.ValidateRefinement(r.ctx, r.last.OriginalPrompt, r.last.RefinedPrompt, nil)
	if err != nil {
		return err
	}
	PrintABTest(r.out, ab)
	PrintValidation(r.out, v)
	fmt.Fprintln(r.out)
	return nil
}

func (r *REPL) cmdCases(args string) error {
	n, err := optionalCount(args, 10)
	if err != nil {
		return err
	}
	prompt := types.NewPromptCandidate("")
	if r.last != nil {
		prompt = r.last.OriginalPrompt
	}
	prompt.Task = r.task
	PrintTestCases(r.out, r.api.GenerateTestCases(prompt, n))
	return nil
}

func (r *REPL) cmdHistory(args string) error {
	n, err := optionalCount(args, 10)
	if err != nil {
		return err
	}
	runs, err := r.api.History(r.ctx, "", n)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	PrintHistory(r.out, runs)
	return nil
}

func (r *REPL) cmdCost(string) error {
	stats := r.api.CostStats()
	fmt.Fprintf(r.out, "Budget %s: %d tokens ($%.4f) this window, %d tokens ($%.4f) total\n",
		stats.Status, stats.HourlyTokensUsed, stats.HourlyCostUsed, stats.TotalTokensUsed, stats.TotalCostUsed)
	return nil
}

func optionalCount(args string, def int) (int, error) {
	if args == "" {
		return def, nil
	}
	n, err := strconv.Atoi(args)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("expected a positive number, got %q", args)
	}
	return n, nil
}
