package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"

	"github.com/promptlab/refinery/internal/ai"
	"github.com/promptlab/refinery/internal/config"
	"github.com/promptlab/refinery/internal/service"
)

var (
	configPath string
	offline    bool
	logLevel   string

	cfg *config.Config
	svc *service.Service
)

// Commands annotated with noService run without a model router or storage.
const noService = "refinery.no-service"

var rootCmd = &cobra.Command{
	Use:   "refinery",
	Short: "Refine prompts with model feedback and validate them with A/B tests",
	Long: `refinery scores a prompt on clarity, specificity, context usage, task
alignment and safety, rewrites it from targeted suggestions until it is good
enough, and checks the result against the original with a statistical
A/B test over a library of standard scenarios.

Settings come from refinery.yaml, a .env file and REFINERY_* variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if offline {
			cfg.LLM.Provider = ai.ProviderFake
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
			if err := cfg.Validate(); err != nil {
				return err
			}
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
		slog.SetDefault(logger)

		svc = nil
		if cmd.Annotations[noService] != "" {
			return nil
		}
		svc, err = service.New(cmd.Context(), service.Options{Config: cfg, Logger: logger})
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if svc == nil {
			return nil
		}
		return svc.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default refinery.yaml if present)")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "use the built-in fake model instead of a provider")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
