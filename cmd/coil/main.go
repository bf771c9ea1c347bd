// Package main provides the coil CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"coil/internal/config"
	"coil/internal/logging"
)

var (
	// Global flags
	flagProvider string
	flagModel    string
	flagVerbose  bool
	flagNoTools  bool

	// cfg is the effective configuration for this invocation: the config
	// file with flag overrides applied. Loaded in PersistentPreRunE.
	cfg config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "coil",
	Short: "coil - streaming terminal coding assistant",
	Long: `coil is a terminal assistant for working on codebases.

It streams model output as it arrives, lets the model read, search, edit,
and run things in the workspace through a tool layer, and compresses old
history when the model's context window fills up. Conversations persist
under .coil/ and can be resumed later.

Run without arguments to start the interactive chat interface.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		applyFlags(&cfg)

		workspace, _ := os.Getwd()
		if err := logging.Initialize(workspace, cfg.Logging.Debug || flagVerbose); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cfg)
	},
}

// applyFlags layers the per-invocation flags over the loaded config.
// Overriding the provider without naming a model falls back to the new
// provider's default model rather than carrying the old model id over.
func applyFlags(cfg *config.Config) {
	if flagProvider != "" {
		cfg.Provider.Default = flagProvider
		cfg.Provider.Model = ""
	}
	if flagModel != "" {
		cfg.Provider.Model = flagModel
	}
	if flagNoTools {
		cfg.Tools.Enabled = false
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProvider, "provider", "", "Provider for this run (openai, anthropic, google)")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "", "Model id for this run (defaults to the provider's default)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging under .coil/logs/")
	rootCmd.PersistentFlags().BoolVar(&flagNoTools, "no-tools", false, "Disable tool dispatch for this run")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
