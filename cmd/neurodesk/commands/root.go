// Package commands defines all Cobra CLI commands for the neurodesk binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/neurodesk/neurodesk-go/internal/audit"
	"github.com/neurodesk/neurodesk-go/internal/config"
	"github.com/neurodesk/neurodesk-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "neurodesk",
		Short: "NeuroDesk backend: per-user document Q&A powered by LLMs",
		Long: `NeuroDesk is a retrieval-augmented document assistant backend.

Users upload documents, which are chunked, embedded, and stored in per-user
vector collections. Questions are answered from the user's own documents via
similarity search and an LLM, with source attribution and provider fallback.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.neurodesk/config.yaml).
See 'neurodesk --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.neurodesk/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewAskCmd(),
		NewIndexCmd(),
		NewVersionCmd(),
	)

	return root
}
