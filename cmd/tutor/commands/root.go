// Package commands defines all Cobra CLI commands for the tutor binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/tutor-go/internal/audit"
	"github.com/54b3r/tutor-go/internal/config"
	"github.com/54b3r/tutor-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tutor",
		Short: "A virtual tutor that answers questions from your PDF study material",
		Long: `tutor indexes the PDF files in a documents folder and answers questions
about them, citing the documents each answer was grounded in.

Three answering modes are available:
  rag     answer from passages retrieved from the indexed documents (default)
  memory  answer with the recent conversation as context
  basic   answer from the language model alone

When the index is empty or no embedder is configured, rag questions are
answered in basic mode instead.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.tutor/config.yaml).
See 'tutor --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load .env and YAML config (env vars always override both).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// LOG_LEVEL and LOG_FORMAT may have come from the config file.
			log = logging.New()
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))

			audit.LogCommandStart(log, cmd.CommandPath(), loadedConfigPath)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.tutor/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewIngestCmd(),
		NewIndexCmd(),
		NewHistoryCmd(),
		NewStatusCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
