package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/splitledger/internal/buildinfo"
	"github.com/cleared-dev/splitledger/internal/logger"
)

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:     "splitledger",
		Short:   "Reconcile bank transactions with marketplace orders and split them per item",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", buildinfo.Version, buildinfo.Commit, buildinfo.Date),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log := logger.NewConsole(cmd.ErrOrStderr())
			if verbose {
				log = log.Level(zerolog.DebugLevel)
			}
			cmd.SetContext(logger.WithContext(cmd.Context(), log))
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().String("dir", ".", "project directory")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newSyncCommand())
	rootCmd.AddCommand(newRecordsCommand())
	rootCmd.AddCommand(newExportCommand())
	rootCmd.AddCommand(newDisconnectCommand())

	return rootCmd
}
