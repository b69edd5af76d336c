package cli

import (
	"github.com/spf13/cobra"

	"github.com/philonis/neo/internal/config"
)

// Shared CLI flags (used across multiple command files)
var (
	cfgFile    string
	sessionKey string
	modelArg   string
	verbose    bool
	autoYes    bool
)

// appConfig holds the loaded configuration (set by main)
var appConfig *config.Config

// SetupRootCmd configures the root command with all subcommands and flags
func SetupRootCmd(c *config.Config) *cobra.Command {
	appConfig = c

	rootCmd := &cobra.Command{
		Use:   "neo [prompt]",
		Short: "Neo - personal AI assistant",
		Long: `Neo is a personal AI assistant: it chats, runs skills, automates the
browser and the desktop, remembers what matters, and writes new Python
skills for itself when it meets something it cannot do yet.

Just type 'neo' to start an interactive session, or pass a prompt for a
one-shot answer.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				c, err := config.LoadFrom(cfgFile)
				if err != nil {
					return err
				}
				appConfig = c
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			runChat(args)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.neo/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&sessionKey, "session", "s", "default", "session key for conversation history")
	rootCmd.PersistentFlags().StringVarP(&modelArg, "model", "m", "", "model to use (fuzzy matched, e.g. \"claude\" or \"gpt\")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (thinking, tool calls, observations)")

	// Root-only flags
	rootCmd.Flags().BoolVarP(&autoYes, "yes", "y", false, "approve confirm-level operations without asking")

	rootCmd.AddCommand(ServeCmd())
	rootCmd.AddCommand(SkillsCmd())
	rootCmd.AddCommand(GuardCmd())
	rootCmd.AddCommand(VersionCmd())
	return rootCmd
}
