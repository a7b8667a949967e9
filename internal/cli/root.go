package cli

import (
	"github.com/spf13/cobra"

	"github.com/terrapin-io/terrapin/internal/logging"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "terrapin",
	Short: "Declarative infrastructure provisioning",
	Long: `Terrapin converges declared cloud resources against recorded state.

Declarations are written in PKL and describe networks, addresses, firewall
rules and compute instances. Terrapin derives the creation order from the
references between resources, skips anything that has not changed since the
last apply, and resolves output expressions once everything has settled.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevel)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(versionCmd)
}
