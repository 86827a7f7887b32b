package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	appVersion string
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loom",
		Short: "Local API server with key-based authentication",
		Long: `Loom runs a local HTTP API protected by API keys and short-lived signed
tokens. Desktop apps and agents exchange a key for a token and call the API
with standard bearer authentication.

Keys are managed from this CLI, over the HTTP API (admin permission), or
through the built-in MCP server for AI agents.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./loom.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for durable key storage (default: ~/.loom)")

	cobra.OnInitialize(initConfig)

	// Add subcommands
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newBenchmarkCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStopCmd())

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("loom")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.loom")
	}

	viper.SetEnvPrefix("LOOM")
	viper.AutomaticEnv()
	viper.ReadInConfig() // Ignore error - config file is optional
}
