package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loomhq/loom/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage Loom configuration",
		Long:  "Initialize a default configuration file or display the current effective configuration.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default loom.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")

	return cmd
}

func runConfigInit(force bool) error {
	path := "loom.yaml"

	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	if err := config.WriteDefaultConfig(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created %s\n", path)
	fmt.Println("Edit the file, then run 'loom serve'.")
	return nil
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow()
		},
	}

	return cmd
}

func runConfigShow() error {
	// Ensure config is loaded
	initConfig()

	configFile := viper.ConfigFileUsed()
	if configFile != "" {
		fmt.Printf("Config file: %s\n", configFile)
	} else {
		fmt.Println("Config file: (none found, using defaults)")
	}
	fmt.Println()

	cfg := loadConfig()
	fmt.Printf("  server.host:        %s\n", cfg.Server.Host)
	fmt.Printf("  server.port:        %d\n", cfg.Server.Port)
	fmt.Printf("  storage.backend:    %s\n", cfg.Storage.Backend)
	if cfg.Storage.DataDir != "" {
		fmt.Printf("  storage.data_dir:   %s\n", cfg.Storage.DataDir)
	} else {
		fmt.Printf("  storage.data_dir:   %s (default)\n", resolveDataDir())
	}
	fmt.Printf("  auth.token_ttl:     %s\n", cfg.Auth.TokenTTL)
	if cfg.Auth.Secret != "" {
		fmt.Printf("  auth.secret:        (set)\n")
	} else {
		fmt.Printf("  auth.secret:        (generated at startup)\n")
	}
	fmt.Printf("  logging.level:      %s\n", cfg.Logging.Level)
	fmt.Printf("  logging.format:     %s\n", cfg.Logging.Format)

	return nil
}
