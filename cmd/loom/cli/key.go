package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/loomhq/loom/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long: `Create, list, update, and revoke the API keys used to authenticate against
the Loom API. With the default in-memory backend these commands act on this
process only; configure the sqlite backend to share keys with a running server.`,
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeyEnableCmd())
	cmd.AddCommand(newKeyDisableCmd())
	cmd.AddCommand(newKeyUpdateCmd())
	cmd.AddCommand(newKeyTokenCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		name          string
		expiresInDays int
		permissions   []string
		usageLimit    int64
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key. The raw key is shown once and cannot be retrieved again.",
		Example: `  loom key create --name "desktop app"
  loom key create --name ci --permissions chat:read --expires-in-days 30
  loom key create --name ops --permissions admin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(name, expiresInDays, permissions, usageLimit)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Human-readable label for the key (required)")
	cmd.Flags().IntVar(&expiresInDays, "expires-in-days", 0, "Days until the key expires (0 = never)")
	cmd.Flags().StringSliceVar(&permissions, "permissions", nil, "Permissions to grant (default: chat:write, agent:execute)")
	cmd.Flags().Int64Var(&usageLimit, "usage-limit", 0, "Maximum authenticated requests (0 = unlimited)")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runKeyCreate(name string, expiresInDays int, permissions []string, usageLimit int64) error {
	cfg := loadConfig()
	store, err := openKeyStore(cfg)
	if err != nil {
		return fmt.Errorf("open key store: %w", err)
	}
	defer store.Close()

	keys := service.NewKeyManager(store)
	secret, key, err := keys.GenerateKey(context.Background(), name, service.GenerateOptions{
		ExpiresInDays: expiresInDays,
		Permissions:   permissions,
		UsageLimit:    usageLimit,
	})
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	// When output is piped, emit only the secret so scripts can capture it.
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println(secret)
		return nil
	}

	fmt.Println("API Key created:")
	fmt.Println()
	fmt.Printf("  Key:         %s\n", secret)
	fmt.Printf("  ID:          %s\n", key.ID)
	fmt.Printf("  Name:        %s\n", key.Name)
	fmt.Printf("  Permissions: %s\n", strings.Join(key.Permissions, ", "))
	if key.ExpiresAt != nil {
		fmt.Printf("  Expires:     %s\n", key.ExpiresAt.Format(time.RFC3339))
	}
	if key.UsageLimit != nil {
		fmt.Printf("  Usage limit: %d\n", *key.UsageLimit)
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(jsonOutput bool) error {
	cfg := loadConfig()
	store, err := openKeyStore(cfg)
	if err != nil {
		return fmt.Errorf("open key store: %w", err)
	}
	defer store.Close()

	keys, err := service.NewKeyManager(store).ListKeys(context.Background())
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Println("No API keys configured. Use 'loom key create' to create one.")
		return nil
	}

	fmt.Printf("%-22s %-20s %-14s %-28s %-8s %-8s\n", "ID", "NAME", "PREFIX", "PERMISSIONS", "ENABLED", "USED")
	fmt.Printf("%-22s %-20s %-14s %-28s %-8s %-8s\n", "--", "----", "------", "-----------", "-------", "----")
	for _, k := range keys {
		enabled := "yes"
		if !k.Enabled {
			enabled = "no"
		}
		fmt.Printf("%-22s %-20s %-14s %-28s %-8s %-8d\n",
			k.ID, k.Name, k.KeyPrefix, strings.Join(k.Permissions, ","), enabled, k.UsageCount)
	}

	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key by id",
		Long:  "Permanently delete an API key. The raw key stops authenticating immediately.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(args[0])
		},
	}

	return cmd
}

func runKeyRevoke(id string) error {
	cfg := loadConfig()
	store, err := openKeyStore(cfg)
	if err != nil {
		return fmt.Errorf("open key store: %w", err)
	}
	defer store.Close()

	revoked, err := service.NewKeyManager(store).RevokeKey(context.Background(), id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if !revoked {
		return fmt.Errorf("no API key found with id %q", id)
	}

	fmt.Printf("Revoked API key %q\n", id)
	return nil
}

// ---------- key enable / disable ----------

func newKeyEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <id>",
		Short: "Re-enable a disabled API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyToggle(args[0], true)
		},
	}
}

func newKeyDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <id>",
		Short: "Disable an API key without deleting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyToggle(args[0], false)
		},
	}
}

func runKeyToggle(id string, enabled bool) error {
	cfg := loadConfig()
	store, err := openKeyStore(cfg)
	if err != nil {
		return fmt.Errorf("open key store: %w", err)
	}
	defer store.Close()

	ok, err := service.NewKeyManager(store).ToggleKey(context.Background(), id, enabled)
	if err != nil {
		return fmt.Errorf("toggle api key: %w", err)
	}
	if !ok {
		return fmt.Errorf("no API key found with id %q", id)
	}

	state := "enabled"
	if !enabled {
		state = "disabled"
	}
	fmt.Printf("API key %q %s\n", id, state)
	return nil
}

// ---------- key update ----------

func newKeyUpdateCmd() *cobra.Command {
	var (
		name        string
		permissions []string
		usageLimit  int64
	)

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an API key's name, permissions, or usage limit",
		Example: `  loom key update 1756-abc --name "renamed"
  loom key update 1756-abc --permissions chat:read,chat:write
  loom key update 1756-abc --usage-limit 0`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := service.UpdatePatch{}
			if cmd.Flags().Changed("name") {
				patch.Name = &name
			}
			if cmd.Flags().Changed("permissions") {
				patch.Permissions = permissions
			}
			if cmd.Flags().Changed("usage-limit") {
				patch.UsageLimit = &usageLimit
			}
			return runKeyUpdate(args[0], patch)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "New label for the key")
	cmd.Flags().StringSliceVar(&permissions, "permissions", nil, "Replacement permission set")
	cmd.Flags().Int64Var(&usageLimit, "usage-limit", 0, "New usage limit (0 removes the limit)")

	return cmd
}

func runKeyUpdate(id string, patch service.UpdatePatch) error {
	cfg := loadConfig()
	store, err := openKeyStore(cfg)
	if err != nil {
		return fmt.Errorf("open key store: %w", err)
	}
	defer store.Close()

	ok, err := service.NewKeyManager(store).UpdateKey(context.Background(), id, patch)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	if !ok {
		return fmt.Errorf("no API key found with id %q", id)
	}

	fmt.Printf("Updated API key %q\n", id)
	return nil
}

// ---------- key token ----------

func newKeyTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <id>",
		Short: "Issue a signed bearer token for an API key",
		Long: `Sign a short-lived bearer token carrying the key's current permissions.
The token is printed to stdout for use in Authorization headers.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyToken(args[0])
		},
	}

	return cmd
}

func runKeyToken(id string) error {
	cfg := loadConfig()
	store, err := openKeyStore(cfg)
	if err != nil {
		return fmt.Errorf("open key store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	keys := service.NewKeyManager(store)

	key, err := keys.GetKey(ctx, id)
	if err != nil {
		return fmt.Errorf("no API key found with id %q", id)
	}
	if !key.Enabled {
		return fmt.Errorf("api key %q is disabled", id)
	}

	tokens := service.NewTokenService(resolveSigningSecret(ctx, store, cfg), tokenTTL(cfg))
	token, err := tokens.Generate(key)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println(token)
		return nil
	}

	fmt.Printf("Token (valid %s):\n\n  %s\n", tokens.TTL(), token)
	return nil
}
