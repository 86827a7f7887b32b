package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/service"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// signingSecretSetting is the settings-table key holding a generated signing
// secret, so durable installs keep tokens valid across restarts.
const signingSecretSetting = "signing_secret"

// resolveDataDir returns the data directory from the --data-dir flag,
// the LOOM_DATA_DIR env var, or ~/.loom as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("LOOM_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.loom"
}

// loadConfig returns the effective configuration: file values where a config
// file exists, defaults otherwise, with env/flag overrides applied via viper.
func loadConfig() *config.YAMLConfig {
	cfg := config.DefaultYAMLConfig()

	if path := viper.ConfigFileUsed(); path != "" {
		if fileCfg, err := config.LoadYAMLConfig(path); err == nil {
			cfg = fileCfg
		}
	}

	if v := viper.GetString("server.host"); v != "" {
		cfg.Server.Host = v
	}
	if v := viper.GetInt("server.port"); v != 0 {
		cfg.Server.Port = v
	}
	if v := viper.GetString("auth.secret"); v != "" {
		cfg.Auth.Secret = v
	}
	if v := viper.GetString("auth.token_ttl"); v != "" {
		cfg.Auth.TokenTTL = v
	}
	if v := viper.GetString("storage.backend"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := viper.GetString("storage.data_dir"); v != "" {
		cfg.Storage.DataDir = v
	}
	return cfg
}

// openKeyStore opens the key store selected by the storage config: the
// in-memory store (default) or the durable SQLite store under the data dir.
func openKeyStore(cfg *config.YAMLConfig) (config.KeyStore, error) {
	switch cfg.Storage.Backend {
	case "", "memory":
		return config.NewMemoryStore(), nil
	case "sqlite":
		dir := cfg.Storage.DataDir
		if dir == "" {
			dir = resolveDataDir()
		}
		return config.NewStore(dir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q (use 'memory' or 'sqlite')", cfg.Storage.Backend)
	}
}

// resolveSigningSecret picks the token signing secret: the configured value
// wins; otherwise a store-held secret is reused; otherwise a fresh secret is
// generated and, for durable stores, persisted so restarts keep tokens valid.
func resolveSigningSecret(ctx context.Context, store config.KeyStore, cfg *config.YAMLConfig) string {
	if cfg.Auth.Secret != "" {
		return cfg.Auth.Secret
	}

	if secret, err := store.GetSetting(ctx, signingSecretSetting); err == nil && secret != "" {
		return secret
	}

	secret := service.NewSigningSecret()
	_ = store.SetSetting(ctx, signingSecretSetting, secret)
	return secret
}

// tokenTTL parses the configured token lifetime; invalid or empty values
// select the service default.
func tokenTTL(cfg *config.YAMLConfig) time.Duration {
	if cfg.Auth.TokenTTL == "" {
		return 0
	}
	ttl, err := time.ParseDuration(cfg.Auth.TokenTTL)
	if err != nil {
		return 0
	}
	return ttl
}

// --- PID file management ---

func pidFilePath() string {
	return filepath.Join(resolveDataDir(), "loom.pid")
}

func writePID(pid int) error {
	dir := resolveDataDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0644)
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePID() {
	os.Remove(pidFilePath())
}

func logFilePath() string {
	return filepath.Join(resolveDataDir(), "loom.log")
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
