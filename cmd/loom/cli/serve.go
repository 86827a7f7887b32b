package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loomhq/loom/internal/server"
	"github.com/loomhq/loom/internal/service"
)

const banner = `
 _    ___  ___  __  __
| |  / _ \/ _ \|  \/  |
| |_| (_) | (_) | |\/| |
|____\___/ \___/|_|  |_|
`

func newServeCmd() *cobra.Command {
	var (
		port       int
		host       string
		backend    string
		dev        bool
		background bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Loom API server",
		Long: `Start the local HTTP server. Protected routes require an API key or a
signed bearer token; create keys with 'loom key create'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if background {
				return runServeBackground(os.Args)
			}
			return runServe(host, port, backend, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP listen port (default 8317)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP listen host (default 127.0.0.1)")
	cmd.Flags().StringVar(&backend, "backend", "", "Key storage backend: memory or sqlite")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")
	cmd.Flags().BoolVar(&background, "background", false, "Run the server detached, logging to the data directory")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	viper.BindPFlag("storage.backend", cmd.Flags().Lookup("backend"))

	return cmd
}

func runServe(host string, port int, backend string, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	logLevel := slog.LevelInfo
	if dev {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	cfg := loadConfig()
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if backend != "" {
		cfg.Storage.Backend = backend
	}

	ctx := context.Background()

	// 1. Open the key store
	store, err := openKeyStore(cfg)
	if err != nil {
		return fmt.Errorf("open key store: %w", err)
	}
	defer store.Close()
	logger.Info("key store initialized", "backend", cfg.Storage.Backend)

	// 2. Build the auth services
	keys := service.NewKeyManager(store)
	tokens := service.NewTokenService(resolveSigningSecret(ctx, store, cfg), tokenTTL(cfg))

	// 3. Build and start the HTTP server
	shutdownTimeout, err := time.ParseDuration(cfg.Server.ShutdownTimeout)
	if err != nil || shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: shutdownTimeout,
		CORSOrigins:     cfg.Server.CORS.Origins,
	}

	srv := server.New(srvCfg, keys, tokens, logger)

	if err := writePID(os.Getpid()); err != nil {
		logger.Warn("failed to write PID file", "error", err)
	}
	defer removePID()

	fmt.Printf("→ Loom %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ OpenAPI:   http://%s:%d/openapi.json\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Health:    http://%s:%d/healthz\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Token TTL: %s\n", tokens.TTL())
	fmt.Println()

	return srv.ListenAndServe()
}

// runServeBackground re-executes the current binary detached from the
// terminal, with output redirected to the log file in the data directory.
func runServeBackground(args []string) error {
	// Strip --background so the child runs in the foreground.
	childArgs := make([]string, 0, len(args)-1)
	for _, a := range args[1:] {
		if a == "--background" {
			continue
		}
		childArgs = append(childArgs, a)
	}

	if err := os.MkdirAll(resolveDataDir(), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(args[0], childArgs...)
	child.Stdout = logFile
	child.Stderr = logFile
	setSysProcAttr(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start background server: %w", err)
	}

	fmt.Printf("Loom server started in the background (PID %d)\n", child.Process.Pid)
	fmt.Printf("  Logs: %s\n", logFilePath())
	fmt.Println("  Stop with 'loom stop'.")
	return nil
}
