package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/herdctl/herd/pkg/alloc"
	"github.com/herdctl/herd/pkg/api"
	"github.com/herdctl/herd/pkg/backup"
	"github.com/herdctl/herd/pkg/config"
	"github.com/herdctl/herd/pkg/configedit"
	"github.com/herdctl/herd/pkg/diagnose"
	"github.com/herdctl/herd/pkg/health"
	"github.com/herdctl/herd/pkg/lifecycle"
	"github.com/herdctl/herd/pkg/log"
	"github.com/herdctl/herd/pkg/registry"
	"github.com/herdctl/herd/pkg/render"
	"github.com/herdctl/herd/pkg/repair"
	"github.com/herdctl/herd/pkg/runtime"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "herd",
	Short: "Herd - multi-tenant Supabase instance orchestrator",
	Long: `Herd provisions, supervises, diagnoses and repairs isolated
Supabase stacks on a single host, each with its own containers, ports,
credentials and volumes, behind one HTTP API.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Herd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator API server",
	Long: `Start the orchestrator: load the instance registry, connect to the
container runtime and serve the HTTP API until interrupted.

Configuration comes from the environment; EXTERNAL_HOST is required.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("main")

	if err := os.MkdirAll(cfg.DataRoot, 0o755); err != nil {
		return fmt.Errorf("failed to create data root %s: %w", cfg.DataRoot, err)
	}
	if err := os.MkdirAll(cfg.BackupRoot(), 0o755); err != nil {
		return fmt.Errorf("failed to create backup root: %w", err)
	}

	reg, err := registry.Open(cfg.RegistryPath())
	if err != nil {
		return err
	}

	driver, err := runtime.NewDockerDriver(cfg.DockerSocket)
	if err != nil {
		return err
	}
	defer driver.Close()

	if err := driver.Ping(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("container runtime not reachable at startup")
	}

	history, err := diagnose.OpenHistory(cfg.HistoryPath())
	if err != nil {
		logger.Warn().Err(err).Msg("diagnostic history disabled")
		history = nil
	} else {
		defer history.Close()
	}

	checker := health.NewChecker(driver, cfg.ExternalHost)
	diag := diagnose.NewEngine(checker, cfg.DiagnosticCacheTTL, cfg.DiagnosticRateLimit, history)
	allocator := alloc.NewAllocator(reg)
	renderer := render.NewRenderer(cfg.TemplateDir, cfg.DataRoot)
	locks := lifecycle.NewInstanceLocks()
	controller := lifecycle.NewController(cfg, reg, allocator, renderer, driver, diag, locks)
	backups := backup.NewManager(cfg.BackupRoot(), cfg.ExternalHost, reg, driver)
	repairs := repair.NewEngine(reg, driver, diag, checker, backups, cfg.RepairRetention)
	editor := configedit.NewEditor(reg, driver, backups, diag, locks)

	server := api.NewServer(cfg, controller, diag, history, repairs, backups, editor, Version)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info().
		Str("version", Version).
		Str("data_root", cfg.DataRoot).
		Str("external_host", cfg.ExternalHost).
		Int("instances", reg.Count()).
		Msg("herd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	return nil
}
