package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/brightforge/forge3d-orchestrator/pkg/api"
	"github.com/brightforge/forge3d-orchestrator/pkg/assets"
	"github.com/brightforge/forge3d-orchestrator/pkg/bridge"
	"github.com/brightforge/forge3d-orchestrator/pkg/config"
	"github.com/brightforge/forge3d-orchestrator/pkg/crashreport"
	"github.com/brightforge/forge3d-orchestrator/pkg/log"
	"github.com/brightforge/forge3d-orchestrator/pkg/scheduler"
	"github.com/brightforge/forge3d-orchestrator/pkg/store"
	"github.com/brightforge/forge3d-orchestrator/pkg/telemetry"
	"github.com/spf13/cobra"
)

var (
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
	Use:   "forge3d-host",
	Short: "Forge3D generation orchestrator",
	Long: `forge3d-host runs the Forge3D generation orchestrator: a single
long-lived process that supervises the inference worker subprocess,
queues and drains generation jobs against it, and serves the HTTP/SSE
API described in spec.md.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"forge3d-host version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to the YAML config file")

	serveCmd.Flags().String("addr", "", "HTTP listen address (overrides FORGE3D_PORT-derived default)")

	cobra.OnInitialize(initLogging)
	rootCmd.AddCommand(serveCmd)
}

// errorLogFile is left open for the process lifetime; it backs
// log.Config.ErrorLogWriter once serve has resolved a config path.
var errorLogFile *os.File

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator host",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	addrOverride, _ := cmd.Flags().GetString("addr")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := os.MkdirAll(cfg.AssetRoot, 0o755); err != nil {
		return fmt.Errorf("preparing asset root: %w", err)
	}
	if err := os.MkdirAll(cfg.StorePath, 0o755); err != nil {
		return fmt.Errorf("preparing store directory: %w", err)
	}

	errorLogPath := filepath.Join(cfg.StorePath, "errors.jsonl")
	errorLogFile, err = os.OpenFile(errorLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logger := log.WithComponent("host")
		logger.Warn().Err(err).Str("path", errorLogPath).Msg("could not open error log, continuing without it")
	} else {
		logLevel, _ := cmd.Flags().GetString("log-level")
		logJSON, _ := cmd.Flags().GetBool("log-json")
		log.Init(log.Config{
			Level:          log.Level(logLevel),
			JSONOutput:     logJSON,
			ErrorLogWriter: errorLogFile,
		})
		defer errorLogFile.Close()
	}

	logger := log.WithComponent("host")
	logger.Info().Msg("starting forge3d-host")

	st, err := store.NewBoltStore(cfg.StorePath)
	if err != nil {
		return fatalf(cfg, "store", "failed to open store", err)
	}
	defer st.Close()

	assetStore, err := assets.New(cfg.AssetRoot)
	if err != nil {
		return fatalf(cfg, "assets", "failed to prepare asset root", err)
	}

	br := bridge.New(cfg.Bridge)

	startCtx, cancelStart := context.WithTimeout(context.Background(), cfg.Bridge.StartupTimeout()+5*time.Second)
	defer cancelStart()
	if err := br.Start(startCtx); err != nil {
		return fatalf(cfg, "bridge", "failed to start inference worker", err)
	}
	defer br.Stop()

	hub := telemetry.New(cfg.Telemetry.RingSize, cfg.Telemetry.LatencyWindow)

	sched := scheduler.New(st, br, assetStore,
		scheduler.WithPublisher(func(ev scheduler.Event) {
			hub.Publish(ev.Category, ev.Data)
		}),
		scheduler.WithFatalHandler(func(err error) {
			logger.Error().Err(err).Msg("scheduler reported a fatal error, writing crash report")
			path, werr := crashreport.Write(cfg.AssetRoot, crashreport.FromError("scheduler", "scheduler fatal error", err, nil))
			if werr != nil {
				logger.Error().Err(werr).Msg("failed to write crash report")
			} else {
				logger.Error().Str("path", path).Msg("crash report written")
			}
			os.Exit(1)
		}),
	)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	if err := sched.Start(runCtx); err != nil {
		return fatalf(cfg, "scheduler", "failed to start scheduler", err)
	}

	server := api.NewServer(sched, st, assetStore, br, hub)

	addr := fmt.Sprintf(":%d", cfg.Port)
	if addrOverride != "" {
		addr = addrOverride
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(runCtx, addr); err != nil {
			errCh <- err
		}
	}()

	logger.Info().Str("addr", addr).Msg("forge3d-host is ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("api server failed")
	}

	cancelRun()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStop()
	sched.Stop(stopCtx)

	logger.Info().Msg("shutdown complete")
	return nil
}

// fatalf writes a crash report for an initialization failure and
// returns an error that makes rootCmd.Execute exit 1 (spec.md section
// 6's exit-code table).
func fatalf(cfg config.Config, component, reason string, err error) error {
	log.Fatal(reason)
	if path, werr := crashreport.Write(cfg.AssetRoot, crashreport.FromError(component, reason, err, nil)); werr == nil {
		log.WithComponent(component).Error().Str("path", path).Msg("crash report written")
	}
	return fmt.Errorf("%s: %w", reason, err)
}
