// Command objfsprojfsd runs a single ProjFS virtualization instance
// against a local directory standing in for the real logical
// filesystem. The production host process has responsibilities well
// beyond projection; this binary exists to exercise internal/host end
// to end, not to replace that process.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/objfsprojfs/objfsprojfs/internal/config"
	"github.com/objfsprojfs/objfsprojfs/internal/host"
	"github.com/objfsprojfs/objfsprojfs/internal/localfs"
	"github.com/objfsprojfs/objfsprojfs/internal/winprojfs"
	"github.com/objfsprojfs/objfsprojfs/pkg/utils"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file.")
	virtualRoot := flag.String("virtual-root", "", "Directory to become the projection root (overrides config).")
	sourceDir := flag.String("source-dir", "", "Directory backing the logical filesystem (overrides config).")
	flag.Parse()

	if err := run(*configPath, *virtualRoot, *sourceDir); err != nil {
		slog.Error("objfsprojfsd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath, virtualRootOverride, sourceDirOverride string) error {
	cfg := config.NewDefault()
	if configPath != "" {
		if err := cfg.LoadFromFile(configPath); err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return fmt.Errorf("loading config from environment: %w", err)
	}
	if virtualRootOverride != "" {
		cfg.Provider.VirtualRoot = virtualRootOverride
	}

	sourceDir := sourceDirOverride
	if sourceDir == "" {
		sourceDir = cfg.Provider.InstancePath
	}
	if sourceDir == "" {
		return fmt.Errorf("a source directory is required: set --source-dir, instance_path, or OBJFSPROJFS_INSTANCE_PATH")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.Global)
	slog.SetDefault(logger)

	fs := localfs.New(sourceDir)
	h := host.New(fs, cfg, winprojfs.New(), logger)

	logger.Info("starting virtualization instance",
		"virtual_root", cfg.Provider.VirtualRoot,
		"source_dir", sourceDir)

	if err := h.Start(); err != nil {
		return fmt.Errorf("starting host: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutdown signal received, stopping")
	return h.Stop()
}

func newLogger(global config.GlobalConfig) *slog.Logger {
	var lvl slog.Level
	switch global.LogLevel {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if global.LogFile != "" {
		if global.LogMaxSizeMB > 0 {
			rotator, err := utils.NewLogRotator(&utils.RotationConfig{
				Filename:   global.LogFile,
				MaxSizeMB:  global.LogMaxSizeMB,
				MaxBackups: global.LogMaxBackups,
			})
			if err == nil {
				out = rotator
			}
		} else if f, err := os.OpenFile(global.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640); err == nil {
			out = f
		}
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl}))
}
