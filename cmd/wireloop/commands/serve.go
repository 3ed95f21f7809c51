package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/wireloop/wireloop/config"
	"github.com/wireloop/wireloop/registry"
	"github.com/wireloop/wireloop/server"
)

// serveOptions holds options for the serve command. Most server knobs
// live in config.Config and are loaded from --config/environment; these
// flags only cover what doesn't belong in a persisted config file.
type serveOptions struct {
	configFile string
	logLevel   string
	logFile    string
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve [flags]",
		Short: "Start a wireloop gRPC-over-HTTP/2 server",
		Long: `Start a wireloop server: binds a listener, negotiates HTTP/2 over it, and
dispatches RPCs against the registered service catalog. Health and reflection
are auto-registered unless disabled in the configuration.

Examples:
  # Start with defaults (plaintext, port 8080, health+reflection on)
  wireloop serve

  # Start with a configuration file
  wireloop serve --config server.yaml

  # Override individual knobs via environment (WIRELOOP_ prefix)
  WIRELOOP_PORT=9090 wireloop serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "Configuration file path (YAML)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "Log to this file (with rotation) instead of stdout")

	return cmd
}

// buildLogger constructs the zap logger every server component logs
// through. A log file routes through lumberjack for rotation; otherwise
// output goes to stdout, matching the teacher's zap-everywhere logging
// stack but adding the rotation the pack's other services reach for.
func buildLogger(opts *serveOptions, debug bool) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(opts.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", opts.logLevel, err)
	}
	if debug {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var ws zapcore.WriteSyncer
	if opts.logFile != "" {
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.logFile,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	} else {
		ws = zapcore.AddSync(os.Stdout)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), ws, level)
	return zap.New(core), nil
}

func runServe(ctx context.Context, opts *serveOptions) error {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return fmt.Errorf("wireloop serve: %w", err)
	}

	logger, err := buildLogger(opts, cfg.DebugMode)
	if err != nil {
		return fmt.Errorf("wireloop serve: %w", err)
	}
	defer logger.Sync()

	reg := registry.New()
	srv, err := server.New(cfg, reg, logger)
	if err != nil {
		return fmt.Errorf("wireloop serve: %w", err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := srv.Start(runCtx); err != nil {
		return fmt.Errorf("wireloop serve: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received, draining")
	cancel()

	if err := srv.Stop(false, cfg.DrainTimeout); err != nil {
		return fmt.Errorf("wireloop serve: graceful stop: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
