package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sentinelcore/mcpgate/internal/adapter/audit"
	"github.com/sentinelcore/mcpgate/internal/adapter/outbound/cel"
	"github.com/sentinelcore/mcpgate/internal/config"
	"github.com/sentinelcore/mcpgate/internal/domain/sessionid"
	"github.com/sentinelcore/mcpgate/internal/service"
	"github.com/sentinelcore/mcpgate/internal/telemetry"
)

// errSignalShutdown marks a session that ended because an external
// signal asked it to, rather than because the agent stream closed on its
// own -- Execute maps this to exit code 137.
var errSignalShutdown = errors.New("mcpgate: shutdown requested by signal")

// exitCodeFor maps runMiddleware's returned error onto the documented
// exit-code table.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errSignalShutdown):
		return 137
	case errors.Is(err, service.ErrSpawnFailed):
		return 2
	default:
		return 1
	}
}

func runMiddleware(cmd *cobra.Command, args []string) error {
	upstreamCmd, upstreamArgs, err := resolveUpstream(cmd, args)
	if err != nil {
		return err
	}

	applyFlagOverrides(upstreamCmd, upstreamArgs)

	cfg, err := config.LoadProcessConfig()
	if err != nil {
		return fmt.Errorf("mcpgate: %w", err)
	}

	logger := newLogger(cfg.LogLevel)

	compiler, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("mcpgate: initializing CEL evaluator: %w", err)
	}

	pol, err := config.LoadPolicyDocument(cfg.PolicyFile, compiler)
	if err != nil {
		return fmt.Errorf("mcpgate: %w", err)
	}
	registry, err := config.LoadToolRegistry(cfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("mcpgate: %w", err)
	}

	auditLog, err := newAuditLogger(cfg.Audit.Output, logger)
	if err != nil {
		return fmt.Errorf("mcpgate: %w", err)
	}
	defer func() {
		if closeErr := auditLog.Close(); closeErr != nil {
			logger.Warn("failed to close audit sink", "error", closeErr)
		}
	}()

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	if cfg.Telemetry.Enabled && cfg.Telemetry.MetricsAddr != "" {
		srv := telemetry.ServeMetrics(cfg.Telemetry.MetricsAddr, reg)
		go func() {
			if serveErr := srv.ListenAndServe(); serveErr != nil {
				logger.Warn("metrics server stopped", "error", serveErr)
			}
		}()
		defer func() {
			if shutdownErr := telemetry.Shutdown(srv, 5*time.Second); shutdownErr != nil {
				logger.Warn("failed to shut down metrics server", "error", shutdownErr)
			}
		}()
	}

	tracingCfg := telemetry.TracingConfig{Enabled: cfg.Telemetry.Enabled, ServiceName: cfg.Telemetry.ServiceName}
	tracerProvider, tracerShutdown, err := telemetry.NewTracerProvider(tracingCfg)
	if err != nil {
		return fmt.Errorf("mcpgate: initializing tracer: %w", err)
	}
	defer func() {
		if shutdownErr := tracerShutdown(context.Background()); shutdownErr != nil {
			logger.Warn("failed to shut down tracer provider", "error", shutdownErr)
		}
	}()

	_, meterShutdown, err := telemetry.NewMeterProvider(tracingCfg, 15*time.Second)
	if err != nil {
		return fmt.Errorf("mcpgate: initializing meter provider: %w", err)
	}
	defer func() {
		if shutdownErr := meterShutdown(context.Background()); shutdownErr != nil {
			logger.Warn("failed to shut down meter provider", "error", shutdownErr)
		}
	}()

	deps := service.Deps{Policy: pol, CelEval: compiler, Registry: registry}
	mw, err := service.New(cfg, deps, auditLog, metrics, tracerProvider, logger)
	if err != nil {
		return fmt.Errorf("mcpgate: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	signaled := false
	go func() {
		select {
		case <-sigCh:
			signaled = true
			logger.Info("received shutdown signal, draining session")
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info("starting session",
		"session_id_prefix", sessionid.Prefix(mw.SessionID(), 8),
		"policy_file", cfg.PolicyFile,
		"upstream_command", upstreamCmd,
	)

	runErr := mw.Run(ctx, os.Stdin, os.Stdout)
	if signaled {
		if runErr != nil {
			return fmt.Errorf("%w: %w", errSignalShutdown, runErr)
		}
		return errSignalShutdown
	}
	if runErr != nil {
		return fmt.Errorf("mcpgate: %w", runErr)
	}
	return nil
}

// resolveUpstream determines the upstream command and its arguments from
// either the positional form (mcpgate [flags] -- <command> [args...]) or
// the --upstream-cmd alias form (mcpgate --upstream-cmd <cmd> -- [args...]).
func resolveUpstream(cmd *cobra.Command, args []string) (string, []string, error) {
	dash := cmd.ArgsLenAtDash()

	if upstreamFlag != "" {
		if dash < 0 {
			return upstreamFlag, args, nil
		}
		return upstreamFlag, args[dash:], nil
	}

	if dash < 0 || dash >= len(args) {
		return "", nil, fmt.Errorf("mcpgate: no upstream command specified; usage: mcpgate [flags] -- <command> [args...]")
	}
	return args[dash], args[dash+1:], nil
}

// applyFlagOverrides sets the viper keys that CLI flags override before
// LoadProcessConfig unmarshals them, so flags win over both the config
// file and the environment in that precedence order.
func applyFlagOverrides(upstreamCmd string, upstreamArgs []string) {
	viper.Set("upstream.command", upstreamCmd)
	viper.Set("upstream.args", upstreamArgs)
	if policyFlag != "" {
		viper.Set("policy_file", policyFlag)
	}
	if logLevelFlag != "" {
		viper.Set("log_level", logLevelFlag)
	}
	if maxFrameFlag != 0 {
		viper.Set("transport.max_frame_bytes", maxFrameFlag)
	}
}

// newLogger builds the stderr structured logger every other component
// logs through. Never writes to stdout: that stream belongs exclusively
// to the agent-facing JSON-RPC traffic.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// newAuditLogger builds the mandatory NDJSON audit stream over stderr,
// plus an optional sqlite sink when output names one.
func newAuditLogger(output string, logger *slog.Logger) (*audit.Logger, error) {
	stream := audit.NewNDJSONWriter(os.Stderr)

	var sink audit.Sink
	if strings.HasPrefix(output, "sqlite://") {
		path := strings.TrimPrefix(output, "sqlite://")
		sqliteSink, err := audit.NewSQLiteSink(path)
		if err != nil {
			return nil, fmt.Errorf("opening audit sqlite sink %q: %w", path, err)
		}
		sink = sqliteSink
	}
	return audit.NewLogger(stream, sink, logger), nil
}
