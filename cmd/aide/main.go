// Command aide is the reasoning core of the assistant. It speaks
// JSON-RPC with the host process over stdin/stdout: the host sends
// queries and context updates down, and aide sends native tool calls
// and log notifications back up the same stream.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/alexandertaboriskiy/navixmind-sub000/internal/bridge"
	"github.com/alexandertaboriskiy/navixmind-sub000/internal/conductor"
	"github.com/alexandertaboriskiy/navixmind-sub000/internal/config"
	"github.com/alexandertaboriskiy/navixmind-sub000/internal/controlplane"
	"github.com/alexandertaboriskiy/navixmind-sub000/internal/conversation"
	"github.com/alexandertaboriskiy/navixmind-sub000/internal/dispatch"
	"github.com/alexandertaboriskiy/navixmind-sub000/internal/metrics"
	"github.com/alexandertaboriskiy/navixmind-sub000/internal/provider"
	"github.com/alexandertaboriskiy/navixmind-sub000/internal/sandbox"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "aide",
		Short:         "On-device assistant reasoning core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func newServeCmd() *cobra.Command {
	var (
		configPath  string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the host protocol on stdin/stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, metricsAddr)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "aide.yaml", "path to the config file")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address (disabled when empty)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, metricsAddr string) error {
	logger := newLogger(cfg.Log.Level)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	if metricsAddr != "" {
		go serveMetrics(metricsAddr, registry, logger)
	}

	// The bridge and the control plane share one stream; the server's
	// writer goroutine is the only thing touching stdout.
	toHost := make(chan json.RawMessage, 64)
	fromHost := make(chan json.RawMessage, 64)
	br := bridge.New(toHost, fromHost, logger)
	br.Start(ctx)
	defer br.Close()

	anthropicClient := provider.NewAnthropicClient(cfg.Provider.APIKey, logger)
	retryCfg := provider.DefaultRetryConfig()
	if cfg.Provider.MaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.Provider.MaxAttempts
	}
	var limiter *rate.Limiter
	if cfg.Provider.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Provider.RequestsPerSecond), max(cfg.Provider.RequestBurst, 1))
	}
	client := provider.NewRetrying(anthropicClient, retryCfg, limiter, logger)

	toolRegistry, err := dispatch.DefaultRegistry()
	if err != nil {
		return fmt.Errorf("build tool catalog: %w", err)
	}
	files := dispatch.NewFileResolver()
	dispatcher := dispatch.NewDispatcher(
		toolRegistry,
		sandbox.NewExecutor(logger),
		br,
		files,
		m,
		dispatch.Options{
			OutputDir:      cfg.Sandbox.OutputDir,
			SandboxTimeout: cfg.Sandbox.Timeout.Std(),
			HostCallCap:    cfg.Bridge.CallTimeout.Std(),
		},
		logger,
	)

	store := conversation.NewMemoryStore(0)
	loop := conductor.New(client, dispatcher, store, conductor.Config{
		MaxIterations:       cfg.Loop.MaxIterations,
		MaxToolCalls:        cfg.Loop.MaxToolCalls,
		MaxToolCallsPerStep: cfg.Loop.MaxToolCallsPerStep,
		TokenBudget:         cfg.Loop.TokenBudget,
		MaxTokensPerReply:   cfg.Loop.MaxTokensPerReply,
		MaxHistory:          cfg.Loop.MaxHistory,
		MaxToolResultBytes:  cfg.Loop.MaxToolResultBytes,
		SystemPrompt:        cfg.Loop.SystemPrompt,
		Tiers: conductor.Tiers{
			Light:    cfg.Provider.LightModel,
			Standard: cfg.Provider.StandardModel,
			Heavy:    cfg.Provider.HeavyModel,
		},
	}, m, br, logger)

	service := controlplane.NewService(loop, store, files, anthropicClient, client, cfg.Provider.LightModel, logger)
	server := controlplane.NewServer(os.Stdin, os.Stdout, service, toHost, fromHost, logger)

	logger.Info("serving host protocol", "version", version)
	return server.Run(ctx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	// Stdout carries the protocol; diagnostics go to stderr.
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}
