// Command toolmeshd is the tool mesh daemon: it discovers, installs,
// launches, and health-monitors a fleet of MCP-style tool servers behind
// a single identity registry, and exposes the live catalog and health
// event stream over a broadcast websocket (spec.md §4, §6, §7).
//
// # Basic usage
//
//	toolmeshd serve --config toolmesh.yaml
//
// # Environment variables
//
// Most configuration lives in the YAML file, but the following
// environment variables override it for container/orchestrator
// deployments:
//
//   - TOOLMESH_CONFIG: path to the configuration file (default: toolmesh.yaml)
//   - TOOLMESH_PORT_RANGE_LOW / TOOLMESH_PORT_RANGE_HIGH
//   - TOOLMESH_MAX_RESTARTS
//   - TOOLMESH_HEALTH_PROBE_INTERVAL_SECONDS
//   - TOOLMESH_STORAGE_ROOT
//   - TOOLMESH_CONTAINER_RUNTIME
//   - TOOLMESH_BUILTINS_DIR
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/toolmesh/internal/config"
	"github.com/haasonsaas/toolmesh/internal/fleet"
	"github.com/haasonsaas/toolmesh/internal/identity"
	"github.com/haasonsaas/toolmesh/internal/monitor"
	"github.com/haasonsaas/toolmesh/internal/ports"
	"github.com/haasonsaas/toolmesh/internal/procsup"
	"github.com/haasonsaas/toolmesh/internal/session"
	"github.com/haasonsaas/toolmesh/internal/toolerr"
	"github.com/haasonsaas/toolmesh/internal/wire"
	"github.com/haasonsaas/toolmesh/internal/wsapi"
)

const defaultConfigPath = "toolmesh.yaml"

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		var validationErr *config.ValidationError
		if errors.As(err, &validationErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "toolmeshd",
		Short:        "toolmeshd - tool mesh fleet daemon",
		Version:      fmt.Sprintf("%s (commit %s)", version, commit),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd(), buildStatusCmd())
	return root
}

func resolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv("TOOLMESH_CONFIG")); env != "" {
		return env
	}
	return defaultConfigPath
}

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the fleet daemon",
		Long: `Start the fleet daemon.

The daemon will:
 1. Load and validate the fleet configuration
 2. Discover the builtin and installed service catalog
 3. Auto-start the configured services
 4. Begin periodic health probing
 5. Serve the broadcast event websocket

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the fleet configuration file")
	return cmd
}

func buildStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the on-disk catalog without starting the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			descriptors, err := fleet.NewContainer(fleet.ContainerConfig{StorageRoot: cfg.Storage.Root}).LoadCatalog(cfg.Storage.BuiltinsDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Discovered %d service(s):\n", len(descriptors))
			for _, d := range descriptors {
				fmt.Fprintf(out, "  - %s (%s)\n", d.ServiceID, d.Transport)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the fleet configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	slog.Info("starting toolmeshd", "version", version, "commit", commit, "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	configureLogging(cfg.Logging)

	metrics := monitor.NewMetrics()

	allocator, err := ports.NewAllocator("127.0.0.1", cfg.Ports.Low, cfg.Ports.High,
		ports.WithAllocationObserver(metrics.RecordPortAllocation))
	if err != nil {
		return fmt.Errorf("build port allocator: %w", err)
	}
	supervisor := procsup.NewSupervisor(slog.Default())
	registry := identity.NewRegistry()
	container := fleet.NewContainer(fleet.ContainerConfig{
		StorageRoot: cfg.Storage.Root,
		Allocator:   allocator,
		Supervisor:  supervisor,
		RestartPolicy: procsup.RestartPolicy{
			MaxRestarts:           cfg.Restart.MaxRestarts,
			RestartBackoffSeconds: cfg.Restart.BackoffSeconds,
		},
	})
	core := fleet.NewCore(slog.Default(), registry, allocator, supervisor, container)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := core.Bootstrap(ctx, cfg.Storage.BuiltinsDir, cfg.AutoStart); err != nil {
		return fmt.Errorf("bootstrap fleet: %w", err)
	}

	bus := monitor.NewBus()
	prober := monitor.NewProber(container, supervisor, bus, metrics, cfg.ProbeInterval(), slog.Default())
	go prober.Run(ctx)

	pool := session.NewPool(cfg.Session.MaxPoolSize, cfg.MaxIdleTime())
	go pool.RunIdleSweeper(ctx, time.Minute)

	router := session.NewRouter(registry, containerResolver{container: container}, pool)
	caller := &meteredCaller{caller: router, metrics: metrics}

	wsServer := wsapi.NewServer(registry, container, bus, metrics, cfg.Broadcast.SubscriberBuffer, slog.Default())
	mux := http.NewServeMux()
	mux.Handle("/events", wsServer)
	mux.HandleFunc("/tools/call", toolCallHandler(caller))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	addr := fmt.Sprintf("%s:%d", cfg.Broadcast.Host, cfg.Broadcast.Port)
	httpServer := &http.Server{Addr: addr, Handler: mux}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("broadcast server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining")
	case err := <-serveErr:
		if err != nil {
			slog.Error("broadcast server failed", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("broadcast server shutdown error", "error", err)
	}
	pool.CloseAll()
	core.Shutdown(shutdownCtx)

	slog.Info("toolmeshd stopped")
	return nil
}

func configureLogging(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

type toolCallRequest struct {
	Tool   string         `json:"tool"`
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

// toolCallHandler is the administrative HTTP surface for invoking a tool
// directly (spec.md §6's "referenced only through the interfaces the core
// exposes"), independent of any particular LLM client's wire format.
func toolCallHandler(caller session.Caller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req toolCallRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
			return
		}

		result, err := caller.Call(r.Context(), req.Tool, req.Action, req.Params)
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			w.WriteHeader(statusForToolErr(err))
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(result)
	}
}

func statusForToolErr(err error) int {
	switch toolerr.KindOf(err) {
	case toolerr.KindUnknownTool, toolerr.KindUnknownAction:
		return http.StatusNotFound
	case toolerr.KindInvalidCall:
		return http.StatusBadRequest
	case toolerr.KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case toolerr.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// containerResolver bridges fleet.Container to session.ServiceResolver
// without an import from session back into fleet.
type containerResolver struct {
	container *fleet.Container
}

func (r containerResolver) Resolve(canonicalTool string) (wire.ServiceDescriptor, error) {
	svc, ok := r.container.Get(canonicalTool)
	if !ok {
		return wire.ServiceDescriptor{}, toolerr.New(toolerr.KindServiceUnavailable, fmt.Sprintf("service %s is not registered", canonicalTool))
	}
	if svc.Status != procsup.StatusRunning {
		return wire.ServiceDescriptor{}, toolerr.New(toolerr.KindServiceUnavailable, fmt.Sprintf("service %s is %s", canonicalTool, svc.Status))
	}
	if !svc.Health.Healthy {
		return wire.ServiceDescriptor{}, toolerr.New(toolerr.KindServiceUnavailable, fmt.Sprintf("service %s is running but unhealthy", canonicalTool))
	}
	return svc.Config.Descriptor, nil
}

// meteredCaller decorates a session.Caller with Prometheus call metrics,
// keeping ToolCallCounter/ToolCallDuration wiring at the composition root
// so internal/session never needs to import internal/monitor.
type meteredCaller struct {
	caller  session.Caller
	metrics *monitor.Metrics
}

func (m *meteredCaller) Call(ctx context.Context, tool, action string, params map[string]any) (*session.Result, error) {
	start := time.Now()
	result, err := m.caller.Call(ctx, tool, action, params)
	status := "ok"
	if err != nil {
		status = string(toolerr.KindOf(err))
	}
	m.metrics.RecordToolCall(tool, action, status, time.Since(start).Seconds())
	return result, err
}
