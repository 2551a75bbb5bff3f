// Command node runs a single cluster member: the versioned store plus the
// leader-only write fan-out or follower-only replicate apply.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/workshop/quorumkv/internal/config"
	"github.com/workshop/quorumkv/internal/httpx"
	"github.com/workshop/quorumkv/internal/metrics"
	"github.com/workshop/quorumkv/internal/node"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cmd := buildCommand()
	return cmd.Execute()
}

func buildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run a quorumkv cluster node",
		RunE:  runNode,
	}
	flags := cmd.Flags()
	flags.String("id", "leader", "node_id, unique within the run")
	flags.String("role", "leader", "leader or follower")
	flags.Int("port", 9000, "listen port")
	flags.String("registry", "http://127.0.0.1:9500", "registry base URL")
	flags.Duration("replica-delay", 0, "artificial replicate delay (500ms sync, 5s async)")
	flags.Int("startup-epoch", 1, "incremented by the coordinator on each respawn of the same id")
	flags.Int("load-factor", 0, "synthetic per-request CPU cost (recursive fibonacci depth)")
	flags.Int("workers", 0, "GOMAXPROCS override controlling process-level parallelism (0 = runtime default)")
	flags.String("log-format", "console", "json or console")
	return cmd
}

func runNode(cmd *cobra.Command, _ []string) error {
	v, err := config.New(cmd.Flags())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	cfg := config.NodeConfig{
		NodeID:       v.GetString("id"),
		Role:         v.GetString("role"),
		Port:         v.GetInt("port"),
		RegistryURL:  v.GetString("registry"),
		ReplicaDelay: v.GetDuration("replica-delay"),
		LoadFactor:   v.GetInt("load-factor"),
		Workers:      v.GetInt("workers"),
	}

	log, err := initLogger(v.GetString("log-format"))
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	role := node.RoleFollower
	if cfg.Role == "leader" {
		role = node.RoleLeader
	}

	if cfg.Workers > 0 {
		runtime.GOMAXPROCS(cfg.Workers)
	}

	m := metrics.NewNode(cfg.NodeID)
	n := node.New(node.Config{
		ID: cfg.NodeID, Role: role, ReplicaDelay: cfg.ReplicaDelay,
		LoadFactor: cfg.LoadFactor, Log: log, Metrics: m,
	})

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(httpx.RequestID(), httpx.Logger(log), httpx.Recovery(log))
	node.NewServer(n).Register(engine)

	httpSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: engine}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go node.RunHeartbeat(ctx, n, "127.0.0.1", cfg.Port, v.GetInt("startup-epoch"), cfg.RegistryURL, m, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info("node listening", zap.String("node_id", cfg.NodeID), zap.Int("port", cfg.Port), zap.String("role", cfg.Role))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	}

	n.MarkDraining()
	deregisterCtx, deregisterCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer deregisterCancel()
	if err := node.Deregister(deregisterCtx, cfg.RegistryURL, cfg.NodeID); err != nil {
		log.Warn("deregister failed", zap.Error(err))
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	n.MarkExited()
	log.Info("node stopped gracefully")
	return nil
}

func initLogger(format string) (*zap.Logger, error) {
	var zapCfg zap.Config
	if format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapCfg.Build()
}
