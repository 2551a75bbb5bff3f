// Command coordinator runs the Coordinator: the single writer of
// cluster.Layout, the quorum write/read orchestrator, and the process
// supervisor that spawns and kills node processes.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/workshop/quorumkv/internal/client"
	"github.com/workshop/quorumkv/internal/cluster"
	"github.com/workshop/quorumkv/internal/config"
	"github.com/workshop/quorumkv/internal/coordinator"
	"github.com/workshop/quorumkv/internal/httpx"
	"github.com/workshop/quorumkv/internal/metrics"
	"github.com/workshop/quorumkv/internal/quorum"
	"github.com/workshop/quorumkv/internal/wire"
)

const (
	syncDelay  = 500 * time.Millisecond
	asyncDelay = 5 * time.Second
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
		Use:   "coordinator",
		Short: "Run the quorumkv coordinator",
		RunE:  runCoordinator,
	}
	flags := cmd.Flags()
	flags.Int("port", 9400, "listen port")
	flags.Int("followers", 2, "number of followers in the initial layout")
	flags.Int("write-quorum", 2, "write quorum W")
	flags.Int("read-quorum", 2, "read quorum R; W+R must exceed the follower count to avoid stale reads")
	flags.String("registry", "http://127.0.0.1:9500", "registry base URL")
	flags.Bool("read-retry", false, "retry reads against live followers outside the read set when fewer than R answer")
	flags.Int("leader-port", 9000, "leader node port")
	flags.Int("follower-base-port", 9001, "first follower port; followers occupy consecutive ports from here")
	flags.String("node-binary", "", "path to the compiled node binary (defaults to ./node next to this binary)")
	flags.String("log-format", "console", "json or console")
	return cmd
}

func runCoordinator(cmd *cobra.Command, _ []string) error {
	v, err := config.New(cmd.Flags())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	cfg := config.CoordinatorConfig{
		Followers:   v.GetInt("followers"),
		WriteQuorum: v.GetInt("write-quorum"),
		ReadQuorum:  v.GetInt("read-quorum"),
		RegistryURL: v.GetString("registry"),
	}

	log, err := initLogger(v.GetString("log-format"))
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	if cfg.WriteQuorum+cfg.ReadQuorum <= cfg.Followers {
		log.Warn("write_quorum + read_quorum does not exceed follower count; stale reads become possible",
			zap.Int("write_quorum", cfg.WriteQuorum), zap.Int("read_quorum", cfg.ReadQuorum), zap.Int("followers", cfg.Followers))
	}

	nodeBinary := v.GetString("node-binary")
	if nodeBinary == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve executable: %w", err)
		}
		nodeBinary = filepath.Join(filepath.Dir(exe), "node")
	}

	leader := wire.NodeDescriptor{
		NodeID:       "leader",
		Role:         "leader",
		Host:         "127.0.0.1",
		Port:         v.GetInt("leader-port"),
		StartupEpoch: 1,
	}

	layout := cluster.New(leader, cfg.WriteQuorum, cfg.ReadQuorum, syncDelay.Milliseconds(), asyncDelay.Milliseconds())
	spawner := cluster.NewSpawner(nodeBinary, v.GetInt("follower-base-port"), cfg.WriteQuorum, syncDelay, asyncDelay, cfg.RegistryURL, log)
	registryClient := client.NewRegistryClient(cfg.RegistryURL)
	m := metrics.NewCoordinator()

	q := quorum.New(quorum.Config{
		Layout:              layout,
		Alive:               func(ctx context.Context) ([]wire.NodeDescriptor, error) { return registryClient.Alive(ctx) },
		Log:                 log,
		Metrics:             m,
		RetryReadOutsideSet: v.GetBool("read-retry"),
	})

	bootstrapCtx, bootstrapCancel := context.WithTimeout(context.Background(), 30*time.Second)
	for i := 0; i < cfg.Followers; i++ {
		desc, _, err := spawner.Spawn(bootstrapCtx, nil, fmt.Sprintf("%s:%d", leader.Host, leader.Port), false)
		if err != nil {
			bootstrapCancel()
			return fmt.Errorf("bootstrap follower %d/%d: %w", i+1, cfg.Followers, err)
		}
		layout.AddFollower(desc)
		log.Info("bootstrapped follower", zap.String("node_id", desc.NodeID), zap.Int("port", desc.Port))
	}
	bootstrapCancel()

	srv := coordinator.NewServer(layout, spawner, q, registryClient, m)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(httpx.RequestID(), httpx.Logger(log), httpx.Recovery(log))
	srv.Register(engine)

	httpSrv := &http.Server{Addr: fmt.Sprintf(":%d", v.GetInt("port")), Handler: engine}

	errCh := make(chan error, 1)
	go func() {
		log.Info("coordinator listening", zap.Int("port", v.GetInt("port")),
			zap.Int("write_quorum", cfg.WriteQuorum), zap.Int("read_quorum", cfg.ReadQuorum))
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

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Info("coordinator stopped gracefully")
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
