// Command registry runs the Registry: the authoritative table of live
// nodes, kept current by heartbeats and swept by a pruner, with an
// optional auto-respawn hook.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/workshop/quorumkv/internal/client"
	"github.com/workshop/quorumkv/internal/config"
	"github.com/workshop/quorumkv/internal/httpx"
	"github.com/workshop/quorumkv/internal/membership"
	"github.com/workshop/quorumkv/internal/metrics"
	"github.com/workshop/quorumkv/internal/wire"
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
		Use:   "registry",
		Short: "Run the quorumkv registry",
		RunE:  runRegistry,
	}
	flags := cmd.Flags()
	flags.Int("port", 9500, "listen port")
	flags.Bool("auto-spawn", false, "auto-respawn pruned followers")
	flags.Duration("spawn-delay", 10*time.Second, "cooldown before auto-respawn")
	flags.Duration("prune-threshold", membership.DefaultPruneThreshold, "heartbeat staleness before pruning")
	flags.String("coordinator", "http://127.0.0.1:9400", "coordinator base URL, used for auto-respawn requests")
	flags.String("log-format", "console", "json or console")
	return cmd
}

func runRegistry(cmd *cobra.Command, _ []string) error {
	v, err := config.New(cmd.Flags())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	cfg := config.RegistryConfig{
		Port:           v.GetInt("port"),
		AutoSpawn:      v.GetBool("auto-spawn"),
		SpawnDelay:     v.GetDuration("spawn-delay"),
		PruneThreshold: v.GetDuration("prune-threshold"),
		CoordinatorURL: v.GetString("coordinator"),
	}

	log, err := initLogger(v.GetString("log-format"))
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	if cfg.SpawnDelay < cfg.PruneThreshold {
		log.Warn("spawn_delay is shorter than prune_threshold; a transient network blip can cause a duplicate ghost process",
			zap.Duration("spawn_delay", cfg.SpawnDelay), zap.Duration("prune_threshold", cfg.PruneThreshold))
	}

	m := metrics.NewRegistry()
	coordClient := client.New(cfg.CoordinatorURL, 10*time.Second)

	reg := membership.New(membership.Config{
		PruneThreshold: cfg.PruneThreshold,
		AutoSpawn:      cfg.AutoSpawn,
		SpawnDelay:     cfg.SpawnDelay,
		Respawn: func(ctx context.Context, desc wire.NodeDescriptor) error {
			_, err := coordClient.Spawn(ctx)
			return err
		},
		ResurrectHint: func(ctx context.Context, desc wire.NodeDescriptor) {
			if err := coordClient.Resurrected(ctx, desc); err != nil {
				log.Warn("resurrection hint failed", zap.String("node_id", desc.NodeID), zap.Error(err))
			}
		},
		Log:     log,
		Metrics: m,
	})

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(httpx.RequestID(), httpx.Logger(log), httpx.Recovery(log))
	membership.NewServer(reg).Register(engine)

	httpSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: engine}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info("registry listening", zap.Int("port", cfg.Port), zap.Bool("auto_spawn", cfg.AutoSpawn))
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

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Info("registry stopped gracefully")
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
