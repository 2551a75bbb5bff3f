// Command gateway runs the Gateway: a rate limiter in front of a pluggable
// load balancer that forwards to one or more Coordinators.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/workshop/quorumkv/internal/config"
	"github.com/workshop/quorumkv/internal/gateway"
	"github.com/workshop/quorumkv/internal/httpx"
	"github.com/workshop/quorumkv/internal/metrics"
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
		Use:   "gateway",
		Short: "Run the quorumkv gateway",
		RunE:  runGateway,
	}
	flags := cmd.Flags()
	flags.Int("port", 9300, "listen port")
	flags.StringSlice("coordinators", []string{"127.0.0.1:9400"}, "coordinator host:port addresses to load-balance across")
	flags.Bool("rate-limit", true, "enable the fixed-window rate limiter")
	flags.Int("rate-limit-max", 100, "max requests per client per window")
	flags.Duration("rate-limit-window", time.Second, "rate limiter window size")
	flags.String("load-balance", "round-robin", "round-robin, adaptive, or weighted")
	flags.Float64("adaptive-k", 1.0, "latency weight for the adaptive strategy's score")
	flags.IntSlice("weights", nil, "per-coordinator weights for the weighted strategy, matched by position to --coordinators")
	flags.Duration("forward-timeout", 5*time.Second, "upstream request timeout")
	flags.String("log-format", "console", "json or console")
	return cmd
}

func runGateway(cmd *cobra.Command, _ []string) error {
	v, err := config.New(cmd.Flags())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	cfg := config.GatewayConfig{
		Port:             v.GetInt("port"),
		RateLimitEnabled: v.GetBool("rate-limit"),
		RateLimitMax:     v.GetInt("rate-limit-max"),
		RateLimitWindow:  v.GetDuration("rate-limit-window"),
		LoadBalance:      v.GetString("load-balance"),
	}

	log, err := initLogger(v.GetString("log-format"))
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	addrs := v.GetStringSlice("coordinators")
	if len(addrs) == 0 {
		return fmt.Errorf("at least one --coordinators address is required")
	}
	upstreams := make([]gateway.Upstream, len(addrs))
	for i, a := range addrs {
		upstreams[i] = gateway.Upstream{Addr: a, Weight: 1}
	}
	weights := v.GetIntSlice("weights")
	for i := range weights {
		if i < len(upstreams) && weights[i] > 0 {
			upstreams[i].Weight = weights[i]
		}
	}

	strategy, err := buildStrategy(cfg.LoadBalance, addrs, upstreams, v.GetFloat64("adaptive-k"))
	if err != nil {
		return err
	}

	maxPerWindow := cfg.RateLimitMax
	if !cfg.RateLimitEnabled {
		maxPerWindow = 0
	}

	lb := gateway.NewLoadBalancer(upstreams, strategy)
	fwd := gateway.NewForwarder(lb, v.GetDuration("forward-timeout"))
	limiter := gateway.NewRateLimiter(maxPerWindow, cfg.RateLimitWindow)
	m := metrics.NewGateway()
	srv := gateway.NewServer(limiter, fwd, m)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(httpx.RequestID(), httpx.Logger(log), httpx.Recovery(log))
	srv.Register(engine)

	httpSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: engine}

	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway listening", zap.Int("port", cfg.Port), zap.String("load_balance", cfg.LoadBalance),
			zap.Strings("coordinators", addrs))
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
	log.Info("gateway stopped gracefully")
	return nil
}

func buildStrategy(name string, addrs []string, upstreams []gateway.Upstream, adaptiveK float64) (gateway.Strategy, error) {
	switch strings.ToLower(name) {
	case "", "round-robin":
		return gateway.NewRoundRobin(addrs), nil
	case "adaptive":
		return gateway.NewAdaptive(addrs, adaptiveK), nil
	case "weighted":
		return gateway.NewWeighted(upstreams), nil
	default:
		return nil, fmt.Errorf("unknown --load-balance strategy %q", name)
	}
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
