package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UTBM-Alison/vital-connect/internal/common/logger"
	"github.com/UTBM-Alison/vital-connect/internal/config"
	"github.com/UTBM-Alison/vital-connect/internal/consumer"
	"github.com/UTBM-Alison/vital-connect/internal/metrics"
	"github.com/UTBM-Alison/vital-connect/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const (
	serviceName     = "wisefido-vitalconnect"
	version         = "1.0.0"
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("%s: %v", serviceName, err)
	}
}

func run() error {
	flags := pflag.NewFlagSet(serviceName, pflag.ExitOnError)
	configPath := flags.String("config", os.Getenv("VITALCONNECT_CONFIG"), "path to a YAML config file")
	host := flags.String("host", "", "listen host (overrides SERVER_HOST)")
	port := flags.Int("port", 0, "listen port (overrides SERVER_PORT)")
	verbose := flags.Bool("verbose", false, "verbose console output")
	colorized := flags.Bool("colorized", true, "ANSI colors in console output")
	_ = flags.Parse(os.Args[1:])

	// 加载配置
	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		return err
	}
	if flags.Changed("host") {
		cfg.Server.Host = *host
	}
	if flags.Changed("port") {
		cfg.Server.Port = *port
	}
	if flags.Changed("verbose") {
		cfg.Outputs.Console.Verbose = *verbose
	}
	if flags.Changed("colorized") {
		cfg.Outputs.Console.Colorized = *colorized
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// 初始化Logger
	zlog, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer zlog.Sync()

	zlog.Info("Starting wisefido-vitalconnect service",
		zap.String("version", version),
		zap.String("listen_addr", cfg.ListenAddr()),
		zap.Bool("metrics_enabled", cfg.Metrics.Enabled),
	)

	var (
		m        *metrics.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if m, err = metrics.New(registry); err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		gatherer = registry
	}

	outputs := service.BuildOutputs(cfg, os.Stdout, m, zlog)
	input := consumer.NewSocketIOServer(cfg, m, gatherer, zlog)

	vitalService, err := service.NewVitalService(input, outputs, m, zlog)
	if err != nil {
		if errors.Is(err, service.ErrNoOutputs) {
			return fmt.Errorf("no output enabled, enable at least one sink: %w", err)
		}
		return fmt.Errorf("failed to create vital service: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := vitalService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start vital service: %w", err)
	}

	// 等待中断信号
	<-ctx.Done()
	zlog.Info("Received signal, shutting down")

	// 优雅关闭
	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if err := vitalService.Stop(stopCtx); err != nil {
		zlog.Error("Error during shutdown", zap.Error(err))
	}

	zlog.Info("Service stopped")
	return nil
}
