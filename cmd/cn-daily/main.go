package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"eodcollector/internal/config"
	"eodcollector/internal/gather/cn"
	"eodcollector/internal/util"
)

const healthService = "eodcollector.cn-daily"

func main() {
	os.Exit(run())
}

func run() int {
	date := flag.String("date", "", "trade date YYYY-MM-DD (default: today in schedule.timezone)")
	refresh := flag.Bool("refresh-universe", false, "refresh the symbol universe cache before collecting")
	daemon := flag.Bool("daemon", false, "stay resident and collect each trading day at schedule.run_at")
	flag.Parse()

	cfgPath := "config/collector.yaml"
	if p := os.Getenv("EODCOLLECTOR_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return 1
	}

	// Dual logger: stdout + /tmp log file.
	logFileName := fmt.Sprintf("/tmp/cn-daily-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.Create(logFileName)
	if err != nil {
		log.Printf("failed to create log file: %v", err)
		return 1
	}
	defer logFile.Close()
	util.SetDefault(util.NewLoggerTo(io.MultiWriter(os.Stdout, logFile), cfg.Logging.Level, cfg.Logging.Format))

	collector, err := cn.NewCollector(cfg)
	if err != nil {
		slog.Error("failed to build collector", "error", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *refresh {
		if u, ok := collector.Universe.(*cn.Universe); ok {
			symbols, err := u.Refresh(ctx)
			if err != nil {
				slog.Error("universe refresh failed", "error", err)
				return 1
			}
			slog.Info("universe refreshed", "symbols", len(symbols))
		}
	}

	if *daemon {
		if err := runDaemon(ctx, cfg, collector); err != nil {
			slog.Error("daemon error", "error", err)
			return 1
		}
		return 0
	}

	target := *date
	if target == "" {
		target = collector.Today()
	}
	slog.Info("starting cn-daily", "date", target, "logFile", logFileName)

	s, err := collector.RunAfterClose(ctx, target)
	if err != nil {
		slog.Error("run failed", "date", target, "error", err)
		return 1
	}
	slog.Info("run finished", "date", target, "level", s.Level, "success", s.Success, "expected", s.Expected)
	return s.Level.ExitCode()
}

// runDaemon collects once a day at schedule.run_at and exposes a gRPC health
// endpoint until ctx is cancelled.
func runDaemon(ctx context.Context, cfg *config.Config, c *cn.Collector) error {
	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return err
	}

	hs := health.NewServer()
	if cfg.Server.GRPCPort > 0 {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort)
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", addr, err)
		}
		gs := grpc.NewServer()
		healthpb.RegisterHealthServer(gs, hs)
		go func() {
			if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				slog.Error("health server stopped", "error", err)
			}
		}()
		defer gs.GracefulStop()
		slog.Info("health server listening", "addr", addr)
	}
	hs.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	defer hs.Shutdown()

	sched := gocron.NewScheduler(loc)
	sched.SingletonModeAll()
	if _, err := sched.Every(1).Day().At(cfg.Schedule.RunAt).Do(func() { collectIfNeeded(ctx, c) }); err != nil {
		return fmt.Errorf("scheduling daily run: %w", err)
	}
	sched.StartAsync()
	defer sched.Stop()

	slog.Info("daemon started", "runAt", cfg.Schedule.RunAt, "timezone", cfg.Schedule.Timezone)
	<-ctx.Done()
	hs.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)
	slog.Info("daemon stopping")
	return nil
}

func collectIfNeeded(ctx context.Context, c *cn.Collector) {
	date := c.Today()
	need, err := c.ShouldCollect(ctx, date)
	if err != nil {
		slog.Error("deciding whether to collect failed", "date", date, "error", err)
		return
	}
	if !need {
		slog.Info("nothing to collect", "date", date)
		return
	}
	s, err := c.RunAfterClose(ctx, date)
	if err != nil {
		slog.Error("scheduled run failed", "date", date, "error", err)
		return
	}
	slog.Info("scheduled run finished", "date", date, "level", s.Level)
}
