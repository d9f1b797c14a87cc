package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammed-shakir/analytics-datacube/internal/api"
	"github.com/mohammed-shakir/analytics-datacube/internal/app"
	"github.com/mohammed-shakir/analytics-datacube/internal/auth"
	"github.com/mohammed-shakir/analytics-datacube/internal/core/config"
	"github.com/mohammed-shakir/analytics-datacube/internal/core/health"
	"github.com/mohammed-shakir/analytics-datacube/internal/core/observability"
	"github.com/mohammed-shakir/analytics-datacube/internal/core/server"
	"github.com/mohammed-shakir/analytics-datacube/internal/metrics"
	"github.com/mohammed-shakir/analytics-datacube/internal/processor"
	"github.com/mohammed-shakir/analytics-datacube/internal/runs"
)

var (
	Version   = "dev"
	Revision  = ""
	BuildDate = ""
)

func main() {
	os.Exit(run())
}

func run() int {
	config.LoadDotEnv()
	cfg := config.FromEnv()
	if Version == "dev" && cfg.BuildVersion != "" {
		Version = cfg.BuildVersion
	}

	appLog := app.Logger(cfg, "server", os.Stdout)
	observability.SetSurface("api")
	appLog.Info("starting analytics datacube server",
		"addr", cfg.Addr,
		"version", Version,
		"environment", cfg.Environment,
		"imagery", cfg.Imagery.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prov := metrics.Init(metrics.Config{
		Build: metrics.BuildInfo{Version: Version, Revision: Revision, BuildDate: BuildDate},
	})

	verifier, err := auth.NewVerifier(cfg.PublicKeyPEM, 1024)
	if err != nil {
		appLog.Error("invalid public key", "err", err)
		return 1
	}
	if !verifier.Enforcing() {
		appLog.Warn("no public key configured; bearer tokens are not signature checked")
	}

	// the caller's token is forwarded per request, so no static token here
	client, err := app.Imagery(cfg, "", appLog)
	if err != nil {
		appLog.Error("failed to initialize imagery client", "err", err)
		return 1
	}
	writer, err := app.Writer(cfg)
	if err != nil {
		appLog.Error("failed to initialize zarr writer", "err", err)
		return 1
	}

	var opts []processor.Option
	var ledger runs.Ledger
	ready := map[string]health.Check{}

	redisLedger, rc, err := app.Ledger(ctx, cfg)
	if err != nil {
		appLog.Error("redis connection failed", "addr", cfg.RedisAddr, "err", err)
		return 1
	}
	if redisLedger != nil {
		defer func() { _ = rc.Close() }()
		ledger = redisLedger
		opts = append(opts, processor.WithLedger(redisLedger))
		ready["redis"] = rc.Ping
	}

	pub, err := app.Events(cfg, appLog)
	if err != nil {
		appLog.Error("kafka producer setup failed", "brokers", cfg.Events.Brokers, "err", err)
		return 1
	}
	if pub != nil {
		defer func() { _ = pub.Close() }()
		opts = append(opts, processor.WithPublisher(pub))
	}

	proc := app.Processor(cfg, client, writer, appLog, opts...)
	deps := server.Deps{
		API:      api.New(proc, app.CloudUploaders(cfg, appLog), ledger, appLog),
		Verifier: verifier,
		Metrics:  prov.Handler(),
		Ready:    ready,
	}

	if err := server.Run(ctx, cfg.Addr, appLog, deps); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
