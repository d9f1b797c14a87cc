// Package app builds the collaborators shared by the CLI and the HTTP server
// from environment configuration.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/analytics-datacube/internal/cache/redisstore"
	"github.com/mohammed-shakir/analytics-datacube/internal/core/config"
	"github.com/mohammed-shakir/analytics-datacube/internal/core/httpclient"
	"github.com/mohammed-shakir/analytics-datacube/internal/events"
	"github.com/mohammed-shakir/analytics-datacube/internal/imagery"
	"github.com/mohammed-shakir/analytics-datacube/internal/logger"
	h3mapper "github.com/mohammed-shakir/analytics-datacube/internal/mapper/h3"
	"github.com/mohammed-shakir/analytics-datacube/internal/processor"
	"github.com/mohammed-shakir/analytics-datacube/internal/runs"
	"github.com/mohammed-shakir/analytics-datacube/internal/storage"
	"github.com/mohammed-shakir/analytics-datacube/internal/storage/azureblob"
	"github.com/mohammed-shakir/analytics-datacube/internal/storage/local"
	"github.com/mohammed-shakir/analytics-datacube/internal/storage/s3"
	"github.com/mohammed-shakir/analytics-datacube/internal/zarr"
)

func Logger(cfg config.Config, component string, out io.Writer) *slog.Logger {
	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "analytics-datacube",
		Component: component,
	}, out)
	return logger.NewSlog(&zl)
}

// CloudUploaders registers the remote providers only. The HTTP server uses it
// so callers cannot leave stores on the server's disk.
func CloudUploaders(cfg config.Config, log *slog.Logger) *storage.Registry {
	hc := httpclient.NewOutbound(0)
	reg := storage.NewRegistry()
	reg.Register(storage.AWSS3, s3.Factory(s3.Config{
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		Region:          cfg.AWS.Region,
		DefaultBucket:   cfg.AWS.Bucket,
		Endpoint:        cfg.AWS.Endpoint,
		HTTPClient:      hc,
	}, log))
	reg.Register(storage.AzureBlob, azureblob.Factory(azureblob.Config{
		AccountName: cfg.Azure.AccountName,
		Container:   cfg.Azure.Container,
		SASToken:    cfg.Azure.SASToken,
		Endpoint:    cfg.Azure.Endpoint,
		HTTPClient:  hc,
	}, log))
	return reg
}

// Uploaders adds LOCAL to the cloud providers for the CLI. Uploads run
// without a client timeout.
func Uploaders(cfg config.Config, log *slog.Logger) *storage.Registry {
	reg := CloudUploaders(cfg, log)
	reg.Register(storage.Local, local.Factory(log))
	return reg
}

// Imagery builds the imagery client; a non-empty bearerToken replaces the
// password grant.
func Imagery(cfg config.Config, bearerToken string, log *slog.Logger) (*imagery.HTTPClient, error) {
	queue, err := imagery.ParsePriorityQueue(cfg.Imagery.PriorityQueue)
	if err != nil {
		return nil, err
	}
	return imagery.New(imagery.Config{
		BaseURL:       cfg.Imagery.BaseURL,
		TokenURL:      cfg.Imagery.TokenURL,
		ClientID:      cfg.Imagery.ClientID,
		ClientSecret:  cfg.Imagery.ClientSecret,
		Username:      cfg.Imagery.Username,
		Password:      cfg.Imagery.Password,
		BearerToken:   bearerToken,
		PriorityQueue: queue,
		Backoff:       imagery.BackoffConfig{MaxRetries: cfg.Imagery.MaxRetries},
		HTTPClient:    httpclient.NewOutbound(cfg.Imagery.Timeout),
	}, log)
}

func Writer(cfg config.Config) (*zarr.Writer, error) {
	opts := zarr.DefaultOptions()
	opts.ChunkTime = cfg.Zarr.ChunkTime
	opts.ChunkSpace = cfg.Zarr.ChunkSpace
	opts.Compressor = cfg.Zarr.Compressor
	w, err := zarr.NewWriter(opts)
	if err != nil {
		return nil, fmt.Errorf("zarr writer: %w", err)
	}
	return w, nil
}

// Ledger connects the Redis run ledger. It returns a nil ledger when no
// address is configured.
func Ledger(ctx context.Context, cfg config.Config) (*runs.RedisLedger, *redisstore.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, nil, nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	rc, err := redisstore.New(pingCtx, cfg.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	return runs.NewRedisLedger(rc, cfg.RunTTL), rc, nil
}

// Events returns nil when publishing is disabled.
func Events(cfg config.Config, log *slog.Logger) (*events.Publisher, error) {
	if !cfg.Events.Enabled {
		return nil, nil
	}
	return events.NewPublisher(cfg.Events.Brokers, cfg.Events.Topic, cfg.Events.QueueSize, log)
}

// Processor wires the pipeline with H3 coverage enabled.
func Processor(cfg config.Config, client imagery.Client, writer processor.Serializer, log *slog.Logger, opts ...processor.Option) *processor.Processor {
	opts = append([]processor.Option{processor.WithCoverage(h3mapper.New())}, opts...)
	return processor.New(processor.Config{
		ScratchDir:     cfg.ScratchDir,
		CleanLocalFile: cfg.CleanLocal,
		H3Resolution:   cfg.H3Res,
	}, client, writer, log, opts...)
}
