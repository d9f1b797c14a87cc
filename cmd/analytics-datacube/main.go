package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mohammed-shakir/analytics-datacube/internal/app"
	"github.com/mohammed-shakir/analytics-datacube/internal/auth"
	"github.com/mohammed-shakir/analytics-datacube/internal/core/config"
	"github.com/mohammed-shakir/analytics-datacube/internal/core/observability"
	"github.com/mohammed-shakir/analytics-datacube/internal/input"
	"github.com/mohammed-shakir/analytics-datacube/internal/processor"
	"github.com/mohammed-shakir/analytics-datacube/internal/storage"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

type flags struct {
	inputPath   string
	bearerToken string
	bucket      string
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("analytics-datacube", flag.ContinueOnError)
	fs.StringVar(&f.inputPath, "input_path", "", "path to the JSON input document")
	fs.StringVar(&f.bearerToken, "bearer_token", "", "bearer token for the imagery API")
	fs.StringVar(&f.bucket, "aws_s3_bucket_name", "", "upload to this S3 bucket instead of keeping the store locally")
	err := fs.Parse(args)
	return f, err
}

// inputPath picks the document location for the deployment environment.
// Local runs always read INPUT_JSON_PATH.
func inputPath(cfg config.Config, flagPath string) (string, error) {
	switch cfg.Environment {
	case "local":
		return cfg.InputPath, nil
	case "integration", "validation", "production":
		if strings.TrimSpace(flagPath) == "" {
			return "", fmt.Errorf("--input_path is required in %s", cfg.Environment)
		}
		return flagPath, nil
	}
	return "", fmt.Errorf("unknown APP_ENVIRONMENT %q", cfg.Environment)
}

func run(args []string, stdout io.Writer) int {
	config.LoadDotEnv()
	cfg := config.FromEnv()
	log := app.Logger(cfg, "cli", os.Stderr)
	observability.SetSurface("cli")

	f, err := parseFlags(args)
	if err != nil {
		log.Error("invalid arguments", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	uri, err := generate(ctx, cfg, f, log)
	if err != nil {
		log.Error("datacube generation failed", "err", err)
		return 1
	}
	fmt.Fprintf(stdout, "output_file: %s\n", uri)
	return 0
}

func generate(ctx context.Context, cfg config.Config, f flags, log *slog.Logger) (string, error) {
	path, err := inputPath(cfg, f.inputPath)
	if err != nil {
		return "", err
	}
	doc, err := input.Load(path)
	if err != nil {
		return "", err
	}
	job, err := processor.JobFromInput(doc)
	if err != nil {
		return "", fmt.Errorf("%w: %v", input.ErrInvalid, err)
	}

	if f.bearerToken != "" && cfg.PublicKeyPEM != "" {
		v, err := auth.NewVerifier(cfg.PublicKeyPEM, 1)
		if err != nil {
			return "", err
		}
		if err := v.Verify(f.bearerToken); err != nil {
			return "", auth.ErrUnauthorized
		}
	}

	provider := storage.Local
	if f.bucket != "" {
		provider = storage.AWSS3
	}
	up, err := app.Uploaders(cfg, log).For(provider, storage.Options{Bucket: f.bucket})
	if err != nil {
		return "", err
	}
	if err := up.CheckCredentials(); err != nil {
		return "", err
	}

	client, err := app.Imagery(cfg, auth.StripBearer(f.bearerToken), log)
	if err != nil {
		return "", err
	}
	writer, err := app.Writer(cfg)
	if err != nil {
		return "", err
	}

	job.Uploader = up
	job.Metrics = true
	res, err := app.Processor(cfg, client, writer, log).Run(ctx, job)
	if err != nil {
		var pe *processor.PhaseError
		if errors.As(err, &pe) {
			log.Error("pipeline phase failed", "phase", string(pe.Phase))
		}
		return "", err
	}
	if len(res.FailedIndicators) > 0 {
		log.Warn("some indicators could not be fetched", "failed_indicators", res.Output().FailedIndicators)
	}
	if res.Metrics != nil {
		log.Info("datacube generated",
			"execution_time", res.Metrics.ExecutionTime,
			"data_generation_network_use", res.Metrics.DataGenerationNetworkUse,
			"data_upload_network_use", res.Metrics.DataUploadNetworkUse)
	}
	return res.StorageLink, nil
}
