// Package api serves the datacube endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mohammed-shakir/analytics-datacube/internal/auth"
	"github.com/mohammed-shakir/analytics-datacube/internal/core/middleware"
	"github.com/mohammed-shakir/analytics-datacube/internal/core/model"
	"github.com/mohammed-shakir/analytics-datacube/internal/imagery"
	"github.com/mohammed-shakir/analytics-datacube/internal/input"
	"github.com/mohammed-shakir/analytics-datacube/internal/logger"
	"github.com/mohammed-shakir/analytics-datacube/internal/processor"
	"github.com/mohammed-shakir/analytics-datacube/internal/runs"
	"github.com/mohammed-shakir/analytics-datacube/internal/storage"
)

const (
	DefaultEntityID = "entity_1"
	maxBodyBytes    = 1 << 20
)

// Runner executes one datacube job.
type Runner interface {
	Run(ctx context.Context, job processor.Job) (processor.Result, error)
}

type Handler struct {
	runner    Runner
	uploaders *storage.Registry
	ledger    runs.Ledger
	newID     func() string
	logger    *slog.Logger
}

// New wires the handler; ledger may be nil, in which case run lookups answer 501.
func New(runner Runner, uploaders *storage.Registry, ledger runs.Ledger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		runner:    runner,
		uploaders: uploaders,
		ledger:    ledger,
		newID:     uuid.NewString,
		logger:    logger.With("component", "api"),
	}
}

// Mount registers the authenticated datacube routes.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/analytics-datacube", h.CreateDatacube)
	r.Get("/analytics-datacube/runs/{runID}", h.GetRun)
}

// DatacubeRequest is a parsed POST /analytics-datacube call.
type DatacubeRequest struct {
	Input    model.Input
	Provider storage.Provider
	Bucket   string
	EntityID string
	Metrics  bool
}

// ParseDatacubeRequest reads the JSON parameters body and the query string.
// Every error it returns wraps input.ErrInvalid.
func ParseDatacubeRequest(r *http.Request) (DatacubeRequest, error) {
	q := r.URL.Query()
	var problems []string

	var params model.Parameters
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&params); err != nil {
		problems = append(problems, fmt.Sprintf("body: invalid JSON parameters: %v", err))
	}

	provider, err := storage.ParseProvider(q.Get("cloud_storage_provider"))
	if err != nil {
		if strings.TrimSpace(q.Get("cloud_storage_provider")) == "" {
			problems = append(problems, "query.cloud_storage_provider is required")
		} else {
			problems = append(problems, "query.cloud_storage_provider: "+err.Error())
		}
	}

	indicators := splitRepeated(q["indicators"])
	if len(indicators) == 0 {
		problems = append(problems, "query.indicators must have at least 1 item(s)")
	}

	showMetrics := false
	switch m := strings.TrimSpace(q.Get("metrics")); {
	case m == "" || strings.EqualFold(m, "no"):
	case strings.EqualFold(m, "yes"):
		showMetrics = true
	default:
		problems = append(problems, fmt.Sprintf("query.metrics: %q is not one of Yes, No", m))
	}

	entityID := strings.TrimSpace(q.Get("entity_id"))
	if entityID == "" {
		entityID = DefaultEntityID
	}

	in := model.Input{Parameters: params, Indicators: indicators}
	if len(problems) == 0 {
		if err := input.Validate(in); err != nil {
			return DatacubeRequest{}, err
		}
	}
	if len(problems) > 0 {
		return DatacubeRequest{}, fmt.Errorf("%w: %s", input.ErrInvalid, strings.Join(problems, "; "))
	}

	return DatacubeRequest{
		Input:    in,
		Provider: provider,
		Bucket:   strings.TrimSpace(q.Get("aws_s3_bucket")),
		EntityID: entityID,
		Metrics:  showMetrics,
	}, nil
}

// indicators may be repeated or comma separated
func splitRepeated(vals []string) []string {
	var out []string
	for _, v := range vals {
		for p := range strings.SplitSeq(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func (h *Handler) CreateDatacube(w http.ResponseWriter, r *http.Request) {
	req, err := ParseDatacubeRequest(r)
	if err != nil {
		middleware.WriteDetail(w, http.StatusUnprocessableEntity, strings.TrimPrefix(err.Error(), input.ErrInvalid.Error()+": "))
		return
	}

	job, err := processor.JobFromInput(req.Input)
	if err != nil {
		middleware.WriteDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	up, err := h.uploaders.For(req.Provider, storage.Options{Bucket: req.Bucket})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrUnknownProvider) {
			status = http.StatusUnprocessableEntity
		}
		middleware.WriteDetail(w, status, err.Error())
		return
	}

	job.RunID = h.newID()
	job.EntityID = req.EntityID
	job.Uploader = up
	job.Metrics = req.Metrics
	w.Header().Set("X-Run-ID", job.RunID)

	ctx := logger.WithRunID(r.Context(), job.RunID)
	ctx = imagery.WithBearerToken(ctx, auth.TokenFrom(ctx))
	res, err := h.runner.Run(ctx, job)
	if err != nil {
		h.logger.ErrorContext(ctx, "datacube request failed", "err", err)
		middleware.WriteDetail(w, http.StatusInternalServerError, "Error while generating datacube: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(res.Output())
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		middleware.WriteDetail(w, http.StatusNotImplemented, "run tracking is not configured")
		return
	}
	runID := chi.URLParam(r, "runID")
	rec, err := h.ledger.Get(r.Context(), runID)
	if errors.Is(err, runs.ErrNotFound) {
		middleware.WriteDetail(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "run lookup failed", "run_id", runID, "err", err)
		middleware.WriteDetail(w, http.StatusInternalServerError, "run lookup failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rec)
}
