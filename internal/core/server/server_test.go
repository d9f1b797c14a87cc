package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/analytics-datacube/internal/api"
	"github.com/mohammed-shakir/analytics-datacube/internal/auth"
	"github.com/mohammed-shakir/analytics-datacube/internal/core/health"
	"github.com/mohammed-shakir/analytics-datacube/internal/core/observability"
	"github.com/mohammed-shakir/analytics-datacube/internal/processor"
	"github.com/mohammed-shakir/analytics-datacube/internal/storage"
)

type noopRunner struct{}

func (noopRunner) Run(context.Context, processor.Job) (processor.Result, error) {
	return processor.Result{}, errors.New("not used")
}

func TestNewRouter_PublicAndProtectedRoutes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	observability.Init(reg)
	v, err := auth.NewVerifier("", 0)
	if err != nil {
		t.Fatal(err)
	}

	h := NewRouter(logger, Deps{
		API:      api.New(noopRunner{}, storage.NewRegistry(), nil, logger),
		Verifier: v,
		Metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Ready:    map[string]health.Check{"ledger": func(context.Context) error { return nil }},
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	for path, want := range map[string]int{
		"/healthz":                     http.StatusOK,
		"/readyz":                      http.StatusOK,
		"/analytics-datacube/runs/abc": http.StatusUnauthorized,
	} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("GET %s: status=%d want %d", path, resp.StatusCode, want)
		}
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(body), `http_requests_total{method="GET",route="/healthz",status="200"`) {
		t.Fatalf("http metrics not exposed:\n%s", body)
	}
}
