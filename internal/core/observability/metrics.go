package observability

import (
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// surfaceLabel tags every series with the entry point (api or cli).
var surfaceLabel atomic.Value

func init() {
	surfaceLabel.Store("api")
}

func SetSurface(s string) {
	if s == "" {
		s = "api"
	}
	surfaceLabel.Store(s)
}

func getSurface() string {
	if v := surfaceLabel.Load(); v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "api"
}

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status", "surface"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status", "surface"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream", "surface"},
	)

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datacube_runs_total",
			Help: "Datacube pipeline runs by result.",
		},
		[]string{"result", "surface"},
	)

	phaseDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datacube_phase_duration_seconds",
			Help:    "Duration of each pipeline phase in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"phase"},
	)

	indicatorFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datacube_indicator_fetch_total",
			Help: "Per-indicator imagery fetches by result.",
		},
		[]string{"result"},
	)

	storeOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Duration of run ledger Redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "result"},
	)

	uploadBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datacube_upload_bytes_total",
			Help: "Bytes uploaded to object storage by provider.",
		},
		[]string{"provider"},
	)
)

// Init registers the collectors on reg; repeated calls are no-ops.
func Init(reg prometheus.Registerer) {
	for _, c := range []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		upstreamLatencySeconds,
		runsTotal,
		phaseDurationSeconds,
		indicatorFetchTotal,
		storeOpDurationSeconds,
		uploadBytesTotal,
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	s := getSurface()
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st, s).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st, s).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream, getSurface()).Observe(durationSeconds)
}

// IncRun counts a finished run; result is "ok" or "error".
func IncRun(result string) {
	runsTotal.WithLabelValues(result, getSurface()).Inc()
}

func ObservePhase(phase string, durationSeconds float64) {
	phaseDurationSeconds.WithLabelValues(phase).Observe(durationSeconds)
}

func IncIndicatorFetch(ok bool) {
	if ok {
		indicatorFetchTotal.WithLabelValues("ok").Inc()
		return
	}
	indicatorFetchTotal.WithLabelValues("error").Inc()
}

func ObserveStoreOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	storeOpDurationSeconds.WithLabelValues(op, result).Observe(durationSeconds)
}

func AddUploadBytes(provider string, n int64) {
	if n <= 0 {
		return
	}
	uploadBytesTotal.WithLabelValues(provider).Add(float64(n))
}
