package processor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mohammed-shakir/analytics-datacube/internal/core/model"
	"github.com/mohammed-shakir/analytics-datacube/internal/datacube"
	"github.com/mohammed-shakir/analytics-datacube/internal/events"
	"github.com/mohammed-shakir/analytics-datacube/internal/imagery"
	"github.com/mohammed-shakir/analytics-datacube/internal/runs"
	"github.com/mohammed-shakir/analytics-datacube/internal/storage"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var (
	jan1  = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jan31 = time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
)

const squareWKT = "POLYGON((-91.2 40.1, -91.1 40.1, -91.1 40.2, -91.2 40.2, -91.2 40.1))"

// oneVar builds a 1x1x2 dataset holding a single variable.
func oneVar(t *testing.T, name string, vals ...float64) *datacube.Dataset {
	t.Helper()
	ds := datacube.New([]time.Time{jan1.AddDate(0, 0, 4)}, []float64{10}, []float64{1, 2})
	if err := ds.AddVariable(name, vals, nil); err != nil {
		t.Fatalf("AddVariable: %v", err)
	}
	return ds
}

// fakeClient answers per indicator from fixed results or errors.
type fakeClient struct {
	mu      sync.Mutex
	results map[model.Indicator]*datacube.Dataset
	errs    map[model.Indicator]error
	calls   []imagery.Request
}

func (f *fakeClient) TimeSeries(_ context.Context, req imagery.Request) (*datacube.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	ind := req.Indicators[0]
	if err, ok := f.errs[ind]; ok {
		return nil, err
	}
	if ds, ok := f.results[ind]; ok {
		return ds, nil
	}
	return nil, imagery.ErrNoImagery
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeUploader copies nothing; it records the path it was handed.
type fakeUploader struct {
	name      string
	credErr   error
	uploadErr error
	retain    bool
	uploaded  []string
	existed   bool
}

func (f *fakeUploader) Name() string {
	if f.name == "" {
		return "FAKE"
	}
	return f.name
}

func (f *fakeUploader) CheckCredentials() error { return f.credErr }

func (f *fakeUploader) Upload(_ context.Context, path string) (string, error) {
	_, err := os.Stat(filepath.Join(path, ".zmetadata"))
	f.existed = err == nil
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.uploaded = append(f.uploaded, path)
	return "fake://bucket/" + filepath.Base(path), nil
}

func (f *fakeUploader) RetainsLocal() bool { return f.retain }

var (
	_ storage.Uploader = (*fakeUploader)(nil)
	_ storage.Retainer = (*fakeUploader)(nil)
)

type failingWriter struct{}

func (failingWriter) Write(*datacube.Dataset, string, time.Time) (string, error) {
	return "", errors.New("disk full")
}

type memLedger struct {
	mu   sync.Mutex
	recs []runs.Record
}

func (m *memLedger) Put(_ context.Context, rec runs.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memLedger) Get(_ context.Context, id string) (runs.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.recs) - 1; i >= 0; i-- {
		if m.recs[i].RunID == id {
			return m.recs[i], nil
		}
	}
	return runs.Record{}, runs.ErrNotFound
}

type memPublisher struct {
	events []events.ReadyEvent
}

func (m *memPublisher) Publish(ev events.ReadyEvent) { m.events = append(m.events, ev) }

// fixedCoverage returns the same cells for any geometry.
type fixedCoverage []string

func (c fixedCoverage) CellsForWKT(string, int) ([]string, error) { return c, nil }
