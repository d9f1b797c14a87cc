package processor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/mohammed-shakir/analytics-datacube/internal/core/model"
	"github.com/mohammed-shakir/analytics-datacube/internal/datacube"
	"github.com/mohammed-shakir/analytics-datacube/internal/imagery"
)

func TestFetchAndMerge_PartialFailureKeepsOthers(t *testing.T) {
	var logs bytes.Buffer
	client := &fakeClient{
		results: map[model.Indicator]*datacube.Dataset{
			model.NDVI: oneVar(t, "NDVI", 0.1, 0.2),
			model.CVI:  oneVar(t, "CVI", 1.1, 1.2),
		},
		errs: map[model.Indicator]error{model.EVI: imagery.ErrAPI},
	}
	p := New(Config{}, client, failingWriter{}, slog.New(slog.NewJSONHandler(&logs, nil)))

	ds, report, err := p.FetchAndMerge(context.Background(), squareWKT, jan1, jan31,
		[]model.Indicator{model.NDVI, model.EVI, model.CVI})
	if err != nil {
		t.Fatalf("FetchAndMerge: %v", err)
	}

	names := ds.VarNames()
	if len(names) != 2 || names[0] != "CVI" || names[1] != "NDVI" {
		t.Fatalf("variables got %v want [CVI NDVI]", names)
	}
	failed := report.Failed()
	if len(failed) != 1 || failed[0] != model.EVI || !errors.Is(report.Failures[0].Err, imagery.ErrAPI) {
		t.Fatalf("failures got %+v", report.Failures)
	}
	if len(report.Succeeded) != 2 || report.Succeeded[0] != model.NDVI || report.Succeeded[1] != model.CVI {
		t.Fatalf("succeeded got %v", report.Succeeded)
	}

	var sawError bool
	for _, line := range strings.Split(logs.String(), "\n") {
		if strings.Contains(line, `"level":"ERROR"`) && strings.Contains(line, `"indicator":"EVI"`) {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("no error log record for EVI in:\n%s", logs.String())
	}

	if len(client.calls) != 3 {
		t.Fatalf("calls got %d want 3", len(client.calls))
	}
	for i, want := range []model.Indicator{model.NDVI, model.EVI, model.CVI} {
		c := client.calls[i]
		if len(c.Indicators) != 1 || c.Indicators[0] != want {
			t.Fatalf("call %d indicators got %v want [%s]", i, c.Indicators, want)
		}
		if len(c.Collections) != 2 || c.Collections[0] != imagery.Sentinel2 || c.Collections[1] != imagery.Landsat8 {
			t.Fatalf("call %d collections got %v", i, c.Collections)
		}
		if c.Geometry != squareWKT || !c.Start.Equal(jan1) || !c.End.Equal(jan31) {
			t.Fatalf("call %d got %+v", i, c)
		}
	}
}

func TestFetchAndMerge_AllFailIsMergeError(t *testing.T) {
	client := &fakeClient{}
	p := New(Config{}, client, failingWriter{}, discard())

	_, report, err := p.FetchAndMerge(context.Background(), squareWKT, jan1, jan31,
		[]model.Indicator{model.NDVI, model.LAI})
	if !errors.Is(err, ErrMerge) || !errors.Is(err, datacube.ErrEmptyMerge) {
		t.Fatalf("got %v want ErrMerge wrapping ErrEmptyMerge", err)
	}
	if errors.Is(err, ErrInvalidGeometry) {
		t.Fatalf("merge failure must be distinct from invalid geometry")
	}
	if len(report.Failures) != 2 || !errors.Is(report.Failures[1].Err, imagery.ErrNoImagery) {
		t.Fatalf("failures got %+v", report.Failures)
	}
}

func TestFetchAndMerge_NoIndicatorsIsMergeError(t *testing.T) {
	client := &fakeClient{}
	p := New(Config{}, client, failingWriter{}, discard())
	if _, _, err := p.FetchAndMerge(context.Background(), squareWKT, jan1, jan31, nil); !errors.Is(err, ErrMerge) {
		t.Fatalf("got %v want ErrMerge", err)
	}
	if client.callCount() != 0 {
		t.Fatalf("client called %d times", client.callCount())
	}
}

func TestFetchAndMerge_InvertedRangeSkipsClient(t *testing.T) {
	client := &fakeClient{results: map[model.Indicator]*datacube.Dataset{model.NDVI: oneVar(t, "NDVI", 1, 2)}}
	p := New(Config{}, client, failingWriter{}, discard())

	_, report, err := p.FetchAndMerge(context.Background(), squareWKT, jan31, jan1, []model.Indicator{model.NDVI})
	if !errors.Is(err, ErrMerge) {
		t.Fatalf("got %v want ErrMerge", err)
	}
	if client.callCount() != 0 {
		t.Fatalf("client called %d times for inverted range", client.callCount())
	}
	if len(report.Failures) != 1 || !errors.Is(report.Failures[0].Err, ErrInvalidDateRange) {
		t.Fatalf("failures got %+v", report.Failures)
	}
}

func TestFetchAndMerge_ConflictingValues(t *testing.T) {
	client := &fakeClient{results: map[model.Indicator]*datacube.Dataset{
		model.NDVI: oneVar(t, "NDVI", 0.1, 0.2),
		model.EVI:  oneVar(t, "NDVI", 0.9, 0.2),
	}}
	p := New(Config{}, client, failingWriter{}, discard())
	_, _, err := p.FetchAndMerge(context.Background(), squareWKT, jan1, jan31, []model.Indicator{model.NDVI, model.EVI})
	if !errors.Is(err, ErrMerge) || !errors.Is(err, datacube.ErrConflict) {
		t.Fatalf("got %v want ErrMerge wrapping ErrConflict", err)
	}
}
