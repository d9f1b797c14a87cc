// Package imagery retrieves per-indicator satellite time series from the
// imagery API and decodes them into datacube datasets.
package imagery

import (
	"context"
	"errors"
	"time"

	"github.com/mohammed-shakir/analytics-datacube/internal/core/model"
	"github.com/mohammed-shakir/analytics-datacube/internal/datacube"
)

type Collection string

const (
	Sentinel2 Collection = "SENTINEL_2"
	Landsat8  Collection = "LANDSAT_8"
)

// DefaultCollections is sent with every time-series request.
var DefaultCollections = []Collection{Sentinel2, Landsat8}

type PriorityQueue string

const (
	Realtime PriorityQueue = "realtime"
	Bulk     PriorityQueue = "bulk"
)

func ParsePriorityQueue(s string) (PriorityQueue, error) {
	switch PriorityQueue(s) {
	case "", Realtime:
		return Realtime, nil
	case Bulk:
		return Bulk, nil
	}
	return "", errors.New("priority queue must be realtime or bulk")
}

var (
	ErrNoImagery = errors.New("imagery: no images for the requested window")
	ErrAPI       = errors.New("imagery: api error")
	ErrDecode    = errors.New("imagery: malformed time-series response")
)

type Request struct {
	Geometry    string
	Start       time.Time
	End         time.Time
	Collections []Collection
	Indicators  []model.Indicator
}

// Client is the retrieval seam the processor depends on.
type Client interface {
	TimeSeries(ctx context.Context, req Request) (*datacube.Dataset, error)
}

type timeSeriesBody struct {
	Geometry      string        `json:"geometry"`
	StartDate     string        `json:"startDate"`
	EndDate       string        `json:"endDate"`
	Collections   []Collection  `json:"collections"`
	Indicators    []string      `json:"indicators"`
	PriorityQueue PriorityQueue `json:"priorityQueue"`
}

// timeSeriesResponse values are indexed [time][y][x]; null is no-data.
type timeSeriesResponse struct {
	X         []float64                 `json:"x"`
	Y         []float64                 `json:"y"`
	Time      []string                  `json:"time"`
	CRS       string                    `json:"crs"`
	Variables map[string][][][]*float64 `json:"variables"`
}
