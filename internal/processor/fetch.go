package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammed-shakir/analytics-datacube/internal/core/model"
	"github.com/mohammed-shakir/analytics-datacube/internal/core/observability"
	"github.com/mohammed-shakir/analytics-datacube/internal/datacube"
	"github.com/mohammed-shakir/analytics-datacube/internal/imagery"
)

type IndicatorFailure struct {
	Indicator model.Indicator
	Err       error
}

// FetchReport is the outcome of the per-indicator loop, in request order.
type FetchReport struct {
	Succeeded []model.Indicator
	Failures  []IndicatorFailure
}

func (r FetchReport) Failed() []model.Indicator {
	out := make([]model.Indicator, 0, len(r.Failures))
	for _, f := range r.Failures {
		out = append(out, f.Indicator)
	}
	return out
}

// FetchAndMerge retrieves each indicator on its own, keeps going past
// per-indicator failures and outer-joins whatever succeeded.
func (p *Processor) FetchAndMerge(
	ctx context.Context,
	geometryWKT string,
	start, end time.Time,
	indicators []model.Indicator,
) (*datacube.Dataset, FetchReport, error) {
	var (
		report    FetchReport
		successes []*datacube.Dataset
	)

	if end.Before(start) {
		for _, ind := range indicators {
			p.logger.ErrorContext(ctx, "indicator fetch skipped", "indicator", string(ind), "err", ErrInvalidDateRange)
			report.Failures = append(report.Failures, IndicatorFailure{Indicator: ind, Err: ErrInvalidDateRange})
			observability.IncIndicatorFetch(false)
		}
	} else {
		for _, ind := range indicators {
			if err := ctx.Err(); err != nil {
				return nil, report, err
			}
			p.logger.InfoContext(ctx, "fetching indicator dataset", "indicator", string(ind))
			ds, err := p.client.TimeSeries(ctx, imagery.Request{
				Geometry:    geometryWKT,
				Start:       start,
				End:         end,
				Collections: imagery.DefaultCollections,
				Indicators:  []model.Indicator{ind},
			})
			if err != nil {
				p.logger.ErrorContext(ctx, "indicator fetch failed", "indicator", string(ind), "err", err)
				report.Failures = append(report.Failures, IndicatorFailure{Indicator: ind, Err: err})
				observability.IncIndicatorFetch(false)
				continue
			}
			observability.IncIndicatorFetch(true)
			report.Succeeded = append(report.Succeeded, ind)
			successes = append(successes, ds)
		}
	}

	p.logger.InfoContext(ctx, "merging indicator datasets",
		"succeeded", len(report.Succeeded),
		"failed", len(report.Failures),
	)
	merged, err := datacube.Merge(successes...)
	if err != nil {
		return nil, report, fmt.Errorf("%w: %w", ErrMerge, err)
	}
	return merged, report, nil
}
