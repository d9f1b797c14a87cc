// Package processor runs the datacube pipeline: prepare, fetch and merge,
// serialize, upload and cleanup.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/analytics-datacube/internal/cache/keys"
	"github.com/mohammed-shakir/analytics-datacube/internal/core/geometry"
	"github.com/mohammed-shakir/analytics-datacube/internal/core/model"
	"github.com/mohammed-shakir/analytics-datacube/internal/core/observability"
	"github.com/mohammed-shakir/analytics-datacube/internal/datacube"
	"github.com/mohammed-shakir/analytics-datacube/internal/events"
	"github.com/mohammed-shakir/analytics-datacube/internal/imagery"
	"github.com/mohammed-shakir/analytics-datacube/internal/logger"
	"github.com/mohammed-shakir/analytics-datacube/internal/runs"
	"github.com/mohammed-shakir/analytics-datacube/internal/storage"
)

type State string

const (
	Init       State = "INIT"
	Prepared   State = "PREPARED"
	Fetched    State = "FETCHED"
	Serialized State = "SERIALIZED"
	Uploaded   State = "UPLOADED"
	Cleaned    State = "CLEANED"
	Done       State = "DONE"
)

func (s State) verb() string {
	switch s {
	case Prepared:
		return "prepare"
	case Fetched:
		return "fetch"
	case Serialized:
		return "serialize"
	case Uploaded:
		return "upload"
	case Cleaned:
		return "cleanup"
	}
	return strings.ToLower(string(s))
}

// ledgerTimeout bounds a single ledger write, which outlives a cancelled run.
const ledgerTimeout = 5 * time.Second

// maxH3Cells bounds the coverage list carried in attrs and events.
const maxH3Cells = 20000

// Serializer writes a dataset under dir and returns the store path.
type Serializer interface {
	Write(ds *datacube.Dataset, dir string, now time.Time) (string, error)
}

// Coverage computes the H3 cells of a polygonal WKT geometry.
type Coverage interface {
	CellsForWKT(wkt string, res int) ([]string, error)
}

// Publisher receives ready notifications after a successful upload.
type Publisher interface {
	Publish(ev events.ReadyEvent)
}

type Config struct {
	ScratchDir     string
	CleanLocalFile bool
	H3Resolution   int
}

type Option func(*Processor)

func WithLedger(l runs.Ledger) Option { return func(p *Processor) { p.ledger = l } }

func WithPublisher(pub Publisher) Option { return func(p *Processor) { p.events = pub } }

func WithCoverage(c Coverage) Option { return func(p *Processor) { p.coverage = c } }

func WithNetCounter(c NetCounter) Option { return func(p *Processor) { p.net = c } }

func WithClock(now func() time.Time) Option { return func(p *Processor) { p.now = now } }

type Processor struct {
	cfg      Config
	client   imagery.Client
	writer   Serializer
	coverage Coverage
	ledger   runs.Ledger
	events   Publisher
	net      NetCounter
	now      func() time.Time
	logger   *slog.Logger
}

func New(cfg Config, client imagery.Client, writer Serializer, log *slog.Logger, opts ...Option) *Processor {
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Processor{
		cfg:    cfg,
		client: client,
		writer: writer,
		net:    ProcNetCounter(),
		now:    time.Now,
		logger: log.With("component", "processor"),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Job is one datacube request.
type Job struct {
	RunID      string
	EntityID   string
	Geometry   string
	Start      time.Time
	End        time.Time
	Indicators []model.Indicator
	Uploader   storage.Uploader
	Metrics    bool
}

// JobFromInput parses the dates and indicators of a validated input document.
func JobFromInput(in model.Input) (Job, error) {
	start, err := model.ParseDate(in.Parameters.StartDate)
	if err != nil {
		return Job{}, fmt.Errorf("startDate: %w", err)
	}
	end, err := model.ParseDate(in.Parameters.EndDate)
	if err != nil {
		return Job{}, fmt.Errorf("endDate: %w", err)
	}
	inds, err := model.ParseIndicators(in.Indicators)
	if err != nil {
		return Job{}, err
	}
	return Job{
		Geometry:   in.Parameters.Polygon,
		Start:      start,
		End:        end,
		Indicators: inds,
	}, nil
}

type Result struct {
	RunID            string
	StorageLink      string
	Metrics          *model.Metrics
	FailedIndicators []model.Indicator
	LocalPath        string
	Cleaned          bool
}

func (r Result) Output() model.Output {
	out := model.Output{StorageLinks: r.StorageLink, Metrics: r.Metrics}
	for _, ind := range r.FailedIndicators {
		out.FailedIndicators = append(out.FailedIndicators, string(ind))
	}
	return out
}

// Run executes the pipeline once. The run ID comes from the job, then from
// ctx, and is generated otherwise. Phases are never retried; a failure is
// returned as *PhaseError wrapping the phase sentinel.
func (p *Processor) Run(ctx context.Context, job Job) (Result, error) {
	if job.RunID == "" {
		job.RunID = logger.RunID(ctx)
	}
	if job.RunID == "" {
		job.RunID = uuid.NewString()
	}
	ctx = logger.WithRunID(ctx, job.RunID)
	ctx = logger.WithEntityID(ctx, job.EntityID)

	if job.Uploader == nil {
		observability.IncRun("error")
		return Result{RunID: job.RunID}, &PhaseError{Phase: Prepared, Err: errors.New("no uploader configured")}
	}

	names := indicatorNames(job.Indicators)
	rec := runs.Record{
		RunID:       job.RunID,
		EntityID:    job.EntityID,
		Status:      runs.Processing,
		Provider:    job.Uploader.Name(),
		Indicators:  names,
		Fingerprint: keys.Request(job.Geometry, job.Start.Format(time.DateOnly), job.End.Format(time.DateOnly), names),
		StartedAt:   p.now().UTC(),
	}
	p.record(ctx, rec)
	p.logger.InfoContext(ctx, "processor triggered",
		"provider", rec.Provider,
		"indicators", names,
	)

	res, cells, err := p.run(ctx, job)
	if err != nil {
		observability.IncRun("error")
		p.logger.ErrorContext(ctx, "datacube run failed", "err", err)
		rec.Status = runs.Error
		rec.Error = err.Error()
		rec.FailedIndicators = indicatorNames(res.FailedIndicators)
		p.record(ctx, rec)
		return res, err
	}

	observability.IncRun("ok")
	rec.Status = runs.Ready
	rec.StorageLink = res.StorageLink
	rec.FailedIndicators = indicatorNames(res.FailedIndicators)
	p.record(ctx, rec)

	if p.events != nil {
		p.events.Publish(events.ReadyEvent{
			RunID:            job.RunID,
			EntityID:         job.EntityID,
			Fingerprint:      rec.Fingerprint,
			Provider:         rec.Provider,
			StorageLink:      res.StorageLink,
			Indicators:       names,
			FailedIndicators: rec.FailedIndicators,
			H3Resolution:     p.h3Resolution(cells),
			H3Cells:          cells,
			TS:               p.now().UTC(),
		})
	}
	p.logger.InfoContext(ctx, "datacube ready", "storage_link", res.StorageLink, "state", Done)
	return res, nil
}

func (p *Processor) run(ctx context.Context, job Job) (Result, []string, error) {
	res := Result{RunID: job.RunID}
	started := p.now()

	if err := p.phase(ctx, Prepared, job.Uploader.CheckCredentials); err != nil {
		return res, nil, err
	}

	netStart := sample(p.net)

	var (
		ds    *datacube.Dataset
		cells []string
	)
	err := p.phase(ctx, Fetched, func() error {
		wkt, err := geometry.Normalize(job.Geometry)
		if err != nil {
			return err
		}
		cells = p.cells(ctx, wkt)

		merged, report, err := p.FetchAndMerge(ctx, wkt, job.Start, job.End, job.Indicators)
		res.FailedIndicators = report.Failed()
		if err != nil {
			return err
		}
		if len(cells) > 0 {
			merged.Attrs["h3_resolution"] = p.cfg.H3Resolution
			merged.Attrs["h3_cells"] = cells
		}
		ds = merged
		return nil
	})
	if err != nil {
		return res, nil, err
	}

	var path string
	err = p.phase(ctx, Serialized, func() error {
		written, err := p.writer.Write(ds, p.cfg.ScratchDir, p.now())
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSerialization, err)
		}
		if job.EntityID != "" {
			renamed := filepath.Join(filepath.Dir(written), safeName(job.EntityID)+"_"+filepath.Base(written))
			if err := os.Rename(written, renamed); err != nil {
				_ = os.RemoveAll(written)
				return fmt.Errorf("%w: rename store: %w", ErrSerialization, err)
			}
			written = renamed
		}
		path = written
		return nil
	})
	if err != nil {
		return res, nil, err
	}
	res.LocalPath = path
	p.logger.InfoContext(ctx, "datacube serialized", "path", path)
	netGenerated := sample(p.net)

	provider := job.Uploader.Name()
	err = p.phase(ctx, Uploaded, func() error {
		uri, err := job.Uploader.Upload(ctx, path)
		if err != nil {
			return fmt.Errorf("%w to %s: %w", ErrUpload, provider, err)
		}
		res.StorageLink = uri
		if files, err := storage.Files(path); err == nil {
			observability.AddUploadBytes(provider, storage.TotalSize(files))
		}
		return nil
	})
	if err != nil {
		return res, nil, err
	}

	if p.cfg.CleanLocalFile && !retainsLocal(job.Uploader) {
		start := p.now()
		if err := os.RemoveAll(path); err != nil {
			p.logger.WarnContext(ctx, "delete local store", "path", path, "err", err)
		} else {
			res.Cleaned = true
		}
		observability.ObservePhase(Cleaned.verb(), p.now().Sub(start).Seconds())
	}
	netUploaded := sample(p.net)

	if job.Metrics {
		res.Metrics = &model.Metrics{
			ExecutionTime:            FormatDuration(p.now().Sub(started)),
			DataGenerationNetworkUse: networkUse(netStart, netGenerated),
			DataUploadNetworkUse:     networkUse(netGenerated, netUploaded),
		}
	}
	return res, cells, nil
}

func (p *Processor) phase(ctx context.Context, s State, fn func() error) error {
	start := p.now()
	err := fn()
	observability.ObservePhase(s.verb(), p.now().Sub(start).Seconds())
	if err != nil {
		return &PhaseError{Phase: s, Err: err}
	}
	p.logger.DebugContext(ctx, "state reached", "state", s)
	return nil
}

// cells is best effort; coverage problems never fail a run.
func (p *Processor) cells(ctx context.Context, wkt string) []string {
	if p.coverage == nil {
		return nil
	}
	cells, err := p.coverage.CellsForWKT(wkt, p.cfg.H3Resolution)
	if err != nil {
		p.logger.WarnContext(ctx, "h3 coverage skipped", "err", err)
		return nil
	}
	if len(cells) > maxH3Cells {
		p.logger.WarnContext(ctx, "h3 coverage too large", "cells", len(cells), "res", p.cfg.H3Resolution)
		return nil
	}
	return cells
}

func (p *Processor) h3Resolution(cells []string) int {
	if len(cells) == 0 {
		return 0
	}
	return p.cfg.H3Resolution
}

func (p *Processor) record(ctx context.Context, rec runs.Record) {
	if p.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()
	if err := p.ledger.Put(ctx, rec); err != nil {
		p.logger.WarnContext(ctx, "run ledger update failed", "status", rec.Status, "err", err)
	}
}

func retainsLocal(u storage.Uploader) bool {
	r, ok := u.(storage.Retainer)
	return ok && r.RetainsLocal()
}

func indicatorNames(inds []model.Indicator) []string {
	if len(inds) == 0 {
		return nil
	}
	out := make([]string, len(inds))
	for i, ind := range inds {
		out[i] = string(ind)
	}
	return out
}

// safeName keeps an entity ID from escaping the scratch directory.
func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
}
