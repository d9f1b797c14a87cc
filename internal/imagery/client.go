package imagery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"

	"github.com/mohammed-shakir/analytics-datacube/internal/core/httpclient"
	"github.com/mohammed-shakir/analytics-datacube/internal/core/model"
	"github.com/mohammed-shakir/analytics-datacube/internal/core/observability"
	"github.com/mohammed-shakir/analytics-datacube/internal/datacube"
)

const timeSeriesPath = "/analytics/v1/time-series"

type Config struct {
	BaseURL string

	// Password grant against the identity server, used when BearerToken is empty.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string

	BearerToken   string
	PriorityQueue PriorityQueue
	Backoff       BackoffConfig

	// HTTPClient is the base client; defaults to httpclient.NewOutbound.
	HTTPClient *http.Client
}

type HTTPClient struct {
	endpoint string
	http     *http.Client // authenticated by the configured token source
	plain    *http.Client // used with a caller token from the context
	queue    PriorityQueue
	backoff  BackoffConfig
	circuit  *gobreaker.CircuitBreaker
	logger   *slog.Logger
}

var _ Client = (*HTTPClient)(nil)

func New(cfg Config, logger *slog.Logger) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("imagery: base URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = httpclient.NewOutbound(5 * time.Minute)
	}
	ts, err := tokenSource(cfg, hc)
	if err != nil {
		return nil, err
	}

	bo := cfg.Backoff
	if bo.InitialInterval <= 0 {
		bo.InitialInterval = 500 * time.Millisecond
	}
	if bo.MaxInterval <= 0 {
		bo.MaxInterval = 5 * time.Second
	}
	if bo.MaxRetries < 0 {
		bo.MaxRetries = 0
	}

	queue := cfg.PriorityQueue
	if queue == "" {
		queue = Realtime
	}

	var authed *http.Client
	if ts != nil {
		authed = &http.Client{
			Transport: &oauth2.Transport{Source: ts, Base: hc.Transport},
			Timeout:   hc.Timeout,
		}
	}

	return &HTTPClient{
		endpoint: base + timeSeriesPath,
		http:     authed,
		plain:    hc,
		queue:    queue,
		backoff:  bo,
		circuit: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "imagery",
			MaxRequests: 5,
			Interval:    1 * time.Minute,
			Timeout:     2 * time.Minute,
		}),
		logger: logger,
	}, nil
}

type ctxTokenKey struct{}

// WithBearerToken makes TimeSeries calls under ctx authenticate with token
// instead of the configured credentials.
func WithBearerToken(ctx context.Context, token string) context.Context {
	if strings.TrimSpace(token) == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxTokenKey{}, strings.TrimSpace(token))
}

func tokenSource(cfg Config, hc *http.Client) (oauth2.TokenSource, error) {
	if tok := strings.TrimSpace(cfg.BearerToken); tok != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok, TokenType: "Bearer"}), nil
	}
	if cfg.TokenURL == "" || cfg.Username == "" || cfg.Password == "" {
		// only callers that pass WithBearerToken can be served
		return nil, nil
	}
	return oauth2.ReuseTokenSource(nil, &passwordSource{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		username: cfg.Username,
		password: cfg.Password,
		hc:       hc,
	}), nil
}

// passwordSource fetches a fresh token with the resource owner password grant.
type passwordSource struct {
	conf     *oauth2.Config
	username string
	password string
	hc       *http.Client
}

func (s *passwordSource) Token() (*oauth2.Token, error) {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, s.hc)
	tok, err := s.conf.PasswordCredentialsToken(ctx, s.username, s.password)
	if err != nil {
		return nil, fmt.Errorf("identity server: %w", err)
	}
	return tok, nil
}

// TimeSeries fetches the requested indicators over the geometry and date window.
func (c *HTTPClient) TimeSeries(ctx context.Context, req Request) (*datacube.Dataset, error) {
	if len(req.Indicators) == 0 {
		return nil, fmt.Errorf("%w: no indicators requested", ErrAPI)
	}
	cols := req.Collections
	if len(cols) == 0 {
		cols = DefaultCollections
	}
	names := make([]string, len(req.Indicators))
	for i, ind := range req.Indicators {
		names[i] = string(ind)
	}

	payload, err := json.Marshal(timeSeriesBody{
		Geometry:      req.Geometry,
		StartDate:     req.Start.Format(time.DateOnly),
		EndDate:       req.End.Format(time.DateOnly),
		Collections:   cols,
		Indicators:    names,
		PriorityQueue: c.queue,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	hc := c.http
	callerToken, _ := ctx.Value(ctxTokenKey{}).(string)
	if callerToken != "" {
		hc = c.plain
	}
	if hc == nil {
		return nil, fmt.Errorf("%w: no bearer token and no identity server credentials", ErrAPI)
	}

	start := time.Now()
	resp, err := doRequestWithResilience(ctx, hc, c.backoff, c.circuit, func() (*http.Request, error) {
		r, err := http.NewRequest(http.MethodPost, c.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Accept", "application/json")
		if callerToken != "" {
			r.Header.Set("Authorization", "Bearer "+callerToken)
		}
		return r, nil
	})
	observability.ObserveUpstreamLatency("imagery", time.Since(start).Seconds())
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNoImagery, strings.Join(names, ","))
		}
		return nil, fmt.Errorf("%w: %v", ErrAPI, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var body timeSeriesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	ds, err := toDataset(body, req.Indicators)
	if err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "imagery time series",
		"indicators", names,
		"time_steps", len(ds.Time),
		"width", len(ds.X),
		"height", len(ds.Y),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return ds, nil
}

func toDataset(body timeSeriesResponse, indicators []model.Indicator) (*datacube.Dataset, error) {
	if len(body.Time) == 0 {
		return nil, ErrNoImagery
	}
	times := make([]time.Time, len(body.Time))
	for i, s := range body.Time {
		t, err := model.ParseDate(s)
		if err != nil {
			return nil, fmt.Errorf("%w: time[%d]: %v", ErrDecode, i, err)
		}
		times[i] = t
	}

	ds := datacube.New(times, body.Y, body.X)
	if body.CRS != "" {
		ds.Attrs["crs"] = body.CRS
	}
	nt, ny, nx := ds.Shape()

	for _, ind := range indicators {
		raw, ok := body.Variables[string(ind)]
		if !ok {
			return nil, fmt.Errorf("%w: variable %s missing", ErrDecode, ind)
		}
		if len(raw) != nt {
			return nil, fmt.Errorf("%w: %s has %d time steps, want %d", ErrDecode, ind, len(raw), nt)
		}
		data := make([]float64, 0, ds.Size())
		for ti, plane := range raw {
			if len(plane) != ny {
				return nil, fmt.Errorf("%w: %s[%d] has %d rows, want %d", ErrDecode, ind, ti, len(plane), ny)
			}
			for yi, row := range plane {
				if len(row) != nx {
					return nil, fmt.Errorf("%w: %s[%d][%d] has %d columns, want %d", ErrDecode, ind, ti, yi, len(row), nx)
				}
				for _, v := range row {
					if v == nil {
						data = append(data, math.NaN())
						continue
					}
					data = append(data, *v)
				}
			}
		}
		if err := ds.AddVariable(string(ind), data, nil); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
	}
	return ds, nil
}
