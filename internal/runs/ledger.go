// Package runs records datacube run status (processing, ready, error) so that
// callers can poll a run by ID.
package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mohammed-shakir/analytics-datacube/internal/cache/keys"
	"github.com/mohammed-shakir/analytics-datacube/internal/cache/redisstore"
)

type Status string

const (
	Processing Status = "processing"
	Ready      Status = "ready"
	Error      Status = "error"
)

var ErrNotFound = errors.New("run not found")

type Record struct {
	RunID            string    `json:"run_id"`
	EntityID         string    `json:"entity_id,omitempty"`
	Status           Status    `json:"status"`
	Provider         string    `json:"provider,omitempty"`
	Indicators       []string  `json:"indicators,omitempty"`
	Fingerprint      string    `json:"request_fingerprint,omitempty"`
	StorageLink      string    `json:"storage_link,omitempty"`
	FailedIndicators []string  `json:"failed_indicators,omitempty"`
	Error            string    `json:"error,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type Ledger interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, runID string) (Record, error)
}

// KV is the subset of redisstore.Client the ledger needs.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

var _ KV = (*redisstore.Client)(nil)

type RedisLedger struct {
	kv  KV
	ttl time.Duration
	now func() time.Time
}

var _ Ledger = (*RedisLedger)(nil)

func NewRedisLedger(kv KV, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisLedger{kv: kv, ttl: ttl, now: time.Now}
}

// Put stores rec under run:<id> and refreshes its TTL.
func (l *RedisLedger) Put(ctx context.Context, rec Record) error {
	if rec.RunID == "" {
		return errors.New("runs: empty run id")
	}
	rec.UpdatedAt = l.now().UTC()
	if rec.StartedAt.IsZero() {
		rec.StartedAt = rec.UpdatedAt
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", rec.RunID, err)
	}
	return l.kv.Set(ctx, keys.Run(rec.RunID), b, l.ttl)
}

func (l *RedisLedger) Get(ctx context.Context, runID string) (Record, error) {
	b, err := l.kv.Get(ctx, keys.Run(runID))
	if errors.Is(err, redisstore.ErrNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return rec, nil
}
