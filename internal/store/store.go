// Package store persists telemetry records. Backends: an in-memory map, and
// SQL databases (PostgreSQL through pgx, SQLite through modernc) sharing one
// schema applied with golang-migrate.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/drblury/xrayflow/internal/runtime/config"
	"github.com/drblury/xrayflow/internal/runtime/logging"
	"github.com/drblury/xrayflow/internal/xray"
)

// Store is the persistence contract shared by ingestion and the query API.
// Create is a single atomic insert that assigns the record id. FindOne and
// Update return a *errors.NotFoundError for unknown ids; Remove reports
// whether a record was deleted.
type Store interface {
	Create(ctx context.Context, draft xray.Draft) (xray.Record, error)
	Find(ctx context.Context, filter Filter) ([]xray.Record, int, error)
	FindOne(ctx context.Context, id string) (xray.Record, error)
	Update(ctx context.Context, id string, patch Patch) (xray.Record, error)
	Remove(ctx context.Context, id string) (bool, error)
	Close() error
}

// Filter selects records. Bounds are inclusive; nil bounds are open.
// Limit 0 means no limit. Results are ordered by insertion.
type Filter struct {
	DeviceID  string
	StartTime *int64
	EndTime   *int64
	Limit     int
	Skip      int
}

func (f Filter) matches(r xray.Record) bool {
	if f.DeviceID != "" && r.DeviceID != f.DeviceID {
		return false
	}
	if f.StartTime != nil && r.Time < *f.StartTime {
		return false
	}
	if f.EndTime != nil && r.Time > *f.EndTime {
		return false
	}
	return true
}

// Patch carries the fields of an update. Nil fields are left unchanged.
type Patch struct {
	DeviceID    *string
	Time        *int64
	Samples     []xray.Sample
	SampleCount *int
	PayloadSize *int
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.DeviceID == nil && p.Time == nil && p.Samples == nil && p.SampleCount == nil && p.PayloadSize == nil
}

func (p Patch) apply(r *xray.Record) {
	if p.DeviceID != nil {
		r.DeviceID = *p.DeviceID
	}
	if p.Time != nil {
		r.Time = *p.Time
	}
	if p.Samples != nil {
		r.Samples = copySamples(p.Samples)
	}
	if p.SampleCount != nil {
		r.SampleCount = *p.SampleCount
	}
	if p.PayloadSize != nil {
		r.PayloadSize = *p.PayloadSize
	}
}

func copySamples(samples []xray.Sample) []xray.Sample {
	return append(make([]xray.Sample, 0, len(samples)), samples...)
}

// Open builds the store selected by conf.StoreDriver. SQL stores are
// migrated before they are returned. A positive StoreTimeout bounds every
// operation.
func Open(ctx context.Context, conf *config.Config, log logging.ServiceLogger) (Store, error) {
	var (
		s   Store
		err error
	)
	switch conf.StoreDriver {
	case "", config.StoreMemory:
		s = NewMemory()
	case config.StorePostgres:
		s, err = OpenPostgres(ctx, conf.DatabaseURL, log)
	case config.StoreSQLite:
		s, err = OpenSQLite(ctx, conf.SQLiteFile, log)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", conf.StoreDriver)
	}
	if err != nil {
		return nil, err
	}

	log.Info("Store ready", logging.LogFields{"driver": conf.StoreDriver, "timeout": conf.StoreTimeout.String()})
	return WithTimeout(s, conf.StoreTimeout), nil
}

// WithTimeout bounds each call on s by d. A non-positive d returns s.
func WithTimeout(s Store, d time.Duration) Store {
	if d <= 0 {
		return s
	}
	return &timeoutStore{next: s, timeout: d}
}

type timeoutStore struct {
	next    Store
	timeout time.Duration
}

func (t *timeoutStore) Create(ctx context.Context, draft xray.Draft) (xray.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Create(ctx, draft)
}

func (t *timeoutStore) Find(ctx context.Context, filter Filter) ([]xray.Record, int, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Find(ctx, filter)
}

func (t *timeoutStore) FindOne(ctx context.Context, id string) (xray.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.FindOne(ctx, id)
}

func (t *timeoutStore) Update(ctx context.Context, id string, patch Patch) (xray.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Update(ctx, id, patch)
}

func (t *timeoutStore) Remove(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Remove(ctx, id)
}

func (t *timeoutStore) Close() error { return t.next.Close() }
