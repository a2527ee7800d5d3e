package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/xrayflow/internal/runtime/config"
	"github.com/drblury/xrayflow/internal/runtime/errors"
	"github.com/drblury/xrayflow/internal/runtime/logging"
	"github.com/drblury/xrayflow/internal/xray"
)

func sampleDraft(deviceID string, t int64) xray.Draft {
	samples := []xray.Sample{
		{Time: 762, Coordinates: xray.Coordinates{X: 51.339764, Y: 12.339223, Speed: 1.2038}},
		{Time: 1766, Coordinates: xray.Coordinates{X: 51.339777, Y: 12.339211, Speed: 1.531604}},
	}
	return xray.Draft{DeviceID: deviceID, Time: t, Samples: samples, SampleCount: len(samples), PayloadSize: 80}
}

func int64Ptr(v int64) *int64 { return &v }

func openSQLiteForTest(t *testing.T) *SQL {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "xray.db"), logging.NewDiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func backends(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": openSQLiteForTest(t),
	}
}

func TestStoreCreateAndFindOne(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec, err := s.Create(ctx, sampleDraft("dev-1", 1735683480000))
			require.NoError(t, err)
			assert.NotEmpty(t, rec.ID)
			assert.Equal(t, "dev-1", rec.DeviceID)
			assert.Equal(t, 2, rec.SampleCount)
			assert.False(t, rec.CreatedAt.IsZero())

			got, err := s.FindOne(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, rec.ID, got.ID)
			assert.Equal(t, rec.Samples, got.Samples)
			assert.Equal(t, 80, got.PayloadSize)
			assert.Equal(t, int64(1735683480000), got.Time)
		})
	}
}

func TestStoreFindOneUnknown(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.FindOne(context.Background(), "missing")
			assert.ErrorIs(t, err, errors.ErrNotFound)
		})
	}
}

func TestStoreFindFiltersAndPages(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var created []xray.Record
			for i, dev := range []string{"a", "b", "a", "a", "b"} {
				rec, err := s.Create(ctx, sampleDraft(dev, int64(1000*(i+1))))
				require.NoError(t, err)
				created = append(created, rec)
			}

			all, total, err := s.Find(ctx, Filter{})
			require.NoError(t, err)
			assert.Equal(t, 5, total)
			require.Len(t, all, 5)
			for i := range all {
				assert.Equal(t, created[i].ID, all[i].ID)
			}

			byDevice, total, err := s.Find(ctx, Filter{DeviceID: "a"})
			require.NoError(t, err)
			assert.Equal(t, 3, total)
			assert.Len(t, byDevice, 3)

			ranged, total, err := s.Find(ctx, Filter{StartTime: int64Ptr(2000), EndTime: int64Ptr(4000)})
			require.NoError(t, err)
			assert.Equal(t, 3, total)
			require.Len(t, ranged, 3)
			assert.Equal(t, int64(2000), ranged[0].Time)
			assert.Equal(t, int64(4000), ranged[2].Time)

			page, total, err := s.Find(ctx, Filter{Limit: 2, Skip: 2})
			require.NoError(t, err)
			assert.Equal(t, 5, total)
			require.Len(t, page, 2)
			assert.Equal(t, created[2].ID, page[0].ID)
			assert.Equal(t, created[3].ID, page[1].ID)

			tail, _, err := s.Find(ctx, Filter{Skip: 4})
			require.NoError(t, err)
			require.Len(t, tail, 1)
			assert.Equal(t, created[4].ID, tail[0].ID)

			none, total, err := s.Find(ctx, Filter{DeviceID: "zzz"})
			require.NoError(t, err)
			assert.Zero(t, total)
			assert.NotNil(t, none)
			assert.Empty(t, none)
		})
	}
}

func TestStoreUpdate(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec, err := s.Create(ctx, sampleDraft("dev-1", 1000))
			require.NoError(t, err)

			device := "dev-2"
			count := 1
			samples := []xray.Sample{{Time: 5, Coordinates: xray.Coordinates{X: 1, Y: 2, Speed: 3}}}
			updated, err := s.Update(ctx, rec.ID, Patch{DeviceID: &device, Samples: samples, SampleCount: &count})
			require.NoError(t, err)
			assert.Equal(t, rec.ID, updated.ID)
			assert.Equal(t, "dev-2", updated.DeviceID)
			assert.Equal(t, int64(1000), updated.Time)
			assert.Equal(t, samples, updated.Samples)
			assert.Equal(t, 1, updated.SampleCount)
			assert.Equal(t, 80, updated.PayloadSize)

			_, err = s.Update(ctx, "missing", Patch{DeviceID: &device})
			assert.ErrorIs(t, err, errors.ErrNotFound)
		})
	}
}

func TestStoreRemove(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, err := s.Create(ctx, sampleDraft("dev-1", 1))
			require.NoError(t, err)
			second, err := s.Create(ctx, sampleDraft("dev-1", 2))
			require.NoError(t, err)

			deleted, err := s.Remove(ctx, first.ID)
			require.NoError(t, err)
			assert.True(t, deleted)

			deleted, err = s.Remove(ctx, first.ID)
			require.NoError(t, err)
			assert.False(t, deleted)

			_, err = s.FindOne(ctx, first.ID)
			assert.ErrorIs(t, err, errors.ErrNotFound)

			got, err := s.FindOne(ctx, second.ID)
			require.NoError(t, err)
			assert.Equal(t, second.ID, got.ID)
		})
	}
}

func TestStoreEmptySamplesStayEmpty(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			rec, err := s.Create(context.Background(), xray.Draft{DeviceID: "dev"})
			require.NoError(t, err)
			got, err := s.FindOne(context.Background(), rec.ID)
			require.NoError(t, err)
			assert.NotNil(t, got.Samples)
			assert.Empty(t, got.Samples)
		})
	}
}

func TestMemoryRejectsCancelledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Create(ctx, sampleDraft("dev", 1))
	assert.ErrorIs(t, err, errors.ErrPersistence)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, m.Len())
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory()
	rec, err := m.Create(context.Background(), sampleDraft("dev", 1))
	require.NoError(t, err)

	rec.Samples[0].Time = 999
	got, err := m.FindOne(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(762), got.Samples[0].Time)
}

type blockingStore struct {
	Store
	deadline bool
}

func (b *blockingStore) Create(ctx context.Context, draft xray.Draft) (xray.Record, error) {
	_, b.deadline = ctx.Deadline()
	<-ctx.Done()
	return xray.Record{}, errors.NewPersistenceError("create", draft.DeviceID, ctx.Err())
}

func TestWithTimeoutBoundsCalls(t *testing.T) {
	inner := &blockingStore{Store: NewMemory()}
	s := WithTimeout(inner, 10*time.Millisecond)

	_, err := s.Create(context.Background(), sampleDraft("dev", 1))
	assert.True(t, inner.deadline)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, errors.ErrPersistence)
}

func TestWithTimeoutDisabled(t *testing.T) {
	m := NewMemory()
	assert.Same(t, Store(m), WithTimeout(m, 0))
}

func TestOpenSelectsDriver(t *testing.T) {
	log := logging.NewDiscardLogger()

	s, err := Open(context.Background(), &config.Config{StoreDriver: config.StoreMemory}, log)
	require.NoError(t, err)
	_, ok := s.(*Memory)
	assert.True(t, ok)

	s, err = Open(context.Background(), &config.Config{
		StoreDriver:  config.StoreSQLite,
		SQLiteFile:   filepath.Join(t.TempDir(), "open.db"),
		StoreTimeout: time.Second,
	}, log)
	require.NoError(t, err)
	_, ok = s.(*timeoutStore)
	assert.True(t, ok)
	require.NoError(t, s.Close())

	_, err = Open(context.Background(), &config.Config{StoreDriver: "mongo"}, log)
	assert.ErrorContains(t, err, "unknown driver")
}

func TestSQLiteMigrationIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "again.db")
	log := logging.NewDiscardLogger()

	first, err := OpenSQLite(context.Background(), path, log)
	require.NoError(t, err)
	rec, err := first.Create(context.Background(), sampleDraft("dev", 1))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := OpenSQLite(context.Background(), path, log)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.FindOne(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
}

func TestDialectRebind(t *testing.T) {
	q := "SELECT * FROM t WHERE a = ? AND b = ?"
	assert.Equal(t, q, sqliteDialect.rebind(q))
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", postgresDialect.rebind(q))
}
