package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/drblury/xrayflow/internal/runtime/errors"
	"github.com/drblury/xrayflow/internal/runtime/ids"
	"github.com/drblury/xrayflow/internal/runtime/jsoncodec"
	"github.com/drblury/xrayflow/internal/runtime/logging"
	"github.com/drblury/xrayflow/internal/xray"
)

// dialect captures the few differences between the SQL backends.
type dialect struct {
	name      string
	driver    string
	numbered  bool
	unlimited string
}

var (
	postgresDialect = dialect{name: "postgres", driver: "pgx", numbered: true, unlimited: "ALL"}
	sqliteDialect   = dialect{name: "sqlite", driver: "sqlite", unlimited: "-1"}
)

// rebind rewrites ? placeholders into $n for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const recordColumns = "id, device_id, record_time, samples, sample_count, payload_size, created_at, updated_at"

// SQL stores records in the telemetry_records table.
type SQL struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// OpenPostgres connects to PostgreSQL through pgx and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string, log logging.ServiceLogger) (*SQL, error) {
	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	return newSQL(ctx, db, postgresDialect, log)
}

// OpenSQLite opens (or creates) the database file and migrates the schema.
// Access is serialised over a single connection.
func OpenSQLite(ctx context.Context, path string, log logging.ServiceLogger) (*SQL, error) {
	db, err := sql.Open(sqliteDialect.driver, path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := tuneSQLite(ctx, db, log); err != nil {
		log.Error("SQLite tuning skipped", err, nil)
	}
	return newSQL(ctx, db, sqliteDialect, log)
}

func tuneSQLite(ctx context.Context, db *sql.DB, log logging.ServiceLogger) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL;").Scan(&mode); err != nil {
		return fmt.Errorf("apply journal_mode: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("apply %s: %w", pragma, err)
		}
	}
	log.Debug("SQLite tuned", logging.LogFields{"journal_mode": mode})
	return nil
}

func newSQL(ctx context.Context, db *sql.DB, d dialect, log logging.ServiceLogger) (*SQL, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: connect %s: %w", d.name, err)
	}

	version, err := Migrate(db, d)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("Schema migrated", logging.LogFields{"dialect": d.name, "version": version})

	return &SQL{db: db, dialect: d, now: time.Now}, nil
}

func (s *SQL) Create(ctx context.Context, draft xray.Draft) (xray.Record, error) {
	samples, err := encodeSamples(draft.Samples)
	if err != nil {
		return xray.Record{}, errors.NewPersistenceError("create", draft.DeviceID, err)
	}

	now := s.now().UTC()
	rec := xray.Record{
		ID:          ids.CreateULIDAt(now),
		DeviceID:    draft.DeviceID,
		Time:        draft.Time,
		Samples:     copySamples(draft.Samples),
		SampleCount: draft.SampleCount,
		PayloadSize: draft.PayloadSize,
		CreatedAt:   now.Truncate(time.Millisecond),
		UpdatedAt:   now.Truncate(time.Millisecond),
	}

	query := s.dialect.rebind("INSERT INTO telemetry_records (" + recordColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?)")
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.DeviceID, rec.Time, samples, rec.SampleCount, rec.PayloadSize,
		rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return xray.Record{}, errors.NewPersistenceError("create", draft.DeviceID, err)
	}
	return rec, nil
}

func (s *SQL) Find(ctx context.Context, filter Filter) ([]xray.Record, int, error) {
	where, args := whereClause(filter)

	var total int
	countQuery := s.dialect.rebind("SELECT COUNT(*) FROM telemetry_records" + where)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewPersistenceError("count", filter.DeviceID, err)
	}

	query := "SELECT " + recordColumns + " FROM telemetry_records" + where + " ORDER BY id"
	switch {
	case filter.Limit > 0:
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Skip)
	case filter.Skip > 0:
		query += " LIMIT " + s.dialect.unlimited + " OFFSET ?"
		args = append(args, filter.Skip)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, 0, errors.NewPersistenceError("find", filter.DeviceID, err)
	}
	defer rows.Close()

	items := make([]xray.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, errors.NewPersistenceError("find", filter.DeviceID, err)
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewPersistenceError("find", filter.DeviceID, err)
	}
	return items, total, nil
}

func whereClause(filter Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.DeviceID != "" {
		conds = append(conds, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.StartTime != nil {
		conds = append(conds, "record_time >= ?")
		args = append(args, *filter.StartTime)
	}
	if filter.EndTime != nil {
		conds = append(conds, "record_time <= ?")
		args = append(args, *filter.EndTime)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *SQL) FindOne(ctx context.Context, id string) (xray.Record, error) {
	return s.findOne(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQL) findOne(ctx context.Context, q queryRower, id string) (xray.Record, error) {
	query := s.dialect.rebind("SELECT " + recordColumns + " FROM telemetry_records WHERE id = ?")
	rec, err := scanRecord(q.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return xray.Record{}, &errors.NotFoundError{ID: id}
	}
	if err != nil {
		return xray.Record{}, errors.NewPersistenceError("find one", "", err)
	}
	return rec, nil
}

func (s *SQL) Update(ctx context.Context, id string, patch Patch) (xray.Record, error) {
	sets := []string{"updated_at = ?"}
	args := []any{s.now().UTC().UnixMilli()}
	if patch.DeviceID != nil {
		sets = append(sets, "device_id = ?")
		args = append(args, *patch.DeviceID)
	}
	if patch.Time != nil {
		sets = append(sets, "record_time = ?")
		args = append(args, *patch.Time)
	}
	if patch.Samples != nil {
		samples, err := encodeSamples(patch.Samples)
		if err != nil {
			return xray.Record{}, errors.NewPersistenceError("update", "", err)
		}
		sets = append(sets, "samples = ?")
		args = append(args, samples)
	}
	if patch.SampleCount != nil {
		sets = append(sets, "sample_count = ?")
		args = append(args, *patch.SampleCount)
	}
	if patch.PayloadSize != nil {
		sets = append(sets, "payload_size = ?")
		args = append(args, *patch.PayloadSize)
	}
	args = append(args, id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xray.Record{}, errors.NewPersistenceError("update", "", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := s.dialect.rebind("UPDATE telemetry_records SET " + strings.Join(sets, ", ") + " WHERE id = ?")
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return xray.Record{}, errors.NewPersistenceError("update", "", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xray.Record{}, errors.NewPersistenceError("update", "", err)
	}
	if affected == 0 {
		return xray.Record{}, &errors.NotFoundError{ID: id}
	}

	rec, err := s.findOne(ctx, tx, id)
	if err != nil {
		return xray.Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return xray.Record{}, errors.NewPersistenceError("update", rec.DeviceID, err)
	}
	return rec, nil
}

func (s *SQL) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind("DELETE FROM telemetry_records WHERE id = ?"), id)
	if err != nil {
		return false, errors.NewPersistenceError("remove", "", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewPersistenceError("remove", "", err)
	}
	return affected > 0, nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (xray.Record, error) {
	var (
		rec       xray.Record
		samples   string
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&rec.ID, &rec.DeviceID, &rec.Time, &samples, &rec.SampleCount, &rec.PayloadSize, &createdAt, &updatedAt); err != nil {
		return xray.Record{}, err
	}
	if err := jsoncodec.Unmarshal([]byte(samples), &rec.Samples); err != nil {
		return xray.Record{}, fmt.Errorf("decode samples of %s: %w", rec.ID, err)
	}
	if rec.Samples == nil {
		rec.Samples = []xray.Sample{}
	}
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return rec, nil
}

func encodeSamples(samples []xray.Sample) (string, error) {
	if samples == nil {
		samples = []xray.Sample{}
	}
	data, err := jsoncodec.Marshal(samples)
	if err != nil {
		return "", fmt.Errorf("encode samples: %w", err)
	}
	return string(data), nil
}
