package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// Snapshot kinds.
const (
	KindFacilities      = "facilities"
	KindRecommendations = "recommendations"
	KindPopulationGrid  = "population_grid"
	KindPopulation      = "population_estimate"
)

// SnapshotStore keeps the last good payload of each kind in SQLite so the
// map can start when the upstream source is down.
type SnapshotStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSnapshotStore opens the SQLite file at dsn in WAL mode and migrates it.
func NewSnapshotStore(ctx context.Context, dsn string) (*SnapshotStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}

	s := &SnapshotStore{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS snapshots (
	kind       TEXT NOT NULL,
	variant    TEXT NOT NULL DEFAULT '',
	payload    TEXT NOT NULL,
	saved_at   DATETIME NOT NULL,
	PRIMARY KEY (kind, variant)
);
`

func (s *SnapshotStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

// Save stores v as the latest snapshot for kind and variant. variant
// distinguishes parameterized payloads such as recommendations per filter.
func (s *SnapshotStore) Save(ctx context.Context, kind, variant string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal %s snapshot", kind)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (kind, variant, payload, saved_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (kind, variant) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`,
		kind, variant, string(payload), s.now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save %s snapshot", kind)
}

// Load decodes the latest snapshot for kind and variant into dst. It reports
// false with no error when nothing has been saved.
func (s *SnapshotStore) Load(ctx context.Context, kind, variant string, dst any) (time.Time, bool, error) {
	var (
		payload string
		savedAt time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, saved_at FROM snapshots WHERE kind = ? AND variant = ?`,
		kind, variant,
	).Scan(&payload, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, eris.Wrapf(err, "sqlite: load %s snapshot", kind)
	}
	if err := json.Unmarshal([]byte(payload), dst); err != nil {
		return time.Time{}, false, eris.Wrapf(err, "sqlite: decode %s snapshot", kind)
	}
	return savedAt, true, nil
}

// Kinds lists saved snapshots with their save times.
func (s *SnapshotStore) Kinds(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, variant, saved_at FROM snapshots ORDER BY kind, variant`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list snapshots")
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string]time.Time)
	for rows.Next() {
		var (
			kind, variant string
			savedAt       time.Time
		)
		if err := rows.Scan(&kind, &variant, &savedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot")
		}
		key := kind
		if variant != "" {
			key += "/" + variant
		}
		out[key] = savedAt
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate snapshots")
}
