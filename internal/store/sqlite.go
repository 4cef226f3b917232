package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	_ "modernc.org/sqlite"
)

const migrateTimeout = 30 * time.Second

// Records are stored as JSON in a data column; the other columns exist only
// for keys, filtering and ordering.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS candidates (
		identity TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		data TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_candidates_status ON candidates(status)`,
	`CREATE TABLE IF NOT EXISTS credibility (
		identity TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS observations (
		id TEXT PRIMARY KEY,
		author TEXT NOT NULL,
		observed_at INTEGER NOT NULL,
		data TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_time ON observations(observed_at)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_author ON observations(author, observed_at)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		topic TEXT NOT NULL,
		taken_at INTEGER NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (topic, taken_at)
	)`,
	`CREATE TABLE IF NOT EXISTS discovery_runs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		data TEXT NOT NULL
	)`,
}

// SQLite is a Store backed by a single SQLite database file.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", buildSQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer; also keeps a ":memory:" database alive on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	mctx, cancel := context.WithTimeout(ctx, migrateTimeout)
	defer cancel()
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(mctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return &SQLite{db: db}, nil
}

func buildSQLiteDSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?_pragma=busy_timeout(5000)"
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
}

func (s *SQLite) UpsertCandidate(ctx context.Context, c Candidate) error {
	data, err := sonic.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode candidate: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO candidates(identity, status, data) VALUES(?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET status = excluded.status, data = excluded.data`,
		c.Identity, c.Status.String(), string(data))
	return err
}

func (s *SQLite) GetCandidate(ctx context.Context, identity string) (Candidate, error) {
	var c Candidate
	err := s.getOne(ctx, &c, `SELECT data FROM candidates WHERE identity = ?`, identity)
	return c, err
}

func (s *SQLite) ListCandidates(ctx context.Context, f CandidateFilter) ([]Candidate, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		names := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			names[i] = st.String()
		}
		where = append(where, "status IN ("+placeholders(len(names))+")")
		args = appendArgs(args, names)
	}
	if len(f.Identities) > 0 {
		where = append(where, "identity IN ("+placeholders(len(f.Identities))+")")
		args = appendArgs(args, f.Identities)
	}
	query := "SELECT data FROM candidates"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY identity"
	return queryAll[Candidate](ctx, s.db, query, args...)
}

func (s *SQLite) DeleteCandidates(ctx context.Context, identities []string) (int, error) {
	if len(identities) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM candidates WHERE identity IN ("+placeholders(len(identities))+")",
		appendArgs(nil, identities)...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLite) UpsertCredibility(ctx context.Context, r CredibilityRecord) error {
	data, err := sonic.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode credibility: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credibility(identity, data) VALUES(?, ?)
		ON CONFLICT(identity) DO UPDATE SET data = excluded.data`,
		r.Identity, string(data))
	return err
}

func (s *SQLite) GetCredibility(ctx context.Context, identity string) (CredibilityRecord, error) {
	var r CredibilityRecord
	err := s.getOne(ctx, &r, `SELECT data FROM credibility WHERE identity = ?`, identity)
	return r, err
}

func (s *SQLite) ListCredibility(ctx context.Context, identities []string) ([]CredibilityRecord, error) {
	query := "SELECT data FROM credibility"
	var args []any
	if len(identities) > 0 {
		query += " WHERE identity IN (" + placeholders(len(identities)) + ")"
		args = appendArgs(args, identities)
	}
	return queryAll[CredibilityRecord](ctx, s.db, query+" ORDER BY identity", args...)
}

func (s *SQLite) UpsertObservations(ctx context.Context, obs []Observation) error {
	if len(obs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO observations(id, author, observed_at, data) VALUES(?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET author = excluded.author, observed_at = excluded.observed_at, data = excluded.data`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, o := range obs {
		data, err := sonic.Marshal(o)
		if err != nil {
			return fmt.Errorf("encode observation %s: %w", o.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, o.ID, o.Author, o.ObservedAt.UnixNano(), string(data)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLite) QueryObservations(ctx context.Context, f ObservationFilter) ([]Observation, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Authors) > 0 {
		where = append(where, "author IN ("+placeholders(len(f.Authors))+")")
		args = appendArgs(args, f.Authors)
	}
	if !f.Since.IsZero() {
		where = append(where, "observed_at >= ?")
		args = append(args, f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		where = append(where, "observed_at < ?")
		args = append(args, f.Until.UnixNano())
	}
	query := "SELECT data FROM observations"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY observed_at, id"

	all, err := queryAll[Observation](ctx, s.db, query, args...)
	if err != nil {
		return nil, err
	}
	// Topics live inside the JSON document.
	out := all[:0]
	for _, o := range all {
		if f.Topic == "" || o.HasTopic(f.Topic) {
			out = append(out, o)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

func (s *SQLite) DeleteObservationsBefore(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM observations WHERE observed_at < ?", before.UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLite) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	data, err := sonic.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots(topic, taken_at, data) VALUES(?, ?, ?)
		ON CONFLICT(topic, taken_at) DO UPDATE SET data = excluded.data`,
		strings.ToLower(snap.Topic), snap.TakenAt.UnixNano(), string(data))
	return err
}

func (s *SQLite) LatestSnapshot(ctx context.Context, topic string, notAfter time.Time) (Snapshot, error) {
	var snap Snapshot
	err := s.getOne(ctx, &snap, `
		SELECT data FROM snapshots WHERE topic = ? AND taken_at <= ?
		ORDER BY taken_at DESC LIMIT 1`,
		strings.ToLower(topic), notAfter.UnixNano())
	return snap, err
}

func (s *SQLite) AppendRun(ctx context.Context, r DiscoveryRun) error {
	data, err := sonic.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	_, err = s.db.ExecContext(ctx, "INSERT INTO discovery_runs(data) VALUES(?)", string(data))
	return err
}

func (s *SQLite) RecentRuns(ctx context.Context, limit int) ([]DiscoveryRun, error) {
	if limit <= 0 {
		return queryAll[DiscoveryRun](ctx, s.db, "SELECT data FROM discovery_runs ORDER BY seq DESC")
	}
	return queryAll[DiscoveryRun](ctx, s.db, "SELECT data FROM discovery_runs ORDER BY seq DESC LIMIT ?", limit)
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) getOne(ctx context.Context, dst any, query string, args ...any) error {
	var data string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return sonic.UnmarshalString(data, dst)
}

func queryAll[T any](ctx context.Context, db *sql.DB, query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var v T
		if err := sonic.UnmarshalString(data, &v); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func appendArgs(args []any, values []string) []any {
	for _, v := range values {
		args = append(args, v)
	}
	return args
}
