// Package history keeps a local SQLite record of export runs across projects.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// ErrNotFound is returned when a run is not recorded.
var ErrNotFound = errors.New("export run not found")

// Run is one export attempt.
type Run struct {
	ID          string
	RunID       string
	BundleRoot  string
	ProjectID   string
	ProjectName string
	Output      string
	Format      string
	State       string
	ErrorCode   string
	Error       string
	Frames      int
	Warnings    int
	StartedAt   time.Time
	EndedAt     time.Time
}

// Elapsed is the wall time of a finished run.
func (r Run) Elapsed() time.Duration {
	if r.EndedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Store wraps the history database.
type Store struct {
	db *sql.DB
}

// Open initializes the database at path, creating parent directories and migrating the
// schema as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	// Pragmas in the DSN apply to every pooled connection.
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	version, err := userVersion(db)
	if err != nil {
		return err
	}

	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS export_runs (
		  id           TEXT PRIMARY KEY,
		  run_id       TEXT NOT NULL,
		  bundle_root  TEXT NOT NULL,
		  project_id   TEXT NOT NULL,
		  project_name TEXT NOT NULL,
		  output       TEXT,
		  format       TEXT NOT NULL,
		  state        TEXT NOT NULL,
		  error_code   TEXT,
		  error        TEXT,
		  frames       INTEGER NOT NULL DEFAULT 0,
		  warnings     INTEGER NOT NULL DEFAULT 0,
		  started_at   INTEGER NOT NULL,
		  ended_at     INTEGER
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_export_runs_bundle_run
		ON export_runs(bundle_root, run_id);

		CREATE INDEX IF NOT EXISTS idx_export_runs_project_started
		ON export_runs(project_id, started_at DESC);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := setUserVersion(db, 1); err != nil {
			return err
		}
	}
	return nil
}

func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

func userVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

func setUserVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// SchemaVersion reports the migrated schema version.
func (s *Store) SchemaVersion() (int, error) {
	return userVersion(s.db)
}

// Record inserts a run or updates the existing row for the same bundle and run id.
// The stored ID is returned.
func (s *Store) Record(ctx context.Context, run Run) (string, error) {
	if run.RunID == "" || run.BundleRoot == "" {
		return "", errors.New("history: run id and bundle root are required")
	}
	if run.ID == "" {
		run.ID = ulid.Make().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	query := `
		INSERT INTO export_runs (
			id, run_id, bundle_root, project_id, project_name, output, format,
			state, error_code, error, frames, warnings, started_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bundle_root, run_id) DO UPDATE SET
			output = excluded.output,
			format = excluded.format,
			state = excluded.state,
			error_code = excluded.error_code,
			error = excluded.error,
			frames = excluded.frames,
			warnings = excluded.warnings,
			ended_at = excluded.ended_at
		RETURNING id
	`
	var id string
	err := s.db.QueryRowContext(ctx, query,
		run.ID, run.RunID, run.BundleRoot, run.ProjectID, run.ProjectName,
		toNullString(run.Output), run.Format, run.State,
		toNullString(run.ErrorCode), toNullString(run.Error),
		run.Frames, run.Warnings, run.StartedAt.UnixMilli(), toNullMillis(run.EndedAt),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("record export run: %w", err)
	}
	return id, nil
}

// ListOptions filters List.
type ListOptions struct {
	ProjectID string
	State     string
	Limit     int
}

// List returns runs newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM export_runs WHERE 1=1`
	var args []any
	if opts.ProjectID != "" {
		query += " AND project_id = ?"
		args = append(args, opts.ProjectID)
	}
	if opts.State != "" {
		query += " AND state = ?"
		args = append(args, opts.State)
	}
	query += " ORDER BY started_at DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list export runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan export run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate export runs: %w", err)
	}
	return runs, nil
}

// Get loads one run by bundle and run id.
func (s *Store) Get(ctx context.Context, bundleRoot, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM export_runs WHERE bundle_root = ? AND run_id = ?`, bundleRoot, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("get export run: %w", err)
	}
	return run, nil
}

const runColumns = `id, run_id, bundle_root, project_id, project_name, output, format,
	state, error_code, error, frames, warnings, started_at, ended_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run               Run
		output, code, msg sql.NullString
		startedMillis     int64
		endedMillis       sql.NullInt64
	)
	err := row.Scan(&run.ID, &run.RunID, &run.BundleRoot, &run.ProjectID, &run.ProjectName,
		&output, &run.Format, &run.State, &code, &msg, &run.Frames, &run.Warnings,
		&startedMillis, &endedMillis)
	if err != nil {
		return Run{}, err
	}
	run.Output = output.String
	run.ErrorCode = code.String
	run.Error = msg.String
	run.StartedAt = time.UnixMilli(startedMillis).UTC()
	if endedMillis.Valid {
		run.EndedAt = time.UnixMilli(endedMillis.Int64).UTC()
	}
	return run, nil
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toNullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
