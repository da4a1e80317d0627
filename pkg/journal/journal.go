// Package journal records migration runs and per-record outcomes in a
// SQLite database so failed documents can be found after the run.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/LucasCLuk/pandascore/pkg/logging"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Run states.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Record outcome states.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	mode TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	finished_at DATETIME,
	total INTEGER NOT NULL DEFAULT 0,
	processed INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS record_outcomes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	collection TEXT NOT NULL,
	record_id TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS record_outcomes_run ON record_outcomes (run_id, status);
`

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// Run is one row of the runs table.
type Run struct {
	ID         string
	Mode       string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
	Total      int
	Processed  int
	Failed     int
}

// Outcome is one row of the record_outcomes table.
type Outcome struct {
	RunID      string
	Collection string
	RecordID   string
	Status     string
	Error      string
	CreatedAt  time.Time
}

// Counts are the totals written when a run finishes.
type Counts struct {
	Total     int
	Processed int
	Failed    int
}

// Journal writes run history. The zero-path journal returned by Open("")
// accepts every call and stores nothing.
type Journal struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (creating if needed) the journal at path.
func Open(path string) (*Journal, error) {
	j := &Journal{logger: logging.NewLogger(logging.ComponentJournal)}
	if path == "" {
		return j, nil
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// a single connection serializes writers and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	j.db = db
	j.logger.Debug().Str("path", path).Msg("Journal opened")
	return j, nil
}

// Enabled reports whether the journal persists anything.
func (j *Journal) Enabled() bool {
	return j != nil && j.db != nil
}

// Start inserts a running run and returns its id.
func (j *Journal) Start(ctx context.Context, mode string) (string, error) {
	id := uuid.New().String()
	if !j.Enabled() {
		return id, nil
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, mode, status, started_at) VALUES (?, ?, ?, ?)`,
		id, mode, StatusRunning, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// RecordOutcome stores the result of processing one record. A nil
// procErr is recorded as OutcomeOK.
func (j *Journal) RecordOutcome(ctx context.Context, runID, collection, recordID string, procErr error) error {
	if !j.Enabled() {
		return nil
	}

	status := OutcomeOK
	var msg sql.NullString
	if procErr != nil {
		status = OutcomeFailed
		msg = sql.NullString{String: procErr.Error(), Valid: true}
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO record_outcomes (run_id, collection, record_id, status, error, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, collection, recordID, status, msg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record outcome %s/%s: %w", collection, recordID, err)
	}
	return nil
}

// Finish closes a run with its final status and counts.
func (j *Journal) Finish(ctx context.Context, runID, status string, counts Counts) error {
	if !j.Enabled() {
		return nil
	}

	res, err := j.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, total = ?, processed = ?, failed = ? WHERE id = ?`,
		status, time.Now().UTC(), counts.Total, counts.Processed, counts.Failed, runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// Run returns a run by id.
func (j *Journal) Run(ctx context.Context, runID string) (*Run, error) {
	if !j.Enabled() {
		return nil, ErrRunNotFound
	}

	var r Run
	var finished sql.NullTime
	err := j.db.QueryRowContext(ctx,
		`SELECT id, mode, status, started_at, finished_at, total, processed, failed FROM runs WHERE id = ?`, runID).
		Scan(&r.ID, &r.Mode, &r.Status, &r.StartedAt, &finished, &r.Total, &r.Processed, &r.Failed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	if finished.Valid {
		r.FinishedAt = finished.Time
	}
	return &r, nil
}

// Failures lists failed records of a run, oldest first.
func (j *Journal) Failures(ctx context.Context, runID string) ([]Outcome, error) {
	if !j.Enabled() {
		return nil, nil
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT run_id, collection, record_id, status, error, created_at FROM record_outcomes
		 WHERE run_id = ? AND status = ? ORDER BY id`, runID, OutcomeFailed)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		var msg sql.NullString
		if err := rows.Scan(&o.RunID, &o.Collection, &o.RecordID, &o.Status, &msg, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Error = msg.String
		out = append(out, o)
	}
	return out, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	if !j.Enabled() {
		return nil
	}
	return j.db.Close()
}
