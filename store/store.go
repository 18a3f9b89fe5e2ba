// Package store keeps a SQLite journal of program runs.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/intcode/vm"
)

var log = commonlog.GetLogger("intcode.store")

// ErrRunNotFound indicates the requested run doesn't exist
var ErrRunNotFound = errors.New("run not found")

// Run statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Run is one journalled execution.
type Run struct {
	ID          string
	ProgramHash string
	Mode        string
	Status      string
	Inputs      []vm.Word
	Outputs     []vm.Word
	Error       string
	Started     time.Time
	Duration    time.Duration
}

// RunStore handles SQLite storage for runs.
type RunStore struct {
	db   *sql.DB
	path string
}

// Open opens or creates the journal at path. ":memory:" gives a private
// in-memory journal.
func Open(path string) (*RunStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		program_hash TEXT NOT NULL,
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		inputs TEXT NOT NULL,
		outputs TEXT NOT NULL,
		error TEXT NOT NULL,
		started INTEGER NOT NULL,
		duration INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS runs_started ON runs (started)"); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating index: %w", err)
	}

	log.Debug("opened run store", "path", path)
	return &RunStore{db: db, path: path}, nil
}

// Close closes the database connection
func (s *RunStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record inserts or replaces a run.
func (s *RunStore) Record(ctx context.Context, r Run) error {
	if r.ID == "" {
		return fmt.Errorf("recording run: empty id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs
			(id, program_hash, mode, status, inputs, outputs, error, started, duration)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProgramHash, r.Mode, r.Status,
		formatWords(r.Inputs), formatWords(r.Outputs), r.Error,
		r.Started.UnixNano(), int64(r.Duration),
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", r.ID, err)
	}
	return nil
}

// Get loads one run.
func (s *RunStore) Get(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		id, program_hash, mode, status, inputs, outputs, error, started, duration
		FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, ErrRunNotFound
		}
		return Run{}, fmt.Errorf("querying run: %w", err)
	}
	return r, nil
}

// List returns up to limit runs, most recent first. A limit of zero or less
// returns every run.
func (s *RunStore) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, program_hash, mode, status, inputs, outputs, error, started, duration
		FROM runs ORDER BY started DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("listing runs: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r                Run
		inputs, outputs  string
		started, elapsed int64
	)
	err := row.Scan(&r.ID, &r.ProgramHash, &r.Mode, &r.Status,
		&inputs, &outputs, &r.Error, &started, &elapsed)
	if err != nil {
		return Run{}, err
	}
	if r.Inputs, err = parseWords(inputs); err != nil {
		return Run{}, fmt.Errorf("run %s inputs: %w", r.ID, err)
	}
	if r.Outputs, err = parseWords(outputs); err != nil {
		return Run{}, fmt.Errorf("run %s outputs: %w", r.ID, err)
	}
	r.Started = time.Unix(0, started)
	r.Duration = time.Duration(elapsed)
	return r, nil
}

func formatWords(ws []vm.Word) string {
	return vm.NewMemory(ws...).String()
}

func parseWords(text string) ([]vm.Word, error) {
	mem, err := vm.ParseMemory(text)
	if err != nil {
		return nil, err
	}
	return mem.Words(), nil
}

// ProgramHash identifies a program by the SHA-256 of its canonical text.
func ProgramHash(mem *vm.Memory) string {
	sum := sha256.Sum256([]byte(mem.String()))
	return hex.EncodeToString(sum[:])
}
