// Package journal keeps a durable record of what the controller did: one
// row per controller run, every command exchange with the acquisition
// process, and the pilot's state changes. It backs the tailsql console on
// the admin server.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/autopilot/internal/command"
	"github.com/banshee-data/autopilot/internal/monitoring"
	"github.com/banshee-data/autopilot/internal/timeutil"
	"github.com/banshee-data/autopilot/internal/version"
)

// Event kinds written by the controller.
const (
	EventRegion          = "region"
	EventPinging         = "pinging"
	EventSession         = "session"
	EventProcessStarted  = "process_started"
	EventProcessExited   = "process_exited"
	EventWatchdog        = "watchdog"
	EventRestart         = "restart"
	EventSupervisorState = "supervisor_state"
)

const timeLayout = time.RFC3339Nano

// Journal is an open journal database bound to one controller run.
type Journal struct {
	db *sql.DB
	// reader serves the admin pages, so a slow console query never holds
	// the writer's only connection.
	reader *sql.DB
	path   string
	runID  string
	clock  timeutil.Clock

	closeOnce sync.Once
}

// CommandRow is one recorded exchange.
type CommandRow struct {
	SentAt     time.Time
	Verb       string
	Args       string
	Reply      string
	Error      string
	TimedOut   bool
	DurationMS int64
}

// EventRow is one recorded event.
type EventRow struct {
	At     time.Time
	Kind   string
	Detail string
}

// Open opens (creating if needed) the journal at path, migrates it to the
// latest schema and starts a new run.
func Open(path string, clock timeutil.Clock) (*Journal, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// coherent.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	j := &Journal{db: db, path: path, runID: uuid.NewString(), clock: clock}
	if err := j.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}

	_, err = db.Exec(
		`INSERT INTO runs (run_id, pid, version, started_at) VALUES (?, ?, ?, ?)`,
		j.runID, os.Getpid(), version.Version, clock.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to record run: %w", err)
	}

	if j.reader, err = openReader(path, db); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// openReader opens a read-only handle on the journal file. WAL lets it
// read while the writer commits. An in-memory database has no file to
// share, so it reads through the writer.
func openReader(path string, writer *sql.DB) (*sql.DB, error) {
	if path == ":memory:" || strings.HasPrefix(path, "file::memory:") {
		return writer, nil
	}
	dsn := "file:" + strings.TrimPrefix(path, "file:") + "?mode=ro&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s read-only: %w", path, err)
	}
	db.SetMaxOpenConns(4)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open journal %s read-only: %w", path, err)
	}
	return db, nil
}

// RunID identifies this controller run.
func (j *Journal) RunID() string { return j.runID }

// DB exposes the writable database.
func (j *Journal) DB() *sql.DB { return j.db }

// ReadDB exposes the read-only handle the admin console queries.
func (j *Journal) ReadDB() *sql.DB { return j.reader }

// ObserveCommand records a command exchange. It implements
// command.Observer; write failures are logged, never returned.
func (j *Journal) ObserveCommand(e command.Exchange) {
	var errText string
	if e.Err != nil {
		errText = e.Err.Error()
	}
	_, err := j.db.Exec(
		`INSERT INTO commands (run_id, sent_at, verb, args, reply, error, timed_out, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.runID, e.At.UTC().Format(timeLayout), e.Command.Verb, e.Command.Args,
		e.Reply, errText, errors.Is(e.Err, command.ErrTimeout), e.Duration.Milliseconds(),
	)
	if err != nil {
		monitoring.Warnf("journal: failed to record command %q: %v", e.Command.String(), err)
	}
}

// RecordEvent records a state change.
func (j *Journal) RecordEvent(kind, detail string) {
	_, err := j.db.Exec(
		`INSERT INTO events (run_id, at, kind, detail) VALUES (?, ?, ?, ?)`,
		j.runID, j.clock.Now().UTC().Format(timeLayout), kind, detail,
	)
	if err != nil {
		monitoring.Warnf("journal: failed to record %s event: %v", kind, err)
	}
}

// Commands returns up to limit of this run's most recent exchanges,
// newest first.
func (j *Journal) Commands(limit int) ([]CommandRow, error) {
	rows, err := j.reader.Query(
		`SELECT sent_at, verb, args, reply, error, timed_out, duration_ms
		 FROM commands WHERE run_id = ? ORDER BY command_id DESC LIMIT ?`,
		j.runID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommandRow
	for rows.Next() {
		var r CommandRow
		var sentAt string
		if err := rows.Scan(&sentAt, &r.Verb, &r.Args, &r.Reply, &r.Error, &r.TimedOut, &r.DurationMS); err != nil {
			return nil, err
		}
		if r.SentAt, err = time.Parse(timeLayout, sentAt); err != nil {
			return nil, fmt.Errorf("bad sent_at %q: %w", sentAt, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Events returns up to limit of this run's most recent events, newest
// first.
func (j *Journal) Events(limit int) ([]EventRow, error) {
	rows, err := j.reader.Query(
		`SELECT at, kind, detail FROM events WHERE run_id = ? ORDER BY event_id DESC LIMIT ?`,
		j.runID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var r EventRow
		var at string
		if err := rows.Scan(&at, &r.Kind, &r.Detail); err != nil {
			return nil, err
		}
		if r.At, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("bad at %q: %w", at, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close marks the run ended and closes the database.
func (j *Journal) Close() error {
	var err error
	j.closeOnce.Do(func() {
		if _, uerr := j.db.Exec(
			`UPDATE runs SET ended_at = ? WHERE run_id = ?`,
			j.clock.Now().UTC().Format(timeLayout), j.runID,
		); uerr != nil {
			monitoring.Warnf("journal: failed to close run: %v", uerr)
		}
		if j.reader != j.db {
			if rerr := j.reader.Close(); rerr != nil {
				monitoring.Warnf("journal: failed to close reader: %v", rerr)
			}
		}
		err = j.db.Close()
	})
	return err
}
