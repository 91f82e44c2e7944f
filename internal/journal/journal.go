// Package journal keeps a local append-only record of connection and
// trading-mode events in sqlite.
package journal

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/deskbot/godesk/pkg/logger"
)

// Event kinds.
const (
	KindConnect       = "connect"
	KindConnectFailed = "connect_failed"
	KindDisconnect    = "disconnect"
	KindModeChange    = "mode_change"
	KindOAuthTimeout  = "oauth_timeout"
	KindRestore       = "restore"
)

const opTimeout = 5 * time.Second

// Event is one journal row.
type Event struct {
	ID        int64
	At        time.Time
	Kind      string
	Broker    string
	Mode      string
	AttemptID string
	Detail    string
}

// Journal is the sqlite-backed event log.
type Journal struct {
	db  *sql.DB
	log *logrus.Entry
}

// Open opens the journal database at path, creating it if needed.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "mkdir journal dir")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// SQLite behaves best over a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &Journal{db: db, log: logger.WithField("component", "journal")}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`
CREATE TABLE IF NOT EXISTS events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  at TEXT NOT NULL,
  kind TEXT NOT NULL,
  broker TEXT NOT NULL DEFAULT '',
  mode TEXT NOT NULL DEFAULT '',
  attempt_id TEXT NOT NULL DEFAULT '',
  detail TEXT NOT NULL DEFAULT ''
);`,
		`CREATE INDEX IF NOT EXISTS idx_events_at ON events(at DESC);`,
	}

	for _, q := range stmts {
		if _, err := j.db.ExecContext(ctx, q); err != nil {
			return errors.Wrap(err, "journal migrate")
		}
	}
	return nil
}

// Append records one event. Failures are logged and swallowed: the journal
// never fails the operation that produced the event.
func (j *Journal) Append(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO events (at, kind, broker, mode, attempt_id, detail)
VALUES (?,?,?,?,?,?)
`, e.At.UTC().Format(time.RFC3339Nano), e.Kind, e.Broker, e.Mode, e.AttemptID, e.Detail)
	if err != nil {
		j.log.WithError(err).WithField("kind", e.Kind).Warn("Journal append failed")
	}
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(limit int) ([]Event, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, at, kind, broker, mode, attempt_id, detail
FROM events
ORDER BY id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "journal query")
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e  Event
			at string
		)
		if err := rows.Scan(&e.ID, &at, &e.Kind, &e.Broker, &e.Mode, &e.AttemptID, &e.Detail); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
