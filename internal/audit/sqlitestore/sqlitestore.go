// Package sqlitestore implements audit.Store on top of SQLite, for
// single-host deployments that want a call log without standing up a
// separate database. It opens in WAL mode with a single writer connection
// and recovers from a stale WAL left behind by an unclean shutdown.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/exec"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/tywrap/hostbridge/internal/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS call_audit (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	worker_id INTEGER NOT NULL,
	method TEXT NOT NULL,
	target TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	outcome TEXT NOT NULL,
	err_kind TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_call_audit_ts ON call_audit(ts);
`

// Store is a SQLite-backed audit.Store.
type Store struct {
	db *sql.DB
}

// New opens (creating if necessary) a SQLite audit database at dsn, with
// the same single-writer WAL configuration and stale-WAL self-healing the
// this store uses.
func New(dsn string) (*Store, error) {
	store, err := open(dsn)
	if err == nil {
		return store, nil
	}
	if !isRecoverableWALError(err) {
		return nil, err
	}
	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || !isWALStale(dbPath) {
		return nil, err
	}
	removeStaleWAL(dbPath)

	store, retryErr := open(dsn)
	if retryErr != nil {
		return nil, fmt.Errorf("audit/sqlitestore: failed after WAL recovery: %w (original: %v)", retryErr, err)
	}
	log.Printf("audit/sqlitestore: recovered from stale WAL files for %s", dbPath)
	return store, nil
}

func open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit/sqlitestore: open: %w", err)
	}

	// One writer at a time; WAL lets readers proceed concurrently.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit/sqlitestore: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit/sqlitestore: set busy_timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit/sqlitestore: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordCall implements audit.Store.
func (s *Store) RecordCall(ctx context.Context, e audit.Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO call_audit (ts, worker_id, method, target, duration_ms, outcome, err_kind)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Time.UnixMilli(), e.WorkerID, e.Method, e.Target, e.Duration.Milliseconds(), e.Outcome, e.ErrKind,
	)
	return err
}

// Close implements audit.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" || path == "" {
			return ""
		}
		return path
	}
	return dsn
}

func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") || strings.Contains(msg, "database is locked")
}

func isWALStale(dbPath string) bool {
	shmPath, walPath := dbPath+"-shm", dbPath+"-wal"
	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}
	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		return false
	}
	out, err := exec.Command(lsofPath, dbPath, shmPath, walPath).CombinedOutput()
	if err != nil {
		// lsof exits non-zero when none of the paths are open; treat as stale.
		return true
	}
	return len(strings.TrimSpace(string(out))) == 0
}

func removeStaleWAL(dbPath string) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("audit/sqlitestore: failed to remove stale %s: %v", path, err)
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
