package delivery

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	archiveSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id         TEXT PRIMARY KEY,
    device_id  TEXT NOT NULL,
    label      TEXT NOT NULL,
    started_at TIMESTAMP,
    ended_at   TIMESTAMP
);
CREATE TABLE IF NOT EXISTS samples (
    session_id TEXT NOT NULL REFERENCES sessions(id),
    seq        INTEGER NOT NULL,
    timestamp  TIMESTAMP NOT NULL,
    label      TEXT NOT NULL,
    payload    TEXT NOT NULL,
    heart_rate INTEGER,
    spo2       INTEGER,
    spo2_max   INTEGER,
    spo2_min   INTEGER,
    spo2_diff  INTEGER,
    ppg        INTEGER,
    ppg_max    INTEGER,
    ppg_min    INTEGER,
    ppg_diff   INTEGER,
    accel_x    INTEGER,
    accel_y    INTEGER,
    accel_z    INTEGER,
    PRIMARY KEY (session_id, seq)
);`

	insertArchiveSessionSQL = `
INSERT OR REPLACE INTO sessions (id, device_id, label, started_at, ended_at)
VALUES (?, ?, ?, ?, ?)`

	insertArchiveSampleSQL = `
INSERT OR REPLACE INTO samples (session_id,
                                seq,
                                timestamp,
                                label,
                                payload,
                                heart_rate,
                                spo2, spo2_max, spo2_min, spo2_diff,
                                ppg, ppg_max, ppg_min, ppg_diff,
                                accel_x, accel_y, accel_z)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// SQLiteExporter appends every session to a single SQLite archive.
type SQLiteExporter struct {
	Path string

	dbOnce sync.Once
	db     *sql.DB
	dbErr  error
}

// NewSQLiteExporter creates an exporter writing to the database at path.
// The database is opened on first use.
func NewSQLiteExporter(path string) *SQLiteExporter {
	return &SQLiteExporter{Path: path}
}

func (e *SQLiteExporter) Format() string { return "sqlite" }

func (e *SQLiteExporter) getDB() (*sql.DB, error) {
	e.dbOnce.Do(func() {
		if err := os.MkdirAll(filepath.Dir(e.Path), 0755); err != nil {
			e.dbErr = fmt.Errorf("creating archive dir: %w", err)
			return
		}
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", e.Path, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			e.dbErr = fmt.Errorf("opening archive: %w", err)
			return
		}
		if _, err := db.Exec(archiveSchemaSQL); err != nil {
			_ = db.Close()
			e.dbErr = fmt.Errorf("initializing schema: %w", err)
			return
		}
		e.db = db
	})
	return e.db, e.dbErr
}

// Export writes the session row and all its samples in one transaction and
// returns "<path>#<session id>".
func (e *SQLiteExporter) Export(ctx context.Context, log SessionLog) (string, error) {
	if err := e.export(ctx, log); err != nil {
		return "", &PersistenceError{Format: "sqlite", Path: e.Path, Err: err}
	}
	return e.Path + "#" + log.SessionID, nil
}

func (e *SQLiteExporter) export(ctx context.Context, log SessionLog) (err error) {
	db, err := e.getDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, insertArchiveSessionSQL,
		log.SessionID, log.DeviceID, log.Label, nullTime(log.StartedAt), nullTime(log.EndedAt)); err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertArchiveSampleSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for i, s := range log.Samples {
		f := s.Flatten()
		if _, err = stmt.ExecContext(ctx,
			log.SessionID, i, s.Timestamp.UTC(), s.Label, s.Payload,
			f.HeartRate,
			f.SpO2, f.SpO2Max, f.SpO2Min, f.SpO2Diff,
			f.PPG, f.PPGMax, f.PPGMin, f.PPGDiff,
			f.AccelX, f.AccelY, f.AccelZ,
		); err != nil {
			return fmt.Errorf("inserting sample %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (e *SQLiteExporter) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}
