package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// InitDB opens the SQLite journal at path and creates the attempts table if
// it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	// One writer at a time; observers write from many goroutines.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS attempts (
		attempt_id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		target_key TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'queued',
		error TEXT,
		bytes INTEGER NOT NULL DEFAULT 0,
		queued_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create attempts table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS attempts_queued_at ON attempts (queued_at)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create attempts index: %w", err)
	}

	return db, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
