// Package archive keeps every distinct hazard event the dashboard has seen.
//
// The backend only returns its most recent log entries, so the archive is
// the only place older hazards survive a dashboard session.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite

	"github.com/dj-oyu/road-hazard-dashboard/internal/backend"
	"github.com/dj-oyu/road-hazard-dashboard/internal/dashboard"
	"github.com/dj-oyu/road-hazard-dashboard/internal/logger"
	"github.com/dj-oyu/road-hazard-dashboard/internal/metrics"
)

// Entry is an archived hazard event.
type Entry struct {
	backend.HazardEvent
	ModelName string  `json:"model_name,omitempty"`
	FirstSeen float64 `json:"first_seen"`
}

// Archive stores hazard events in SQLite.
type Archive struct {
	db *sql.DB
}

// Open opens (or creates) the archive database at path.
func Open(path string) (*Archive, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Archive{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS hazard_events(
	  seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	  event_id   TEXT    NOT NULL UNIQUE,
	  type       TEXT    NOT NULL,
	  confidence REAL    NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	  time_label TEXT    NOT NULL,
	  model_name TEXT,
	  first_seen REAL    NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_hazard_events_type ON hazard_events(type);
	`)
	if err != nil {
		return fmt.Errorf("failed to create archive tables: %w", err)
	}
	return nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Record stores the events not archived yet and returns how many were new.
// events are expected newest first, as the backend sends them.
func (a *Archive) Record(ctx context.Context, events []backend.HazardEvent, modelName string, seenAt time.Time) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO hazard_events(event_id, type, confidence, time_label, model_name, first_seen) VALUES(?,?,?,?,?,?)`)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	seen := float64(seenAt.UnixNano()) / 1e9
	inserted := 0
	// Oldest first so insertion order matches recency.
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.ID == "" {
			continue
		}
		confidence := min(max(e.Confidence, 0), 1)
		res, err := stmt.ExecContext(ctx, e.ID, e.Type, confidence, e.Time, modelName, seen)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("failed to insert event %s: %w", e.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, nil
}

// Recent returns up to limit archived events, newest first.
func (a *Archive) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx, `SELECT event_id, type, confidence, time_label, COALESCE(model_name, ''), first_seen
		FROM hazard_events ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query archive: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Type, &e.Confidence, &e.Time, &e.ModelName, &e.FirstSeen); err != nil {
			return nil, fmt.Errorf("failed to scan archive row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of archived events.
func (a *Archive) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hazard_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count archive: %w", err)
	}
	return n, nil
}

// Run archives the hazard log of every applied snapshot until ctx is done.
func (a *Archive) Run(ctx context.Context, changes <-chan dashboard.Change, m *metrics.Metrics) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if change.Kind != dashboard.ChangeSnapshot {
				continue
			}
			n, err := a.Record(ctx, change.State.Stats.Logs, change.State.ModelName, time.Now())
			if err != nil {
				if m != nil {
					m.ArchiveErrors.Add(1)
				}
				logger.Error("Archive", "Failed to archive hazard log: %v", err)
				continue
			}
			if n > 0 {
				if m != nil {
					m.ArchivedEvents.Add(uint64(n))
				}
				logger.Debug("Archive", "Archived %d new hazard events", n)
			}
		}
	}
}
