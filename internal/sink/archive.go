package sink

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/warrant/internal/invariant"
	"github.com/roach88/warrant/internal/monitor"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on violations(severity)
const currentSchemaVersion = 1

// Archive is the durable history of alerts, incidents, security events,
// and invariant violations. SQLite with WAL mode, single writer.
type Archive struct {
	db *sql.DB
}

// OpenArchive creates or opens the archive database at the given path,
// applying pragmas and migrations. Idempotent.
func OpenArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: connect: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent sink writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: apply schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// Close closes the database connection.
func (a *Archive) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// ArchiveAlert records one alert lifecycle transition ("raised" or
// "resolved").
func (a *Archive) ArchiveAlert(event string, alert monitor.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("archive: marshal alert %s: %w", alert.ID, err)
	}
	ts := alert.Timestamp
	if event == "resolved" && alert.ResolvedAt != nil {
		ts = *alert.ResolvedAt
	}
	_, err = a.db.Exec(`
		INSERT INTO alerts (alert_id, event, slo, severity, message, current_value, target_value, timestamp, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, event, alert.SLO, string(alert.Severity), alert.Message,
		alert.CurrentValue, alert.TargetValue, ts.UTC().Format(time.RFC3339), string(payload),
	)
	if err != nil {
		return fmt.Errorf("archive: insert alert %s: %w", alert.ID, err)
	}
	return nil
}

// ArchiveIncident records one incident lifecycle transition ("created" or
// "escalated").
func (a *Archive) ArchiveIncident(event string, incident monitor.IncidentReport) error {
	payload, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("archive: marshal incident %s: %w", incident.ID, err)
	}
	_, err = a.db.Exec(`
		INSERT INTO incidents (incident_id, event, status, severity, title, timestamp, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		incident.ID, event, string(incident.Status), incident.Severity,
		incident.Title, incident.StartTime.UTC().Format(time.RFC3339), string(payload),
	)
	if err != nil {
		return fmt.Errorf("archive: insert incident %s: %w", incident.ID, err)
	}
	return nil
}

// ArchiveSecurityEvent records one security event. Replays of the same
// event id are ignored.
func (a *Archive) ArchiveSecurityEvent(event monitor.SecurityEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("archive: marshal security event %s: %w", event.ID, err)
	}
	blocked := 0
	if event.Blocked {
		blocked = 1
	}
	_, err = a.db.Exec(`
		INSERT OR IGNORE INTO security_events (event_id, type, severity, source, blocked, timestamp, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Type, event.Severity, event.Source, blocked,
		event.Timestamp.UTC().Format(time.RFC3339), string(payload),
	)
	if err != nil {
		return fmt.Errorf("archive: insert security event %s: %w", event.ID, err)
	}
	return nil
}

// ArchiveViolations flushes a violation log snapshot. Returns the number
// of rows written.
func (a *Archive) ArchiveViolations(violations []invariant.Violation) (int, error) {
	if len(violations) == 0 {
		return 0, nil
	}

	tx, err := a.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("archive: begin violations tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO violations (invariant, severity, message, context, timestamp, details)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("archive: prepare violations insert: %w", err)
	}
	defer stmt.Close()

	written := 0
	for _, v := range violations {
		details, err := json.Marshal(v.Details)
		if err != nil {
			return written, fmt.Errorf("archive: marshal violation details: %w", err)
		}
		if _, err := stmt.Exec(
			v.Invariant, string(v.Severity), v.Message, v.Context,
			v.Timestamp.UTC().Format(time.RFC3339), string(details),
		); err != nil {
			return written, fmt.Errorf("archive: insert violation: %w", err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("archive: commit violations: %w", err)
	}
	return written, nil
}

// Counts reports row totals per table, for status output.
type Counts struct {
	Alerts         int
	Incidents      int
	SecurityEvents int
	Violations     int
}

// Count tallies archived rows per entity.
func (a *Archive) Count() (Counts, error) {
	var c Counts
	for _, q := range []struct {
		table string
		dst   *int
	}{
		{"alerts", &c.Alerts},
		{"incidents", &c.Incidents},
		{"security_events", &c.SecurityEvents},
		{"violations", &c.Violations},
	} {
		if err := a.db.QueryRow("SELECT COUNT(*) FROM " + q.table).Scan(q.dst); err != nil {
			return Counts{}, fmt.Errorf("archive: count %s: %w", q.table, err)
		}
	}
	return c, nil
}

// RecentViolations returns the most recently archived violations, newest
// first.
func (a *Archive) RecentViolations(limit int) ([]invariant.Violation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.Query(`
		SELECT invariant, severity, message, context, timestamp, details
		FROM violations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: query violations: %w", err)
	}
	defer rows.Close()

	var out []invariant.Violation
	for rows.Next() {
		var v invariant.Violation
		var severity, timestamp, details string
		if err := rows.Scan(&v.Invariant, &severity, &v.Message, &v.Context, &timestamp, &details); err != nil {
			return nil, fmt.Errorf("archive: scan violation: %w", err)
		}
		v.Severity = invariant.Severity(severity)
		if ts, err := time.Parse(time.RFC3339, timestamp); err == nil {
			v.Timestamp = ts
		}
		if details != "" && details != "null" {
			if err := json.Unmarshal([]byte(details), &v.Details); err != nil {
				return nil, fmt.Errorf("archive: decode violation details: %w", err)
			}
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// Idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return runMigrations(db)
}

// runMigrations applies incremental schema migrations based on
// user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 adds the severity index for databases created before v1.
// New databases are unaffected; the statement is a no-op when the index
// exists.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_violations_severity
		ON violations(severity)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}
