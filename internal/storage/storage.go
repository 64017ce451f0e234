// Package storage provides SQLite-backed persistence for alerts, intensity results
// and cached channel sensitivities.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/seisguard/internal/models"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when an alert ID does not exist.
var ErrNotFound = errors.New("storage: not found")

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db           *sql.DB
	maxAlerts    int
	maxIntensity int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/seisguard/data.db. Non-positive caps disable
// rotation for that table.
func New(maxAlerts, maxIntensity int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "seisguard", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxAlerts: maxAlerts, maxIntensity: maxIntensity}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id              TEXT PRIMARY KEY,
			channel         TEXT NOT NULL,
			triggered_at    INTEGER NOT NULL,
			reset_at        INTEGER,
			trigger_ratio   REAL NOT NULL,
			max_ratio       REAL NOT NULL,
			max_intensity   REAL NOT NULL DEFAULT 0,
			snapshot_path   TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_triggered_at ON alerts(triggered_at)`,
		`CREATE TABLE IF NOT EXISTS intensity (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp       INTEGER NOT NULL,
			intensity       REAL NOT NULL,
			class           TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_intensity_timestamp ON intensity(timestamp)`,
		`CREATE TABLE IF NOT EXISTS sensitivities (
			channel         TEXT PRIMARY KEY,
			value           REAL NOT NULL,
			updated_at      INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// AlertTriggered stores a newly opened alert.
func (s *Storage) AlertTriggered(ctx context.Context, alert models.Alert) error {
	if err := alert.Validate(); err != nil {
		return fmt.Errorf("invalid alert: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO alerts
			(id, channel, triggered_at, reset_at, trigger_ratio, max_ratio, max_intensity, snapshot_path)
		VALUES (?,?,?,?,?,?,?,?)`,
		alert.ID, alert.Channel, alert.TriggeredAt.UnixNano(), nullTime(alert.ResetAt),
		alert.TriggerRatio, alert.MaxRatio, alert.MaxIntensity, alert.SnapshotPath,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	if s.maxAlerts > 0 {
		if _, err = tx.ExecContext(ctx, `
			DELETE FROM alerts WHERE id NOT IN (
				SELECT id FROM alerts ORDER BY triggered_at DESC LIMIT ?
			)`, s.maxAlerts); err != nil {
			return fmt.Errorf("failed to enforce alert cap: %w", err)
		}
	}
	return tx.Commit()
}

// AlertReset records the end of an alert, inserting it if the trigger was never stored.
func (s *Storage) AlertReset(ctx context.Context, alert models.Alert) error {
	if err := alert.Validate(); err != nil {
		return fmt.Errorf("invalid alert: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts
			(id, channel, triggered_at, reset_at, trigger_ratio, max_ratio, max_intensity, snapshot_path)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			reset_at=excluded.reset_at,
			max_ratio=MAX(alerts.max_ratio, excluded.max_ratio),
			max_intensity=MAX(alerts.max_intensity, excluded.max_intensity),
			snapshot_path=CASE WHEN excluded.snapshot_path != '' THEN excluded.snapshot_path ELSE alerts.snapshot_path END`,
		alert.ID, alert.Channel, alert.TriggeredAt.UnixNano(), nullTime(alert.ResetAt),
		alert.TriggerRatio, alert.MaxRatio, alert.MaxIntensity, alert.SnapshotPath,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	return nil
}

// Intensity stores one intensity result.
func (s *Storage) Intensity(ctx context.Context, result models.IntensityResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO intensity (timestamp, intensity, class) VALUES (?,?,?)`,
		result.Timestamp.UnixNano(), result.Intensity, result.Class,
	)
	if err != nil {
		return fmt.Errorf("failed to insert intensity: %w", err)
	}
	return nil
}

// SetSnapshotPath records the rendered waveform image of an alert.
func (s *Storage) SetSnapshotPath(id, path string) error {
	res, err := s.db.Exec(`UPDATE alerts SET snapshot_path=? WHERE id=?`, path, id)
	if err != nil {
		return fmt.Errorf("failed to set snapshot path: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: alert %s", ErrNotFound, id)
	}
	return nil
}

const alertCols = `id, channel, triggered_at, reset_at, trigger_ratio, max_ratio, max_intensity, snapshot_path`

// GetAlert returns the alert with the given ID.
func (s *Storage) GetAlert(id string) (*models.Alert, error) {
	row := s.db.QueryRow(`SELECT `+alertCols+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: alert %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

// RecentAlerts returns up to k alerts, newest first.
func (s *Storage) RecentAlerts(k int) ([]models.Alert, error) {
	rows, err := s.db.Query(`SELECT `+alertCols+` FROM alerts ORDER BY triggered_at DESC LIMIT ?`, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []models.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

// PeakIntensity returns the highest stored intensity at or after since, and false
// if there is none.
func (s *Storage) PeakIntensity(since time.Time) (models.IntensityResult, bool, error) {
	row := s.db.QueryRow(`
		SELECT timestamp, intensity, class FROM intensity
		WHERE timestamp >= ? ORDER BY intensity DESC, timestamp ASC LIMIT 1`, since.UnixNano())
	var r models.IntensityResult
	var ts int64
	err := row.Scan(&ts, &r.Intensity, &r.Class)
	if errors.Is(err, sql.ErrNoRows) {
		return models.IntensityResult{}, false, nil
	}
	if err != nil {
		return models.IntensityResult{}, false, fmt.Errorf("failed to query intensity: %w", err)
	}
	r.Timestamp = time.Unix(0, ts).UTC()
	return r, true, nil
}

// CountIntensity returns the number of stored intensity rows.
func (s *Storage) CountIntensity() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM intensity`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count intensity: %w", err)
	}
	return n, nil
}

// SaveSensitivities upserts channel sensitivities in counts per unit.
func (s *Storage) SaveSensitivities(values map[string]float64, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for ch, v := range values {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO sensitivities (channel, value, updated_at) VALUES (?,?,?)`,
			ch, v, at.UnixNano()); err != nil {
			return fmt.Errorf("failed to save sensitivity %s: %w", ch, err)
		}
	}
	return tx.Commit()
}

// LoadSensitivities returns every cached sensitivity.
func (s *Storage) LoadSensitivities() (map[string]float64, error) {
	rows, err := s.db.Query(`SELECT channel, value FROM sensitivities`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensitivities: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var ch string
		var v float64
		if err := rows.Scan(&ch, &v); err != nil {
			return nil, fmt.Errorf("failed to scan sensitivity: %w", err)
		}
		out[ch] = v
	}
	return out, rows.Err()
}

// Rotate trims the alert and intensity tables to their configured caps, keeping
// the newest rows.
func (s *Storage) Rotate() error {
	if s.maxAlerts > 0 {
		if _, err := s.db.Exec(`
			DELETE FROM alerts WHERE id NOT IN (
				SELECT id FROM alerts ORDER BY triggered_at DESC LIMIT ?
			)`, s.maxAlerts); err != nil {
			return fmt.Errorf("failed to rotate alerts: %w", err)
		}
	}
	if s.maxIntensity > 0 {
		if _, err := s.db.Exec(`
			DELETE FROM intensity WHERE id NOT IN (
				SELECT id FROM intensity ORDER BY timestamp DESC, id DESC LIMIT ?
			)`, s.maxIntensity); err != nil {
			return fmt.Errorf("failed to rotate intensity: %w", err)
		}
	}
	return nil
}

func scanAlert(scan func(...any) error) (*models.Alert, error) {
	var a models.Alert
	var triggeredNano int64
	var resetNano sql.NullInt64
	err := scan(
		&a.ID, &a.Channel, &triggeredNano, &resetNano,
		&a.TriggerRatio, &a.MaxRatio, &a.MaxIntensity, &a.SnapshotPath,
	)
	if err != nil {
		return nil, err
	}
	a.TriggeredAt = time.Unix(0, triggeredNano).UTC()
	if resetNano.Valid {
		t := time.Unix(0, resetNano.Int64).UTC()
		a.ResetAt = &t
	}
	return &a, nil
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
