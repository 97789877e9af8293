package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/opspulse/opspulse/pkg/models"
)

var (
	errArchiveDisabled   = errors.New("archive alerter is disabled")
	errFailedOpenDB      = errors.New("failed to open archive database")
	errFailedToEnableWAL = errors.New("failed to enable WAL mode")
	errFailedToInit      = errors.New("failed to initialize archive schema")
	errFailedToInsert    = errors.New("failed to insert alert")
)

const createArchiveSQL = `
	CREATE TABLE IF NOT EXISTS alert_archive (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		message TEXT NOT NULL,
		threshold REAL NOT NULL,
		current_value REAL NOT NULL,
		details TEXT,
		suggested_actions TEXT,
		fired_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alert_archive_fired_at ON alert_archive(fired_at);
	CREATE INDEX IF NOT EXISTS idx_alert_archive_type ON alert_archive(type);`

// ArchiveConfig configures the local SQLite archive channel.
type ArchiveConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ArchiveAlerter is a notification sink that appends fired alerts to a local
// SQLite file. It is a channel like any other: the engine's own state stays
// in memory, the archive just gives operators something to grep after a
// restart.
type ArchiveAlerter struct {
	config ArchiveConfig
	db     *sql.DB
}

// NewArchiveAlerter opens (and if needed creates) the archive database.
func NewArchiveAlerter(config ArchiveConfig) (*ArchiveAlerter, error) {
	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedOpenDB, err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", errFailedToEnableWAL, err)
	}

	if _, err := db.Exec(createArchiveSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", errFailedToInit, err)
	}

	return &ArchiveAlerter{
		config: config,
		db:     db,
	}, nil
}

func (a *ArchiveAlerter) IsEnabled() bool {
	return a.config.Enabled
}

// Alert appends one alert row to the archive.
func (a *ArchiveAlerter) Alert(ctx context.Context, alert *models.AlertInstance) error {
	if !a.IsEnabled() {
		return errArchiveDisabled
	}

	details := ""

	if len(alert.Details) > 0 {
		raw, err := json.Marshal(alert.Details)
		if err == nil {
			details = string(raw)
		}
	}

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO alert_archive
			(type, severity, message, threshold, current_value, details, suggested_actions, fired_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.Type,
		string(alert.Severity),
		alert.Message,
		alert.Threshold,
		alert.CurrentValue,
		details,
		strings.Join(alert.SuggestedActions, "\n"),
		alert.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", errFailedToInsert, err)
	}

	return nil
}

// Close closes the archive database.
func (a *ArchiveAlerter) Close() error {
	return a.db.Close()
}
