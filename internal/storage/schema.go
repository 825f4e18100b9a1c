package storage

import (
	"database/sql"

	"codeberg.org/mutker/docsismon/internal/errors"
	"codeberg.org/mutker/docsismon/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS snapshots (
	       id                INTEGER PRIMARY KEY AUTOINCREMENT,
	       source            TEXT NOT NULL,
	       timestamp         INTEGER NOT NULL,
	       health            TEXT NOT NULL CHECK (health IN ('good', 'marginal', 'poor')),
	       ds_channels       INTEGER NOT NULL,
	       us_channels       INTEGER NOT NULL,
	       ds_power_avg      REAL NOT NULL,
	       us_power_avg      REAL NOT NULL,
	       snr_min           REAL NOT NULL,
	       snr_avg           REAL NOT NULL,
	       total_corrected   INTEGER NOT NULL,
	       total_uncorrected INTEGER NOT NULL,
	       issues            TEXT NOT NULL,
	       payload           TEXT NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS idx_snapshots_source_ts ON snapshots (source, timestamp);
	   CREATE TABLE IF NOT EXISTS events (
	       id          TEXT PRIMARY KEY,
	       source      TEXT NOT NULL,
	       timestamp   INTEGER NOT NULL,
	       type        TEXT NOT NULL,
	       severity    TEXT NOT NULL CHECK (severity IN ('info', 'warning', 'critical')),
	       message     TEXT NOT NULL,
	       details     TEXT
	   );
	   CREATE INDEX IF NOT EXISTS idx_events_ts ON events (timestamp);`

	insertSnapshotSQL = `
    INSERT INTO snapshots (
        source, timestamp, health,
        ds_channels, us_channels,
        ds_power_avg, us_power_avg,
        snr_min, snr_avg,
        total_corrected, total_uncorrected,
        issues, payload
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertEventSQL = `
    INSERT INTO events (id, source, timestamp, type, severity, message, details)
    VALUES (?, ?, ?, ?, ?, ?, ?)`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Phase string
			Error string
		}{
			Phase: "create_tables",
			Error: err.Error(),
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Phase string
			Error string
		}{
			Phase: "record_version",
			Error: err.Error(),
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, or 0 for an empty
// database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	return version, nil
}

func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
