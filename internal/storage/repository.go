package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/docsismon/internal/analyzer"
	"codeberg.org/mutker/docsismon/internal/errors"
	"codeberg.org/mutker/docsismon/internal/events"
	"codeberg.org/mutker/docsismon/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

const pruneEvery = 24 * time.Hour

// Repository is the SQLite Store. Writes are serialized.
type Repository struct {
	db        *sql.DB
	logger    logger.Logger
	cfg       Config
	now       func() time.Time
	mu        sync.Mutex
	lastPrune time.Time
}

func NewRepository(cfg Config, log logger.Logger, now func() time.Time) (*Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}
	if now == nil {
		now = time.Now
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}
	db.SetMaxOpenConns(1)

	if err := ValidateAndUpdateSchema(db, cfg.backupDir(), log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("retention_days", cfg.RetentionDays).
		Msg("Storage initialized")

	return &Repository{db: db, logger: log, cfg: cfg, now: now}, nil
}

func (r *Repository) SaveSnapshot(ctx context.Context, source string, res *analyzer.Result) (int64, error) {
	errFactory := errors.New()

	if res == nil {
		return 0, errFactory.New(ErrInvalidSnapshot)
	}

	issues, err := json.Marshal(res.Summary.Issues)
	if err != nil {
		return 0, errFactory.Wrap(ErrInvalidSnapshot, err)
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return 0, errFactory.Wrap(ErrInvalidSnapshot, err)
	}

	ts := res.Timestamp
	if ts.IsZero() {
		ts = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := res.Summary
	result, err := r.db.ExecContext(ctx, insertSnapshotSQL,
		source, ts.Unix(), string(s.Health),
		s.DSChannels, s.USChannels,
		s.DSPowerAvg, s.USPowerAvg,
		s.SNRMin, s.SNRAvg,
		s.TotalCorrected, s.TotalUncorrected,
		string(issues), string(payload),
	)
	if err != nil {
		return 0, errFactory.Wrap(ErrStorageWrite, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, errFactory.Wrap(ErrStorageWrite, err)
	}

	r.pruneLocked(ctx)

	return id, nil
}

func (r *Repository) SaveEvents(ctx context.Context, evs []events.Event) error {
	if len(evs) == 0 {
		return nil
	}

	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.PrepareContext(ctx, insertEventSQL)
	if err != nil {
		r.rollback(tx)
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, ev := range evs {
		var details sql.NullString
		if len(ev.Details) > 0 {
			raw, err := json.Marshal(ev.Details)
			if err != nil {
				r.rollback(tx)
				return errFactory.Wrap(ErrStorageWrite, err)
			}
			details = sql.NullString{String: string(raw), Valid: true}
		}

		if _, err := stmt.ExecContext(ctx,
			ev.ID, ev.Source, ev.Timestamp.Unix(), ev.Type, string(ev.Severity), ev.Message, details,
		); err != nil {
			r.rollback(tx)
			return errFactory.Wrap(ErrStorageWrite, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().Int("records", len(evs)).Msg("Stored events")
	return nil
}

func (r *Repository) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		r.logger.ErrorWithContext(err, "rollback").Send()
	}
}

// LatestID returns the id of the newest snapshot, or 0 when there is none.
func (r *Repository) LatestID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(id) FROM snapshots`).Scan(&id); err != nil {
		return 0, errors.New().Wrap(ErrQueryFailed, err)
	}
	return id.Int64, nil
}

func (r *Repository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		return 0, errors.New().Wrap(ErrQueryFailed, err)
	}
	return n, nil
}

// RecentEvents returns up to limit events, newest first.
func (r *Repository) RecentEvents(ctx context.Context, limit int) ([]events.Event, error) {
	errFactory := errors.New()

	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
        SELECT id, source, timestamp, type, severity, message, details
        FROM events
        ORDER BY timestamp DESC, rowid DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			ev       events.Event
			ts       int64
			severity string
			details  sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.Source, &ts, &ev.Type, &severity, &ev.Message, &details); err != nil {
			return nil, errFactory.Wrap(ErrQueryFailed, err)
		}
		ev.Timestamp = time.Unix(ts, 0).UTC()
		ev.Severity = events.Severity(severity)
		if details.Valid {
			if err := json.Unmarshal([]byte(details.String), &ev.Details); err != nil {
				r.logger.Debug().Err(err).Str("event", ev.ID).Msg("Ignoring unreadable event details")
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}
	return out, nil
}

// pruneLocked drops rows older than the retention window, at most once a day.
func (r *Repository) pruneLocked(ctx context.Context) {
	if r.cfg.RetentionDays <= 0 {
		return
	}
	now := r.now()
	if !r.lastPrune.IsZero() && now.Sub(r.lastPrune) < pruneEvery {
		return
	}
	r.lastPrune = now

	cutoff := now.AddDate(0, 0, -r.cfg.RetentionDays).Unix()
	for _, table := range []string{"snapshots", "events"} {
		res, err := r.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE timestamp < ?", cutoff)
		if err != nil {
			r.logger.Warn().Err(err).Str("table", table).Msg("Failed to prune old rows")
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			r.logger.Info().Str("table", table).Int64("rows", n).Msg("Pruned old rows")
		}
	}
}

func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Info().Msg("Storage closed gracefully")
	return nil
}
