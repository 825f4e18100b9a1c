// Package storage keeps analysis snapshots and detected events in SQLite.
package storage

import (
	"context"
	"time"

	"codeberg.org/mutker/docsismon/internal/analyzer"
	"codeberg.org/mutker/docsismon/internal/errors"
	"codeberg.org/mutker/docsismon/internal/events"
	"codeberg.org/mutker/docsismon/internal/logger"
)

type Store interface {
	SaveSnapshot(ctx context.Context, source string, res *analyzer.Result) (int64, error)
	SaveEvents(ctx context.Context, evs []events.Event) error
	LatestID(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int64, error)
	RecentEvents(ctx context.Context, limit int) ([]events.Event, error)
	Close() error
}

// New opens the configured store, or a no-op store when storage is disabled.
func New(cfg Config, log logger.Logger) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.New().Wrap(errors.ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Debug().Msg("Storage disabled, using no-op store")
		return noopStore{}, nil
	}

	return NewRepository(cfg, log, time.Now)
}

type noopStore struct{}

func (noopStore) SaveSnapshot(context.Context, string, *analyzer.Result) (int64, error) {
	return 0, nil
}

func (noopStore) SaveEvents(context.Context, []events.Event) error { return nil }

func (noopStore) LatestID(context.Context) (int64, error) { return 0, nil }

func (noopStore) Count(context.Context) (int64, error) { return 0, nil }

func (noopStore) RecentEvents(context.Context, int) ([]events.Event, error) { return nil, nil }

func (noopStore) Close() error { return nil }
