package storage

import (
	"path/filepath"

	"codeberg.org/mutker/docsismon/internal/errors"
)

const (
	defaultDirPerm       = 0o755
	defaultDBPath        = "/var/lib/docsismon/docsismon.db"
	defaultRetentionDays = 90
)

type Config struct {
	DBPath        string
	BackupDir     string
	RetentionDays int
	Enabled       bool
}

func DefaultConfig() Config {
	return Config{
		DBPath:        defaultDBPath,
		RetentionDays: defaultRetentionDays,
		Enabled:       true,
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.DBPath == "" {
		return errors.New().New(ErrInvalidDBPath)
	}
	if c.RetentionDays < 0 {
		return errors.New().WithData(errors.ErrInvalidConfig, "storage.retention_days must not be negative")
	}
	return nil
}

// backupDir defaults to a "backups" directory next to the database.
func (c Config) backupDir() string {
	if c.BackupDir != "" {
		return c.BackupDir
	}
	return filepath.Join(filepath.Dir(c.DBPath), "backups")
}
