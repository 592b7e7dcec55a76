package server

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/Daskott/deadman/server/gstorage"
	"github.com/Daskott/deadman/server/work"
)

const (
	BACKUP_SQLITE_DB_JOB = "backup_sqlite_db"

	storageTimeout = 50 * time.Second
)

// Blob is where the sqlite database file is backed up to.
type Blob interface {
	UploadFile(ctx context.Context, filePath string) error
	DownloadFile(ctx context.Context, destFilePath string) error
}

func (s *Server) backupSqliteDb(ctx context.Context, args map[string]interface{}) error {
	if s.storage == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, storageTimeout)
	defer cancel()

	if err := s.store.Checkpoint(ctx); err != nil {
		return err
	}
	return s.storage.UploadFile(ctx, s.dbFilePath)
}

// restoreSqliteDb pulls the last backup when there is no local database
// yet. A bucket without a backup is a fresh install.
func restoreSqliteDb(ctx context.Context, storage Blob, dbFilePath string) error {
	if _, err := os.Stat(dbFilePath); err == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, storageTimeout)
	defer cancel()

	err := storage.DownloadFile(ctx, dbFilePath)
	if errors.Is(err, gstorage.ErrObjectNotExist) {
		logg.Infof("No sqlite backup found, starting with an empty database")
		return nil
	}
	return err
}

func (s *Server) registerJobHandlers() error {
	if err := s.dispatcher.Register(s.workers); err != nil {
		return err
	}
	return s.workers.Register(BACKUP_SQLITE_DB_JOB, s.backupSqliteDb)
}

func (s *Server) enqueuePeriodicJobs() error {
	if s.storage == nil {
		return nil
	}

	return s.workers.PeriodicallyPerform(s.config.Google.Storage.SqliteBackupSchedule, work.JobParams{
		Name:    BACKUP_SQLITE_DB_JOB,
		Handler: BACKUP_SQLITE_DB_JOB,
		Args:    map[string]interface{}{},
	})
}
