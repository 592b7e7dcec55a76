// Package store is the gorm backed implementation of gateway.Gateway and of
// the durable job queue used by the work package.
package store

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	sqliteEncrypt "github.com/Daskott/gorm-sqlite-cipher"
	"github.com/Daskott/deadman/server/gateway"
	"github.com/Daskott/deadman/server/models"
	"github.com/Daskott/deadman/shared"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

const DB_NAME = "deadman.db"

var _ gateway.Gateway = (*Store)(nil)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open connects to the database selected by cfg.Database.Driver. For sqlite
// the encrypted database file lives in '<rootDir>/db/deadman.db'.
func Open(cfg *shared.ServerConfig, rootDir string) (*Store, error) {
	var dialector gorm.Dialector

	switch cfg.Database.Driver {
	case shared.POSTGRES_DRIVER:
		dialector = postgres.Open(cfg.Database.DSN)
	case shared.SQLITE_DRIVER:
		dsn, err := sqliteDSN(cfg.Sqlite.PassPhrase, rootDir)
		if err != nil {
			return nil, fmt.Errorf("failed to set sqlite DSN: %v", err)
		}
		dialector = sqliteEncrypt.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	db, err := gorm.Open(dialector, GormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %v", err)
	}

	if cfg.Database.Driver == shared.SQLITE_DRIVER {
		// sqlite allows a single writer, serialise access instead of
		// surfacing "database is locked" to callers.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return New(db), nil
}

// GormConfig keeps gorm quiet and stores every timestamp in UTC so that
// time comparisons behave the same on sqlite and postgres.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger: gormLogger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			gormLogger.Config{
				LogLevel:                  gormLogger.Silent,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
	}
}

// Migrate auto-migrates the db schema.
func (s *Store) Migrate() error {
	err := s.db.AutoMigrate(
		&models.Switch{}, &models.CheckIn{}, &models.EmergencyContact{},
		&models.Notification{}, &models.Job{},
	)
	if err != nil {
		return errors.Wrap(err, "auto-migrate")
	}
	return nil
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return translate("ping", sqlDB.PingContext(ctx))
}

// Checkpoint folds the sqlite write-ahead log back into the database file,
// so the file alone is a complete copy of the data.
func (s *Store) Checkpoint(ctx context.Context) error {
	if s.db.Dialector.Name() != "sqlite" {
		return nil
	}
	return translate("checkpoint", s.db.WithContext(ctx).Exec("PRAGMA wal_checkpoint(TRUNCATE)").Error)
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

func sqliteDSN(passPhrase string, rootDir string) (string, error) {
	dbFilePath, err := DbFilePath(rootDir)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(
		"file:%v?_pragma_key=%s&_pragma_cipher_page_size=4096&_journal_mode=WAL&_busy_timeout=5000",
		dbFilePath,
		passPhrase,
	), nil
}

// DbFilePath returns the sqlite database file path, creating its
// directory if needed.
func DbFilePath(rootDir string) (string, error) {
	dbDir := filepath.Join(rootDir, "db")

	if err := os.MkdirAll(dbDir, os.ModePerm); err != nil {
		return "", err
	}

	return filepath.Join(dbDir, DB_NAME), nil
}

// translate maps gorm errors onto the gateway error contract.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrap(models.ErrNotFound, op)
	}
	return models.NewPersistenceError(op, err)
}
