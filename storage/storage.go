package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kombat-farm-bot/model"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("not found")

// Open opens the sqlite database at path with a busy timeout so concurrent
// jobs wait on each other instead of failing. Mirrors reference accounts that
// may be unlinked, so no foreign key constraints are created.
func Open(path string, logSQL bool) (*gorm.DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	level := logger.Silent
	if logSQL {
		level = logger.Info
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(level),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.Account{},
		&model.AccountConfig{},
		&model.AccountProxy{},
		&model.AccountUpgrade{},
		&model.AccountBoost{},
		&model.AccountTask{},
		&model.AccountCipher{},
	)
}

// Sessions hands out one Repository/UnitOfWork pair per logical operation.
type Sessions struct {
	DB *gorm.DB
}

type Session struct {
	Repo *Repository
	UoW  *UnitOfWork
}

func (s Sessions) Open(ctx context.Context) *Session {
	db := s.DB.WithContext(ctx)
	return &Session{
		Repo: &Repository{db: db},
		UoW:  &UnitOfWork{db: db},
	}
}

// Close drops writes that were never committed.
func (s *Session) Close() {
	s.UoW.Rollback()
}
