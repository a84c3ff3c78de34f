package testutil

import (
	"testing"

	"kombat-farm-bot/storage"

	"gorm.io/gorm"
)

// OpenTestDB returns a migrated in-memory database private to t. The pool is
// pinned to one connection so every query sees the same memory database.
func OpenTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := storage.Open(":memory:", false)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("test db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := storage.Migrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}
