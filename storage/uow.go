package storage

import (
	"context"
	"sync"

	"kombat-farm-bot/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UnitOfWork collects entity writes and flushes them in one transaction on
// Commit. Reads through Repository are not affected by pending writes.
type UnitOfWork struct {
	db *gorm.DB

	mu      sync.Mutex
	saves   []any
	deletes []any
}

// Add stages entities for saving. Tracked rows that were never stored are
// inserted whole; stored ones only get the columns changed through Apply, so
// concurrent sessions editing other columns of the same row do not clobber
// each other. Untracked entities are saved whole.
func (u *UnitOfWork) Add(ctx context.Context, commit bool, entities ...any) error {
	u.mu.Lock()
	for _, e := range entities {
		if e != nil && !contains(u.saves, e) {
			u.saves = append(u.saves, e)
		}
	}
	u.mu.Unlock()

	if commit {
		return u.Commit(ctx)
	}
	return nil
}

func (u *UnitOfWork) Delete(ctx context.Context, commit bool, entities ...any) error {
	u.mu.Lock()
	for _, e := range entities {
		if e != nil && !contains(u.deletes, e) {
			u.deletes = append(u.deletes, e)
		}
	}
	u.mu.Unlock()

	if commit {
		return u.Commit(ctx)
	}
	return nil
}

// Commit writes everything staged so far. On failure nothing is written and
// the staged entities are kept until Rollback.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if len(u.saves) == 0 && len(u.deletes) == 0 {
		return nil
	}

	var inserted []model.Tracked
	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, e := range u.saves {
			t, ok := e.(model.Tracked)
			if ok && !t.Persisted() {
				inserted = append(inserted, t)
			}
			if err := write(tx, e); err != nil {
				return err
			}
		}
		for _, e := range u.deletes {
			if err := tx.Delete(e).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// AfterCreate already ran for rows inserted before the failure.
		for _, t := range inserted {
			t.MarkUnsaved()
		}
		return err
	}

	for _, e := range u.saves {
		if t, ok := e.(model.Tracked); ok {
			t.MarkSaved()
		}
	}
	u.saves, u.deletes = nil, nil
	return nil
}

func write(tx *gorm.DB, e any) error {
	t, ok := e.(model.Tracked)
	switch {
	case !ok:
		return tx.Omit(clause.Associations).Save(e).Error
	case !t.Persisted():
		return tx.Omit(clause.Associations).Create(e).Error
	}
	cols := t.Changed()
	if len(cols) == 0 {
		return nil
	}
	return tx.Model(e).Select(cols).Omit(clause.Associations).Updates(e).Error
}

func (u *UnitOfWork) Rollback() {
	u.mu.Lock()
	u.saves, u.deletes = nil, nil
	u.mu.Unlock()
}

func (u *UnitOfWork) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.saves) + len(u.deletes)
}

func contains(list []any, e any) bool {
	for _, x := range list {
		if x == e {
			return true
		}
	}
	return false
}
