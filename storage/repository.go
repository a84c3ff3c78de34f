package storage

import (
	"context"
	"errors"

	"kombat-farm-bot/model"

	"gorm.io/gorm"
)

// Relations accepted by the preload arguments of Repository getters.
const (
	WithConfig   = "Config"
	WithProxy    = "Config.Proxy"
	WithUpgrades = "Upgrades"
	WithBoosts   = "Boosts"
	WithTasks    = "Tasks"
	WithCipher   = "Cipher"
	WithAccounts = "Accounts"
)

type Repository struct {
	db *gorm.DB
}

type AccountFilter struct {
	UserID        *int64
	IsAutofarm    *bool
	IsAutoupgrade *bool
	IsAutosync    *bool
	Limit         int
}

type UpgradeFilter struct {
	AccountID int64
	Section   string
	IsActive  *bool
	IsExpired *bool
	// Unresolved selects gated upgrades whose condition link is still missing.
	Unresolved bool
	Limit      int
}

func (r *Repository) GetUser(ctx context.Context, id int64, preload ...string) (*model.User, error) {
	var u model.User
	err := withPreload(r.db.WithContext(ctx), preload).First(&u, id).Error
	return found(&u, err)
}

func (r *Repository) ListUsers(ctx context.Context, activeOnly bool, preload ...string) ([]model.User, error) {
	q := withPreload(r.db.WithContext(ctx), preload)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var users []model.User
	err := q.Order("id").Find(&users).Error
	return users, err
}

func (r *Repository) GetAccount(ctx context.Context, id int64, preload ...string) (*model.Account, error) {
	var a model.Account
	err := withPreload(r.db.WithContext(ctx), preload).First(&a, id).Error
	return found(&a, err)
}

func (r *Repository) ListAccounts(ctx context.Context, f AccountFilter, preload ...string) ([]model.Account, error) {
	q := withPreload(r.db.WithContext(ctx), preload).Model(&model.Account{})
	if f.UserID != nil {
		q = q.Where("accounts.user_id = ?", *f.UserID)
	}
	if f.IsAutofarm != nil || f.IsAutoupgrade != nil || f.IsAutosync != nil {
		q = q.Joins("JOIN account_configs ON account_configs.account_id = accounts.id")
		if f.IsAutofarm != nil {
			q = q.Where("account_configs.is_autofarm = ?", *f.IsAutofarm)
		}
		if f.IsAutoupgrade != nil {
			q = q.Where("account_configs.is_autoupgrade = ?", *f.IsAutoupgrade)
		}
		if f.IsAutosync != nil {
			q = q.Where("account_configs.is_autosync = ?", *f.IsAutosync)
		}
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var accounts []model.Account
	err := q.Order("accounts.id").Find(&accounts).Error
	return accounts, err
}

func (r *Repository) GetConfig(ctx context.Context, accountID int64) (*model.AccountConfig, error) {
	var c model.AccountConfig
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).First(&c).Error
	return found(&c, err)
}

func (r *Repository) GetProxy(ctx context.Context, configID uint) (*model.AccountProxy, error) {
	var p model.AccountProxy
	err := r.db.WithContext(ctx).Where("config_id = ?", configID).First(&p).Error
	return found(&p, err)
}

func (r *Repository) GetUpgrade(ctx context.Context, accountID int64, upgradeType string) (*model.AccountUpgrade, error) {
	var u model.AccountUpgrade
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND type = ?", accountID, upgradeType).
		First(&u).Error
	return found(&u, err)
}

func (r *Repository) ListUpgrades(ctx context.Context, f UpgradeFilter) ([]model.AccountUpgrade, error) {
	q := r.db.WithContext(ctx).Where("account_id = ?", f.AccountID)
	if f.Section != "" {
		q = q.Where("section = ?", f.Section)
	}
	if f.IsActive != nil {
		q = q.Where("is_active = ?", *f.IsActive)
	}
	if f.IsExpired != nil {
		q = q.Where("is_expired = ?", *f.IsExpired)
	}
	if f.Unresolved {
		q = q.Where("condition_type <> '' AND condition_id IS NULL")
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var upgrades []model.AccountUpgrade
	err := q.Order("id").Find(&upgrades).Error
	return upgrades, err
}

func (r *Repository) GetBoost(ctx context.Context, accountID int64, boostType string) (*model.AccountBoost, error) {
	var b model.AccountBoost
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND type = ?", accountID, boostType).
		First(&b).Error
	return found(&b, err)
}

func (r *Repository) ListBoosts(ctx context.Context, accountID int64) ([]model.AccountBoost, error) {
	var boosts []model.AccountBoost
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Order("id").Find(&boosts).Error
	return boosts, err
}

func (r *Repository) GetTask(ctx context.Context, accountID int64, taskType string) (*model.AccountTask, error) {
	var t model.AccountTask
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND type = ?", accountID, taskType).
		First(&t).Error
	return found(&t, err)
}

func (r *Repository) ListTasks(ctx context.Context, accountID int64) ([]model.AccountTask, error) {
	var tasks []model.AccountTask
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Order("id").Find(&tasks).Error
	return tasks, err
}

func (r *Repository) GetCipher(ctx context.Context, accountID int64) (*model.AccountCipher, error) {
	var c model.AccountCipher
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).First(&c).Error
	return found(&c, err)
}

func withPreload(db *gorm.DB, relations []string) *gorm.DB {
	for _, rel := range relations {
		db = db.Preload(rel)
	}
	return db
}

func found[T any](v *T, err error) (*T, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}
