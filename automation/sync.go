package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kombat-farm-bot/kombat"
	"kombat-farm-bot/logging"
	"kombat-farm-bot/model"
	"kombat-farm-bot/storage"

	"github.com/rs/zerolog"
)

var boostInfo = map[string]struct{ name, description string }{
	"BoostEarnPerTap":        {"Multitap", "Raises the coins earned per tap."},
	"BoostMaxTaps":           {"Energy limit", "Raises the maximum energy available for taps."},
	"BoostFullAvailableTaps": {"Full energy", "Refills energy to the maximum. Has a cooldown."},
}

// Synchronizer reconciles the local mirrors of an account with the game.
type Synchronizer struct {
	Policy Policy
	// Sleep waits between purchases.
	Sleep func(ctx context.Context, d time.Duration) error

	log zerolog.Logger
}

func NewSynchronizer(p Policy) *Synchronizer {
	return &Synchronizer{
		Policy: p,
		Sleep:  sleepCtx,
		log:    logging.For(logging.Service),
	}
}

func snapshotUpdate(s *kombat.ClickerUser) model.AccountUpdate {
	synced := s.SyncedAt()
	return model.AccountUpdate{
		ReferralsCount:     &s.ReferralsCount,
		Level:              &s.Level,
		TotalCoins:         &s.TotalCoins,
		BalanceCoins:       &s.BalanceCoins,
		AvailableTaps:      &s.AvailableTaps,
		MaxTaps:            &s.MaxTaps,
		EarnPerTap:         &s.EarnPerTap,
		EarnPassivePerSec:  &s.EarnPassivePerSec,
		EarnPassivePerHour: &s.EarnPassivePerHour,
		LastPassiveEarn:    &s.LastPassiveEarn,
		TapsRecoverPerSec:  &s.TapsRecoverPerSec,
		LastSyncAt:         &synced,
	}
}

// SyncAccount copies snapshot onto account and commits account and config.
func (s *Synchronizer) SyncAccount(ctx context.Context, uow *storage.UnitOfWork, account *model.Account, snapshot *kombat.ClickerUser) (*model.Account, error) {
	if snapshot == nil {
		return account, errors.New("sync account: nil snapshot")
	}
	account.Apply(snapshotUpdate(snapshot))

	if err := uow.Add(ctx, true, accountEntities(account)...); err != nil {
		return account, fmt.Errorf("sync account %d: %w", account.ID, err)
	}
	s.log.Info().Int64("account", account.ID).Str("name", account.FullName).Msg("account synced from snapshot")
	return account, nil
}

// FetchAndSync pulls a fresh snapshot before syncing.
func (s *Synchronizer) FetchAndSync(ctx context.Context, api GameAPI, uow *storage.UnitOfWork, account *model.Account) (*model.Account, error) {
	snapshot, err := api.Sync(ctx, account.Token)
	if err != nil {
		return account, err
	}
	return s.SyncAccount(ctx, uow, account, snapshot)
}

func (s *Synchronizer) SyncBoosts(ctx context.Context, repo *storage.Repository, uow *storage.UnitOfWork, account *model.Account, api GameAPI, prefetched []kombat.Boost) ([]model.AccountBoost, error) {
	boosts := prefetched
	if boosts == nil {
		var err error
		if boosts, err = api.Boosts(ctx, account.Token); err != nil {
			return nil, err
		}
	}

	rows := make([]*model.AccountBoost, 0, len(boosts))
	for _, b := range boosts {
		row, err := repo.GetBoost(ctx, account.ID, b.ID)
		if errors.Is(err, storage.ErrNotFound) {
			info := boostInfo[b.ID]
			row = &model.AccountBoost{AccountID: account.ID, Type: b.ID, Name: info.name, Description: info.description}
		} else if err != nil {
			return nil, err
		}
		row.Apply(model.BoostUpdate{
			Level:           &b.Level,
			Price:           &b.Price,
			CooldownSeconds: &b.CooldownSeconds,
			EarnPerTap:      &b.EarnPerTap,
			EarnPerTapDelta: &b.EarnPerTapDelta,
			MaxTaps:         &b.MaxTaps,
			MaxTapsDelta:    &b.MaxTapsDelta,
			LastUpgradeAt:   model.Ptr(b.LastUpgradeTime()),
		})
		if err := uow.Add(ctx, false, row); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	if err := uow.Commit(ctx); err != nil {
		return nil, fmt.Errorf("sync boosts %d: %w", account.ID, err)
	}
	s.log.Info().Int64("account", account.ID).Int("boosts", len(rows)).Msg("boosts synced")
	return deref(rows), nil
}

// SyncUpgrades upserts the upgrade catalog and then links conditions that
// can be resolved now. Links to upgrades not yet mirrored stay open until a
// later sync.
func (s *Synchronizer) SyncUpgrades(ctx context.Context, repo *storage.Repository, uow *storage.UnitOfWork, account *model.Account, api GameAPI, prefetched *kombat.UpgradesForBuy) ([]model.AccountUpgrade, error) {
	catalog := prefetched
	if catalog == nil {
		var err error
		if catalog, err = api.Upgrades(ctx, account.Token); err != nil {
			return nil, err
		}
	}

	for _, u := range catalog.Upgrades {
		row, err := repo.GetUpgrade(ctx, account.ID, u.ID)
		if errors.Is(err, storage.ErrNotFound) {
			row = &model.AccountUpgrade{AccountID: account.ID, Type: u.ID}
		} else if err != nil {
			return nil, err
		}

		update := model.UpgradeUpdate{
			Name:            &u.Name,
			Section:         &u.Section,
			ConditionType:   model.Ptr(u.ConditionType()),
			Level:           &u.Level,
			Price:           &u.Price,
			ProfitPerHour:   &u.ProfitPerHour,
			CooldownSeconds: &u.CooldownSeconds,
			IsExpired:       &u.IsExpired,
			IsActive:        &u.IsAvailable,
			LastUpgradeAt:   model.Ptr(u.LastUpgradeTime()),
		}
		if row.ConditionType != u.ConditionType() {
			update.ConditionID = model.Ptr[*uint](nil)
		}
		row.Apply(update)

		if err := uow.Add(ctx, false, row); err != nil {
			return nil, err
		}
	}

	if err := uow.Commit(ctx); err != nil {
		return nil, fmt.Errorf("sync upgrades %d: %w", account.ID, err)
	}
	if _, err := s.ReconcileConditions(ctx, repo, uow, account.ID); err != nil {
		return nil, err
	}

	s.log.Info().Int64("account", account.ID).Int("upgrades", len(catalog.Upgrades)).Msg("upgrades synced")
	return repo.ListUpgrades(ctx, storage.UpgradeFilter{AccountID: account.ID})
}

// ReconcileConditions links gated upgrades to their mirrored condition and
// returns how many links were filled in.
func (s *Synchronizer) ReconcileConditions(ctx context.Context, repo *storage.Repository, uow *storage.UnitOfWork, accountID int64) (int, error) {
	open, err := repo.ListUpgrades(ctx, storage.UpgradeFilter{AccountID: accountID, Unresolved: true})
	if err != nil {
		return 0, err
	}

	resolved := 0
	for i := range open {
		cond, err := repo.GetUpgrade(ctx, accountID, open[i].ConditionType)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return resolved, err
		}
		open[i].Apply(model.UpgradeUpdate{ConditionID: model.Ptr(&cond.ID)})
		if err := uow.Add(ctx, false, &open[i]); err != nil {
			return resolved, err
		}
		resolved++
	}

	if err := uow.Commit(ctx); err != nil {
		return 0, fmt.Errorf("reconcile conditions %d: %w", accountID, err)
	}
	if resolved > 0 || len(open) > 0 {
		s.log.Debug().Int64("account", accountID).Int("resolved", resolved).Int("open", len(open)-resolved).Msg("upgrade conditions reconciled")
	}
	return resolved, nil
}

func (s *Synchronizer) SyncTasks(ctx context.Context, repo *storage.Repository, uow *storage.UnitOfWork, account *model.Account, api GameAPI, prefetched []kombat.Task) ([]model.AccountTask, error) {
	tasks := prefetched
	if tasks == nil {
		var err error
		if tasks, err = api.Tasks(ctx, account.Token); err != nil {
			return nil, err
		}
	}

	rows := make([]*model.AccountTask, 0, len(tasks))
	for _, t := range tasks {
		row, err := s.upsertTask(ctx, repo, account.ID, &t)
		if err != nil {
			return nil, err
		}
		if err := uow.Add(ctx, false, row); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	if err := uow.Commit(ctx); err != nil {
		return nil, fmt.Errorf("sync tasks %d: %w", account.ID, err)
	}
	s.log.Info().Int64("account", account.ID).Int("tasks", len(rows)).Msg("tasks synced")
	return deref(rows), nil
}

func (s *Synchronizer) upsertTask(ctx context.Context, repo *storage.Repository, accountID int64, t *kombat.Task) (*model.AccountTask, error) {
	row, err := repo.GetTask(ctx, accountID, t.ID)
	if errors.Is(err, storage.ErrNotFound) {
		row = &model.AccountTask{AccountID: accountID, Type: t.ID}
	} else if err != nil {
		return nil, err
	}
	row.Apply(model.TaskUpdate{
		RewardCoins: &t.RewardCoins,
		Days:        &t.Days,
		Periodicity: &t.Periodicity,
		IsCompleted: &t.IsCompleted,
		CompletedAt: model.Ptr(t.CompletedTime()),
	})
	return row, nil
}

// SyncCipher stores the decoded daily cipher. A config without a cipher
// leaves the mirror untouched.
func (s *Synchronizer) SyncCipher(ctx context.Context, repo *storage.Repository, uow *storage.UnitOfWork, account *model.Account, cfg *kombat.GameConfig) (*model.AccountCipher, error) {
	if cfg == nil || cfg.DailyCipher == nil {
		return nil, nil
	}
	dc := cfg.DailyCipher
	plain, err := dc.Decode()
	if err != nil {
		return nil, err
	}

	row, err := repo.GetCipher(ctx, account.ID)
	if errors.Is(err, storage.ErrNotFound) {
		row = &model.AccountCipher{AccountID: account.ID}
	} else if err != nil {
		return nil, err
	}
	row.Apply(model.CipherUpdate{
		BonusCoins:    &dc.BonusCoins,
		Cipher:        &plain,
		IsClaimed:     &dc.IsClaimed,
		RemainSeconds: &dc.RemainSeconds,
	})

	if err := uow.Add(ctx, true, row); err != nil {
		return nil, fmt.Errorf("sync cipher %d: %w", account.ID, err)
	}
	return row, nil
}

// FullSync makes every local mirror of account match the game. Each group
// commits on its own, and rows are upserted by natural key so repeated runs
// converge.
func (s *Synchronizer) FullSync(ctx context.Context, repo *storage.Repository, uow *storage.UnitOfWork, account *model.Account, api GameAPI, useAPISync bool) (*model.Account, error) {
	if useAPISync {
		snapshot, err := api.Sync(ctx, account.Token)
		if err != nil {
			return account, err
		}
		account.Apply(snapshotUpdate(snapshot))
	}

	if account.Config != nil {
		account.Config.Apply(model.ConfigUpdate{
			AutofarmInterval:    model.Ptr(s.Policy.Autofarm.Pick()),
			AutoupgradeInterval: model.Ptr(s.Policy.Autoupgrade.Pick()),
			AutosyncInterval:    model.Ptr(s.Policy.Autosync.Pick()),
		})
	}

	cfg, err := api.Config(ctx, account.Token)
	if err != nil {
		return account, err
	}
	if err := uow.Add(ctx, false, accountEntities(account)...); err != nil {
		return account, err
	}
	if _, err := s.SyncCipher(ctx, repo, uow, account, cfg); err != nil {
		return account, err
	}
	if err := uow.Commit(ctx); err != nil {
		return account, fmt.Errorf("full sync %d: %w", account.ID, err)
	}

	boosts, err := api.Boosts(ctx, account.Token)
	if err != nil {
		return account, err
	}
	upgrades, err := api.Upgrades(ctx, account.Token)
	if err != nil {
		return account, err
	}
	tasks, err := api.Tasks(ctx, account.Token)
	if err != nil {
		return account, err
	}
	if boosts == nil {
		boosts = []kombat.Boost{}
	}
	if tasks == nil {
		tasks = []kombat.Task{}
	}

	if _, err := s.SyncBoosts(ctx, repo, uow, account, api, boosts); err != nil {
		return account, err
	}
	if _, err := s.SyncUpgrades(ctx, repo, uow, account, api, upgrades); err != nil {
		return account, err
	}
	if _, err := s.SyncTasks(ctx, repo, uow, account, api, tasks); err != nil {
		return account, err
	}

	s.log.Info().Int64("account", account.ID).Str("name", account.FullName).Msg("full sync done")
	return account, nil
}

// BuyProfitUpgrades buys the best upgrade of each section one after another,
// pausing around every purchase. A failed purchase is logged and skipped.
// The share of the starting balance reserved by LimitPercent is never spent.
func (s *Synchronizer) BuyProfitUpgrades(ctx context.Context, api GameAPI, uow *storage.UnitOfWork, account *model.Account, upgrades []model.AccountUpgrade, sections []string) ([]Purchase, error) {
	limit := 0
	if account.Config != nil {
		limit = account.Config.LimitPercent
	}
	reserve := Reserve(account.BalanceCoins, limit)

	var bought []Purchase
	for _, p := range SelectProfitUpgrades(account.BalanceCoins-reserve, upgrades, sections) {
		if err := s.Sleep(ctx, s.Policy.Pause()); err != nil {
			return bought, err
		}
		if p.Upgrade.Price <= account.BalanceCoins-reserve {
			snapshot, err := api.BuyUpgrade(ctx, account.Token, p.Upgrade.Type)
			if err != nil {
				s.log.Error().Err(err).Int64("account", account.ID).Str("upgrade", p.Upgrade.Type).Msg("buy upgrade failed")
				continue
			}
			s.log.Info().
				Int64("account", account.ID).
				Str("upgrade", p.Upgrade.Type).
				Float64("price", p.Upgrade.Price).
				Str("payback_hours", p.Ratio.String()).
				Int("level", p.Upgrade.Level).
				Msg("upgrade bought")
			if _, err := s.SyncAccount(ctx, uow, account, snapshot); err != nil {
				return bought, err
			}
			bought = append(bought, p)
		}
		if err := s.Sleep(ctx, s.Policy.Pause()); err != nil {
			return bought, err
		}
	}
	return bought, nil
}

func accountEntities(account *model.Account) []any {
	entities := []any{account}
	if account.Config != nil {
		entities = append(entities, account.Config)
	}
	return entities
}

func deref[T any](rows []*T) []T {
	out := make([]T, len(rows))
	for i, r := range rows {
		out[i] = *r
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
