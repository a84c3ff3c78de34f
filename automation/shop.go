package automation

import (
	"context"
	"errors"
	"fmt"

	"kombat-farm-bot/logging"
	"kombat-farm-bot/model"
	"kombat-farm-bot/scheduler"
	"kombat-farm-bot/storage"
)

// Purchases spend the balance autoupgrade works with, so they share its lock.

var (
	ErrNotPurchasable = errors.New("upgrade not purchasable")
	ErrNoProxy        = errors.New("account has no proxy")
)

// streakTask is the daily reward task the game completes on check.
const streakTask = "streak_days"

// BuyBoost buys one boost and refreshes the account and boost mirrors.
func (r *Runner) BuyBoost(ctx context.Context, userID, accountID int64, boostID string) (*model.Account, error) {
	defer r.Locks.Lock(lockKey(accountID, scheduler.TaskAutoupgrade))()

	l, err := r.openOwned(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	defer l.sess.Close()

	snapshot, err := l.api.BuyBoost(ctx, l.account.Token, boostID)
	if err != nil {
		return nil, err
	}
	account, err := r.Sync.SyncAccount(ctx, l.sess.UoW, l.account, snapshot)
	if err != nil {
		return nil, err
	}
	if _, err := r.Sync.SyncBoosts(ctx, l.sess.Repo, l.sess.UoW, account, l.api, nil); err != nil {
		return nil, err
	}
	log := r.actionLogger(userID, accountID)
	log.Info().Str("boost", boostID).Msg("boost bought")
	return account, nil
}

// BuyUpgrade buys one mirrored upgrade when the balance covers it.
func (r *Runner) BuyUpgrade(ctx context.Context, userID, accountID int64, upgradeID string) (*model.Account, error) {
	defer r.Locks.Lock(lockKey(accountID, scheduler.TaskAutoupgrade))()

	l, err := r.openOwned(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	defer l.sess.Close()

	upgrade, err := l.sess.Repo.GetUpgrade(ctx, accountID, upgradeID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotPurchasable, upgradeID)
	}
	if err != nil {
		return nil, err
	}
	if !upgrade.Purchasable(l.account.BalanceCoins) {
		return nil, fmt.Errorf("%w: %s", ErrNotPurchasable, upgradeID)
	}

	snapshot, err := l.api.BuyUpgrade(ctx, l.account.Token, upgradeID)
	if err != nil {
		return nil, err
	}
	account, err := r.Sync.SyncAccount(ctx, l.sess.UoW, l.account, snapshot)
	if err != nil {
		return nil, err
	}
	if _, err := r.Sync.SyncUpgrades(ctx, l.sess.Repo, l.sess.UoW, account, l.api, nil); err != nil {
		return nil, err
	}
	log := r.actionLogger(userID, accountID)
	log.Info().Str("upgrade", upgradeID).Float64("price", upgrade.Price).Msg("upgrade bought")
	return account, nil
}

// BuyProfitUpgradesNow runs one autoupgrade pass outside the schedule.
func (r *Runner) BuyProfitUpgradesNow(ctx context.Context, userID, accountID int64) ([]Purchase, *model.Account, error) {
	defer r.Locks.Lock(lockKey(accountID, scheduler.TaskAutoupgrade))()

	l, err := r.openOwned(ctx, userID, accountID)
	if err != nil {
		return nil, nil, err
	}
	defer l.sess.Close()

	upgrades, err := l.sess.Repo.ListUpgrades(ctx, storage.UpgradeFilter{AccountID: accountID})
	if err != nil {
		return nil, nil, err
	}
	bought, err := r.Sync.BuyProfitUpgrades(ctx, l.api, l.sess.UoW, l.account, upgrades, r.Policy.Sections)
	if err != nil {
		return bought, l.account, err
	}
	if len(bought) > 0 {
		if _, err := r.Sync.SyncUpgrades(ctx, l.sess.Repo, l.sess.UoW, l.account, l.api, nil); err != nil {
			return bought, l.account, err
		}
	}
	return bought, l.account, nil
}

// ClaimDailyCombo claims the combo bonus unless the game reports it taken.
func (r *Runner) ClaimDailyCombo(ctx context.Context, userID, accountID int64) (*model.Account, error) {
	defer r.Locks.Lock(lockKey(accountID, scheduler.TaskAutoupgrade))()

	l, err := r.openOwned(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	defer l.sess.Close()

	catalog, err := l.api.Upgrades(ctx, l.account.Token)
	if err != nil {
		return nil, err
	}
	if catalog.DailyCombo != nil && catalog.DailyCombo.IsClaimed {
		return l.account, ErrAlreadyClaimed
	}

	snapshot, err := l.api.ClaimDailyCombo(ctx, l.account.Token)
	if err != nil {
		return nil, err
	}
	account, err := r.Sync.SyncAccount(ctx, l.sess.UoW, l.account, snapshot)
	if err != nil {
		return nil, err
	}
	log := r.actionLogger(userID, accountID)
	log.Info().Msg("daily combo claimed")
	return account, nil
}

// DailyRewards sums up a ClaimDailyAll run.
type DailyRewards struct {
	Accounts int
	Claimed  int
	Already  int
	Failed   int
	Coins    int
}

// ClaimDailyAll checks the daily streak task on every account of the user.
// Failures are counted and the run goes on with the next account.
func (r *Runner) ClaimDailyAll(ctx context.Context, userID int64) (DailyRewards, error) {
	accounts, err := r.ListAccounts(ctx, userID)
	if err != nil {
		return DailyRewards{}, err
	}

	log := logging.For(logging.Bot).With().Int64("user", userID).Logger()
	res := DailyRewards{Accounts: len(accounts)}
	for i, a := range accounts {
		if i > 0 {
			if err := r.Sync.Sleep(ctx, r.Policy.Pause()); err != nil {
				return res, err
			}
		}
		task, err := r.CheckTask(ctx, userID, a.ID, streakTask)
		switch {
		case err != nil:
			log.Warn().Err(err).Int64("account", a.ID).Msg("claim daily reward")
			res.Failed++
		case !task.IsCompleted:
			res.Already++
		default:
			res.Claimed++
			res.Coins += task.RewardCoins
		}
	}
	return res, nil
}

// SetAutomationAll switches kind on or off for every account of the user and
// returns how many accounts were switched. Accounts without an active proxy
// cannot be enabled and are skipped.
func (r *Runner) SetAutomationAll(ctx context.Context, userID int64, kind scheduler.TaskKind, enabled bool) (int, error) {
	accounts, err := r.ListAccounts(ctx, userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range accounts {
		_, err := r.SetAutomation(ctx, userID, a.ID, kind, enabled)
		if errors.Is(err, ErrProxyUnavailable) || errors.Is(err, ErrAccountNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// SetNotificationsAll sets every report flag of every account of the user.
func (r *Runner) SetNotificationsAll(ctx context.Context, userID int64, enabled bool) (int, error) {
	accounts, err := r.ListAccounts(ctx, userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range accounts {
		err := r.setNotifications(ctx, userID, a.ID, enabled)
		if errors.Is(err, ErrAccountNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (r *Runner) setNotifications(ctx context.Context, userID, accountID int64, enabled bool) error {
	defer r.lockAccount(accountID)()

	sess := r.Sessions.Open(ctx)
	defer sess.Close()

	account, err := owned(ctx, sess.Repo, userID, accountID, storage.WithConfig)
	if err != nil {
		return err
	}
	cfg := account.Config
	if cfg == nil {
		cfg = model.NewAccountConfig(account.ID)
	}
	cfg.Apply(model.ConfigUpdate{
		IsAutofarmNotifications:    &enabled,
		IsAutoupgradeNotifications: &enabled,
		IsAutosyncNotifications:    &enabled,
	})
	return sess.UoW.Add(ctx, true, cfg)
}

// SetProxyTimeout stores the timeout used for checks and requests through
// the account proxy.
func (r *Runner) SetProxyTimeout(ctx context.Context, userID, accountID int64, seconds int) error {
	if seconds < 1 || seconds > 60 {
		return fmt.Errorf("proxy timeout %d out of range", seconds)
	}
	defer r.lockAccount(accountID)()

	sess := r.Sessions.Open(ctx)
	defer sess.Close()

	account, err := owned(ctx, sess.Repo, userID, accountID, storage.WithConfig, storage.WithProxy)
	if err != nil {
		return err
	}
	if account.Config == nil || account.Config.Proxy == nil {
		return ErrNoProxy
	}
	account.Config.Proxy.Apply(model.ProxyUpdate{Timeout: &seconds})
	return sess.UoW.Add(ctx, true, account.Config.Proxy)
}

// Boosts lists the boost mirrors of an owned account.
func (r *Runner) Boosts(ctx context.Context, userID, accountID int64) ([]model.AccountBoost, error) {
	sess := r.Sessions.Open(ctx)
	defer sess.Close()
	if _, err := owned(ctx, sess.Repo, userID, accountID); err != nil {
		return nil, err
	}
	return sess.Repo.ListBoosts(ctx, accountID)
}

// ProfitUpgrades returns the best purchasable upgrade per section for the
// current balance, ignoring the spend limit.
func (r *Runner) ProfitUpgrades(ctx context.Context, userID, accountID int64) ([]Purchase, error) {
	sess := r.Sessions.Open(ctx)
	defer sess.Close()
	account, err := owned(ctx, sess.Repo, userID, accountID)
	if err != nil {
		return nil, err
	}
	upgrades, err := sess.Repo.ListUpgrades(ctx, storage.UpgradeFilter{AccountID: accountID})
	if err != nil {
		return nil, err
	}
	return SelectProfitUpgrades(account.BalanceCoins, upgrades, r.Policy.Sections), nil
}

func (r *Runner) Tasks(ctx context.Context, userID, accountID int64) ([]model.AccountTask, error) {
	sess := r.Sessions.Open(ctx)
	defer sess.Close()
	if _, err := owned(ctx, sess.Repo, userID, accountID); err != nil {
		return nil, err
	}
	return sess.Repo.ListTasks(ctx, accountID)
}
