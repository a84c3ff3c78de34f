package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kombat-farm-bot/kombat"
	"kombat-farm-bot/logging"
	"kombat-farm-bot/model"
	"kombat-farm-bot/proxy"
	"kombat-farm-bot/scheduler"
	"kombat-farm-bot/storage"

	"github.com/rs/zerolog"
)

// Interactive actions run on behalf of a chat user. They share the locks and
// the proxy guard of the scheduled handlers and only ever touch accounts the
// user owns.

// Profile is the chat identity of a user.
type Profile struct {
	ID       int64
	FullName string
	Username string
}

// RegisterUser creates the user on first contact and refreshes the profile
// afterwards.
func (r *Runner) RegisterUser(ctx context.Context, p Profile) (*model.User, error) {
	sess := r.Sessions.Open(ctx)
	defer sess.Close()

	user, err := sess.Repo.GetUser(ctx, p.ID)
	if errors.Is(err, storage.ErrNotFound) {
		user = &model.User{ID: p.ID, MaxAccounts: r.MaxAccounts, IsActive: true}
	} else if err != nil {
		return nil, err
	}
	user.FullName = p.FullName
	user.Username = p.Username

	if err := sess.UoW.Add(ctx, true, user); err != nil {
		return nil, fmt.Errorf("register user %d: %w", p.ID, err)
	}
	return user, nil
}

func (r *Runner) ListAccounts(ctx context.Context, userID int64) ([]model.Account, error) {
	sess := r.Sessions.Open(ctx)
	defer sess.Close()
	return sess.Repo.ListAccounts(ctx, storage.AccountFilter{UserID: &userID}, storage.WithConfig, storage.WithProxy)
}

// Account returns one owned account with its config, proxy and cipher.
func (r *Runner) Account(ctx context.Context, userID, accountID int64) (*model.Account, error) {
	sess := r.Sessions.Open(ctx)
	defer sess.Close()
	return owned(ctx, sess.Repo, userID, accountID, storage.WithConfig, storage.WithProxy, storage.WithCipher)
}

// SetAutomation switches one automation kind of an account. Enabling adds a
// schedule that first fires after a fresh random interval.
func (r *Runner) SetAutomation(ctx context.Context, userID, accountID int64, kind scheduler.TaskKind, enabled bool) (*model.Account, error) {
	if !kind.Valid() || kind == scheduler.TaskNightSleep {
		return nil, fmt.Errorf("%w: %q", scheduler.ErrFormat, kind)
	}
	defer r.Locks.Lock(lockKey(accountID, kind))()

	sess := r.Sessions.Open(ctx)
	defer sess.Close()

	account, err := owned(ctx, sess.Repo, userID, accountID, storage.WithConfig, storage.WithProxy)
	if err != nil {
		return nil, err
	}
	cfg := account.Config
	if cfg == nil {
		cfg = model.NewAccountConfig(account.ID)
		account.Config = cfg
	}
	if enabled && (cfg.Proxy == nil || !cfg.Proxy.IsActive) {
		return nil, ErrProxyUnavailable
	}

	sid := scheduler.NewID(kind, account.ID, userID)
	secs := int(r.Policy.Interval(kind) / time.Second)
	update := model.ConfigUpdate{}
	switch kind {
	case scheduler.TaskAutofarm:
		update.IsAutofarm = &enabled
		update.AutofarmInterval = &secs
	case scheduler.TaskAutoupgrade:
		update.IsAutoupgrade = &enabled
		update.AutoupgradeInterval = &secs
	case scheduler.TaskAutosync:
		update.IsAutosync = &enabled
		update.AutosyncInterval = &secs
	}
	cfg.Apply(update)

	if enabled {
		trigger := scheduler.Every(time.Duration(secs) * time.Second)
		_, err = r.Schedules.Add(ctx, *trigger, sid, true, scheduler.Args{AccountID: account.ID})
	} else {
		_, err = r.Schedules.Process(ctx, scheduler.ActionRemove, sid, nil, scheduler.Args{})
	}
	if err != nil {
		return nil, err
	}

	if err := sess.UoW.Add(ctx, true, cfg); err != nil {
		return nil, err
	}
	log := r.actionLogger(userID, accountID)
	log.Info().Str("kind", string(kind)).Bool("enabled", enabled).Msg("automation switched")
	return account, nil
}

// ToggleNotifications flips the report flag of kind and returns the new value.
func (r *Runner) ToggleNotifications(ctx context.Context, userID, accountID int64, kind scheduler.TaskKind) (bool, error) {
	if !kind.Valid() || kind == scheduler.TaskNightSleep {
		return false, fmt.Errorf("%w: %q", scheduler.ErrFormat, kind)
	}
	defer r.Locks.Lock(lockKey(accountID, kind))()

	sess := r.Sessions.Open(ctx)
	defer sess.Close()

	account, err := owned(ctx, sess.Repo, userID, accountID, storage.WithConfig)
	if err != nil {
		return false, err
	}
	cfg := account.Config
	if cfg == nil {
		cfg = model.NewAccountConfig(account.ID)
	}

	var value bool
	switch kind {
	case scheduler.TaskAutofarm:
		value = !cfg.IsAutofarmNotifications
		cfg.Apply(model.ConfigUpdate{IsAutofarmNotifications: &value})
	case scheduler.TaskAutoupgrade:
		value = !cfg.IsAutoupgradeNotifications
		cfg.Apply(model.ConfigUpdate{IsAutoupgradeNotifications: &value})
	case scheduler.TaskAutosync:
		value = !cfg.IsAutosyncNotifications
		cfg.Apply(model.ConfigUpdate{IsAutosyncNotifications: &value})
	default:
		return false, fmt.Errorf("%w: %q", scheduler.ErrFormat, kind)
	}

	if err := sess.UoW.Add(ctx, true, cfg); err != nil {
		return false, err
	}
	return value, nil
}

// SetLimitPercent stores the share of the balance autoupgrade keeps.
func (r *Runner) SetLimitPercent(ctx context.Context, userID, accountID int64, percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("limit percent %d out of range", percent)
	}
	defer r.Locks.Lock(lockKey(accountID, scheduler.TaskAutoupgrade))()

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
	cfg.Apply(model.ConfigUpdate{LimitPercent: &percent})
	return sess.UoW.Add(ctx, true, cfg)
}

// Tap spends taps once, the same way autofarm does, and returns the count.
func (r *Runner) Tap(ctx context.Context, userID, accountID int64) (int, *model.Account, error) {
	defer r.Locks.Lock(lockKey(accountID, scheduler.TaskAutofarm))()

	l, err := r.openOwned(ctx, userID, accountID)
	if err != nil {
		return 0, nil, err
	}
	defer l.sess.Close()

	count := r.Policy.TapCount(l.account.AvailableTaps, l.account.EarnPerTap)
	snapshot, err := l.api.Tap(ctx, l.account.Token, l.account.AvailableTaps, count)
	if err != nil {
		return 0, l.account, err
	}
	account, err := r.Sync.SyncAccount(ctx, l.sess.UoW, l.account, snapshot)
	return count, account, err
}

// SyncNow runs a full sync of one account.
func (r *Runner) SyncNow(ctx context.Context, userID, accountID int64) (*model.Account, error) {
	defer r.Locks.Lock(lockKey(accountID, scheduler.TaskAutosync))()

	l, err := r.openOwned(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	defer l.sess.Close()

	return r.Sync.FullSync(ctx, l.sess.Repo, l.sess.UoW, l.account, l.api, true)
}

// SyncAll fully syncs every account of the user and moves each autofarm
// schedule to the freshly drawn interval. It stops at the first failure.
func (r *Runner) SyncAll(ctx context.Context, userID int64) (int, error) {
	accounts, err := r.ListAccounts(ctx, userID)
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, a := range accounts {
		account, err := r.SyncNow(ctx, userID, a.ID)
		if err != nil {
			return synced, fmt.Errorf("sync account %d: %w", a.ID, err)
		}
		if account.Config != nil {
			interval := time.Duration(account.Config.AutofarmInterval) * time.Second
			sid := scheduler.NewID(scheduler.TaskAutofarm, account.ID, userID)
			if _, err := r.Schedules.Process(ctx, scheduler.ActionReschedule, sid, scheduler.Every(interval), scheduler.Args{AccountID: account.ID}); err != nil {
				return synced, err
			}
		}
		synced++
	}
	return synced, nil
}

// DisableAll switches every automation of every account of the user off.
func (r *Runner) DisableAll(ctx context.Context, userID int64) (int, error) {
	accounts, err := r.ListAccounts(ctx, userID)
	if err != nil {
		return 0, err
	}

	for _, a := range accounts {
		err := r.disableAutomation(ctx, userID, a.ID)
		if err != nil && !errors.Is(err, ErrAccountNotFound) {
			return 0, err
		}
	}
	return len(accounts), nil
}

func (r *Runner) disableAutomation(ctx context.Context, userID, accountID int64) error {
	defer r.lockAccount(accountID)()

	sess := r.Sessions.Open(ctx)
	defer sess.Close()

	account, err := owned(ctx, sess.Repo, userID, accountID, storage.WithConfig)
	if err != nil {
		return err
	}
	if err := r.removeSchedules(ctx, userID, account.ID); err != nil {
		return err
	}
	if account.Config == nil {
		return nil
	}
	account.Config.Apply(allOff())
	return sess.UoW.Add(ctx, true, account.Config)
}

// ClaimDailyCipher submits the stored cipher of the day.
func (r *Runner) ClaimDailyCipher(ctx context.Context, userID, accountID int64) (*model.AccountCipher, error) {
	defer r.Locks.Lock(lockKey(accountID, scheduler.TaskAutosync))()

	l, err := r.openOwned(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	defer l.sess.Close()
	account := l.account

	cipher, err := l.sess.Repo.GetCipher(ctx, account.ID)
	if errors.Is(err, storage.ErrNotFound) {
		cfg, cerr := l.api.Config(ctx, account.Token)
		if cerr != nil {
			return nil, cerr
		}
		cipher, err = r.Sync.SyncCipher(ctx, l.sess.Repo, l.sess.UoW, account, cfg)
		if err == nil && cipher == nil {
			err = storage.ErrNotFound
		}
	}
	if err != nil {
		return nil, err
	}
	if cipher.IsClaimed {
		return cipher, ErrAlreadyClaimed
	}

	snapshot, daily, err := l.api.ClaimDailyCipher(ctx, account.Token, cipher.Cipher)
	if err != nil {
		return nil, err
	}
	update := model.CipherUpdate{IsClaimed: model.Ptr(true)}
	if daily != nil {
		update.IsClaimed = &daily.IsClaimed
		update.RemainSeconds = &daily.RemainSeconds
		update.BonusCoins = &daily.BonusCoins
	}
	cipher.Apply(update)

	if err := l.sess.UoW.Add(ctx, false, cipher); err != nil {
		return nil, err
	}
	if _, err := r.Sync.SyncAccount(ctx, l.sess.UoW, account, snapshot); err != nil {
		return nil, err
	}
	log := r.actionLogger(userID, accountID)
	log.Info().Int("bonus", cipher.BonusCoins).Msg("daily cipher claimed")
	return cipher, nil
}

// CheckTask asks the game to verify one task and mirrors the result.
func (r *Runner) CheckTask(ctx context.Context, userID, accountID int64, taskID string) (*model.AccountTask, error) {
	defer r.Locks.Lock(lockKey(accountID, scheduler.TaskAutosync))()

	l, err := r.openOwned(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	defer l.sess.Close()

	task, snapshot, err := l.api.CheckTask(ctx, l.account.Token, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		task = &kombat.Task{ID: taskID}
	}
	row, err := r.Sync.upsertTask(ctx, l.sess.Repo, l.account.ID, task)
	if err != nil {
		return nil, err
	}
	if err := l.sess.UoW.Add(ctx, snapshot == nil, row); err != nil {
		return nil, err
	}
	if snapshot != nil {
		if _, err := r.Sync.SyncAccount(ctx, l.sess.UoW, l.account, snapshot); err != nil {
			return nil, err
		}
	}
	return row, nil
}

// LinkAccount authorizes token through proxyLine and links the game account
// to the user. The first full sync runs right away and autosync is scheduled.
func (r *Runner) LinkAccount(ctx context.Context, userID int64, token, proxyLine string) (*model.Account, error) {
	p, err := proxy.Parse(proxyLine)
	if err != nil {
		return nil, err
	}
	if !r.Checker.Check(ctx, p) {
		return nil, ErrProxyUnavailable
	}
	api, err := r.Clients.ForProxy(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProxyUnavailable, err)
	}

	sess := r.Sessions.Open(ctx)
	defer sess.Close()

	user, err := sess.Repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	linked, err := sess.Repo.ListAccounts(ctx, storage.AccountFilter{UserID: &userID})
	if err != nil {
		return nil, err
	}
	if user.MaxAccounts > 0 && len(linked) >= user.MaxAccounts {
		return nil, ErrAccountLimit
	}

	me, err := api.AuthTelegram(ctx, token)
	if err != nil {
		return nil, err
	}
	snapshot, err := api.Sync(ctx, token)
	if err != nil {
		return nil, err
	}

	defer r.lockAccount(me.ID)()

	account, err := sess.Repo.GetAccount(ctx, me.ID, storage.WithConfig, storage.WithProxy)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		account = &model.Account{ID: me.ID}
	case err != nil:
		return nil, err
	case account.UserID != nil:
		return nil, ErrAccountExists
	}

	account.SetOwner(&userID)
	account.Apply(model.AccountUpdate{Token: &token, FullName: model.Ptr(me.FullName()), Username: &me.Username})
	account.Apply(snapshotUpdate(snapshot))
	if account.Config == nil {
		account.Config = model.NewAccountConfig(account.ID)
	}
	account.Config.Apply(model.ConfigUpdate{IsAutosync: model.Ptr(true), IsActive: model.Ptr(true)})
	if err := sess.UoW.Add(ctx, true, accountEntities(account)...); err != nil {
		return nil, err
	}

	stored := storedProxy(account.Config, p)
	if err := sess.UoW.Add(ctx, true, stored); err != nil {
		return nil, err
	}

	if _, err := r.Sync.FullSync(ctx, sess.Repo, sess.UoW, account, api, false); err != nil {
		return nil, err
	}

	interval := time.Duration(account.Config.AutosyncInterval) * time.Second
	sid := scheduler.NewID(scheduler.TaskAutosync, account.ID, userID)
	if _, err := r.Schedules.Add(ctx, *scheduler.Every(interval), sid, true, scheduler.Args{AccountID: account.ID}); err != nil {
		return nil, err
	}

	log := r.actionLogger(userID, account.ID)
	log.Info().Str("name", account.FullName).Str("proxy", stored.String()).Msg("account linked")
	return account, nil
}

// UnlinkAccount detaches an account from the user. The mirrors stay, the
// account keeps no owner and no automation.
func (r *Runner) UnlinkAccount(ctx context.Context, userID, accountID int64) error {
	defer r.lockAccount(accountID)()

	sess := r.Sessions.Open(ctx)
	defer sess.Close()

	account, err := owned(ctx, sess.Repo, userID, accountID, storage.WithConfig)
	if err != nil {
		return err
	}
	if err := r.removeSchedules(ctx, userID, account.ID); err != nil {
		return err
	}

	account.SetOwner(nil)
	if account.Config != nil {
		account.Config.Apply(allOff())
	}
	if err := sess.UoW.Add(ctx, true, accountEntities(account)...); err != nil {
		return err
	}
	log := r.actionLogger(userID, accountID)
	log.Info().Msg("account unlinked")
	return nil
}

// UpdateProxy validates proxyLine and stores it as the account proxy.
func (r *Runner) UpdateProxy(ctx context.Context, userID, accountID int64, proxyLine string) (*model.AccountProxy, error) {
	p, err := proxy.Parse(proxyLine)
	if err != nil {
		return nil, err
	}
	if !r.Checker.Check(ctx, p) {
		return nil, ErrProxyUnavailable
	}
	defer r.lockAccount(accountID)()

	sess := r.Sessions.Open(ctx)
	defer sess.Close()

	account, err := owned(ctx, sess.Repo, userID, accountID, storage.WithConfig, storage.WithProxy)
	if err != nil {
		return nil, err
	}
	if account.Config == nil {
		account.Config = model.NewAccountConfig(account.ID)
		if err := sess.UoW.Add(ctx, true, account.Config); err != nil {
			return nil, err
		}
	}

	stored := storedProxy(account.Config, p)
	if err := sess.UoW.Add(ctx, true, stored); err != nil {
		return nil, err
	}
	log := r.actionLogger(userID, accountID)
	log.Info().Str("proxy", stored.String()).Msg("proxy updated")
	return stored, nil
}

// openOwned is the interactive guard: the account must belong to userID and
// its proxy must pass the check.
func (r *Runner) openOwned(ctx context.Context, userID, accountID int64) (*lease, error) {
	sess := r.Sessions.Open(ctx)
	account, err := owned(ctx, sess.Repo, userID, accountID, storage.WithConfig, storage.WithProxy)
	if err != nil {
		sess.Close()
		return nil, err
	}
	api, err := r.guard(ctx, sess, account, r.actionLogger(userID, accountID))
	if err != nil {
		sess.Close()
		return nil, err
	}
	return &lease{sess: sess, account: account, api: api}, nil
}

func owned(ctx context.Context, repo *storage.Repository, userID, accountID int64, preload ...string) (*model.Account, error) {
	account, err := repo.GetAccount(ctx, accountID, preload...)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	if account.Owner() != userID {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

// storedProxy copies src onto the proxy row of cfg, creating the row when
// the config has none yet.
func storedProxy(cfg *model.AccountConfig, src *model.AccountProxy) *model.AccountProxy {
	dst := cfg.Proxy
	if dst == nil {
		dst = &model.AccountProxy{ConfigID: cfg.ID}
		cfg.Proxy = dst
	}
	dst.Apply(model.ProxyUpdate{
		Protocol: &src.Protocol,
		Host:     &src.Host,
		Port:     &src.Port,
		Username: &src.Username,
		Password: &src.Password,
		Timeout:  &src.Timeout,
		IsActive: model.Ptr(true),
	})
	return dst
}

func (r *Runner) removeSchedules(ctx context.Context, userID, accountID int64) error {
	for _, kind := range scheduler.AccountKinds {
		sid := scheduler.NewID(kind, accountID, userID)
		if _, err := r.Schedules.Process(ctx, scheduler.ActionRemove, sid, nil, scheduler.Args{}); err != nil {
			return err
		}
	}
	return nil
}

func allOff() model.ConfigUpdate {
	return model.ConfigUpdate{
		IsAutofarm:    model.Ptr(false),
		IsAutoupgrade: model.Ptr(false),
		IsAutosync:    model.Ptr(false),
	}
}

func (r *Runner) actionLogger(userID, accountID int64) zerolog.Logger {
	return logging.For(logging.Bot).With().
		Int64("user", userID).
		Int64("account", accountID).
		Logger()
}
