package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kombat-farm-bot/logging"
	"kombat-farm-bot/model"
	"kombat-farm-bot/scheduler"
	"kombat-farm-bot/storage"

	"github.com/rs/zerolog"
)

// Runner holds the collaborators of the scheduled handlers. Every handler
// goes through the same steps: guard the proxy, execute, reschedule.
type Runner struct {
	Sessions  storage.Sessions
	Schedules Schedules
	Clients   ClientFactory
	Checker   ProxyChecker
	Notifier  Notifier
	Sync      *Synchronizer
	Policy    Policy
	Locks     *KeyedMutex
	Location  *time.Location
	Now       func() time.Time
	// MaxAccounts is given to newly registered users.
	MaxAccounts int

	msgs *messages
}

func NewRunner(r Runner) *Runner {
	if r.Locks == nil {
		r.Locks = NewKeyedMutex()
	}
	if r.Location == nil {
		r.Location = time.UTC
	}
	if r.Now == nil {
		r.Now = time.Now
	}
	if r.Sync == nil {
		r.Sync = NewSynchronizer(r.Policy)
	}
	if r.MaxAccounts <= 0 {
		r.MaxAccounts = 5
	}
	r.msgs = newMessages(r.Location)
	return &r
}

// lease is what the guard hands to a handler that may execute.
type lease struct {
	sess    *storage.Session
	account *model.Account
	api     GameAPI
}

// acquire loads the account and validates its proxy. A missing account
// drops the schedule that fired; a bad proxy switches automation off.
func (r *Runner) acquire(ctx context.Context, id scheduler.ID, accountID int64, log zerolog.Logger) (*lease, error) {
	sess := r.Sessions.Open(ctx)

	account, err := sess.Repo.GetAccount(ctx, accountID, storage.WithConfig, storage.WithProxy)
	if errors.Is(err, storage.ErrNotFound) {
		sess.Close()
		log.Warn().Str("schedule", id.String()).Msg("account is gone, dropping schedule")
		if _, err := r.Schedules.Process(ctx, scheduler.ActionRemove, id, nil, scheduler.Args{}); err != nil {
			return nil, err
		}
		return nil, ErrAccountNotFound
	}
	if err != nil {
		sess.Close()
		return nil, err
	}

	api, err := r.guard(ctx, sess, account, log)
	if errors.Is(err, ErrProxyUnavailable) {
		sess.Close()
		if text, err := r.msgs.ProxyFailed(account); err == nil {
			r.notify(ctx, account.Owner(), text, log)
		}
		return nil, err
	}
	if err != nil {
		sess.Close()
		return nil, err
	}

	return &lease{sess: sess, account: account, api: api}, nil
}

// guard makes sure account has a config and a working proxy. On a bad proxy
// automation is switched off and ErrProxyUnavailable returned.
func (r *Runner) guard(ctx context.Context, sess *storage.Session, account *model.Account, log zerolog.Logger) (GameAPI, error) {
	if account.Config == nil {
		account.Config = model.NewAccountConfig(account.ID)
		if err := sess.UoW.Add(ctx, true, account.Config); err != nil {
			return nil, err
		}
	}

	api, err := r.validProxy(ctx, account.Config.Proxy)
	if err != nil {
		log.Warn().Err(err).Msg("proxy check failed")
		if err := r.DisableAccountProxy(ctx, sess, account); err != nil {
			log.Error().Err(err).Msg("disable account automation")
		}
		return nil, fmt.Errorf("%w: %v", ErrProxyUnavailable, err)
	}
	return api, nil
}

func (r *Runner) validProxy(ctx context.Context, p *model.AccountProxy) (GameAPI, error) {
	if p == nil {
		return nil, errors.New("no proxy")
	}
	if !r.Checker.Check(ctx, p) {
		return nil, errors.New("proxy did not pass the check")
	}
	return r.Clients.ForProxy(p)
}

// DisableAccountProxy turns every automation of account off, removes their
// schedules and marks the proxy inactive.
func (r *Runner) DisableAccountProxy(ctx context.Context, sess *storage.Session, account *model.Account) error {
	if err := r.removeSchedules(ctx, account.Owner(), account.ID); err != nil {
		return err
	}

	cfg := account.Config
	if cfg == nil {
		return nil
	}
	cfg.Apply(allOff())
	if cfg.Proxy != nil {
		cfg.Proxy.Apply(model.ProxyUpdate{IsActive: model.Ptr(false)})
		if err := sess.UoW.Add(ctx, false, cfg.Proxy); err != nil {
			return err
		}
	}
	return sess.UoW.Add(ctx, true, cfg)
}

func (r *Runner) Autofarm(ctx context.Context, id scheduler.ID, args scheduler.Args) error {
	accountID := accountOf(id, args)
	defer r.Locks.Lock(lockKey(accountID, scheduler.TaskAutofarm))()

	log := r.runLogger(logging.Autofarm, accountID)
	l, err := r.acquire(ctx, id, accountID, log)
	if err != nil {
		return guardError(err)
	}
	defer l.sess.Close()
	account := l.account

	earnPerTap := account.EarnPerTap
	count := r.Policy.TapCount(account.AvailableTaps, account.EarnPerTap)

	snapshot, err := l.api.Tap(ctx, account.Token, account.AvailableTaps, count)
	if err == nil {
		_, err = r.Sync.SyncAccount(ctx, l.sess.UoW, account, snapshot)
	}
	if err != nil {
		l.sess.UoW.Rollback()
		r.taskFailed(ctx, scheduler.TaskAutofarm, account, err, log)
	}

	sch, rerr := r.reschedule(ctx, l.sess, account, id, scheduler.TaskAutofarm)
	if rerr != nil {
		return rerr
	}
	if err != nil {
		return nil
	}

	log.Info().Int("taps", count).Int("earn_per_tap", earnPerTap).Float64("balance", account.BalanceCoins).Msg("autofarm done")
	if account.Config.IsAutofarmNotifications {
		if text, err := r.msgs.Autofarm(account, count, earnPerTap, nextFire(sch)); err == nil {
			r.notify(ctx, account.Owner(), text, log)
		}
	}
	return nil
}

func (r *Runner) Autoupgrade(ctx context.Context, id scheduler.ID, args scheduler.Args) error {
	accountID := accountOf(id, args)
	defer r.Locks.Lock(lockKey(accountID, scheduler.TaskAutoupgrade))()

	log := r.runLogger(logging.Autoupgrade, accountID)
	l, err := r.acquire(ctx, id, accountID, log)
	if err != nil {
		return guardError(err)
	}
	defer l.sess.Close()
	account := l.account

	upgrades, err := l.sess.Repo.ListUpgrades(ctx, storage.UpgradeFilter{AccountID: account.ID})
	if err != nil {
		return err
	}

	bought, err := r.Sync.BuyProfitUpgrades(ctx, l.api, l.sess.UoW, account, upgrades, r.Policy.Sections)
	if err == nil && len(bought) > 0 {
		_, err = r.Sync.SyncUpgrades(ctx, l.sess.Repo, l.sess.UoW, account, l.api, nil)
	}
	if err != nil {
		l.sess.UoW.Rollback()
		r.taskFailed(ctx, scheduler.TaskAutoupgrade, account, err, log)
	}

	sch, rerr := r.reschedule(ctx, l.sess, account, id, scheduler.TaskAutoupgrade)
	if rerr != nil {
		return rerr
	}
	if err != nil || len(bought) == 0 {
		return nil
	}

	log.Info().Int("bought", len(bought)).Float64("balance", account.BalanceCoins).Msg("autoupgrade done")
	if account.Config.IsAutoupgradeNotifications {
		if text, err := r.msgs.Autoupgrade(account, bought, nextFire(sch)); err == nil {
			r.notify(ctx, account.Owner(), text, log)
		}
	}
	return nil
}

func (r *Runner) Autosync(ctx context.Context, id scheduler.ID, args scheduler.Args) error {
	accountID := accountOf(id, args)
	defer r.Locks.Lock(lockKey(accountID, scheduler.TaskAutosync))()

	log := r.runLogger(logging.Autosync, accountID)
	l, err := r.acquire(ctx, id, accountID, log)
	if err != nil {
		return guardError(err)
	}
	defer l.sess.Close()
	account := l.account

	_, err = r.Sync.FullSync(ctx, l.sess.Repo, l.sess.UoW, account, l.api, true)
	if err != nil {
		l.sess.UoW.Rollback()
		r.taskFailed(ctx, scheduler.TaskAutosync, account, err, log)
	}

	sch, rerr := r.reschedule(ctx, l.sess, account, id, scheduler.TaskAutosync)
	if rerr != nil {
		return rerr
	}
	if err != nil {
		return nil
	}

	log.Info().Msg("autosync done")
	if account.Config.IsAutosyncNotifications {
		if text, err := r.msgs.Autosync(account, nextFire(sch)); err == nil {
			r.notify(ctx, account.Owner(), text, log)
		}
	}
	return nil
}

// NightSleep pushes the schedules of every active user's accounts past a
// random sleep window, then re-arms itself for the next night.
func (r *Runner) NightSleep(ctx context.Context, id scheduler.ID, args scheduler.Args) error {
	log := logging.For(logging.Service).With().Str("run_id", storage.NewID()).Logger()

	sess := r.Sessions.Open(ctx)
	defer sess.Close()

	users, err := sess.Repo.ListUsers(ctx, true, storage.WithAccounts)
	if err != nil {
		return err
	}

	now := r.Now()
	for _, user := range users {
		wake := now.Add(time.Duration(r.Policy.NightSleep.Pick()) * time.Second)
		pushed := 0
		for _, account := range user.Accounts {
			n, err := r.pushPastNight(ctx, account.ID, user.ID, wake)
			if err != nil {
				log.Error().Err(err).Int64("account", account.ID).Msg("push schedules past night")
				continue
			}
			pushed += n
		}
		if pushed == 0 {
			continue
		}
		log.Info().Int64("user", user.ID).Int("schedules", pushed).Time("until", wake).Msg("automation asleep")
		if text, err := r.msgs.NightSleep(wake); err == nil {
			r.notify(ctx, user.ID, text, log)
		}
	}

	if _, err := r.Schedules.Add(ctx, r.NightSleepTrigger(now), id, false, args); err != nil {
		return err
	}
	return nil
}

func (r *Runner) pushPastNight(ctx context.Context, accountID, userID int64, wake time.Time) (int, error) {
	pushed := 0
	for _, kind := range scheduler.AccountKinds {
		sid := scheduler.NewID(kind, accountID, userID)
		unlock := r.Locks.Lock(lockKey(accountID, kind))

		sch, err := r.Schedules.Process(ctx, scheduler.ActionGet, sid, nil, scheduler.Args{})
		if err == nil && sch != nil {
			interval := r.Policy.Interval(kind)
			tr := scheduler.IntervalTrigger{Interval: interval, StartTime: wake.Add(interval)}
			_, err = r.Schedules.Add(ctx, tr, sid, false, scheduler.Args{AccountID: accountID})
			if err == nil {
				pushed++
			}
		}
		unlock()
		if err != nil {
			return pushed, err
		}
	}
	return pushed, nil
}

// NightSleepTrigger fires daily, starting at the next local midnight plus a
// random offset.
func (r *Runner) NightSleepTrigger(now time.Time) scheduler.IntervalTrigger {
	local := now.In(r.Location)
	midnight := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, r.Location)
	offset := time.Duration(r.Policy.NightSleepOffset.Pick()) * time.Second
	return scheduler.IntervalTrigger{Interval: 24 * time.Hour, StartTime: midnight.Add(offset)}
}

// reschedule draws the next interval for kind, stores it on the config and
// moves the schedule. A schedule removed meanwhile stays removed.
func (r *Runner) reschedule(ctx context.Context, sess *storage.Session, account *model.Account, id scheduler.ID, kind scheduler.TaskKind) (*scheduler.Schedule, error) {
	interval := r.Policy.Interval(kind)
	secs := int(interval / time.Second)

	var update model.ConfigUpdate
	switch kind {
	case scheduler.TaskAutofarm:
		update.AutofarmInterval = &secs
	case scheduler.TaskAutoupgrade:
		update.AutoupgradeInterval = &secs
	case scheduler.TaskAutosync:
		update.AutosyncInterval = &secs
	}
	account.Config.Apply(update)
	if err := sess.UoW.Add(ctx, true, account.Config); err != nil {
		return nil, err
	}

	return r.Schedules.Process(ctx, scheduler.ActionReschedule, id, scheduler.Every(interval), scheduler.Args{AccountID: account.ID})
}

func (r *Runner) taskFailed(ctx context.Context, kind scheduler.TaskKind, account *model.Account, err error, log zerolog.Logger) {
	log.Error().Err(err).Msg(kindTitles[kind] + " failed")
	if text, rerr := r.msgs.TaskFailed(kind, account); rerr == nil {
		r.notify(ctx, account.Owner(), text, log)
	}
}

// notify never fails the caller; delivery problems are only logged.
func (r *Runner) notify(ctx context.Context, chatID int64, text string, log zerolog.Logger) {
	if r.Notifier == nil || chatID == 0 {
		return
	}
	if err := r.Notifier.Notify(ctx, chatID, text); err != nil {
		log.Warn().Err(err).Int64("chat", chatID).Msg("notify user")
	}
}

func (r *Runner) runLogger(component string, accountID int64) zerolog.Logger {
	return logging.For(component).With().
		Str("run_id", storage.NewID()).
		Int64("account", accountID).
		Logger()
}

func accountOf(id scheduler.ID, args scheduler.Args) int64 {
	if args.AccountID != 0 {
		return args.AccountID
	}
	return id.AccountID
}

// guardError swallows outcomes the guard already handled.
func guardError(err error) error {
	if errors.Is(err, ErrProxyUnavailable) || errors.Is(err, ErrAccountNotFound) {
		return nil
	}
	return err
}

func nextFire(sch *scheduler.Schedule) *time.Time {
	if sch == nil {
		return nil
	}
	return sch.NextFireTime
}
