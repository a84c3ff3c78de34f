package automation

import (
	"context"
	"errors"

	"kombat-farm-bot/kombat"
	"kombat-farm-bot/model"
	"kombat-farm-bot/proxy"
	"kombat-farm-bot/scheduler"
)

var (
	ErrProxyUnavailable = errors.New("proxy unavailable")
	ErrAccountNotFound  = errors.New("account not found")
	ErrAlreadyClaimed   = errors.New("already claimed")
	ErrAccountLimit     = errors.New("account limit reached")
	ErrAccountExists    = errors.New("account already linked")
)

// GameAPI is the slice of kombat.Client the automation needs.
type GameAPI interface {
	AuthTelegram(ctx context.Context, token string) (*kombat.TelegramUser, error)
	Sync(ctx context.Context, token string) (*kombat.ClickerUser, error)
	Tap(ctx context.Context, token string, availableTaps, count int) (*kombat.ClickerUser, error)
	BuyUpgrade(ctx context.Context, token, upgradeID string) (*kombat.ClickerUser, error)
	BuyBoost(ctx context.Context, token, boostID string) (*kombat.ClickerUser, error)
	Boosts(ctx context.Context, token string) ([]kombat.Boost, error)
	Upgrades(ctx context.Context, token string) (*kombat.UpgradesForBuy, error)
	Tasks(ctx context.Context, token string) ([]kombat.Task, error)
	Config(ctx context.Context, token string) (*kombat.GameConfig, error)
	ClaimDailyCipher(ctx context.Context, token, cipher string) (*kombat.ClickerUser, *kombat.DailyCipher, error)
	ClaimDailyCombo(ctx context.Context, token string) (*kombat.ClickerUser, error)
	CheckTask(ctx context.Context, token, taskID string) (*kombat.Task, *kombat.ClickerUser, error)
}

// ClientFactory builds a GameAPI routed through one proxy.
type ClientFactory interface {
	ForProxy(p *model.AccountProxy) (GameAPI, error)
}

type ProxyChecker interface {
	Check(ctx context.Context, p *model.AccountProxy) bool
}

type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// Schedules is the part of scheduler.Store the handlers drive.
type Schedules interface {
	Add(ctx context.Context, trigger scheduler.IntervalTrigger, id scheduler.ID, setStartTime bool, args scheduler.Args) (*scheduler.Schedule, error)
	Process(ctx context.Context, action scheduler.Action, id scheduler.ID, trigger *scheduler.IntervalTrigger, args scheduler.Args) (*scheduler.Schedule, error)
}

// KombatClients derives one kombat.Client per proxy from Base.
type KombatClients struct {
	Base *kombat.Client
}

func (f KombatClients) ForProxy(p *model.AccountProxy) (GameAPI, error) {
	rt, err := proxy.Transport(p)
	if err != nil {
		return nil, err
	}
	return f.Base.WithProxy(rt, p.String()), nil
}
