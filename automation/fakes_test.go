package automation

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"kombat-farm-bot/kombat"
	"kombat-farm-bot/model"
	"kombat-farm-bot/scheduler"
	"kombat-farm-bot/storage"
	"kombat-farm-bot/testutil"

	"gorm.io/gorm"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

var errRemote = &kombat.RequestError{Endpoint: "/clicker/test", Status: 400, Body: "nope"}

// journal records calls across fakes so tests can check their order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	j.entries = append(j.entries, entry)
	j.mu.Unlock()
}

func (j *journal) index(entry string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Index(j.entries, entry)
}

func (j *journal) count(entry string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, e := range j.entries {
		if e == entry {
			n++
		}
	}
	return n
}

type fakeGame struct {
	mu       sync.Mutex
	journal  *journal
	me       kombat.TelegramUser
	snapshot kombat.ClickerUser
	boosts   []kombat.Boost
	upgrades kombat.UpgradesForBuy
	tasks    []kombat.Task
	config   kombat.GameConfig

	tapErr      error
	syncErr     error
	upgradesErr error
	buyErrs     map[string]error
	taps        []int
	ciphers     []string
	// onTap runs after a tap is recorded, outside the fake's lock.
	onTap func()
}

func (g *fakeGame) record(call string) {
	if g.journal != nil {
		g.journal.add(call)
	}
}

func (g *fakeGame) current() *kombat.ClickerUser {
	s := g.snapshot
	return &s
}

func (g *fakeGame) AuthTelegram(_ context.Context, _ string) (*kombat.TelegramUser, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("auth")
	me := g.me
	return &me, nil
}

func (g *fakeGame) Sync(_ context.Context, _ string) (*kombat.ClickerUser, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("sync")
	if g.syncErr != nil {
		return nil, g.syncErr
	}
	return g.current(), nil
}

func (g *fakeGame) Tap(_ context.Context, _ string, _ int, count int) (*kombat.ClickerUser, error) {
	g.mu.Lock()
	g.record("tap")
	if g.tapErr != nil {
		g.mu.Unlock()
		return nil, g.tapErr
	}
	g.taps = append(g.taps, count)
	g.snapshot.BalanceCoins += float64(count * g.snapshot.EarnPerTap)
	g.snapshot.AvailableTaps -= count * g.snapshot.EarnPerTap
	snapshot, hook := g.current(), g.onTap
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	return snapshot, nil
}

func (g *fakeGame) BuyUpgrade(_ context.Context, _ string, upgradeID string) (*kombat.ClickerUser, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("buy:" + upgradeID)
	if err := g.buyErrs[upgradeID]; err != nil {
		return nil, err
	}
	for i, u := range g.upgrades.Upgrades {
		if u.ID == upgradeID {
			g.snapshot.BalanceCoins -= u.Price
			g.upgrades.Upgrades[i].Level++
		}
	}
	return g.current(), nil
}

func (g *fakeGame) BuyBoost(_ context.Context, _ string, boostID string) (*kombat.ClickerUser, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("boost:" + boostID)
	return g.current(), nil
}

func (g *fakeGame) Boosts(_ context.Context, _ string) ([]kombat.Boost, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("boosts")
	return slices.Clone(g.boosts), nil
}

func (g *fakeGame) Upgrades(_ context.Context, _ string) (*kombat.UpgradesForBuy, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("upgrades")
	if g.upgradesErr != nil {
		return nil, g.upgradesErr
	}
	catalog := kombat.UpgradesForBuy{Upgrades: slices.Clone(g.upgrades.Upgrades), DailyCombo: g.upgrades.DailyCombo}
	return &catalog, nil
}

func (g *fakeGame) Tasks(_ context.Context, _ string) ([]kombat.Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("tasks")
	return slices.Clone(g.tasks), nil
}

func (g *fakeGame) Config(_ context.Context, _ string) (*kombat.GameConfig, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("config")
	cfg := g.config
	return &cfg, nil
}

func (g *fakeGame) ClaimDailyCipher(_ context.Context, _ string, cipher string) (*kombat.ClickerUser, *kombat.DailyCipher, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("cipher")
	g.ciphers = append(g.ciphers, cipher)
	g.snapshot.BalanceCoins += 1000
	return g.current(), &kombat.DailyCipher{IsClaimed: true, BonusCoins: 1000, RemainSeconds: 3600}, nil
}

func (g *fakeGame) ClaimDailyCombo(_ context.Context, _ string) (*kombat.ClickerUser, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("combo")
	return g.current(), nil
}

func (g *fakeGame) CheckTask(_ context.Context, _ string, taskID string) (*kombat.Task, *kombat.ClickerUser, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("check:" + taskID)
	return &kombat.Task{ID: taskID, IsCompleted: true, RewardCoins: 500}, g.current(), nil
}

func (g *fakeGame) tapCalls() int {
	return g.journal.count("tap")
}

type fakeClients struct {
	api GameAPI
	err error
}

func (f fakeClients) ForProxy(*model.AccountProxy) (GameAPI, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.api, nil
}

type fakeChecker struct {
	mu     sync.Mutex
	ok     bool
	checks int
}

func (c *fakeChecker) Check(context.Context, *model.AccountProxy) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks++
	return c.ok
}

type sentMessage struct {
	chatID int64
	text   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{chatID, text})
	return n.err
}

func (n *fakeNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.sent)
}

// journaledSchedules notes every schedule mutation in the journal.
type journaledSchedules struct {
	*scheduler.Store
	journal *journal
}

func (s journaledSchedules) Add(ctx context.Context, tr scheduler.IntervalTrigger, id scheduler.ID, setStartTime bool, args scheduler.Args) (*scheduler.Schedule, error) {
	s.journal.add("schedule:add")
	return s.Store.Add(ctx, tr, id, setStartTime, args)
}

func (s journaledSchedules) Process(ctx context.Context, action scheduler.Action, id scheduler.ID, tr *scheduler.IntervalTrigger, args scheduler.Args) (*scheduler.Schedule, error) {
	s.journal.add("schedule:" + string(action))
	return s.Store.Process(ctx, action, id, tr, args)
}

type fixture struct {
	db       *gorm.DB
	store    *scheduler.Store
	journal  *journal
	game     *fakeGame
	checker  *fakeChecker
	notifier *fakeNotifier
	runner   *Runner
	sleeps   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.OpenTestDB(t)
	if err := scheduler.Migrate(db); err != nil {
		t.Fatalf("migrate schedules: %v", err)
	}

	f := &fixture{
		db:       db,
		journal:  &journal{},
		checker:  &fakeChecker{ok: true},
		notifier: &fakeNotifier{},
	}
	f.store = scheduler.New(db, scheduler.Options{
		Location: time.UTC,
		Now:      func() time.Time { return testNow },
	})
	f.game = &fakeGame{
		journal:  f.journal,
		me:       kombat.TelegramUser{ID: 777, FirstName: "Hammy", LastName: "Kombat", Username: "hammy"},
		snapshot: kombat.ClickerUser{BalanceCoins: 1000, TotalCoins: 5000, AvailableTaps: 1000, MaxTaps: 1000, EarnPerTap: 2, LastSyncUpdate: testNow.Unix()},
	}
	f.runner = NewRunner(Runner{
		Sessions:  storage.Sessions{DB: db},
		Schedules: journaledSchedules{Store: f.store, journal: f.journal},
		Clients:   fakeClients{api: f.game},
		Checker:   f.checker,
		Notifier:  f.notifier,
		Policy:    DefaultPolicy(),
		Location:  time.UTC,
		Now:       func() time.Time { return testNow },
	})
	f.runner.Sync.Sleep = func(ctx context.Context, _ time.Duration) error {
		f.sleeps++
		return ctx.Err()
	}
	return f
}

// seedAccount stores a user with one account, a config with every automation
// on and, when withProxy is set, an active proxy.
func (f *fixture) seedAccount(t *testing.T, userID, accountID int64, withProxy bool) *model.Account {
	t.Helper()
	if err := f.db.Save(&model.User{ID: userID, FullName: "Owner", MaxAccounts: 5, IsActive: true}).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	account := &model.Account{
		ID:            accountID,
		UserID:        &userID,
		FullName:      "Hammy",
		Token:         "token",
		BalanceCoins:  1000,
		AvailableTaps: 1000,
		MaxTaps:       1000,
		EarnPerTap:    2,
	}
	if err := f.db.Create(account).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
	cfg := model.NewAccountConfig(accountID)
	cfg.IsAutofarm, cfg.IsAutoupgrade, cfg.IsAutosync = true, true, true
	cfg.IsAutosyncNotifications = true
	if err := f.db.Create(cfg).Error; err != nil {
		t.Fatalf("seed config: %v", err)
	}
	if withProxy {
		p := &model.AccountProxy{ConfigID: cfg.ID, Protocol: model.ProtocolHTTP, Host: "10.0.0.1", Port: 8080, IsActive: true}
		if err := f.db.Create(p).Error; err != nil {
			t.Fatalf("seed proxy: %v", err)
		}
	}
	return account
}

func (f *fixture) scheduleAll(t *testing.T, accountID, userID int64) {
	t.Helper()
	for _, kind := range scheduler.AccountKinds {
		id := scheduler.NewID(kind, accountID, userID)
		if _, err := f.store.Add(context.Background(), *scheduler.Every(10*time.Minute), id, true, scheduler.Args{AccountID: accountID}); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
}

func (f *fixture) loadAccount(t *testing.T, accountID int64) *model.Account {
	t.Helper()
	var a model.Account
	if err := f.db.Preload("Config.Proxy").First(&a, accountID).Error; err != nil {
		t.Fatalf("load account %d: %v", accountID, err)
	}
	return &a
}

func (f *fixture) schedule(t *testing.T, id scheduler.ID) *scheduler.Schedule {
	t.Helper()
	sch, err := f.store.Process(context.Background(), scheduler.ActionGet, id, nil, scheduler.Args{})
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return sch
}

func countRows(t *testing.T, db *gorm.DB, m any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(m).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func isRemote(err error) bool {
	var re *kombat.RequestError
	return errors.As(err, &re)
}
