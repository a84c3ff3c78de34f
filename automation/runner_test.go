package automation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"kombat-farm-bot/kombat"
	"kombat-farm-bot/model"
	"kombat-farm-bot/scheduler"
)

func TestGuardDisablesAutomationOnBadProxy(t *testing.T) {
	tests := []struct {
		name      string
		withProxy bool
	}{
		{"check fails", true},
		{"no proxy", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			f.checker.ok = false
			f.seedAccount(t, 10, 1, tt.withProxy)
			f.scheduleAll(t, 1, 10)

			id := scheduler.NewID(scheduler.TaskAutofarm, 1, 10)
			if err := f.runner.Autofarm(ctx, id, scheduler.Args{AccountID: 1}); err != nil {
				t.Fatalf("Autofarm: %v", err)
			}

			got := f.loadAccount(t, 1)
			cfg := got.Config
			if cfg.IsAutofarm || cfg.IsAutoupgrade || cfg.IsAutosync {
				t.Fatalf("automation still on: %+v", cfg)
			}
			if tt.withProxy && cfg.Proxy.IsActive {
				t.Fatalf("proxy still active")
			}
			all, err := f.store.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(all) != 0 {
				t.Fatalf("schedules left: %d", len(all))
			}
			msgs := f.notifier.messages()
			if len(msgs) != 1 || msgs[0].chatID != 10 {
				t.Fatalf("notifications = %+v, want one to chat 10", msgs)
			}
			if !strings.Contains(msgs[0].text, "proxy") {
				t.Fatalf("notification = %q", msgs[0].text)
			}
			if f.game.tapCalls() != 0 {
				t.Fatalf("tap called %d times", f.game.tapCalls())
			}
		})
	}
}

func TestGuardDropsScheduleOfMissingAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.scheduleAll(t, 42, 10)

	id := scheduler.NewID(scheduler.TaskAutosync, 42, 10)
	if err := f.runner.Autosync(ctx, id, scheduler.Args{AccountID: 42}); err != nil {
		t.Fatalf("Autosync: %v", err)
	}
	if f.schedule(t, id) != nil {
		t.Fatalf("schedule of missing account kept")
	}
	if f.schedule(t, scheduler.NewID(scheduler.TaskAutofarm, 42, 10)) == nil {
		t.Fatalf("other schedules should stay")
	}
	if len(f.notifier.messages()) != 0 {
		t.Fatalf("nobody to notify")
	}
}

func TestAutofarmTapsAndReschedules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAccount(t, 10, 1, true)
	f.scheduleAll(t, 1, 10)

	id := scheduler.NewID(scheduler.TaskAutofarm, 1, 10)
	if err := f.runner.Autofarm(ctx, id, scheduler.Args{AccountID: 1}); err != nil {
		t.Fatalf("Autofarm: %v", err)
	}

	// 1000 taps / 2 per tap = 500 energy, divided by 1.6..1.8.
	if len(f.game.taps) != 1 || f.game.taps[0] < 277 || f.game.taps[0] > 312 {
		t.Fatalf("taps = %v, want one call in 277..312", f.game.taps)
	}

	sch := f.schedule(t, id)
	if sch == nil {
		t.Fatalf("autofarm schedule gone")
	}
	if sch.IntervalSeconds < 523 || sch.IntervalSeconds > 1291 {
		t.Fatalf("interval = %d, want 523..1291", sch.IntervalSeconds)
	}
	want := testNow.Add(time.Duration(sch.IntervalSeconds) * time.Second)
	if sch.NextFireTime == nil || !sch.NextFireTime.Equal(want) {
		t.Fatalf("NextFireTime = %v, want %v", sch.NextFireTime, want)
	}

	got := f.loadAccount(t, 1)
	if int64(got.Config.AutofarmInterval) != sch.IntervalSeconds {
		t.Fatalf("config interval = %d, schedule %d", got.Config.AutofarmInterval, sch.IntervalSeconds)
	}
	if got.BalanceCoins != f.game.snapshot.BalanceCoins {
		t.Fatalf("balance = %v, want synced %v", got.BalanceCoins, f.game.snapshot.BalanceCoins)
	}

	msgs := f.notifier.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].text, "Autofarm") {
		t.Fatalf("notifications = %+v", msgs)
	}
}

func TestAutofarmKeepsToggleSwitchedDuringRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAccount(t, 10, 1, true)
	f.scheduleAll(t, 1, 10)

	var switchErr error
	f.game.onTap = func() {
		_, switchErr = f.runner.SetAutomation(ctx, 10, 1, scheduler.TaskAutoupgrade, false)
	}
	farm := scheduler.NewID(scheduler.TaskAutofarm, 1, 10)
	if err := f.runner.Autofarm(ctx, farm, scheduler.Args{AccountID: 1}); err != nil {
		t.Fatalf("Autofarm: %v", err)
	}
	if switchErr != nil {
		t.Fatalf("SetAutomation: %v", switchErr)
	}

	got := f.loadAccount(t, 1)
	if got.Config.IsAutoupgrade {
		t.Fatalf("autoupgrade flag restored by the autofarm run")
	}
	if !got.Config.IsAutofarm || got.Owner() != 10 {
		t.Fatalf("config = %+v owner %d", got.Config, got.Owner())
	}
	if got.BalanceCoins != f.game.snapshot.BalanceCoins {
		t.Fatalf("balance = %v, want %v", got.BalanceCoins, f.game.snapshot.BalanceCoins)
	}
	if f.schedule(t, scheduler.NewID(scheduler.TaskAutoupgrade, 1, 10)) != nil {
		t.Fatalf("autoupgrade schedule kept")
	}
	if f.schedule(t, farm) == nil {
		t.Fatalf("autofarm schedule gone")
	}
}

func TestUnlinkWaitsForRunningAutofarm(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAccount(t, 10, 1, true)
	f.scheduleAll(t, 1, 10)

	var wg sync.WaitGroup
	var unlinkErr error
	f.game.onTap = func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlinkErr = f.runner.UnlinkAccount(ctx, 10, 1)
		}()
		// Let the unlink reach the account lock before the run goes on.
		time.Sleep(20 * time.Millisecond)
	}
	farm := scheduler.NewID(scheduler.TaskAutofarm, 1, 10)
	if err := f.runner.Autofarm(ctx, farm, scheduler.Args{AccountID: 1}); err != nil {
		t.Fatalf("Autofarm: %v", err)
	}
	wg.Wait()
	if unlinkErr != nil {
		t.Fatalf("UnlinkAccount: %v", unlinkErr)
	}

	got := f.loadAccount(t, 1)
	if got.UserID != nil {
		t.Fatalf("account relinked to %d", *got.UserID)
	}
	if got.Config.IsAutofarm || got.Config.IsAutoupgrade || got.Config.IsAutosync {
		t.Fatalf("automation left on: %+v", got.Config)
	}
	all, err := f.store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("schedules left after unlink: %d", len(all))
	}
}

func TestAutofarmIntervalStaysInBand(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAccount(t, 10, 1, true)
	f.scheduleAll(t, 1, 10)
	id := scheduler.NewID(scheduler.TaskAutofarm, 1, 10)

	for i := 0; i < 20; i++ {
		if err := f.runner.Autofarm(ctx, id, scheduler.Args{AccountID: 1}); err != nil {
			t.Fatalf("Autofarm #%d: %v", i, err)
		}
		sch := f.schedule(t, id)
		if sch.IntervalSeconds < 523 || sch.IntervalSeconds > 1291 {
			t.Fatalf("run %d: interval = %d, want 523..1291", i, sch.IntervalSeconds)
		}
	}
}

func TestAutofarmFailureStillReschedules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAccount(t, 10, 1, true)
	f.scheduleAll(t, 1, 10)
	f.game.tapErr = errRemote

	id := scheduler.NewID(scheduler.TaskAutofarm, 1, 10)
	if err := f.runner.Autofarm(ctx, id, scheduler.Args{AccountID: 1}); err != nil {
		t.Fatalf("Autofarm: %v", err)
	}

	if f.journal.count("schedule:reschedule") != 1 {
		t.Fatalf("journal = %v, want one reschedule", f.journal.entries)
	}
	sch := f.schedule(t, id)
	if sch.IntervalSeconds < 523 || sch.IntervalSeconds > 1291 {
		t.Fatalf("interval = %d", sch.IntervalSeconds)
	}
	msgs := f.notifier.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].text, "failed") {
		t.Fatalf("notifications = %+v, want one failure", msgs)
	}
	if got := f.loadAccount(t, 1); got.BalanceCoins != 1000 {
		t.Fatalf("balance changed to %v", got.BalanceCoins)
	}
}

func TestAutoupgradeReschedulesAfterPurchaseSync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAccount(t, 10, 1, true)
	f.scheduleAll(t, 1, 10)

	f.game.upgrades.Upgrades = []kombat.Upgrade{
		{ID: "bank", Name: "Bank", Section: "Markets", Price: 100, ProfitPerHour: 50, IsAvailable: true},
	}
	if _, err := f.runner.Sync.SyncUpgrades(ctx, f.runner.Sessions.Open(ctx).Repo, f.runner.Sessions.Open(ctx).UoW, f.loadAccount(t, 1), f.game, nil); err != nil {
		t.Fatalf("seed upgrades: %v", err)
	}

	id := scheduler.NewID(scheduler.TaskAutoupgrade, 1, 10)
	if err := f.runner.Autoupgrade(ctx, id, scheduler.Args{AccountID: 1}); err != nil {
		t.Fatalf("Autoupgrade: %v", err)
	}

	buy := f.journal.index("buy:bank")
	resync := f.journal.count("upgrades")
	reschedule := f.journal.index("schedule:reschedule")
	if buy < 0 || reschedule < 0 {
		t.Fatalf("journal = %v", f.journal.entries)
	}
	if resync != 2 {
		t.Fatalf("upgrade catalog fetched %d times, want seed + resync", resync)
	}
	lastFetch := -1
	for i, e := range f.journal.entries {
		if e == "upgrades" {
			lastFetch = i
		}
	}
	if !(buy < lastFetch && lastFetch < reschedule) {
		t.Fatalf("order buy=%d resync=%d reschedule=%d, want increasing", buy, lastFetch, reschedule)
	}

	sch := f.schedule(t, id)
	if sch.IntervalSeconds < 647 || sch.IntervalSeconds > 1873 {
		t.Fatalf("interval = %d, want 647..1873", sch.IntervalSeconds)
	}
	up, err := f.runner.Sessions.Open(ctx).Repo.GetUpgrade(ctx, 1, "bank")
	if err != nil {
		t.Fatalf("GetUpgrade: %v", err)
	}
	if up.Level != 1 {
		t.Fatalf("upgrade level = %d, want 1 after resync", up.Level)
	}
	msgs := f.notifier.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].text, "bank") {
		t.Fatalf("notifications = %+v", msgs)
	}
}

func TestAutoupgradeResyncFailureIsRecordedBeforeReschedule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAccount(t, 10, 1, true)
	f.scheduleAll(t, 1, 10)
	if err := f.db.Create(&model.AccountUpgrade{AccountID: 1, Type: "bank", Section: "Markets", Price: 100, ProfitPerHour: 50, IsActive: true}).Error; err != nil {
		t.Fatalf("seed upgrade: %v", err)
	}
	f.game.upgradesErr = errRemote

	id := scheduler.NewID(scheduler.TaskAutoupgrade, 1, 10)
	if err := f.runner.Autoupgrade(ctx, id, scheduler.Args{AccountID: 1}); err != nil {
		t.Fatalf("Autoupgrade: %v", err)
	}

	if f.journal.index("upgrades") > f.journal.index("schedule:reschedule") {
		t.Fatalf("journal = %v", f.journal.entries)
	}
	if f.schedule(t, id) == nil {
		t.Fatalf("schedule dropped")
	}
	msgs := f.notifier.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].text, "failed") {
		t.Fatalf("notifications = %+v, want one failure", msgs)
	}
}

func TestAutosyncFullSyncAndNotify(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAccount(t, 10, 1, true)
	f.scheduleAll(t, 1, 10)
	f.game.snapshot.BalanceCoins = 4321
	f.game.boosts = []kombat.Boost{{ID: "BoostMaxTaps", Level: 2}}

	id := scheduler.NewID(scheduler.TaskAutosync, 1, 10)
	if err := f.runner.Autosync(ctx, id, scheduler.Args{AccountID: 1}); err != nil {
		t.Fatalf("Autosync: %v", err)
	}

	got := f.loadAccount(t, 1)
	if got.BalanceCoins != 4321 {
		t.Fatalf("balance = %v, want 4321", got.BalanceCoins)
	}
	if n := countRows(t, f.db, &model.AccountBoost{}); n != 1 {
		t.Fatalf("boosts = %d, want 1", n)
	}
	sch := f.schedule(t, id)
	if sch.IntervalSeconds < 1811 || sch.IntervalSeconds > 3607 {
		t.Fatalf("interval = %d, want 1811..3607", sch.IntervalSeconds)
	}
	msgs := f.notifier.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].text, "synchronized") {
		t.Fatalf("notifications = %+v", msgs)
	}
}

func TestNightSleepPushesExistingSchedules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAccount(t, 10, 1, true)
	farm := scheduler.NewID(scheduler.TaskAutofarm, 1, 10)
	if _, err := f.store.Add(ctx, *scheduler.Every(10*time.Minute), farm, true, scheduler.Args{AccountID: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}

	night := scheduler.GlobalID(scheduler.TaskNightSleep)
	if err := f.runner.NightSleep(ctx, night, scheduler.Args{}); err != nil {
		t.Fatalf("NightSleep: %v", err)
	}

	sch := f.schedule(t, farm)
	earliest := testNow.Add(3 * time.Hour)
	if sch.NextFireTime == nil || sch.NextFireTime.Before(earliest) {
		t.Fatalf("NextFireTime = %v, want after %v", sch.NextFireTime, earliest)
	}
	if sch.IntervalSeconds < 523 || sch.IntervalSeconds > 1291 {
		t.Fatalf("interval = %d", sch.IntervalSeconds)
	}
	if f.schedule(t, scheduler.NewID(scheduler.TaskAutoupgrade, 1, 10)) != nil {
		t.Fatalf("night sleep must not create schedules")
	}

	rearmed := f.schedule(t, night)
	if rearmed == nil || rearmed.IntervalSeconds != 86400 {
		t.Fatalf("night sleep not re-armed: %+v", rearmed)
	}
	midnight := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	if rearmed.StartTime.Before(midnight.Add(30*time.Minute)) || rearmed.StartTime.After(midnight.Add(time.Hour)) {
		t.Fatalf("StartTime = %v, want 00:30..01:00 next day", rearmed.StartTime)
	}
	if len(f.notifier.messages()) != 1 {
		t.Fatalf("notifications = %+v", f.notifier.messages())
	}
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	k := NewKeyedMutex()
	unlock := k.Lock("1/handle_autofarm")

	acquired := make(chan struct{})
	go func() {
		defer k.Lock("1/handle_autofarm")()
		close(acquired)
	}()

	other := k.Lock("2/handle_autofarm")
	other()

	select {
	case <-acquired:
		t.Fatalf("second holder got the lock early")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("lock never handed over")
	}
	time.Sleep(10 * time.Millisecond)
	if n := k.size(); n != 0 {
		t.Fatalf("size = %d after release, want 0", n)
	}
}
