package model

import (
	"testing"
	"time"
)

func TestAccountApplyOnlySetFields(t *testing.T) {
	acc := Account{ID: 1, FullName: "Hammy", BalanceCoins: 10, Level: 3}
	acc.Apply(AccountUpdate{BalanceCoins: Ptr(250.5)})

	if acc.BalanceCoins != 250.5 {
		t.Fatalf("BalanceCoins = %v, want 250.5", acc.BalanceCoins)
	}
	if acc.Level != 3 || acc.FullName != "Hammy" {
		t.Fatalf("untouched fields changed: %+v", acc)
	}
}

func TestApplyRecordsChangedFields(t *testing.T) {
	acc := Account{ID: 1}
	acc.Apply(AccountUpdate{BalanceCoins: Ptr(1.0), Level: Ptr(2)})
	acc.Apply(AccountUpdate{BalanceCoins: Ptr(3.0)})
	owner := int64(5)
	acc.SetOwner(&owner)

	want := []string{"BalanceCoins", "Level", "UserID"}
	got := acc.Changed()
	if len(got) != len(want) {
		t.Fatalf("Changed() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Changed() = %v, want %v", got, want)
		}
	}

	acc.MarkSaved()
	if !acc.Persisted() || len(acc.Changed()) != 0 {
		t.Fatalf("after MarkSaved: persisted=%v changed=%v", acc.Persisted(), acc.Changed())
	}
	acc.Apply(AccountUpdate{})
	if len(acc.Changed()) != 0 {
		t.Fatalf("empty update recorded %v", acc.Changed())
	}
}

func TestUpgradeApplyClearsCondition(t *testing.T) {
	id := uint(7)
	up := AccountUpgrade{ConditionID: &id}
	up.Apply(UpgradeUpdate{ConditionID: Ptr[*uint](nil)})

	if up.ConditionID != nil {
		t.Fatalf("ConditionID = %v, want nil", *up.ConditionID)
	}
}

func TestPurchasable(t *testing.T) {
	base := AccountUpgrade{Price: 100, ProfitPerHour: 10, IsActive: true}
	tests := []struct {
		name    string
		mutate  func(u *AccountUpgrade)
		balance float64
		want    bool
	}{
		{"ok", func(*AccountUpgrade) {}, 100, true},
		{"too expensive", func(*AccountUpgrade) {}, 99, false},
		{"cooldown", func(u *AccountUpgrade) { u.CooldownSeconds = 60 }, 500, false},
		{"inactive", func(u *AccountUpgrade) { u.IsActive = false }, 500, false},
		{"expired", func(u *AccountUpgrade) { u.IsExpired = true }, 500, false},
		{"no profit", func(u *AccountUpgrade) { u.ProfitPerHour = 0 }, 500, false},
		{"free", func(u *AccountUpgrade) { u.Price = 0 }, 500, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := base
			tt.mutate(&u)
			if got := u.Purchasable(tt.balance); got != tt.want {
				t.Fatalf("Purchasable(%v) = %v, want %v", tt.balance, got, tt.want)
			}
		})
	}
}

func TestProxyURLAndTimeout(t *testing.T) {
	p := AccountProxy{Protocol: ProtocolSOCKS5, Host: "10.0.0.1", Port: 1080, Username: "u", Password: "p"}
	if got := p.URL().String(); got != "socks5://u:p@10.0.0.1:1080" {
		t.Fatalf("URL() = %q", got)
	}
	if p.TimeoutDuration() != 10*time.Second {
		t.Fatalf("TimeoutDuration() = %v, want 10s", p.TimeoutDuration())
	}
	p.Timeout = 3
	if p.TimeoutDuration() != 3*time.Second {
		t.Fatalf("TimeoutDuration() = %v, want 3s", p.TimeoutDuration())
	}
}
