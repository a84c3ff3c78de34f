package automation

import (
	"strings"
	"testing"
	"time"

	"kombat-farm-bot/model"
	"kombat-farm-bot/scheduler"

	"github.com/shopspring/decimal"
)

func TestAutoupgradeMessage(t *testing.T) {
	loc := time.FixedZone("MSK", 3*60*60)
	m := newMessages(loc)
	account := &model.Account{ID: 5, FullName: "Hammy <3", BalanceCoins: 1234567.9, EarnPassivePerSec: 2, EarnPassivePerHour: 7200}
	next := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	purchases := []Purchase{{
		Upgrade: model.AccountUpgrade{Type: "pr&team_lead", Price: 15000},
		Ratio:   decimal.RequireFromString("12.5"),
	}}

	text, err := m.Autoupgrade(account, purchases, &next)
	if err != nil {
		t.Fatalf("Autoupgrade: %v", err)
	}
	for _, want := range []string{
		"Hammy &lt;3",
		"1,234,567",
		"<code>120</code>",
		"172,800",
		"pr&amp;team_lead",
		"12.50",
		"01.06.2024 15:00",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("message lacks %q:\n%s", want, text)
		}
	}
}

func TestNextRunFallback(t *testing.T) {
	m := newMessages(time.UTC)
	text, err := m.Autosync(&model.Account{ID: 1, FullName: "A"}, nil)
	if err != nil {
		t.Fatalf("Autosync: %v", err)
	}
	if !strings.Contains(text, "Could not get") {
		t.Fatalf("missing fallback:\n%s", text)
	}

	failed, err := m.TaskFailed(scheduler.TaskAutoupgrade, &model.Account{ID: 9, FullName: "B"})
	if err != nil || !strings.Contains(failed, "autoupgrade") || !strings.Contains(failed, "<code>9</code>") {
		t.Fatalf("TaskFailed = %q, %v", failed, err)
	}
}
