package automation

import (
	"testing"

	"kombat-farm-bot/model"
)

func TestSelectProfitUpgrades(t *testing.T) {
	upgrade := func(typ, section string, price, profit float64) model.AccountUpgrade {
		return model.AccountUpgrade{Type: typ, Section: section, Price: price, ProfitPerHour: profit, IsActive: true}
	}

	tests := []struct {
		name      string
		balance   float64
		upgrades  []model.AccountUpgrade
		sections  []string
		wantTypes []string
	}{
		{
			name:      "lowest ratio wins",
			balance:   200,
			upgrades:  []model.AccountUpgrade{upgrade("a", "Markets", 100, 50), upgrade("b", "Markets", 40, 50)},
			sections:  []string{"Markets"},
			wantTypes: []string{"b"},
		},
		{
			name:      "tie keeps first",
			balance:   1000,
			upgrades:  []model.AccountUpgrade{upgrade("a", "Markets", 100, 50), upgrade("b", "Markets", 200, 100)},
			sections:  []string{"Markets"},
			wantTypes: []string{"a"},
		},
		{
			name:    "sections in order",
			balance: 1000,
			upgrades: []model.AccountUpgrade{
				upgrade("legal", "Legal", 10, 1),
				upgrade("market", "Markets", 10, 1),
				upgrade("special", "Specials", 10, 1),
			},
			sections:  []string{"Markets", "PR&Team", "Legal"},
			wantTypes: []string{"market", "legal"},
		},
		{
			name:    "unaffordable and cooling down skipped",
			balance: 50,
			upgrades: []model.AccountUpgrade{
				upgrade("pricey", "Markets", 100, 500),
				{Type: "cooling", Section: "Markets", Price: 10, ProfitPerHour: 10, IsActive: true, CooldownSeconds: 30},
				upgrade("ok", "Markets", 50, 1),
			},
			sections:  []string{"Markets"},
			wantTypes: []string{"ok"},
		},
		{
			name:      "duplicates removed",
			balance:   1000,
			upgrades:  []model.AccountUpgrade{upgrade("a", "Markets", 10, 1)},
			sections:  []string{"Markets", "Markets"},
			wantTypes: []string{"a"},
		},
		{
			name:     "nothing purchasable",
			balance:  0,
			upgrades: []model.AccountUpgrade{upgrade("a", "Markets", 10, 1)},
			sections: []string{"Markets"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectProfitUpgrades(tt.balance, tt.upgrades, tt.sections)
			if len(got) != len(tt.wantTypes) {
				t.Fatalf("got %d purchases %+v, want %v", len(got), got, tt.wantTypes)
			}
			for i, p := range got {
				if p.Upgrade.Type != tt.wantTypes[i] {
					t.Fatalf("purchase %d = %s, want %s", i, p.Upgrade.Type, tt.wantTypes[i])
				}
			}
		})
	}
}

func TestSelectProfitUpgradesRatio(t *testing.T) {
	got := SelectProfitUpgrades(1000, []model.AccountUpgrade{
		{Type: "a", Section: "Markets", Price: 100, ProfitPerHour: 3, IsActive: true},
	}, []string{"Markets"})
	if len(got) != 1 || got[0].Ratio.String() != "33.33" {
		t.Fatalf("ratio = %v, want 33.33", got)
	}
}

func TestReserve(t *testing.T) {
	tests := []struct {
		balance float64
		limit   int
		want    float64
	}{
		{1000, 0, 0},
		{1000, -5, 0},
		{1000, 50, 500},
		{1000, 25, 250},
		{1000, 100, 1000},
		{1000, 150, 1000},
	}
	for _, tt := range tests {
		if got := Reserve(tt.balance, tt.limit); got != tt.want {
			t.Fatalf("Reserve(%v, %d) = %v, want %v", tt.balance, tt.limit, got, tt.want)
		}
	}
}
