package automation

import (
	"kombat-farm-bot/model"

	"github.com/shopspring/decimal"
)

// Purchase is an upgrade picked for buying together with its payback ratio
// in hours.
type Purchase struct {
	Upgrade model.AccountUpgrade
	Ratio   decimal.Decimal
}

// SelectProfitUpgrades picks, per section in order, the purchasable upgrade
// with the lowest price / profit-per-hour ratio. Ties keep the first one.
func SelectProfitUpgrades(spendable float64, upgrades []model.AccountUpgrade, sections []string) []Purchase {
	var picked []Purchase
	seen := make(map[string]bool)

	for _, section := range sections {
		var best *Purchase
		for _, u := range upgrades {
			if u.Section != section || !u.Purchasable(spendable) {
				continue
			}
			ratio := decimal.NewFromFloat(u.Price).
				Div(decimal.NewFromFloat(u.ProfitPerHour)).
				Round(2)
			if best == nil || ratio.LessThan(best.Ratio) {
				best = &Purchase{Upgrade: u, Ratio: ratio}
			}
		}
		if best != nil && !seen[best.Upgrade.Type] {
			seen[best.Upgrade.Type] = true
			picked = append(picked, *best)
		}
	}
	return picked
}

// Reserve is the part of balance that LimitPercent keeps out of reach of
// autoupgrade.
func Reserve(balance float64, limitPercent int) float64 {
	if limitPercent <= 0 {
		return 0
	}
	if limitPercent >= 100 {
		return balance
	}
	r, _ := decimal.NewFromFloat(balance).
		Mul(decimal.NewFromInt(int64(limitPercent))).
		Div(decimal.NewFromInt(100)).
		Float64()
	return r
}
