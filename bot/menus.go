package bot

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"kombat-farm-bot/model"
	"kombat-farm-bot/scheduler"

	"github.com/dustin/go-humanize"
	"gopkg.in/telebot.v3"
)

// Shop, tasks and bulk settings.

func (bot *Bot) handleTimeoutBtn(c telebot.Context) error {
	bot.setState(c.Sender().ID, StateProxy_WaitTimeout)
	bot.setTempData(c.Sender().ID, "account", c.Callback().Data)
	_ = c.Respond()
	return c.Send("Send the proxy timeout in seconds (1 to 60).\n/cancel to stop.")
}

func (bot *Bot) handleCombo(c telebot.Context) error {
	accountID, err := strconv.ParseInt(c.Callback().Data, 10, 64)
	if err != nil {
		return c.Respond()
	}
	_ = c.Respond()
	ctx, cancel := bot.opContext()
	defer cancel()

	account, err := bot.Runner.ClaimDailyCombo(ctx, c.Sender().ID, accountID)
	if err != nil {
		return c.Send(userError(err))
	}
	return c.Send(fmt.Sprintf("🧩 Daily combo claimed.\n└ <b>Balance:</b> <code>%s</code>", humanize.Comma(int64(account.BalanceCoins))))
}

func (bot *Bot) handleBoosts(c telebot.Context) error {
	accountID, err := strconv.ParseInt(c.Callback().Data, 10, 64)
	if err != nil {
		return c.Respond()
	}
	_ = c.Respond()
	ctx, cancel := bot.opContext()
	defer cancel()

	boosts, err := bot.Runner.Boosts(ctx, c.Sender().ID, accountID)
	if err != nil {
		return c.Send(userError(err))
	}
	if len(boosts) == 0 {
		return c.Send("No boosts mirrored yet, sync the account first.")
	}
	text, menu := boostsMenu(accountID, boosts)
	return c.Send(text, menu)
}

func boostsMenu(accountID int64, boosts []model.AccountBoost) (string, *telebot.ReplyMarkup) {
	menu := &telebot.ReplyMarkup{}
	id := strconv.FormatInt(accountID, 10)

	var b strings.Builder
	b.WriteString("🚀 <b>Boosts</b>\n")
	var rows []telebot.Row
	for _, boost := range boosts {
		name := boost.Name
		if name == "" {
			name = boost.Type
		}
		fmt.Fprintf(&b, "• <b>%s</b> lvl <code>%d</code> | <code>%s</code>", html.EscapeString(name), boost.Level, humanize.Comma(int64(boost.Price)))
		if boost.CooldownSeconds > 0 {
			fmt.Fprintf(&b, " | ⏳ %ds", boost.CooldownSeconds)
		}
		b.WriteString("\n")
		rows = append(rows, menu.Row(menu.Data("Buy "+name, btnBuyBoost.Unique, id, boost.Type)))
	}
	menu.Inline(rows...)
	return b.String(), menu
}

func (bot *Bot) handleBuyBoost(c telebot.Context) error {
	accountID, boostID, ok := parseItemData(c.Callback().Data)
	if !ok {
		return c.Respond()
	}
	ctx, cancel := bot.opContext()
	defer cancel()

	account, err := bot.Runner.BuyBoost(ctx, c.Sender().ID, accountID, boostID)
	if err != nil {
		return c.Respond(&telebot.CallbackResponse{Text: userError(err), ShowAlert: true})
	}
	return c.Respond(&telebot.CallbackResponse{Text: "Bought! Balance " + humanize.Comma(int64(account.BalanceCoins))})
}

func (bot *Bot) handleUpgrades(c telebot.Context) error {
	accountID, err := strconv.ParseInt(c.Callback().Data, 10, 64)
	if err != nil {
		return c.Respond()
	}
	_ = c.Respond()
	ctx, cancel := bot.opContext()
	defer cancel()

	picks, err := bot.Runner.ProfitUpgrades(ctx, c.Sender().ID, accountID)
	if err != nil {
		return c.Send(userError(err))
	}

	menu := &telebot.ReplyMarkup{}
	id := strconv.FormatInt(accountID, 10)
	var b strings.Builder
	b.WriteString("📈 <b>Best upgrades</b>\n")
	if len(picks) == 0 {
		b.WriteString("Nothing to buy with the current balance.\n")
	}
	var rows []telebot.Row
	for _, p := range picks {
		u := p.Upgrade
		fmt.Fprintf(&b, "• <b>%s</b> (%s) | <code>%s</code> | +<code>%s</code>/h | payback <code>%sh</code>\n",
			html.EscapeString(u.Name), html.EscapeString(u.Section),
			humanize.Comma(int64(u.Price)), humanize.Comma(int64(u.ProfitPerHour)), p.Ratio.StringFixed(1))
		rows = append(rows, menu.Row(menu.Data("Buy "+u.Name, btnBuyUpgrade.Unique, id, u.Type)))
	}
	rows = append(rows, menu.Row(menu.Data("💸 Buy best now", btnBuyProfit.Unique, id)))
	menu.Inline(rows...)
	return c.Send(b.String(), menu)
}

func (bot *Bot) handleBuyUpgrade(c telebot.Context) error {
	accountID, upgradeID, ok := parseItemData(c.Callback().Data)
	if !ok {
		return c.Respond()
	}
	ctx, cancel := bot.opContext()
	defer cancel()

	account, err := bot.Runner.BuyUpgrade(ctx, c.Sender().ID, accountID, upgradeID)
	if err != nil {
		return c.Respond(&telebot.CallbackResponse{Text: userError(err), ShowAlert: true})
	}
	return c.Respond(&telebot.CallbackResponse{Text: "Bought! Balance " + humanize.Comma(int64(account.BalanceCoins))})
}

func (bot *Bot) handleBuyProfit(c telebot.Context) error {
	accountID, err := strconv.ParseInt(c.Callback().Data, 10, 64)
	if err != nil {
		return c.Respond()
	}
	_ = c.Respond(&telebot.CallbackResponse{Text: "Buying..."})
	ctx, cancel := bot.opContext()
	defer cancel()

	bought, account, err := bot.Runner.BuyProfitUpgradesNow(ctx, c.Sender().ID, accountID)
	if err != nil {
		return c.Send(userError(err))
	}
	if len(bought) == 0 {
		return c.Send("Nothing was bought, the spend limit or the balance is too low.")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "💸 Bought <b>%d</b> upgrades:\n", len(bought))
	for _, p := range bought {
		fmt.Fprintf(&b, "• %s | <code>%s</code>\n", html.EscapeString(p.Upgrade.Name), humanize.Comma(int64(p.Upgrade.Price)))
	}
	fmt.Fprintf(&b, "└ <b>Balance:</b> <code>%s</code>", humanize.Comma(int64(account.BalanceCoins)))
	return c.Send(b.String())
}

func (bot *Bot) handleTasks(c telebot.Context) error {
	accountID, err := strconv.ParseInt(c.Callback().Data, 10, 64)
	if err != nil {
		return c.Respond()
	}
	_ = c.Respond()
	ctx, cancel := bot.opContext()
	defer cancel()

	tasks, err := bot.Runner.Tasks(ctx, c.Sender().ID, accountID)
	if err != nil {
		return c.Send(userError(err))
	}
	if len(tasks) == 0 {
		return c.Send("No tasks mirrored yet, sync the account first.")
	}
	text, menu := tasksMenu(accountID, tasks)
	return c.Send(text, menu)
}

// tasksMenu offers a check button for every task that is still open.
func tasksMenu(accountID int64, tasks []model.AccountTask) (string, *telebot.ReplyMarkup) {
	menu := &telebot.ReplyMarkup{}
	id := strconv.FormatInt(accountID, 10)

	var b strings.Builder
	b.WriteString("📝 <b>Tasks</b>\n")
	var rows []telebot.Row
	for _, t := range tasks {
		fmt.Fprintf(&b, "%s <code>%s</code> | +<code>%s</code>\n", mark(t.IsCompleted), html.EscapeString(t.Type), humanize.Comma(int64(t.RewardCoins)))
		if !t.IsCompleted {
			rows = append(rows, menu.Row(menu.Data("Check "+t.Type, btnCheckTask.Unique, id, t.Type)))
		}
	}
	menu.Inline(rows...)
	return b.String(), menu
}

func (bot *Bot) handleCheckTask(c telebot.Context) error {
	accountID, taskID, ok := parseItemData(c.Callback().Data)
	if !ok {
		return c.Respond()
	}
	ctx, cancel := bot.opContext()
	defer cancel()

	task, err := bot.Runner.CheckTask(ctx, c.Sender().ID, accountID, taskID)
	if err != nil {
		return c.Respond(&telebot.CallbackResponse{Text: userError(err), ShowAlert: true})
	}
	if !task.IsCompleted {
		return c.Respond(&telebot.CallbackResponse{Text: "Not completed yet"})
	}
	return c.Respond(&telebot.CallbackResponse{Text: "Completed! +" + humanize.Comma(int64(task.RewardCoins))})
}

// 🎁 Daily rewards
func (bot *Bot) handleDailyAll(c telebot.Context) error {
	bot.setState(c.Sender().ID, StateNone)
	ctx, cancel := bot.opContext()
	defer cancel()

	_ = c.Send("Collecting daily rewards, please wait...")
	res, err := bot.Runner.ClaimDailyAll(ctx, c.Sender().ID)
	if err != nil {
		return c.Send(userError(err))
	}
	return c.Send(fmt.Sprintf("🎁 Daily rewards for <b>%d</b> accounts collected.\n├ <b>Claimed:</b> <code>%d</code>\n├ <b>Already claimed:</b> <code>%d</code>\n├ <b>Failed:</b> <code>%d</code>\n└ <b>Coins:</b> <code>%s</code>",
		res.Accounts, res.Claimed, res.Already, res.Failed, humanize.Comma(int64(res.Coins))))
}

// ⚙️ Settings
func (bot *Bot) handleSettings(c telebot.Context) error {
	bot.setState(c.Sender().ID, StateNone)
	return c.Send("⚙️ <b>Settings for all accounts</b>", settingsMenu())
}

func settingsMenu() *telebot.ReplyMarkup {
	menu := &telebot.ReplyMarkup{}
	var rows []telebot.Row
	for _, kind := range scheduler.AccountKinds {
		rows = append(rows, menu.Row(
			menu.Data("✅ "+kindLabels[kind], btnAllKind.Unique, string(kind), "1"),
			menu.Data("❌ "+kindLabels[kind], btnAllKind.Unique, string(kind), "0"),
		))
	}
	rows = append(rows, menu.Row(
		menu.Data("🔔 Reports on", btnAllNotify.Unique, "1"),
		menu.Data("🔕 Reports off", btnAllNotify.Unique, "0"),
	))
	menu.Inline(rows...)
	return menu
}

func (bot *Bot) handleAllKind(c telebot.Context) error {
	rawKind, flag, ok := strings.Cut(c.Callback().Data, "|")
	kind := scheduler.TaskKind(rawKind)
	if _, known := kindLabels[kind]; !ok || !known {
		return c.Respond()
	}
	enabled := flag == "1"
	ctx, cancel := bot.opContext()
	defer cancel()

	n, err := bot.Runner.SetAutomationAll(ctx, c.Sender().ID, kind, enabled)
	if err != nil {
		return c.Respond(&telebot.CallbackResponse{Text: userError(err), ShowAlert: true})
	}
	return c.Respond(&telebot.CallbackResponse{Text: fmt.Sprintf("%s %s for %d accounts", kindLabels[kind], onOff(enabled), n)})
}

func (bot *Bot) handleAllNotify(c telebot.Context) error {
	enabled := c.Callback().Data == "1"
	ctx, cancel := bot.opContext()
	defer cancel()

	n, err := bot.Runner.SetNotificationsAll(ctx, c.Sender().ID, enabled)
	if err != nil {
		return c.Respond(&telebot.CallbackResponse{Text: userError(err), ShowAlert: true})
	}
	return c.Respond(&telebot.CallbackResponse{Text: fmt.Sprintf("Reports %s for %d accounts", onOff(enabled), n)})
}
