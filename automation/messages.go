package automation

import (
	"bytes"
	"html/template"
	"time"

	"kombat-farm-bot/model"
	"kombat-farm-bot/scheduler"

	"github.com/dustin/go-humanize"
)

const timeLayout = "02.01.2006 15:04"

var kindTitles = map[scheduler.TaskKind]string{
	scheduler.TaskAutofarm:    "autofarm",
	scheduler.TaskAutoupgrade: "autoupgrade",
	scheduler.TaskAutosync:    "autosync",
}

const messageTemplates = `
{{define "proxy_failed"}}❌ Could not <b>connect to the proxy</b> of account {{.Account.FullName}}.

Automation for this account is <b>turned off</b>. Check the proxy and try again.{{end}}

{{define "task_failed"}}❌ <b>{{.Title}}</b> failed for account {{.Account.FullName}} (<code>{{.Account.ID}}</code>).{{end}}

{{define "next_run"}}{{if .}}└ <b>Next run:</b> <code>{{when .}}</code>{{else}}└ ⚠️ Could not get the <b>next run time</b>.{{end}}{{end}}

{{define "autofarm"}}🐹 <b>Account</b> {{.Account.FullName}} (<code>{{.Account.ID}}</code>)
├ <b>Balance:</b> <code>{{comma .Account.BalanceCoins}}</code>
├ <b>Coins per tap:</b> <code>{{.Account.EarnPerTap}}</code>
└ <b>Coins all time:</b> <code>{{comma .Account.TotalCoins}}</code>

👆 <b>Taps</b>
├ <b>Available:</b> <code>{{comma .Account.AvailableTaps}}</code>
└ <b>Maximum:</b> <code>{{comma .Account.MaxTaps}}</code>

⛏ <b>Autofarm</b>
├ <b>Tapped:</b> <code>{{.Count}}</code> * <code>{{.EarnPerTap}}</code> (<code>{{comma .Earned}}</code>)
{{template "next_run" .Next}}{{end}}

{{define "autoupgrade"}}🐹 <b>Account</b> {{.Account.FullName}} (<code>{{.Account.ID}}</code>)
└ <b>Balance:</b> <code>{{comma .Account.BalanceCoins}}</code>

💸 <b>Passive income</b>
├ <b>Per minute:</b> <code>{{comma .PerMinute}}</code>
├ <b>Per hour:</b> <code>{{comma .Account.EarnPassivePerHour}}</code>
└ <b>Per day:</b> <code>{{comma .PerDay}}</code>

⏫ <b>Bought upgrades</b>
{{range .Purchases}}• <code>{{.Upgrade.Type}}</code> | <b>Price:</b> <code>{{comma .Upgrade.Price}}</code> | Payback: <code>{{.Ratio.StringFixed 2}}</code> h
{{end}}
🎊 <b>Autoupgrade</b>
{{template "next_run" .Next}}{{end}}

{{define "autosync"}}👍 Account {{.Account.FullName}} (<code>{{.Account.ID}}</code>) is <b>synchronized</b>.

🔄 <b>Autosync</b>
{{template "next_run" .Next}}{{end}}

{{define "night_sleep"}}🌙 <b>Automation</b> of all your accounts is asleep until <b>{{when .Until}}</b>.

Real players sleep too.{{end}}
`

// messages renders the HTML notifications sent by the handlers.
type messages struct {
	tmpl *template.Template
}

func newMessages(loc *time.Location) *messages {
	if loc == nil {
		loc = time.UTC
	}
	funcs := template.FuncMap{
		"comma": comma,
		"when": func(t any) string {
			switch v := t.(type) {
			case time.Time:
				return v.In(loc).Format(timeLayout)
			case *time.Time:
				if v == nil {
					return ""
				}
				return v.In(loc).Format(timeLayout)
			}
			return ""
		},
	}
	return &messages{tmpl: template.Must(template.New("messages").Funcs(funcs).Parse(messageTemplates))}
}

func comma(v any) string {
	switch n := v.(type) {
	case int:
		return humanize.Comma(int64(n))
	case int64:
		return humanize.Comma(n)
	case float64:
		return humanize.Comma(int64(n))
	}
	return ""
}

func (m *messages) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := m.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (m *messages) ProxyFailed(account *model.Account) (string, error) {
	return m.render("proxy_failed", struct{ Account *model.Account }{account})
}

func (m *messages) TaskFailed(kind scheduler.TaskKind, account *model.Account) (string, error) {
	return m.render("task_failed", struct {
		Title   string
		Account *model.Account
	}{kindTitles[kind], account})
}

func (m *messages) Autofarm(account *model.Account, count, earnPerTap int, next *time.Time) (string, error) {
	return m.render("autofarm", struct {
		Account    *model.Account
		Count      int
		EarnPerTap int
		Earned     int
		Next       *time.Time
	}{account, count, earnPerTap, count * earnPerTap, next})
}

func (m *messages) Autoupgrade(account *model.Account, purchases []Purchase, next *time.Time) (string, error) {
	return m.render("autoupgrade", struct {
		Account   *model.Account
		PerMinute float64
		PerDay    float64
		Purchases []Purchase
		Next      *time.Time
	}{account, account.EarnPassivePerSec * 60, account.EarnPassivePerHour * 24, purchases, next})
}

func (m *messages) Autosync(account *model.Account, next *time.Time) (string, error) {
	return m.render("autosync", struct {
		Account *model.Account
		Next    *time.Time
	}{account, next})
}

func (m *messages) NightSleep(until time.Time) (string, error) {
	return m.render("night_sleep", struct{ Until time.Time }{until})
}
