package model

import "time"

// AccountUpdate carries the metrics a remote snapshot may change. Nil fields
// are left untouched.
type AccountUpdate struct {
	Token              *string
	FullName           *string
	Username           *string
	ReferralsCount     *int
	Level              *int
	TotalCoins         *float64
	BalanceCoins       *float64
	AvailableTaps      *int
	MaxTaps            *int
	EarnPerTap         *int
	EarnPassivePerSec  *float64
	EarnPassivePerHour *float64
	LastPassiveEarn    *float64
	TapsRecoverPerSec  *float64
	LastSyncAt         *time.Time
}

func (a *Account) Apply(u AccountUpdate) {
	track(&a.Tracking, "Token", &a.Token, u.Token)
	track(&a.Tracking, "FullName", &a.FullName, u.FullName)
	track(&a.Tracking, "Username", &a.Username, u.Username)
	track(&a.Tracking, "ReferralsCount", &a.ReferralsCount, u.ReferralsCount)
	track(&a.Tracking, "Level", &a.Level, u.Level)
	track(&a.Tracking, "TotalCoins", &a.TotalCoins, u.TotalCoins)
	track(&a.Tracking, "BalanceCoins", &a.BalanceCoins, u.BalanceCoins)
	track(&a.Tracking, "AvailableTaps", &a.AvailableTaps, u.AvailableTaps)
	track(&a.Tracking, "MaxTaps", &a.MaxTaps, u.MaxTaps)
	track(&a.Tracking, "EarnPerTap", &a.EarnPerTap, u.EarnPerTap)
	track(&a.Tracking, "EarnPassivePerSec", &a.EarnPassivePerSec, u.EarnPassivePerSec)
	track(&a.Tracking, "EarnPassivePerHour", &a.EarnPassivePerHour, u.EarnPassivePerHour)
	track(&a.Tracking, "LastPassiveEarn", &a.LastPassiveEarn, u.LastPassiveEarn)
	track(&a.Tracking, "TapsRecoverPerSec", &a.TapsRecoverPerSec, u.TapsRecoverPerSec)
	track(&a.Tracking, "LastSyncAt", &a.LastSyncAt, u.LastSyncAt)
}

// SetOwner links the account to userID, or unlinks it when userID is nil.
// Snapshot syncs never touch the owner.
func (a *Account) SetOwner(userID *int64) {
	a.UserID = userID
	a.mark("UserID")
}

type ConfigUpdate struct {
	IsAutofarm                 *bool
	IsAutoupgrade              *bool
	IsAutosync                 *bool
	IsAutofarmNotifications    *bool
	IsAutoupgradeNotifications *bool
	IsAutosyncNotifications    *bool
	AutofarmInterval           *int
	AutoupgradeInterval        *int
	AutosyncInterval           *int
	LimitPercent               *int
	IsActive                   *bool
}

func (c *AccountConfig) Apply(u ConfigUpdate) {
	track(&c.Tracking, "IsAutofarm", &c.IsAutofarm, u.IsAutofarm)
	track(&c.Tracking, "IsAutoupgrade", &c.IsAutoupgrade, u.IsAutoupgrade)
	track(&c.Tracking, "IsAutosync", &c.IsAutosync, u.IsAutosync)
	track(&c.Tracking, "IsAutofarmNotifications", &c.IsAutofarmNotifications, u.IsAutofarmNotifications)
	track(&c.Tracking, "IsAutoupgradeNotifications", &c.IsAutoupgradeNotifications, u.IsAutoupgradeNotifications)
	track(&c.Tracking, "IsAutosyncNotifications", &c.IsAutosyncNotifications, u.IsAutosyncNotifications)
	track(&c.Tracking, "AutofarmInterval", &c.AutofarmInterval, u.AutofarmInterval)
	track(&c.Tracking, "AutoupgradeInterval", &c.AutoupgradeInterval, u.AutoupgradeInterval)
	track(&c.Tracking, "AutosyncInterval", &c.AutosyncInterval, u.AutosyncInterval)
	track(&c.Tracking, "LimitPercent", &c.LimitPercent, u.LimitPercent)
	track(&c.Tracking, "IsActive", &c.IsActive, u.IsActive)
}

type ProxyUpdate struct {
	Protocol *ProxyProtocol
	Host     *string
	Port     *int
	Username *string
	Password *string
	Timeout  *int
	IsActive *bool
}

func (p *AccountProxy) Apply(u ProxyUpdate) {
	track(&p.Tracking, "Protocol", &p.Protocol, u.Protocol)
	track(&p.Tracking, "Host", &p.Host, u.Host)
	track(&p.Tracking, "Port", &p.Port, u.Port)
	track(&p.Tracking, "Username", &p.Username, u.Username)
	track(&p.Tracking, "Password", &p.Password, u.Password)
	track(&p.Tracking, "Timeout", &p.Timeout, u.Timeout)
	track(&p.Tracking, "IsActive", &p.IsActive, u.IsActive)
}

type UpgradeUpdate struct {
	Name            *string
	Section         *string
	ConditionType   *string
	ConditionID     **uint
	Level           *int
	Price           *float64
	ProfitPerHour   *float64
	CooldownSeconds *int
	IsExpired       *bool
	IsActive        *bool
	LastUpgradeAt   **time.Time
}

func (g *AccountUpgrade) Apply(u UpgradeUpdate) {
	track(&g.Tracking, "Name", &g.Name, u.Name)
	track(&g.Tracking, "Section", &g.Section, u.Section)
	track(&g.Tracking, "ConditionType", &g.ConditionType, u.ConditionType)
	track(&g.Tracking, "ConditionID", &g.ConditionID, u.ConditionID)
	track(&g.Tracking, "Level", &g.Level, u.Level)
	track(&g.Tracking, "Price", &g.Price, u.Price)
	track(&g.Tracking, "ProfitPerHour", &g.ProfitPerHour, u.ProfitPerHour)
	track(&g.Tracking, "CooldownSeconds", &g.CooldownSeconds, u.CooldownSeconds)
	track(&g.Tracking, "IsExpired", &g.IsExpired, u.IsExpired)
	track(&g.Tracking, "IsActive", &g.IsActive, u.IsActive)
	track(&g.Tracking, "LastUpgradeAt", &g.LastUpgradeAt, u.LastUpgradeAt)
}

type BoostUpdate struct {
	Level           *int
	Price           *float64
	CooldownSeconds *int
	EarnPerTap      *int
	EarnPerTapDelta *int
	MaxTaps         *int
	MaxTapsDelta    *int
	LastUpgradeAt   **time.Time
}

func (b *AccountBoost) Apply(u BoostUpdate) {
	track(&b.Tracking, "Level", &b.Level, u.Level)
	track(&b.Tracking, "Price", &b.Price, u.Price)
	track(&b.Tracking, "CooldownSeconds", &b.CooldownSeconds, u.CooldownSeconds)
	track(&b.Tracking, "EarnPerTap", &b.EarnPerTap, u.EarnPerTap)
	track(&b.Tracking, "EarnPerTapDelta", &b.EarnPerTapDelta, u.EarnPerTapDelta)
	track(&b.Tracking, "MaxTaps", &b.MaxTaps, u.MaxTaps)
	track(&b.Tracking, "MaxTapsDelta", &b.MaxTapsDelta, u.MaxTapsDelta)
	track(&b.Tracking, "LastUpgradeAt", &b.LastUpgradeAt, u.LastUpgradeAt)
}

type TaskUpdate struct {
	RewardCoins *int
	Days        *int
	Periodicity *string
	IsCompleted *bool
	CompletedAt **time.Time
}

func (t *AccountTask) Apply(u TaskUpdate) {
	track(&t.Tracking, "RewardCoins", &t.RewardCoins, u.RewardCoins)
	track(&t.Tracking, "Days", &t.Days, u.Days)
	track(&t.Tracking, "Periodicity", &t.Periodicity, u.Periodicity)
	track(&t.Tracking, "IsCompleted", &t.IsCompleted, u.IsCompleted)
	track(&t.Tracking, "CompletedAt", &t.CompletedAt, u.CompletedAt)
}

type CipherUpdate struct {
	BonusCoins    *int
	Cipher        *string
	IsClaimed     *bool
	RemainSeconds *int
}

func (c *AccountCipher) Apply(u CipherUpdate) {
	track(&c.Tracking, "BonusCoins", &c.BonusCoins, u.BonusCoins)
	track(&c.Tracking, "Cipher", &c.Cipher, u.Cipher)
	track(&c.Tracking, "IsClaimed", &c.IsClaimed, u.IsClaimed)
	track(&c.Tracking, "RemainSeconds", &c.RemainSeconds, u.RemainSeconds)
}

// Ptr returns a pointer to v, for building updates inline.
func Ptr[T any](v T) *T {
	return &v
}

