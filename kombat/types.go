package kombat

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"time"
)

// ClickerUser is the account snapshot most endpoints return under "clickerUser".
type ClickerUser struct {
	ID                 string  `json:"id"`
	TotalCoins         float64 `json:"totalCoins"`
	BalanceCoins       float64 `json:"balanceCoins"`
	Level              int     `json:"level"`
	AvailableTaps      int     `json:"availableTaps"`
	LastSyncUpdate     int64   `json:"lastSyncUpdate"`
	ReferralsCount     int     `json:"referralsCount"`
	MaxTaps            int     `json:"maxTaps"`
	EarnPerTap         int     `json:"earnPerTap"`
	EarnPassivePerSec  float64 `json:"earnPassivePerSec"`
	EarnPassivePerHour float64 `json:"earnPassivePerHour"`
	LastPassiveEarn    float64 `json:"lastPassiveEarn"`
	TapsRecoverPerSec  float64 `json:"tapsRecoverPerSec"`
}

// SyncedAt converts LastSyncUpdate, falling back to now when the game sent none.
func (u *ClickerUser) SyncedAt() time.Time {
	if u.LastSyncUpdate <= 0 {
		return time.Now()
	}
	return time.Unix(u.LastSyncUpdate, 0)
}

type TelegramUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Username  string `json:"username"`
}

func (u *TelegramUser) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

type Condition struct {
	Type      string `json:"_type"`
	UpgradeID string `json:"upgradeId"`
	Level     int    `json:"level"`
}

type Upgrade struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Condition       *Condition `json:"condition"`
	Section         string     `json:"section"`
	Level           int        `json:"level"`
	Price           float64    `json:"price"`
	ProfitPerHour   float64    `json:"profitPerHour"`
	CooldownSeconds int        `json:"cooldownSeconds"`
	IsExpired       bool       `json:"isExpired"`
	IsAvailable     bool       `json:"isAvailable"`
	LastUpgradeAt   *float64   `json:"lastUpgradeAt"`
}

// ConditionType is the id of the upgrade that gates this one, or "".
func (u *Upgrade) ConditionType() string {
	if u.Condition == nil {
		return ""
	}
	return u.Condition.UpgradeID
}

func (u *Upgrade) LastUpgradeTime() *time.Time {
	return unixFloat(u.LastUpgradeAt)
}

type DailyCombo struct {
	UpgradeIDs    []string `json:"upgradeIds"`
	BonusCoins    int      `json:"bonusCoins"`
	IsClaimed     bool     `json:"isClaimed"`
	RemainSeconds int      `json:"remainSeconds"`
}

type UpgradesForBuy struct {
	Upgrades   []Upgrade   `json:"upgradesForBuy"`
	DailyCombo *DailyCombo `json:"dailyCombo"`
}

type Boost struct {
	ID              string   `json:"id"`
	Level           int      `json:"level"`
	Price           float64  `json:"price"`
	CooldownSeconds int      `json:"cooldownSeconds"`
	EarnPerTap      int      `json:"earnPerTap"`
	EarnPerTapDelta int      `json:"earnPerTapDelta"`
	MaxTaps         int      `json:"maxTaps"`
	MaxTapsDelta    int      `json:"maxTapsDelta"`
	LastUpgradeAt   *float64 `json:"lastUpgradeAt"`
}

func (b *Boost) LastUpgradeTime() *time.Time {
	return unixFloat(b.LastUpgradeAt)
}

type Task struct {
	ID          string `json:"id"`
	Days        int    `json:"days"`
	RewardCoins int    `json:"rewardCoins"`
	Periodicity string `json:"periodicity"`
	IsCompleted bool   `json:"isCompleted"`
	CompletedAt string `json:"completedAt"`
}

// CompletedTime parses CompletedAt; unparseable values are treated as unset.
func (t *Task) CompletedTime() *time.Time {
	if t.CompletedAt == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339Nano, t.CompletedAt)
	if err != nil {
		return nil
	}
	return &ts
}

// DailyCipher holds the obfuscated cipher as served by the game.
type DailyCipher struct {
	Cipher        string `json:"cipher"`
	BonusCoins    int    `json:"bonusCoins"`
	IsClaimed     bool   `json:"isClaimed"`
	RemainSeconds int    `json:"remainSeconds"`
}

var cipherNoise = regexp.MustCompile(`^(.{3})\d+(.*)`)

// Decode strips the digit run injected after the third character and
// base64-decodes the rest.
func (c *DailyCipher) Decode() (string, error) {
	if c.Cipher == "" {
		return "", nil
	}
	cleaned := cipherNoise.ReplaceAllString(c.Cipher, "${1}${2}")
	raw, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return "", fmt.Errorf("decode cipher: %w", err)
	}
	return string(raw), nil
}

type GameConfig struct {
	DailyCipher *DailyCipher `json:"dailyCipher"`
}

func unixFloat(v *float64) *time.Time {
	if v == nil || *v <= 0 {
		return nil
	}
	sec := int64(*v)
	t := time.Unix(sec, int64((*v-float64(sec))*1e9))
	return &t
}
