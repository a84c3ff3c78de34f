package model

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

type User struct {
	ID        int64 `gorm:"primaryKey;autoIncrement:false"` // Telegram User ID
	CreatedAt time.Time
	UpdatedAt time.Time

	FullName    string
	Username    string
	MaxAccounts int
	IsActive    bool

	Accounts []Account `gorm:"foreignKey:UserID"`
}

// Account mirrors one game account. ID is the remote game id.
type Account struct {
	Tracking `gorm:"-"`

	ID        int64  `gorm:"primaryKey;autoIncrement:false"`
	UserID    *int64 `gorm:"index"` // nil once unlinked
	CreatedAt time.Time
	UpdatedAt time.Time

	FullName string
	Username string
	Token    string

	ReferralsCount     int
	Level              int
	TotalCoins         float64
	BalanceCoins       float64
	AvailableTaps      int
	MaxTaps            int
	EarnPerTap         int
	EarnPassivePerSec  float64
	EarnPassivePerHour float64
	LastPassiveEarn    float64
	TapsRecoverPerSec  float64
	LastSyncAt         time.Time

	Config   *AccountConfig   `gorm:"foreignKey:AccountID"`
	Upgrades []AccountUpgrade `gorm:"foreignKey:AccountID"`
	Boosts   []AccountBoost   `gorm:"foreignKey:AccountID"`
	Tasks    []AccountTask    `gorm:"foreignKey:AccountID"`
	Cipher   *AccountCipher   `gorm:"foreignKey:AccountID"`
}

// Owner returns the linked Telegram user id, or 0 for unlinked accounts.
func (a *Account) Owner() int64 {
	if a.UserID == nil {
		return 0
	}
	return *a.UserID
}

type AccountConfig struct {
	Tracking `gorm:"-"`

	ID        uint  `gorm:"primaryKey"`
	AccountID int64 `gorm:"uniqueIndex"`
	CreatedAt time.Time
	UpdatedAt time.Time

	IsAutofarm    bool `gorm:"default:false"`
	IsAutoupgrade bool `gorm:"default:false"`
	IsAutosync    bool

	IsAutofarmNotifications    bool
	IsAutoupgradeNotifications bool
	IsAutosyncNotifications    bool `gorm:"default:false"`

	// Seconds
	AutofarmInterval    int `gorm:"default:1800"`
	AutoupgradeInterval int `gorm:"default:300"`
	AutosyncInterval    int `gorm:"default:3600"`

	LimitPercent int
	IsActive     bool

	Proxy *AccountProxy `gorm:"foreignKey:ConfigID"`
}

// NewAccountConfig returns the config a freshly linked account starts with.
func NewAccountConfig(accountID int64) *AccountConfig {
	return &AccountConfig{
		AccountID:                  accountID,
		IsAutosync:                 true,
		IsAutofarmNotifications:    true,
		IsAutoupgradeNotifications: true,
		AutofarmInterval:           600,
		AutoupgradeInterval:        600,
		AutosyncInterval:           3600,
		LimitPercent:               50,
		IsActive:                   true,
	}
}

type ProxyProtocol string

const (
	ProtocolHTTP   ProxyProtocol = "http"
	ProtocolSOCKS4 ProxyProtocol = "socks4"
	ProtocolSOCKS5 ProxyProtocol = "socks5"
)

type AccountProxy struct {
	Tracking `gorm:"-"`

	ID        uint `gorm:"primaryKey"`
	ConfigID  uint `gorm:"uniqueIndex"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Protocol ProxyProtocol
	Host     string
	Port     int
	Username string
	Password string
	Timeout  int // seconds
	IsActive bool
}

func (p *AccountProxy) URL() *url.URL {
	u := &url.URL{
		Scheme: string(p.Protocol),
		Host:   p.Host + ":" + strconv.Itoa(p.Port),
	}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u
}

// TimeoutDuration falls back to ten seconds when no timeout is stored.
func (p *AccountProxy) TimeoutDuration() time.Duration {
	if p.Timeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(p.Timeout) * time.Second
}

func (p *AccountProxy) String() string {
	return fmt.Sprintf("%s://%s:%d", p.Protocol, p.Host, p.Port)
}

type AccountUpgrade struct {
	Tracking `gorm:"-"`

	ID        uint   `gorm:"primaryKey"`
	AccountID int64  `gorm:"uniqueIndex:idx_upgrade_account_type,priority:1"`
	Type      string `gorm:"uniqueIndex:idx_upgrade_account_type,priority:2"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Name            string
	Section         string `gorm:"index"`
	ConditionType   string // remote id of the gating upgrade, empty when ungated
	ConditionID     *uint
	Level           int
	Price           float64
	ProfitPerHour   float64
	CooldownSeconds int
	IsExpired       bool
	IsActive        bool
	LastUpgradeAt   *time.Time
}

// Purchasable reports whether the upgrade can be bought right now with balance.
func (u *AccountUpgrade) Purchasable(balance float64) bool {
	return u.CooldownSeconds == 0 &&
		u.IsActive &&
		!u.IsExpired &&
		u.ProfitPerHour > 0 &&
		u.Price > 0 &&
		u.Price <= balance
}

type AccountBoost struct {
	Tracking `gorm:"-"`

	ID        uint   `gorm:"primaryKey"`
	AccountID int64  `gorm:"uniqueIndex:idx_boost_account_type,priority:1"`
	Type      string `gorm:"uniqueIndex:idx_boost_account_type,priority:2"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Name            string
	Description     string
	Level           int
	Price           float64
	CooldownSeconds int
	EarnPerTap      int
	EarnPerTapDelta int
	MaxTaps         int
	MaxTapsDelta    int
	LastUpgradeAt   *time.Time
}

type AccountTask struct {
	Tracking `gorm:"-"`

	ID        uint   `gorm:"primaryKey"`
	AccountID int64  `gorm:"uniqueIndex:idx_task_account_type,priority:1"`
	Type      string `gorm:"uniqueIndex:idx_task_account_type,priority:2"`
	CreatedAt time.Time
	UpdatedAt time.Time

	RewardCoins int
	Days        int
	Periodicity string
	IsCompleted bool `gorm:"default:false"`
	CompletedAt *time.Time
}

type AccountCipher struct {
	Tracking `gorm:"-"`

	ID        uint  `gorm:"primaryKey"`
	AccountID int64 `gorm:"uniqueIndex"`
	CreatedAt time.Time
	UpdatedAt time.Time

	BonusCoins    int
	Cipher        string
	IsClaimed     bool `gorm:"default:false"`
	RemainSeconds int
}
