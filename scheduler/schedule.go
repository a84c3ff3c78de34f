package scheduler

import (
	"time"

	"gorm.io/gorm"
)

// Args are replayed to the task when its schedule fires.
type Args struct {
	AccountID int64          `json:"account_id,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

func (a Args) IsZero() bool {
	return a.AccountID == 0 && len(a.Extra) == 0
}

type Schedule struct {
	ID        string `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Kind            TaskKind `gorm:"index"`
	IntervalSeconds int64
	StartTime       time.Time
	NextFireTime    *time.Time
	LastFireTime    *time.Time
	Paused          bool
	Args            Args `gorm:"serializer:json"`
}

func (s *Schedule) Trigger() IntervalTrigger {
	return IntervalTrigger{
		Interval:  time.Duration(s.IntervalSeconds) * time.Second,
		StartTime: s.StartTime,
	}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Schedule{})
}
