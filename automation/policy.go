package automation

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"kombat-farm-bot/scheduler"

	"gopkg.in/yaml.v3"
)

// IntBand is an inclusive range of whole seconds.
type IntBand struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

func (b IntBand) Pick() int {
	if b.Max <= b.Min {
		return b.Min
	}
	return b.Min + rand.IntN(b.Max-b.Min+1)
}

type FloatBand struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

func (b FloatBand) Pick() float64 {
	if b.Max <= b.Min {
		return b.Min
	}
	return b.Min + rand.Float64()*(b.Max-b.Min)
}

// Policy holds the randomized pacing of every automation. Intervals are
// drawn fresh on each run so fire times never settle into a pattern.
type Policy struct {
	Autofarm    IntBand `yaml:"autofarm_interval"`
	Autoupgrade IntBand `yaml:"autoupgrade_interval"`
	Autosync    IntBand `yaml:"autosync_interval"`

	// TapDivisor scales down the taps spent per autofarm run.
	TapDivisor FloatBand `yaml:"tap_divisor"`
	// PurchasePause is waited before and after every upgrade purchase.
	PurchasePause FloatBand `yaml:"purchase_pause"`
	Sections      []string  `yaml:"sections"`

	NightSleep       IntBand `yaml:"night_sleep"`
	NightSleepOffset IntBand `yaml:"night_sleep_offset"`
}

func DefaultPolicy() Policy {
	return Policy{
		Autofarm:         IntBand{Min: 523, Max: 1291},
		Autoupgrade:      IntBand{Min: 647, Max: 1873},
		Autosync:         IntBand{Min: 1811, Max: 3607},
		TapDivisor:       FloatBand{Min: 1.6, Max: 1.8},
		PurchasePause:    FloatBand{Min: 0.6, Max: 1.2},
		Sections:         []string{"Markets", "PR&Team", "Legal", "Specials"},
		NightSleep:       IntBand{Min: 10800, Max: 18000},
		NightSleepOffset: IntBand{Min: 1800, Max: 3600},
	}
}

// LoadPolicy overlays the YAML file at path on DefaultPolicy. An empty path
// returns the defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy: %w", err)
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("parse policy %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("policy %s: %w", path, err)
	}
	return p, nil
}

func (p Policy) Validate() error {
	bands := map[string]IntBand{
		"autofarm_interval":    p.Autofarm,
		"autoupgrade_interval": p.Autoupgrade,
		"autosync_interval":    p.Autosync,
	}
	for name, b := range bands {
		if b.Min < 1 || b.Max < b.Min {
			return fmt.Errorf("%s: bad band %d..%d", name, b.Min, b.Max)
		}
	}
	if p.TapDivisor.Min < 1 || p.TapDivisor.Max < p.TapDivisor.Min {
		return fmt.Errorf("tap_divisor: bad band %v..%v", p.TapDivisor.Min, p.TapDivisor.Max)
	}
	if p.PurchasePause.Min < 0 || p.PurchasePause.Max < p.PurchasePause.Min {
		return fmt.Errorf("purchase_pause: bad band %v..%v", p.PurchasePause.Min, p.PurchasePause.Max)
	}
	if len(p.Sections) == 0 {
		return errors.New("sections: empty")
	}
	return nil
}

// Interval draws the next run interval for kind.
func (p Policy) Interval(kind scheduler.TaskKind) time.Duration {
	var b IntBand
	switch kind {
	case scheduler.TaskAutofarm:
		b = p.Autofarm
	case scheduler.TaskAutoupgrade:
		b = p.Autoupgrade
	case scheduler.TaskAutosync:
		b = p.Autosync
	default:
		return 24 * time.Hour
	}
	return time.Duration(b.Pick()) * time.Second
}

// TapCount spends a randomized share of the available energy.
func (p Policy) TapCount(availableTaps, earnPerTap int) int {
	if earnPerTap <= 0 || availableTaps <= 0 {
		return 0
	}
	energy := availableTaps / earnPerTap
	return int(float64(energy) / p.TapDivisor.Pick())
}

func (p Policy) Pause() time.Duration {
	return time.Duration(p.PurchasePause.Pick() * float64(time.Second))
}
