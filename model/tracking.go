package model

import (
	"slices"

	"gorm.io/gorm"
)

// Tracked rows know whether they exist in the database and which columns
// were changed through Apply since they were loaded or last saved.
type Tracked interface {
	Persisted() bool
	Changed() []string
	MarkSaved()
	MarkUnsaved()
}

// Tracking is embedded into every mirrored entity. Rows loaded by gorm are
// marked persisted by the AfterFind hook; new rows are inserted whole.
type Tracking struct {
	persisted bool
	changed   []string
}

func (t *Tracking) AfterFind(*gorm.DB) error {
	t.MarkSaved()
	return nil
}

func (t *Tracking) AfterCreate(*gorm.DB) error {
	t.MarkSaved()
	return nil
}

func (t *Tracking) Persisted() bool { return t.persisted }

// Changed returns the struct field names set since the last save.
func (t *Tracking) Changed() []string { return slices.Clone(t.changed) }

func (t *Tracking) MarkSaved() {
	t.persisted = true
	t.changed = nil
}

// MarkUnsaved undoes an insert whose transaction rolled back.
func (t *Tracking) MarkUnsaved() { t.persisted = false }

func (t *Tracking) mark(field string) {
	if !slices.Contains(t.changed, field) {
		t.changed = append(t.changed, field)
	}
}

// track assigns src to dst and records field when src is set.
func track[T any](t *Tracking, field string, dst *T, src *T) {
	if src != nil {
		*dst = *src
		t.mark(field)
	}
}
