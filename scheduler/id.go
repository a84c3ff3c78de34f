package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type TaskKind string

const (
	TaskAutofarm    TaskKind = "handle_autofarm"
	TaskAutoupgrade TaskKind = "handle_autoupgrade"
	TaskAutosync    TaskKind = "handle_autosync"
	TaskNightSleep  TaskKind = "handle_night_sleep"
)

// AccountKinds are the per-account automation kinds.
var AccountKinds = []TaskKind{TaskAutofarm, TaskAutoupgrade, TaskAutosync}

func (k TaskKind) Valid() bool {
	switch k {
	case TaskAutofarm, TaskAutoupgrade, TaskAutosync, TaskNightSleep:
		return true
	}
	return false
}

var ErrFormat = errors.New("malformed schedule id")

// ID addresses one schedule. Scoped ids belong to an (account, user) pair;
// global ids are just the task kind.
type ID struct {
	Kind      TaskKind
	AccountID int64
	UserID    int64
	scoped    bool
}

func NewID(kind TaskKind, accountID, userID int64) ID {
	return ID{Kind: kind, AccountID: accountID, UserID: userID, scoped: true}
}

func GlobalID(kind TaskKind) ID {
	return ID{Kind: kind}
}

func (id ID) Scoped() bool { return id.scoped }

func (id ID) String() string {
	if !id.scoped {
		return string(id.Kind)
	}
	return GenerateID(id.Kind, &id.AccountID, &id.UserID)
}

// GenerateID renders "kind:account:user", or the bare kind when either
// owner part is missing.
func GenerateID(kind TaskKind, accountID, userID *int64) string {
	if accountID == nil || userID == nil {
		return string(kind)
	}
	return fmt.Sprintf("%s:%d:%d", kind, *accountID, *userID)
}

// ParseID returns the account and user of a scoped id. Bare kinds are
// rejected.
func ParseID(s string) (accountID, userID int64, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, 0, fmt.Errorf("%w: %q has %d parts, want 3", ErrFormat, s, len(parts))
	}
	accountID, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: account in %q: %v", ErrFormat, s, err)
	}
	userID, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: user in %q: %v", ErrFormat, s, err)
	}
	return accountID, userID, nil
}

// ParseKey parses either form back into an ID with a known kind.
func ParseKey(s string) (ID, error) {
	kind, _, scoped := strings.Cut(s, ":")
	if !TaskKind(kind).Valid() {
		return ID{}, fmt.Errorf("%w: unknown task kind %q", ErrFormat, kind)
	}
	if !scoped {
		return GlobalID(TaskKind(kind)), nil
	}
	accountID, userID, err := ParseID(s)
	if err != nil {
		return ID{}, err
	}
	return NewID(TaskKind(kind), accountID, userID), nil
}
