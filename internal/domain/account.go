package domain

import (
	"fmt"
	"strings"
	"time"
)

type AccountState string

const (
	AccountAvailable   AccountState = "available"
	AccountInUse       AccountState = "in_use"
	AccountCoolingDown AccountState = "cooling_down"
	AccountBanned      AccountState = "banned"
)

func (s AccountState) Valid() bool {
	switch s {
	case AccountAvailable, AccountInUse, AccountCoolingDown, AccountBanned:
		return true
	default:
		return false
	}
}

// CheckinOutcome tells the owning pool how a checked-out account fared.
type CheckinOutcome string

const (
	CheckinSuccess     CheckinOutcome = "success"
	CheckinRateLimited CheckinOutcome = "rate_limited"
	CheckinBanned      CheckinOutcome = "banned"
)

type Account struct {
	Platform      Platform
	Username      string
	CredentialRef string
	State         AccountState
	LastUsedAt    time.Time
	CooldownUntil time.Time
	RegisteredAt  time.Time
	TaskCount     int
}

// Credential is the resolved login material handed to a worker for one attempt.
type Credential struct {
	Username string
	Password string
}

func (a Account) Validate() error {
	if err := a.Platform.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(a.Username) == "" {
		return fmt.Errorf("username is required")
	}
	if a.State != "" && !a.State.Valid() {
		return fmt.Errorf("unsupported account state %q", a.State)
	}

	return nil
}

// Eligible reports whether the account may be checked out at now. A cooling
// down account whose window has passed counts as eligible.
func (a Account) Eligible(now time.Time) bool {
	switch a.State {
	case AccountAvailable:
		return true
	case AccountCoolingDown:
		return !now.Before(a.CooldownUntil)
	default:
		return false
	}
}

func CredentialRefFor(platform Platform, username string) string {
	return fmt.Sprintf("%s/%s/password", platform, strings.TrimSpace(username))
}
