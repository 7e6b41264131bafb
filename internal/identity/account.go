package identity

import (
	"fmt"
	"time"

	"github.com/identikit/identikit/internal/common"
)

// Account is a persisted identity record. The claim, login, and role-name
// collections are in-memory pending state: mutations accumulate on the loaded
// instance and are persisted together on the owning session's next commit.
type Account struct {
	ID                   string     `json:"id"`
	UserName             string     `json:"userName"`
	Email                string     `json:"email,omitempty"`
	EmailConfirmed       bool       `json:"emailConfirmed"`
	PhoneNumber          string     `json:"phoneNumber,omitempty"`
	PhoneNumberConfirmed bool       `json:"phoneNumberConfirmed"`
	PasswordHash         string     `json:"passwordHash,omitempty"`
	SecurityStamp        string     `json:"securityStamp,omitempty"`
	TwoFactorEnabled     bool       `json:"twoFactorEnabled"`
	LockoutEnabled       bool       `json:"lockoutEnabled"`
	LockoutEndUTC        *time.Time `json:"lockoutEndUtc,omitempty"`
	AccessFailedCount    int        `json:"accessFailedCount"`
	Claims               []Claim    `json:"claims"`
	Logins               []Login    `json:"logins"`
	Roles                []string   `json:"roles"`
}

// NewAccount returns an account with the given user name. The id is assigned
// by the account store on create.
func NewAccount(userName string) (*Account, error) {
	if userName == "" {
		return nil, fmt.Errorf("user name: %w", common.ErrInvalidArgument)
	}
	return &Account{UserName: userName}, nil
}

// LockedOut reports whether the account is locked out at the given instant.
// Any lockout end in the past means not locked out.
func (a *Account) LockedOut(now time.Time) bool {
	return a.LockoutEnabled && a.LockoutEndUTC != nil && a.LockoutEndUTC.After(now)
}

// HasPassword reports whether a password hash is set.
func (a *Account) HasPassword() bool {
	return a.PasswordHash != ""
}
