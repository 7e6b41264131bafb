// Package identity defines the persisted shapes of the identity store
// (accounts, claims, logins, roles, contact markers) and the derivation of
// their document keys.
//
// Key formats are stable and must not change: existing databases address
// documents by them.
package identity

import (
	"fmt"
	"strings"

	"github.com/identikit/identikit/internal/common"
)

// Collection prefixes used both for key derivation and prefix queries.
const (
	AccountCollection     = "IdentityUsers"
	LoginCollection       = "IdentityUserLogins"
	EmailCollection       = "IdentityUserEmails"
	PhoneNumberCollection = "IdentityUserPhoneNumbers"
	RoleCollection        = "IdentityUserRoles"
)

// AccountKey returns the document key for an account id. It accepts either a
// fully-qualified key ("IdentityUsers/42") or a bare id ("42").
func AccountKey(rawID string) (string, error) {
	if rawID == "" {
		return "", fmt.Errorf("account id: %w", common.ErrInvalidArgument)
	}
	if strings.Contains(rawID, "/") {
		return rawID, nil
	}
	return AccountCollection + "/" + rawID, nil
}

// LoginKey returns the document key for an external login. Provider and
// provider key are normalized case-insensitively, so the same login always
// derives the same key.
func LoginKey(provider, providerKey string) (string, error) {
	if provider == "" || providerKey == "" {
		return "", fmt.Errorf("login provider/provider key: %w", common.ErrInvalidArgument)
	}
	return LoginCollection + "/" + strings.ToLower(provider) + "/" + strings.ToLower(providerKey), nil
}

// EmailKey returns the document key of the e-mail uniqueness marker.
// "Bob@EX.com" and "bob@ex.com" derive the same key.
func EmailKey(email string) (string, error) {
	if email == "" {
		return "", fmt.Errorf("email: %w", common.ErrInvalidArgument)
	}
	return EmailCollection + "/" + strings.ToLower(email), nil
}

// PhoneNumberKey returns the document key of the phone-number uniqueness
// marker.
func PhoneNumberKey(phoneNumber string) (string, error) {
	if phoneNumber == "" {
		return "", fmt.Errorf("phone number: %w", common.ErrInvalidArgument)
	}
	return PhoneNumberCollection + "/" + strings.ToLower(phoneNumber), nil
}

// RoleKey returns the document key for a role name. The key doubles as the
// role's uniqueness guarantee: two differently-cased spellings of one name
// collide on the same key.
func RoleKey(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("role name: %w", common.ErrInvalidArgument)
	}
	return RoleCollection + "/" + strings.ToLower(name), nil
}
