package identity

import (
	"fmt"

	"github.com/identikit/identikit/internal/common"
)

// Login links an account to an external login provider. The document key is
// derived from (provider, providerKey), so the key itself guarantees that a
// provider login can only ever belong to one account.
type Login struct {
	ID          string `json:"id"`
	Provider    string `json:"provider"`
	ProviderKey string `json:"providerKey"`
	AccountID   string `json:"accountId"`
}

// NewLogin builds a login document for the given account.
func NewLogin(accountID, provider, providerKey string) (*Login, error) {
	if accountID == "" {
		return nil, fmt.Errorf("login account id: %w", common.ErrInvalidArgument)
	}
	key, err := LoginKey(provider, providerKey)
	if err != nil {
		return nil, err
	}
	return &Login{
		ID:          key,
		Provider:    provider,
		ProviderKey: providerKey,
		AccountID:   accountID,
	}, nil
}

// Matches reports whether the login refers to the same provider credential,
// comparing by derived key so casing differences do not matter.
func (l Login) Matches(provider, providerKey string) bool {
	key, err := LoginKey(provider, providerKey)
	if err != nil {
		return false
	}
	return l.ID == key
}
