package identity

import (
	"fmt"

	"github.com/identikit/identikit/internal/common"
)

// Claim is an immutable type/value pair asserting a fact about an account.
// It is a comparable value type: two claims are equal when both fields are,
// which is what membership checks in the account's claim set rely on.
type Claim struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// NewClaim validates both fields. The zero Claim is not a valid claim.
func NewClaim(claimType, claimValue string) (Claim, error) {
	if claimType == "" || claimValue == "" {
		return Claim{}, fmt.Errorf("claim type/value: %w", common.ErrInvalidArgument)
	}
	return Claim{Type: claimType, Value: claimValue}, nil
}
