// Package auth mints and validates the HS256 access tokens issued by the
// sample server.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/identikit/identikit/internal/common"
)

// Claims carries the standard registered claims plus the account id and the
// security stamp current at issue time. A rotated stamp invalidates tokens
// minted before the credential change.
type Claims struct {
	jwt.RegisteredClaims
	AccountID     string `json:"accountId"`
	SecurityStamp string `json:"securityStamp,omitempty"`
}

// GenerateToken signs an access token for the account.
func GenerateToken(accountID, securityStamp string, secretKey []byte, validity time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
		},
		AccountID:     accountID,
		SecurityStamp: securityStamp,
	})

	return token.SignedString(secretKey)
}

// ParseToken validates a token and returns its claims.
func ParseToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	})
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
