package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenClaims is the shopper token the identity service signs.
type AccessTokenClaims struct {
	UserID uuid.UUID `json:"user_id"`
	jwt.RegisteredClaims
}

// check covers what the registered-claim validator cannot: the custom user_id
// claim and its agreement with sub when the issuer sets both.
func (c *AccessTokenClaims) check() error {
	if c.UserID == uuid.Nil {
		return fmt.Errorf("token missing user_id")
	}
	if c.Subject != "" && c.Subject != c.UserID.String() {
		return fmt.Errorf("subject %q does not match user_id", c.Subject)
	}
	return nil
}
