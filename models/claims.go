package models

import "github.com/golang-jwt/jwt/v5"

// IdentityClaims are the claims carried by an identity-provider ID token.
// The uid is the registered subject.
type IdentityClaims struct {
	jwt.RegisteredClaims
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	UserID  string `json:"user_id"`
}

// UID returns the identity provider's user id.
func (c *IdentityClaims) UID() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.UserID
}
