package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported JWT claims shape for this service.
// ClientID scopes a caller to one client's fees; staff roles may omit it.
type Claims struct {
	jwt.RegisteredClaims

	UserID   string `json:"user_id"`
	ClientID string `json:"client_id,omitempty"`
	Role     string `json:"role"`
}

func (c Claims) Identity() Identity {
	return Identity{UserID: c.UserID, ClientID: c.ClientID, Role: c.Role}
}
