package domain

import "github.com/golang-jwt/jwt/v5"

// OwnerClaims — клеймы RS256-токена владельца для management-поверхности.
// Owner — идентичность принципала, регистрирующего политики и агентов.
type OwnerClaims struct {
	Owner string `json:"owner"`
	jwt.RegisteredClaims
}
