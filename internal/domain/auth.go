package domain

import "github.com/golang-jwt/jwt/v5"

// CustomClaims — полезная нагрузка операторского JWT (RS256).
type CustomClaims struct {
	OperatorID string          `json:"operator_id"`
	Scopes     map[string]bool `json:"scopes"` // Напр. {"operator": true}
	jwt.RegisteredClaims
}

// TokenResponse — ответ на успешный логин оператора.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}
