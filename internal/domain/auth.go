package domain

import "github.com/golang-jwt/jwt/v5"

// CustomClaims — полезная нагрузка токенов внешнего выпуска.
// Ядро токены не выпускает, только проверяет подпись и скоупы.
type CustomClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "admin": true или "orchestrator.write": true
	jwt.RegisteredClaims
}
