package auth

import (
	"fmt"
	"time"

	"regions-server/internal/shared/config"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RolePlayer   = "player"
	RoleOperator = "operator"
)

type Claims struct {
	PlayerID int    `json:"player_id,omitempty"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies HS256 tokens with one shared secret
type TokenManager struct {
	secret     []byte
	expiration time.Duration
	now        func() time.Time
}

func NewTokenManager(cfg config.AuthConfig) (*TokenManager, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required but not set")
	}
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters long for security")
	}

	expiration := cfg.TokenExpiration
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}

	return &TokenManager{
		secret:     []byte(cfg.JWTSecret),
		expiration: expiration,
		now:        time.Now,
	}, nil
}

// Generate issues a token for a player; playerID 0 issues a service token
func (m *TokenManager) Generate(playerID int, username, role string) (string, error) {
	now := m.now()
	subject := "service_" + username
	if playerID != 0 {
		subject = fmt.Sprintf("player_%d", playerID)
	}

	claims := Claims{
		PlayerID: playerID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *TokenManager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}
