// Package auth verifies the bearer tokens issued by the helpdesk's login
// service. Only the user id is needed here.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"helpdesk-sync/internal/apperr"
)

// Claims is the token payload.
type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// Service signs and verifies HS256 tokens.
type Service struct {
	jwtSecret []byte
}

// NewService creates a token service for secret.
func NewService(secret string) *Service {
	return &Service{jwtSecret: []byte(secret)}
}

// GenerateToken issues a token for userID valid for ttl.
func (s *Service) GenerateToken(userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(s.jwtSecret)
}

// VerifyToken validates tokenString and returns the user id it carries.
func (s *Service) VerifyToken(tokenString string) (int64, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return 0, apperr.New(apperr.Unauthorized, "auth.VerifyToken", err)
	}
	if !token.Valid {
		return 0, apperr.New(apperr.Unauthorized, "auth.VerifyToken", errors.New("invalid token"))
	}
	if claims.UserID <= 0 {
		return 0, apperr.New(apperr.Unauthorized, "auth.VerifyToken", errors.New("token carries no user"))
	}
	return claims.UserID, nil
}
