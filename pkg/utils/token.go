package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the JWT payload of a staff session. ID (jti) identifies the
// session so logout can revoke it. SessionVersion must match the account's
// current version, which a password change bumps.
type Claims struct {
	UserID         uint64 `json:"user_id"`
	Username       string `json:"username"`
	Role           string `json:"role"`
	SessionVersion uint   `json:"sv"`
	jwt.RegisteredClaims
}

// GenerateToken signs a session token for the user valid for ttl.
func GenerateToken(secret string, ttl time.Duration, userID uint64, username, role string, sessionVersion uint) (string, *Claims, error) {
	now := time.Now()
	claims := &Claims{
		UserID:         userID,
		Username:       username,
		Role:           role,
		SessionVersion: sessionVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// ValidateToken verifies the signature and expiry of an encoded token.
func ValidateToken(secret, encodedToken string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(encodedToken, claims, func(token *jwt.Token) (interface{}, error) {
		// only HMAC is accepted
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.ID == "" || claims.UserID == 0 {
		return nil, errors.New("token is missing session claims")
	}
	return claims, nil
}
