// Package auth issues the signed tab tokens agents present when they connect
// to the background process.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type TabClaims struct {
	jwt.RegisteredClaims
	TabID string `json:"tab_id"`
}

// GenerateTabToken signs a token identifying tabID, valid for expiry.
func GenerateTabToken(secret []byte, tabID string, expiry time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("auth: empty signing secret")
	}
	if tabID == "" {
		return "", errors.New("auth: empty tab id")
	}
	now := time.Now()
	claims := &TabClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tabID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
		TabID: tabID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseTabToken validates tokenStr and returns the tab id it carries. Only
// HS256 is accepted.
func ParseTabToken(secret []byte, tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &TabClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*TabClaims)
	if !ok || !token.Valid || claims.TabID == "" {
		return "", errors.New("invalid tab token")
	}
	return claims.TabID, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
