package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestTabTokenRoundTrip(t *testing.T) {
	token, err := GenerateTabToken(secret, "tab-1", time.Minute)
	require.NoError(t, err)

	tabID, err := ParseTabToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "tab-1", tabID)
}

func TestParseTabTokenRejects(t *testing.T) {
	valid, err := GenerateTabToken(secret, "tab-1", time.Minute)
	require.NoError(t, err)
	expired, err := GenerateTabToken(secret, "tab-1", -time.Minute)
	require.NoError(t, err)
	noTab, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "x"}).SignedString(secret)
	require.NoError(t, err)
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, &TabClaims{TabID: "tab-1"}).SignedString(secret)
	require.NoError(t, err)

	tests := []struct {
		name   string
		secret []byte
		token  string
	}{
		{"wrong secret", []byte("other"), valid},
		{"expired", secret, expired},
		{"no tab id", secret, noTab},
		{"other algorithm", secret, hs512},
		{"garbage", secret, "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTabToken(tt.secret, tt.token)
			assert.Error(t, err)
		})
	}
}

func TestGenerateTabTokenValidation(t *testing.T) {
	_, err := GenerateTabToken(nil, "tab-1", time.Minute)
	assert.Error(t, err)
	_, err = GenerateTabToken(secret, "", time.Minute)
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Empty(t, BearerToken("Basic abc"))
	assert.Empty(t, BearerToken("Bearer "))
	assert.Empty(t, BearerToken(""))
}
