package gateway

import (
	"testing"
	"time"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("s3cret", time.Hour)

	token, expires, err := issuer.Issue(42)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	locationID, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), locationID)
}

func TestTokenIssuer_NoExpiry(t *testing.T) {
	issuer := NewTokenIssuer("s3cret", 0)
	token, expires, err := issuer.Issue(1)
	require.NoError(t, err)
	assert.True(t, expires.IsZero())

	issuer.now = func() time.Time { return time.Now().Add(10 * 365 * 24 * time.Hour) }
	_, err = issuer.Verify(token)
	assert.NoError(t, err)
}

func TestTokenIssuer_Rejects(t *testing.T) {
	issuer := NewTokenIssuer("s3cret", time.Hour)
	valid, _, err := issuer.Issue(5)
	require.NoError(t, err)

	expired := NewTokenIssuer("s3cret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _, err := expired.Issue(5)
	require.NoError(t, err)

	otherSecret, _, err := NewTokenIssuer("different", time.Hour).Issue(5)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{LocationID: 5}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		LocationID:       5,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"},
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	noLocation, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: tokenIssuer},
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"tampered", valid + "x"},
		{"expired", old},
		{"wrong secret", otherSecret},
		{"alg none", none},
		{"wrong issuer", foreign},
		{"no location", noLocation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.Verify(tt.token)
			assert.ErrorIs(t, err, domain.ErrUnauthorized)
		})
	}
}
