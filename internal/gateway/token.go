package gateway

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "wireguard-acl-manager"

// Claims identifies the location a gateway token was issued for.
type Claims struct {
	LocationID int64 `json:"location_id"`
	jwt.RegisteredClaims
}

// TokenIssuer issues and verifies HS256 gateway tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates a TokenIssuer. A zero ttl issues tokens that never expire.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for locationID. The returned expiry is zero when the
// token does not expire.
func (t *TokenIssuer) Issue(locationID int64) (string, time.Time, error) {
	now := t.now()
	claims := Claims{
		LocationID: locationID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			Issuer:   tokenIssuer,
			Subject:  strconv.FormatInt(locationID, 10),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	var expires time.Time
	if t.ttl > 0 {
		expires = now.Add(t.ttl)
		claims.ExpiresAt = jwt.NewNumericDate(expires)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing gateway token: %w", err)
	}
	return signed, expires, nil
}

// Verify checks a token and returns the location it was issued for.
// Every failure wraps domain.ErrUnauthorized.
func (t *TokenIssuer) Verify(raw string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("missing gateway token: %w", domain.ErrUnauthorized)
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return 0, fmt.Errorf("invalid gateway token: %w", errors.Join(domain.ErrUnauthorized, err))
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.LocationID <= 0 {
		return 0, fmt.Errorf("invalid gateway token claims: %w", domain.ErrUnauthorized)
	}
	return claims.LocationID, nil
}
