package registry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "sauda"

// ErrInvalidCapability indicates the capability token failed validation.
var ErrInvalidCapability = errors.New("invalid capability token")

// Capability tokens replace raw caller-address comparison: only the holder of
// a token minted for the registry subject may report custody transitions to
// the auction core.

type capabilityClaims struct {
	jwt.RegisteredClaims
}

// MintCapability signs an HS256 token naming registryAddr as the trusted
// custody reporter.
func MintCapability(secret []byte, registryAddr string, ttl time.Duration) (string, error) {
	registryAddr = strings.TrimSpace(registryAddr)
	if registryAddr == "" {
		return "", errors.New("registry address is required")
	}
	if len(secret) == 0 {
		return "", errors.New("capability secret is not configured")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}

	now := time.Now().UTC()
	claims := capabilityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   registryAddr,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign capability: %w", err)
	}
	return signed, nil
}

// VerifyCapability checks signature, expiry and that the token was minted for
// registryAddr.
func VerifyCapability(secret []byte, token, registryAddr string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidCapability
	}

	parsed, err := jwt.ParseWithClaims(token, &capabilityClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidCapability
		}
		return secret, nil
	})
	if err != nil {
		return ErrInvalidCapability
	}
	claims, ok := parsed.Claims.(*capabilityClaims)
	if !ok || !parsed.Valid {
		return ErrInvalidCapability
	}
	if claims.Issuer != issuer || claims.Subject != registryAddr {
		return ErrInvalidCapability
	}
	return nil
}
