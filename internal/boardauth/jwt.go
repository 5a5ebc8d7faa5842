// Package boardauth verifies connection identity and looks up board
// roles. It is the engine's external-collaborator boundary: the
// session handler and REST routes only ever see an already-verified
// Identity plus a Role, never a raw token.
package boardauth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims are the JWT claims a connecting client presents.
type SessionClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// Identity is the verified caller behind a board connection or REST
// request.
type Identity struct {
	UserID string
	Email  string
}

// ParseECKeyFromEnv parses a P-256 private key from an environment
// variable value. Accepts PEM or base64-encoded DER.
func ParseECKeyFromEnv(envValue string) (*ecdsa.PrivateKey, error) {
	if envValue == "" {
		return nil, fmt.Errorf("BOARDENGINE_JWT_KEY is required — generate with: boardengine keygen")
	}
	return parseECKey(envValue)
}

// GenerateECKey creates a new P-256 private key and returns it along
// with its base64-DER encoding, suitable for storing in config.
func GenerateECKey() (*ecdsa.PrivateKey, string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("generate ec key: %w", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, "", fmt.Errorf("marshal ec key: %w", err)
	}
	return key, base64.StdEncoding.EncodeToString(der), nil
}

func parseECKey(data string) (*ecdsa.PrivateKey, error) {
	if block, _ := pem.Decode([]byte(data)); block != nil {
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse pem ec key: %w", err)
		}
		return key, nil
	}
	der, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode base64 ec key: %w", err)
	}
	key, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse der ec key: %w", err)
	}
	return key, nil
}

// IssueSessionJWT creates an ES256-signed JWT identifying userID for a
// board connection.
func IssueSessionJWT(key *ecdsa.PrivateKey, userID, email string, ttl time.Duration) (string, error) {
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		Email: email,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}

// ValidateSessionJWT verifies an ES256 JWT and returns the identity it
// asserts.
func ValidateSessionJWT(pubKey *ecdsa.PublicKey, tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return pubKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse jwt: %w", err)
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid jwt claims")
	}
	return &Identity{UserID: claims.Subject, Email: claims.Email}, nil
}
