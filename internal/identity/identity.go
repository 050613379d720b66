// Package identity issues and verifies the bearer tokens parent devices use.
// A token names the parent (subject) and the device it was issued to.
package identity

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

const (
	issuerName = "screentime"
	keyInfo    = "screentime device token v1"
	keySize    = 32
)

var (
	ErrInvalidToken = errors.New("invalid device token")
	ErrNoSecret     = errors.New("TOKEN_SECRET is not configured")
)

// Identity is who is calling and from which device.
type Identity struct {
	UserID   string
	DeviceID string
}

type deviceClaims struct {
	jwt.RegisteredClaims
	Device string `json:"device"`
}

// Issuer signs and verifies device tokens with a key derived from a secret.
type Issuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewIssuer derives the signing key from secret. A zero ttl issues tokens
// that do not expire.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive token key: %w", err)
	}
	return &Issuer{key: key, ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed token for id.
func (i *Issuer) Issue(id Identity) (string, error) {
	if id.UserID == "" || id.DeviceID == "" {
		return "", fmt.Errorf("%w: user and device are required", ErrInvalidToken)
	}
	now := i.now()
	claims := deviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuerName,
			Subject:  id.UserID,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Device: id.DeviceID,
	}
	if i.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies token and returns the identity it carries.
func (i *Issuer) Parse(token string) (Identity, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuerName),
		jwt.WithTimeFunc(i.now),
	)
	claims := &deviceClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return i.key, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	if claims.Subject == "" || claims.Device == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: claims.Subject, DeviceID: claims.Device}, nil
}
