package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenTTL      = 7 * 24 * time.Hour
	secretSetting = "jwt_secret"
	secretBytes   = 32
	codePrefixLen = 8
	anonymousUser = "no_code"
)

var ErrInvalidToken = errors.New("invalid token")

// SettingStore persists key/value settings. *store.DB implements it.
type SettingStore interface {
	Setting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Tokens issues and checks the activity's bearer tokens.
type Tokens struct {
	secret []byte
	now    func() time.Time
}

func NewTokens(secret []byte) *Tokens {
	return &Tokens{secret: secret, now: time.Now}
}

// LoadSecret returns the configured secret, or the one kept in st, or a new
// random one that is written back to st.
func LoadSecret(ctx context.Context, st SettingStore, configured string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	if st != nil {
		h, err := st.Setting(ctx, secretSetting)
		if err != nil {
			return nil, err
		}
		if b, err := hex.DecodeString(h); err == nil && len(b) == secretBytes {
			return b, nil
		}
	}

	secret := make([]byte, secretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate token secret: %w", err)
	}
	if st != nil {
		if err := st.SetSetting(ctx, secretSetting, hex.EncodeToString(secret)); err != nil {
			return nil, err
		}
	}
	return secret, nil
}

// Subject derives the user name a code stands for.
func Subject(code string) string {
	if code == "" {
		return anonymousUser
	}
	if len(code) > codePrefixLen {
		code = code[:codePrefixLen]
	}
	return "user_" + code
}

// Issue exchanges an authorization code for a signed token.
func (t *Tokens) Issue(code string) (string, error) {
	now := t.now()
	claims := jwt.RegisteredClaims{
		Subject:   Subject(code),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Validate returns the token's subject.
func (t *Tokens) Validate(raw string) (string, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
