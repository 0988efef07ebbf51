// Package auth hand-rolls HMAC-SHA256 JWT issuing and validation, matching
// the teacher's auth/jwt.go rather than pulling in a JWT library — the
// token shape here is simpler (no tenant dimension) since this is a
// single-operator service.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Claims carries the identity and token lifetime for a quiz participant.
type Claims struct {
	UserID    string `json:"user_id"`
	Role      string `json:"role"` // "PLAYER" or "ADMIN"
	Issuer    string `json:"iss"`
	Audience  string `json:"aud"`
	ExpiresAt int64  `json:"exp"`
	IssuedAt  int64  `json:"iat"`
}

const (
	issuer   = "quizsvc"
	audience = "quizsvc-api"

	// TokenTTL is the lifetime of a freshly issued token.
	TokenTTL = 24 * time.Hour

	// ReauthWindow is how close to expiry a token must be before the push
	// channel proactively tells the client to reauth (SPEC_FULL §6's
	// `reauth` event), pre-empting a forced disconnect rather than letting
	// the client discover expiry only when a write fails.
	ReauthWindow = 5 * time.Minute
)

// Issuer validates and signs tokens with a single secret, loaded once at
// startup and refused if too weak — mirrors the teacher's JWT_SECRET
// strictness (auth/jwt.go's init panic) but as an explicit constructor
// instead of a package-level init, since this repo's config loading is
// centralized rather than scattered across package inits.
type Issuer struct {
	secret []byte
}

// NewIssuer requires secret to be at least 32 bytes, refusing to start in
// production with a short or missing JWT secret.
func NewIssuer(secret string) (*Issuer, error) {
	if len(secret) < 32 {
		return nil, errors.New("auth: JWT secret must be at least 32 characters long")
	}
	return &Issuer{secret: []byte(secret)}, nil
}

// Generate issues a signed token for userID/role, valid for TokenTTL.
func (i *Issuer) Generate(userID, role string) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(TokenTTL)
	claims := Claims{
		UserID:    userID,
		Role:      role,
		Issuer:    issuer,
		Audience:  audience,
		ExpiresAt: exp.Unix(),
		IssuedAt:  now.Unix(),
	}

	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", time.Time{}, err
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", time.Time{}, err
	}

	tokenPart := base64UrlEncode(headerJSON) + "." + base64UrlEncode(claimsJSON)
	signature := i.computeHMAC(tokenPart)

	return tokenPart + "." + signature, exp, nil
}

// Validate parses and checks a token's signature and expiry.
func (i *Issuer) Validate(tokenString string) (*Claims, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return nil, errors.New("auth: invalid token format")
	}

	tokenPart := parts[0] + "." + parts[1]
	expected := i.computeHMAC(tokenPart)
	if expected != parts[2] {
		return nil, errors.New("auth: invalid signature")
	}

	claimsJSON, err := base64UrlDecode(parts[1])
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode claims: %w", err)
	}

	var claims Claims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return nil, fmt.Errorf("auth: failed to unmarshal claims: %w", err)
	}

	now := time.Now().Unix()
	if now > claims.ExpiresAt {
		return nil, errors.New("auth: token expired")
	}
	if claims.Issuer != issuer || claims.Audience != audience {
		return nil, errors.New("auth: invalid issuer or audience")
	}

	return &claims, nil
}

// NearExpiry reports whether claims expire within ReauthWindow of now.
func NearExpiry(claims *Claims, now time.Time) bool {
	return time.Unix(claims.ExpiresAt, 0).Sub(now) <= ReauthWindow
}

func (i *Issuer) computeHMAC(message string) string {
	h := hmac.New(sha256.New, i.secret)
	h.Write([]byte(message))
	return base64UrlEncode(h.Sum(nil))
}

func base64UrlEncode(data []byte) string {
	return strings.TrimRight(base64.URLEncoding.EncodeToString(data), "=")
}

func base64UrlDecode(data string) ([]byte, error) {
	if l := len(data) % 4; l > 0 {
		data += strings.Repeat("=", 4-l)
	}
	return base64.URLEncoding.DecodeString(data)
}
