package service

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/loomhq/loom/internal/model"
)

const (
	// TokenIssuer and TokenAudience identify this application and its API
	// surface. Both must match exactly on verification.
	TokenIssuer   = "loom"
	TokenAudience = "loom-api"

	// DefaultTokenTTL bounds the exposure window of an issued token.
	DefaultTokenTTL = 24 * time.Hour
)

// ErrInvalidToken is returned for every token verification failure:
// malformed structure, bad signature, expired, or wrong issuer/audience.
var ErrInvalidToken = errors.New("invalid token")

// TokenClaims is the payload of an issued token: a point-in-time grant
// derived from an API key record. The subject is the record id.
type TokenClaims struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// TokenService generates and verifies compact HS256-signed tokens. Tokens
// are self-contained; no server-side session store exists. A token remains
// cryptographically valid after its backing key is disabled or deleted, so
// callers must re-check the subject against the key table.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService with the given signing secret.
// A non-positive ttl selects DefaultTokenTTL.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// TTL returns the configured token lifetime.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Generate signs a token for the given API key record.
func (s *TokenService) Generate(key *model.APIKey) (string, error) {
	now := time.Now()
	claims := TokenClaims{
		Name:        key.Name,
		Permissions: append([]string(nil), key.Permissions...),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   key.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			Issuer:    TokenIssuer,
			Audience:  jwt.ClaimStrings{TokenAudience},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks a token's signature, expiry, issuer, and audience, and
// returns its claims. Every failure maps to ErrInvalidToken; malformed
// tokens must never panic the request pipeline.
func (s *TokenService) Verify(tokenStr string) (*TokenClaims, error) {
	claims := &TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	},
		jwt.WithIssuer(TokenIssuer),
		jwt.WithAudience(TokenAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// NewSigningSecret generates a random signing secret (64 bytes, hex). Used
// when no secret is configured; every restart then invalidates previously
// issued tokens unless a store-held secret is reused.
func NewSigningSecret() string {
	return randomHex(64)
}
