package model

import "time"

// ErrorResponse is the envelope for every error returned by the API. The
// body is intentionally flat: clients (and the desktop UI) match on the
// error string only.
type ErrorResponse struct {
	Error string `json:"error"`
}

// KeyListResponse wraps the redacted key records returned by list endpoints.
type KeyListResponse struct {
	Keys  []APIKey `json:"keys"`
	Count int      `json:"count"`
}

// CreateKeyResponse includes the plaintext secret. It is returned exactly
// once, at creation time; the secret is not retrievable afterwards.
type CreateKeyResponse struct {
	Key    string `json:"key"`
	Record APIKey `json:"record"`
}

// TokenResponse is returned when a credential is exchanged for a signed token.
type TokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}
