package models

import "time"

// AccessToken is a bearer token for the ranking service.
// ExpiresAt already has the safety margin subtracted.
type AccessToken struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the token can still be handed out at now
func (t AccessToken) Valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt)
}

// TokenInput is the OAuth client-credentials response body
type TokenInput struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}
