package types

import "github.com/golang-jwt/jwt/v5"

// AuthenticationResponse is the result of a successful identity and tenancy
// resolution: the issued token plus the resolved scope and display fields. It
// is produced per call and never persisted.
type AuthenticationResponse struct {
	Token      string `json:"token"`
	UserID     string `json:"userId"`
	PlatformID string `json:"platformId"`
	ProjectID  string `json:"projectId"`
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Verified   bool   `json:"verified"`
}

// PlatformTokenClaims are the claims carried by an issued platform token.
type PlatformTokenClaims struct {
	UserID     string `json:"userId"`
	PlatformID string `json:"platformId"`
	ProjectID  string `json:"projectId"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}
