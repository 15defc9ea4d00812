package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

const googleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

var googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

var (
	ErrMissingIDToken       = errors.New("token response does not contain an id_token")
	ErrInvalidGoogleIssuer  = errors.New("invalid google issuer")
	ErrEmailNotVerified     = errors.New("google account email is not verified")
	ErrMissingEmailVerified = errors.New("id token does not carry email_verified")
)

// FederatedIdentity is the profile extracted from a verified Google sign-in.
type FederatedIdentity struct {
	Email     string
	FirstName string
	LastName  string
}

// GoogleProvider implements the Google authorization-code login flow: building
// the consent URL, exchanging the callback code, and verifying the returned ID
// token against Google's published JWKS.
type GoogleProvider struct {
	oauthConfig *oauth2.Config
	jwks        keyfunc.Keyfunc
}

// NewGoogleProvider creates a GoogleProvider. The JWKS key set is fetched from
// Google and kept refreshed for the lifetime of ctx.
func NewGoogleProvider(ctx context.Context, clientID, clientSecret, redirectURL string) (*GoogleProvider, error) {
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{googleJWKSURL})
	if err != nil {
		return nil, fmt.Errorf("load google jwks: %w", err)
	}

	return &GoogleProvider{
		oauthConfig: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"email", "profile"},
			Endpoint:     google.Endpoint,
		},
		jwks: jwks,
	}, nil
}

// NewState returns a fresh opaque state parameter for one login attempt.
func (p *GoogleProvider) NewState() string {
	return uuid.NewString()
}

// LoginURL builds the Google consent URL the caller redirects the browser to.
func (p *GoogleProvider) LoginURL(state string) string {
	return p.oauthConfig.AuthCodeURL(state)
}

// googleIDClaims is the subset of the Google ID token payload this flow needs.
type googleIDClaims struct {
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	jwt.RegisteredClaims
}

// Authenticate exchanges the callback code for tokens and verifies the ID
// token (RS256 against the JWKS, Google issuer, audience equal to the client
// id, email_verified present). Profile fields missing from the ID token are
// filled in from the userinfo endpoint.
func (p *GoogleProvider) Authenticate(ctx context.Context, code string) (*FederatedIdentity, error) {
	token, err := p.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, ErrMissingIDToken
	}

	claims := googleIDClaims{}
	_, err = jwt.ParseWithClaims(rawIDToken, &claims, p.jwks.Keyfunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Name}),
		jwt.WithAudience(p.oauthConfig.ClientID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}

	if err := assertGoogleIssuer(claims.Issuer); err != nil {
		return nil, err
	}
	if claims.EmailVerified == nil {
		return nil, ErrMissingEmailVerified
	}
	if !*claims.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	identity := &FederatedIdentity{
		Email:     claims.Email,
		FirstName: claims.GivenName,
		LastName:  claims.FamilyName,
	}

	if identity.FirstName == "" {
		if err := p.fillFromUserinfo(ctx, token, identity); err != nil {
			return nil, err
		}
	}

	return identity, nil
}

// fillFromUserinfo fetches the Google userinfo resource with the exchanged
// access token and copies the profile fields into identity.
func (p *GoogleProvider) fillFromUserinfo(ctx context.Context, token *oauth2.Token, identity *FederatedIdentity) error {
	service, err := oauth2api.NewService(ctx, option.WithTokenSource(p.oauthConfig.TokenSource(ctx, token)))
	if err != nil {
		return fmt.Errorf("create userinfo service: %w", err)
	}

	userInfo, err := service.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("fetch userinfo: %w", err)
	}

	identity.FirstName = userInfo.GivenName
	identity.LastName = userInfo.FamilyName
	if identity.Email == "" {
		identity.Email = userInfo.Email
	}

	return nil
}

func assertGoogleIssuer(issuer string) error {
	for _, allowed := range googleIssuers {
		if issuer == allowed {
			return nil
		}
	}
	return ErrInvalidGoogleIssuer
}
