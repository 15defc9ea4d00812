package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"golang.org/x/sync/singleflight"

	"github.com/pongsakornw/flowforge-api/services/connection-service/internal/model"
	"github.com/pongsakornw/flowforge-api/services/connection-service/internal/repository"
	"github.com/pongsakornw/flowforge-api/shared/apperror"
	"github.com/pongsakornw/flowforge-api/shared/security"
)

type directOAuth2Service struct {
	oauthAppRepo repository.OAuthAppRepository
	encryptor    *security.Encryptor
	httpClient   *http.Client
	logger       *zerolog.Logger

	// refreshGroup coalesces concurrent refreshes per connection key.
	refreshGroup singleflight.Group
}

// NewDirectOAuth2Service creates the strategy that exchanges directly with
// the provider's token endpoint, using the platform's own client registration
// and its encrypted secret.
func NewDirectOAuth2Service(
	oauthAppRepo repository.OAuthAppRepository,
	encryptor *security.Encryptor,
	logger *zerolog.Logger,
) OAuth2Service {
	return &directOAuth2Service{
		oauthAppRepo: oauthAppRepo,
		encryptor:    encryptor,
		httpClient:   &http.Client{Timeout: exchangeTimeout},
		logger:       logger,
	}
}

func (s *directOAuth2Service) Claim(ctx context.Context, request ClaimRequest) (*model.ConnectionValue, error) {
	clientSecret, err := s.lookupClientSecret(ctx, request.PieceName, request.ClientID, request.PlatformID)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"grant_type": {"authorization_code"},
		"code":       {request.Code},
	}
	if request.RedirectURI != "" {
		form.Set("redirect_uri", request.RedirectURI)
	}
	if request.CodeVerifier != "" {
		form.Set("code_verifier", request.CodeVerifier)
	}

	response, err := s.exchange(ctx, request.TokenURL, request.AuthorizationMethod, request.ClientID, clientSecret, form)
	if err != nil {
		return nil, apperror.New(apperror.CodeInvalidCloudClaim, "failed to claim authorization code", map[string]any{
			"pieceName": request.PieceName,
		})
	}

	return &model.ConnectionValue{
		Type:                model.ConnectionTypePlatformOAuth2,
		AccessToken:         response.AccessToken,
		RefreshToken:        response.RefreshToken,
		ExpiresIn:           response.ExpiresIn,
		TokenType:           response.TokenType,
		Scope:               response.Scope,
		AuthorizationMethod: request.AuthorizationMethod,
		TokenURL:            request.TokenURL,
		ClientID:            request.ClientID,
		Props:               request.Props,
		ClaimedAt:           time.Now().Unix(),
	}, nil
}

// Refresh repeats the exchange with a refresh_token grant. Failures are
// returned raw: expired or rotated refresh tokens are routine, and the caller
// decides whether to ask the user to reconnect.
func (s *directOAuth2Service) Refresh(ctx context.Context, request RefreshRequest) (*model.ConnectionValue, error) {
	result, err, _ := s.refreshGroup.Do(request.connectionKey(), func() (any, error) {
		return s.refresh(ctx, request)
	})
	if err != nil {
		return nil, err
	}
	return result.(*model.ConnectionValue), nil
}

func (s *directOAuth2Service) refresh(ctx context.Context, request RefreshRequest) (*model.ConnectionValue, error) {
	clientSecret, err := s.lookupClientSecret(ctx, request.PieceName, request.Value.ClientID, request.PlatformID)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {request.Value.RefreshToken},
	}

	response, err := s.exchange(
		ctx,
		request.Value.TokenURL,
		request.Value.AuthorizationMethod,
		request.Value.ClientID,
		clientSecret,
		form,
	)
	if err != nil {
		return nil, fmt.Errorf("refresh token exchange: %w", err)
	}

	return overlayRefresh(request.Value, *response), nil
}

// lookupClientSecret finds the registration for the exact (piece, client id,
// platform) triple and decrypts its secret.
func (s *directOAuth2Service) lookupClientSecret(ctx context.Context, pieceName, clientID, platformID string) (string, error) {
	app, err := s.oauthAppRepo.GetOAuthApp(ctx, pieceName, clientID, platformID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", apperror.New(apperror.CodeEntityNotFound, "oauth app not found", map[string]any{
				"pieceName": pieceName,
				"clientId":  clientID,
			})
		}
		return "", err
	}

	return s.encryptor.DecryptString(app.ClientSecret)
}

// exchange POSTs a form-encoded grant to the token endpoint. On any failure
// it logs the diagnostic bundle, never including the client secret, and
// returns the error.
func (s *directOAuth2Service) exchange(
	ctx context.Context,
	tokenURL string,
	method model.AuthorizationMethod,
	clientID, clientSecret string,
	form url.Values,
) (*tokenResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	form.Set("client_id", clientID)
	if method != model.AuthorizationMethodHeader {
		form.Set("client_secret", clientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if method == model.AuthorizationMethodHeader {
		req.SetBasicAuth(clientID, clientSecret)
	}

	grantType := form.Get("grant_type")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("token_url", tokenURL).
			Str("client_id", clientID).
			Str("grant_type", grantType).
			Msg("token exchange request failed")
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		s.logger.Error().
			Int("status", resp.StatusCode).
			Str("body", string(body)).
			Any("headers", resp.Header).
			Str("token_url", tokenURL).
			Str("client_id", clientID).
			Str("grant_type", grantType).
			Msg("token endpoint returned an error")
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var response tokenResponse
	if err := json.Unmarshal(body, &response); err != nil {
		s.logger.Error().
			Err(err).
			Str("token_url", tokenURL).
			Str("client_id", clientID).
			Str("grant_type", grantType).
			Msg("token endpoint returned a malformed body")
		return nil, fmt.Errorf("parse token response: %w", err)
	}

	return &response, nil
}
