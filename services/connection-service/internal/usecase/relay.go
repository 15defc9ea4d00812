package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/pongsakornw/flowforge-api/services/connection-service/internal/model"
	"github.com/pongsakornw/flowforge-api/shared/apperror"
	"github.com/pongsakornw/flowforge-api/shared/edition"
)

type relayOAuth2Service struct {
	baseURL    string
	policy     edition.Policy
	httpClient *http.Client
	logger     *zerolog.Logger

	// refreshGroup coalesces concurrent refreshes per connection key.
	refreshGroup singleflight.Group
}

// NewRelayOAuth2Service creates the strategy that forwards exchanges to the
// trusted relay. The relay holds the real client secrets, so none are stored
// or decrypted locally.
func NewRelayOAuth2Service(baseURL string, policy edition.Policy, logger *zerolog.Logger) OAuth2Service {
	return &relayOAuth2Service{
		baseURL:    baseURL,
		policy:     policy,
		httpClient: &http.Client{Timeout: exchangeTimeout},
		logger:     logger,
	}
}

// relayRequest is the JSON body of both relay endpoints.
type relayRequest struct {
	PieceName           string                    `json:"pieceName"`
	Edition             string                    `json:"edition"`
	ClientID            string                    `json:"clientId"`
	TokenURL            string                    `json:"tokenUrl"`
	Code                string                    `json:"code,omitempty"`
	CodeVerifier        string                    `json:"codeVerifier,omitempty"`
	AuthorizationMethod model.AuthorizationMethod `json:"authorizationMethod,omitempty"`
	RefreshToken        string                    `json:"refreshToken,omitempty"`
}

func (s *relayOAuth2Service) Claim(ctx context.Context, request ClaimRequest) (*model.ConnectionValue, error) {
	response, err := s.post(ctx, "/claim", relayRequest{
		PieceName:           request.PieceName,
		Edition:             string(s.policy.Edition()),
		ClientID:            request.ClientID,
		TokenURL:            request.TokenURL,
		Code:                request.Code,
		CodeVerifier:        request.CodeVerifier,
		AuthorizationMethod: request.AuthorizationMethod,
	})
	if err != nil {
		return nil, apperror.New(apperror.CodeInvalidCloudClaim, "failed to claim authorization code", map[string]any{
			"pieceName": request.PieceName,
		})
	}

	return &model.ConnectionValue{
		Type:                model.ConnectionTypeCloudOAuth2,
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

// Refresh forwards the refresh to the relay. Failures are returned raw, not
// wrapped into a claim error.
func (s *relayOAuth2Service) Refresh(ctx context.Context, request RefreshRequest) (*model.ConnectionValue, error) {
	result, err, _ := s.refreshGroup.Do(request.connectionKey(), func() (any, error) {
		return s.refresh(ctx, request)
	})
	if err != nil {
		return nil, err
	}
	return result.(*model.ConnectionValue), nil
}

func (s *relayOAuth2Service) refresh(ctx context.Context, request RefreshRequest) (*model.ConnectionValue, error) {
	response, err := s.post(ctx, "/refresh", relayRequest{
		PieceName:           request.PieceName,
		Edition:             string(s.policy.Edition()),
		ClientID:            request.Value.ClientID,
		TokenURL:            request.Value.TokenURL,
		AuthorizationMethod: request.Value.AuthorizationMethod,
		RefreshToken:        request.Value.RefreshToken,
	})
	if err != nil {
		return nil, fmt.Errorf("relay refresh: %w", err)
	}

	return overlayRefresh(request.Value, *response), nil
}

// post sends one relay request. On any failure it logs the diagnostic bundle
// and returns the error; the relay never sees nor returns client secrets, so
// the bundle is safe to log whole.
func (s *relayOAuth2Service) post(ctx context.Context, path string, payload relayRequest) (*tokenResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode relay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("path", path).
			Str("piece_name", payload.PieceName).
			Str("client_id", payload.ClientID).
			Str("token_url", payload.TokenURL).
			Msg("relay request failed")
		return nil, fmt.Errorf("relay request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read relay response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		s.logger.Error().
			Int("status", resp.StatusCode).
			Str("body", string(respBody)).
			Any("headers", resp.Header).
			Str("path", path).
			Str("piece_name", payload.PieceName).
			Str("client_id", payload.ClientID).
			Str("token_url", payload.TokenURL).
			Msg("relay returned an error")
		return nil, fmt.Errorf("relay returned status %d", resp.StatusCode)
	}

	var response tokenResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("parse relay response: %w", err)
	}

	return &response, nil
}
