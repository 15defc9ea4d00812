package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pongsakornw/flowforge-api/services/connection-service/internal/config"
	"github.com/pongsakornw/flowforge-api/services/connection-service/internal/model"
	"github.com/pongsakornw/flowforge-api/services/connection-service/internal/repository"
	"github.com/pongsakornw/flowforge-api/shared/edition"
	"github.com/pongsakornw/flowforge-api/shared/security"
)

// exchangeTimeout is the hard limit for every token exchange, claim and
// refresh alike.
const exchangeTimeout = 10 * time.Second

// OAuth2Service performs authorization-code claims and refresh-token
// exchanges on behalf of workflow connections. Two strategies implement it:
// the relay strategy, which forwards exchanges to a trusted relay holding the
// real client secrets, and the direct strategy, which exchanges with the
// provider using a platform-owned client registration.
type OAuth2Service interface {
	Claim(ctx context.Context, request ClaimRequest) (*model.ConnectionValue, error)
	Refresh(ctx context.Context, request RefreshRequest) (*model.ConnectionValue, error)
}

// ClaimRequest defines the parameters for a first-time authorization-code
// exchange.
type ClaimRequest struct {
	PlatformID          string
	PieceName           string
	ClientID            string
	TokenURL            string
	Code                string
	CodeVerifier        string
	RedirectURI         string
	AuthorizationMethod model.AuthorizationMethod
	Props               map[string]any
}

// RefreshRequest defines the parameters for refreshing a stored connection
// value. ConnectionID identifies the connection the value belongs to.
type RefreshRequest struct {
	PlatformID   string
	PieceName    string
	ConnectionID string
	Value        model.ConnectionValue
}

// connectionKey scopes refresh single-flight: concurrent refreshes for the
// same stored connection coalesce into one exchange, because providers may
// invalidate the old refresh token the moment they issue a new one.
func (r RefreshRequest) connectionKey() string {
	return strings.Join([]string{r.PlatformID, r.PieceName, r.Value.ClientID, r.ConnectionID}, "|")
}

// NewOAuth2Service selects the strategy once, at construction time, from the
// configured mode.
func NewOAuth2Service(
	cfg *config.ConnectionServiceConfig,
	policy edition.Policy,
	oauthAppRepo repository.OAuthAppRepository,
	encryptor *security.Encryptor,
	logger *zerolog.Logger,
) (OAuth2Service, error) {
	switch cfg.OAuth2Mode {
	case config.OAuth2ModeRelay:
		return NewRelayOAuth2Service(cfg.RelayBaseURL, policy, logger), nil
	case config.OAuth2ModeDirect:
		return NewDirectOAuth2Service(oauthAppRepo, encryptor, logger), nil
	default:
		return nil, fmt.Errorf("unknown oauth2 mode %q", cfg.OAuth2Mode)
	}
}

// tokenResponse is the JSON body a provider token endpoint or the relay
// returns on success.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
}

// overlayRefresh merges a fresh token response over the pre-refresh value.
// New tokens replace old ones; fields the response leaves out, such as props
// and the connection type, keep their previous values.
func overlayRefresh(previous model.ConnectionValue, fresh tokenResponse) *model.ConnectionValue {
	next := previous
	if fresh.AccessToken != "" {
		next.AccessToken = fresh.AccessToken
	}
	if fresh.RefreshToken != "" {
		next.RefreshToken = fresh.RefreshToken
	}
	if fresh.ExpiresIn != 0 {
		next.ExpiresIn = fresh.ExpiresIn
	}
	if fresh.TokenType != "" {
		next.TokenType = fresh.TokenType
	}
	if fresh.Scope != "" {
		next.Scope = fresh.Scope
	}
	next.ClaimedAt = time.Now().Unix()
	return &next
}
