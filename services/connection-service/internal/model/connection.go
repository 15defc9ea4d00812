package model

// AuthorizationMethod is how client credentials are presented to a token
// endpoint.
type AuthorizationMethod string

const (
	// AuthorizationMethodHeader sends the credentials as HTTP basic auth.
	AuthorizationMethodHeader AuthorizationMethod = "HEADER"
	// AuthorizationMethodBody sends the credentials as form fields.
	AuthorizationMethodBody AuthorizationMethod = "BODY"
)

// ConnectionType tags which strategy produced a connection value.
type ConnectionType string

const (
	// ConnectionTypeCloudOAuth2 marks values claimed through the relay.
	ConnectionTypeCloudOAuth2 ConnectionType = "CLOUD_OAUTH2"
	// ConnectionTypePlatformOAuth2 marks values claimed directly with a
	// platform-owned client registration.
	ConnectionTypePlatformOAuth2 ConnectionType = "PLATFORM_OAUTH2"
)

// ConnectionValue is a stored, usable OAuth2 credential for a third-party
// integration. It never carries the client secret.
type ConnectionValue struct {
	Type                ConnectionType      `json:"type"`
	AccessToken         string              `json:"access_token"`
	RefreshToken        string              `json:"refresh_token,omitempty"`
	ExpiresIn           int64               `json:"expires_in,omitempty"`
	TokenType           string              `json:"token_type,omitempty"`
	Scope               string              `json:"scope,omitempty"`
	AuthorizationMethod AuthorizationMethod `json:"authorization_method,omitempty"`
	TokenURL            string              `json:"token_url"`
	ClientID            string              `json:"client_id"`
	Props               map[string]any      `json:"props,omitempty"`
	ClaimedAt           int64               `json:"claimed_at"`
}
