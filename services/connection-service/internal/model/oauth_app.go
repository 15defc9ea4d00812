package model

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// OAuthApp is a per-tenant, per-integration OAuth client registration. The
// client secret is stored as ciphertext only. Multiple registrations may share
// (platform_id, piece_name) with different client ids; lookups must always
// include the client id.
type OAuthApp struct {
	ID         bson.ObjectID `bson:"_id,omitempty"`
	PieceName  string        `bson:"piece_name"`
	PlatformID string        `bson:"platform_id"`
	ClientID   string        `bson:"client_id"`

	// ClientSecret is the encrypted secret, never plaintext.
	ClientSecret string `bson:"client_secret"`

	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}
