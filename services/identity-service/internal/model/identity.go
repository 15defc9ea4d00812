package model

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// IdentityProvider is the mechanism a principal authenticated with.
type IdentityProvider string

const (
	IdentityProviderEmail  IdentityProvider = "EMAIL"
	IdentityProviderGoogle IdentityProvider = "GOOGLE"
	IdentityProviderJWT    IdentityProvider = "JWT"
	IdentityProviderSAML   IdentityProvider = "SAML"
)

// Trusted reports whether the provider vouches for the email address, so a
// fresh identity can skip email verification.
func (p IdentityProvider) Trusted() bool {
	return p == IdentityProviderGoogle || p == IdentityProviderJWT || p == IdentityProviderSAML
}

// UserIdentity is the global principal keyed by email. It is independent of
// any platform; membership in a platform is a separate User record.
type UserIdentity struct {
	ID           bson.ObjectID    `bson:"_id,omitempty"`
	Email        string           `bson:"email"`
	FirstName    string           `bson:"first_name"`
	LastName     string           `bson:"last_name"`
	PasswordHash string           `bson:"password_hash"`
	Verified     bool             `bson:"verified"`
	Provider     IdentityProvider `bson:"provider"`
	CreatedAt    time.Time        `bson:"created_at"`
	UpdatedAt    time.Time        `bson:"updated_at"`
}
