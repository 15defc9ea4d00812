package model

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// PlatformPlan is the commercial plan a platform is on.
type PlatformPlan string

const (
	PlatformPlanCommunity  PlatformPlan = "community"
	PlatformPlanEnterprise PlatformPlan = "enterprise"
)

// Platform is a tenant. It isolates users, projects and OAuth app
// registrations, and owns its projects and OAuth apps (cascade delete).
type Platform struct {
	ID      bson.ObjectID `bson:"_id,omitempty"`
	Name    string        `bson:"name"`
	OwnerID string        `bson:"owner_id"`
	Plan    PlatformPlan  `bson:"plan"`

	// Sign-in policy for the tenant.
	EmailAuthEnabled          bool     `bson:"email_auth_enabled"`
	EnforceAllowedAuthDomains bool     `bson:"enforce_allowed_auth_domains"`
	AllowedAuthDomains        []string `bson:"allowed_auth_domains"`

	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}
