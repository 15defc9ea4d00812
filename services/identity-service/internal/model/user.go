package model

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// PlatformRole is a user's role inside one platform.
type PlatformRole string

const (
	PlatformRoleAdmin  PlatformRole = "ADMIN"
	PlatformRoleMember PlatformRole = "MEMBER"
)

// User binds a UserIdentity to a Platform. There is exactly one User per
// (identity, platform) pair. PlatformID is empty only transiently while a new
// platform is being created for its owner.
type User struct {
	ID           bson.ObjectID `bson:"_id,omitempty"`
	IdentityID   string        `bson:"identity_id"`
	PlatformID   string        `bson:"platform_id"`
	PlatformRole PlatformRole  `bson:"platform_role"`
	CreatedAt    time.Time     `bson:"created_at"`
	UpdatedAt    time.Time     `bson:"updated_at"`
}
