package model

import "time"

// Well-known platform flag ids.
const (
	FlagUserCreated = "USER_CREATED"
)

// PlatformFlag is a platform-wide marker recorded once, keyed by its name.
type PlatformFlag struct {
	ID        string    `bson:"_id"`
	Value     bool      `bson:"value"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}
