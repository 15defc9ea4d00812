package model

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Project is a workspace inside a platform where workflows live.
type Project struct {
	ID          bson.ObjectID `bson:"_id,omitempty"`
	DisplayName string        `bson:"display_name"`
	OwnerID     string        `bson:"owner_id"`
	PlatformID  string        `bson:"platform_id"`
	CreatedAt   time.Time     `bson:"created_at"`
	UpdatedAt   time.Time     `bson:"updated_at"`
}
