package model

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// OtpType distinguishes what a one-time code is for.
type OtpType string

const (
	OtpTypeEmailVerification OtpType = "EMAIL_VERIFICATION"
	OtpTypePasswordReset     OtpType = "PASSWORD_RESET"
)

// Otp is a stored one-time code. Only a hash of the code is persisted.
type Otp struct {
	ID         bson.ObjectID `bson:"_id,omitempty"`
	IdentityID string        `bson:"identity_id"`
	PlatformID string        `bson:"platform_id"`
	Email      string        `bson:"email"`
	Type       OtpType       `bson:"type"`
	ValueHash  string        `bson:"value_hash"`
	Used       bool          `bson:"used"`
	ExpiresAt  time.Time     `bson:"expires_at"`
	CreatedAt  time.Time     `bson:"created_at"`
	UpdatedAt  time.Time     `bson:"updated_at"`
}
