package repository

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pongsakornw/flowforge-api/services/identity-service/internal/model"
)

// OtpRepository defines the interface for one-time code operations.
type OtpRepository interface {
	// CreateOtp stores a new one-time code.
	CreateOtp(ctx context.Context, otp *model.Otp) (*model.Otp, error)

	// GetLatestOtp retrieves the most recently created code for an identity
	// and type.
	GetLatestOtp(ctx context.Context, identityID string, otpType model.OtpType) (*model.Otp, error)

	// MarkOtpAsUsed marks a code as used.
	MarkOtpAsUsed(ctx context.Context, id string) error

	// InvalidateIdentityOtps invalidates all unused codes of a type for an
	// identity.
	InvalidateIdentityOtps(ctx context.Context, identityID string, otpType model.OtpType) error

	// DeleteExpiredOtps removes expired codes from the database.
	DeleteExpiredOtps(ctx context.Context) (int64, error)
}

const otpCollection = "otps"

type otpMongoRepository struct {
	db *mongo.Database
}

// NewOtpMongoRepository creates a new MongoDB repository for one-time codes.
func NewOtpMongoRepository(ctx context.Context, logger *zerolog.Logger, db *mongo.Database) OtpRepository {
	collection := db.Collection(otpCollection)

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "identity_id", Value: 1},
				{Key: "type", Value: 1},
			},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0), // TTL index
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create otp indexes")
	}

	return &otpMongoRepository{db: db}
}

func (r *otpMongoRepository) CreateOtp(ctx context.Context, otp *model.Otp) (*model.Otp, error) {
	now := time.Now()
	otp.CreatedAt = now
	otp.UpdatedAt = now
	otp.Used = false

	result, err := r.db.Collection(otpCollection).InsertOne(ctx, otp)
	if err != nil {
		return nil, err
	}

	if objectID, ok := result.InsertedID.(bson.ObjectID); ok {
		otp.ID = objectID
	}

	return otp, nil
}

func (r *otpMongoRepository) GetLatestOtp(
	ctx context.Context,
	identityID string,
	otpType model.OtpType,
) (*model.Otp, error) {
	filter := bson.M{
		"identity_id": identityID,
		"type":        otpType,
	}

	var otp model.Otp
	err := r.db.Collection(otpCollection).FindOne(
		ctx,
		filter,
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	).Decode(&otp)
	if err != nil {
		return nil, err
	}

	return &otp, nil
}

func (r *otpMongoRepository) MarkOtpAsUsed(ctx context.Context, id string) error {
	objectID, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return err
	}

	update := bson.M{
		"$set": bson.M{
			"used":       true,
			"updated_at": time.Now(),
		},
	}

	_, err = r.db.Collection(otpCollection).UpdateOne(ctx, bson.M{"_id": objectID}, update)
	return err
}

func (r *otpMongoRepository) InvalidateIdentityOtps(
	ctx context.Context,
	identityID string,
	otpType model.OtpType,
) error {
	filter := bson.M{
		"identity_id": identityID,
		"type":        otpType,
		"used":        false,
	}
	update := bson.M{
		"$set": bson.M{
			"used":       true,
			"updated_at": time.Now(),
		},
	}

	_, err := r.db.Collection(otpCollection).UpdateMany(ctx, filter, update)
	return err
}

func (r *otpMongoRepository) DeleteExpiredOtps(ctx context.Context) (int64, error) {
	filter := bson.M{
		"expires_at": bson.M{"$lt": time.Now()},
	}

	result, err := r.db.Collection(otpCollection).DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}

	return result.DeletedCount, nil
}
