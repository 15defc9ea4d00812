package repository

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pongsakornw/flowforge-api/services/identity-service/internal/model"
)

// UserIdentityRepository defines the interface for identity-related database
// operations.
type UserIdentityRepository interface {
	CreateIdentity(ctx context.Context, identity *model.UserIdentity) (*model.UserIdentity, error)
	GetIdentity(ctx context.Context, id string) (*model.UserIdentity, error)
	GetIdentityByEmail(ctx context.Context, email string) (*model.UserIdentity, error)
	UpdateIdentity(ctx context.Context, id string, params UpdateIdentityParams) (*model.UserIdentity, error)
	SetVerified(ctx context.Context, id string) error
}

// UpdateIdentityParams defines the optional parameters for updating an
// identity. Only the fields that are not nil will be updated.
type UpdateIdentityParams struct {
	FirstName    *string
	LastName     *string
	PasswordHash *string
}

const identityCollection = "user_identities"

type identityMongoRepository struct {
	db *mongo.Database
}

// NewUserIdentityMongoRepository creates a MongoDB repository for identities.
// The unique email index is what guarantees concurrent sign-ups for the same
// email cannot create two identities.
func NewUserIdentityMongoRepository(ctx context.Context, logger *zerolog.Logger, db *mongo.Database) UserIdentityRepository {
	collection := db.Collection(identityCollection)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create identity indexes")
	}

	return &identityMongoRepository{db: db}
}

func (r *identityMongoRepository) CreateIdentity(
	ctx context.Context,
	identity *model.UserIdentity,
) (*model.UserIdentity, error) {
	now := time.Now()
	identity.CreatedAt = now
	identity.UpdatedAt = now

	result, err := r.db.Collection(identityCollection).InsertOne(ctx, identity)
	if err != nil {
		return nil, err
	}

	if objectID, ok := result.InsertedID.(bson.ObjectID); ok {
		identity.ID = objectID
	} else {
		return nil, errors.New("failed to convert inserted ID to ObjectID")
	}

	return identity, nil
}

func (r *identityMongoRepository) GetIdentity(ctx context.Context, id string) (*model.UserIdentity, error) {
	objectID, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}

	result := r.db.Collection(identityCollection).FindOne(ctx, bson.M{"_id": objectID})
	if result.Err() != nil {
		return nil, result.Err()
	}

	var identity model.UserIdentity
	if err := result.Decode(&identity); err != nil {
		return nil, err
	}

	return &identity, nil
}

func (r *identityMongoRepository) GetIdentityByEmail(ctx context.Context, email string) (*model.UserIdentity, error) {
	result := r.db.Collection(identityCollection).FindOne(ctx, bson.M{"email": email})
	if result.Err() != nil {
		return nil, result.Err()
	}

	var identity model.UserIdentity
	if err := result.Decode(&identity); err != nil {
		return nil, err
	}

	return &identity, nil
}

func (r *identityMongoRepository) UpdateIdentity(
	ctx context.Context,
	id string,
	params UpdateIdentityParams,
) (*model.UserIdentity, error) {
	objectID, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}

	updateMap := bson.M{}
	if params.FirstName != nil {
		updateMap["first_name"] = *params.FirstName
	}
	if params.LastName != nil {
		updateMap["last_name"] = *params.LastName
	}
	if params.PasswordHash != nil {
		updateMap["password_hash"] = *params.PasswordHash
	}

	if len(updateMap) == 0 {
		return nil, errors.New("no identity fields to update")
	}

	updateMap["updated_at"] = time.Now()

	result := r.db.Collection(identityCollection).FindOneAndUpdate(
		ctx,
		bson.M{"_id": objectID},
		bson.M{"$set": updateMap},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	if result.Err() != nil {
		return nil, result.Err()
	}

	var identity model.UserIdentity
	if err := result.Decode(&identity); err != nil {
		return nil, err
	}

	return &identity, nil
}

func (r *identityMongoRepository) SetVerified(ctx context.Context, id string) error {
	objectID, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return err
	}

	_, err = r.db.Collection(identityCollection).UpdateOne(
		ctx,
		bson.M{"_id": objectID},
		bson.M{"$set": bson.M{"verified": true, "updated_at": time.Now()}},
	)
	return err
}
