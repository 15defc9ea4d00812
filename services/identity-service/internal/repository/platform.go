package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pongsakornw/flowforge-api/services/identity-service/internal/model"
)

// PlatformRepository defines the interface for tenant database operations.
type PlatformRepository interface {
	CreatePlatform(ctx context.Context, platform *model.Platform) (*model.Platform, error)
	GetPlatform(ctx context.Context, id string) (*model.Platform, error)

	// ListPlatformsForIdentityWithProject returns the platforms in which the
	// identity is a member and that contain at least one project, ordered by
	// platform creation time ascending. The ordering makes personal-platform
	// resolution deterministic when an identity belongs to several platforms.
	ListPlatformsForIdentityWithProject(ctx context.Context, identityID string) ([]model.Platform, error)
}

const platformCollection = "platforms"

type platformMongoRepository struct {
	db       *mongo.Database
	users    UserRepository
	projects ProjectRepository
}

// NewPlatformMongoRepository creates a MongoDB repository for platforms.
func NewPlatformMongoRepository(db *mongo.Database, users UserRepository, projects ProjectRepository) PlatformRepository {
	return &platformMongoRepository{db: db, users: users, projects: projects}
}

func (r *platformMongoRepository) CreatePlatform(ctx context.Context, platform *model.Platform) (*model.Platform, error) {
	now := time.Now()
	platform.CreatedAt = now
	platform.UpdatedAt = now

	result, err := r.db.Collection(platformCollection).InsertOne(ctx, platform)
	if err != nil {
		return nil, err
	}

	if objectID, ok := result.InsertedID.(bson.ObjectID); ok {
		platform.ID = objectID
	} else {
		return nil, errors.New("failed to convert inserted ID to ObjectID")
	}

	return platform, nil
}

func (r *platformMongoRepository) GetPlatform(ctx context.Context, id string) (*model.Platform, error) {
	objectID, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}

	result := r.db.Collection(platformCollection).FindOne(ctx, bson.M{"_id": objectID})
	if result.Err() != nil {
		return nil, result.Err()
	}

	var platform model.Platform
	if err := result.Decode(&platform); err != nil {
		return nil, err
	}

	return &platform, nil
}

func (r *platformMongoRepository) ListPlatformsForIdentityWithProject(
	ctx context.Context,
	identityID string,
) ([]model.Platform, error) {
	memberships, err := r.users.ListUsersByIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}

	platformIDs := make([]bson.ObjectID, 0, len(memberships))
	for _, membership := range memberships {
		if membership.PlatformID == "" {
			continue
		}
		objectID, err := bson.ObjectIDFromHex(membership.PlatformID)
		if err != nil {
			return nil, err
		}
		platformIDs = append(platformIDs, objectID)
	}

	if len(platformIDs) == 0 {
		return nil, nil
	}

	cursor, err := r.db.Collection(platformCollection).Find(
		ctx,
		bson.M{"_id": bson.M{"$in": platformIDs}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}

	var candidates []model.Platform
	if err := cursor.All(ctx, &candidates); err != nil {
		return nil, err
	}

	platforms := make([]model.Platform, 0, len(candidates))
	for _, platform := range candidates {
		hasProject, err := r.projects.PlatformHasProject(ctx, platform.ID.Hex())
		if err != nil {
			return nil, err
		}
		if hasProject {
			platforms = append(platforms, platform)
		}
	}

	return platforms, nil
}
