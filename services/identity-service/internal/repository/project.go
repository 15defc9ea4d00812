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

// ProjectRepository defines the interface for workspace database operations.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *model.Project) (*model.Project, error)
	GetProject(ctx context.Context, id string) (*model.Project, error)

	// GetProjectByOwnerAndPlatform returns the earliest-created project the
	// owner has in the platform.
	GetProjectByOwnerAndPlatform(ctx context.Context, ownerID, platformID string) (*model.Project, error)

	// GetOldestProjectForPlatform returns the earliest-created project in the
	// platform regardless of owner.
	GetOldestProjectForPlatform(ctx context.Context, platformID string) (*model.Project, error)

	PlatformHasProject(ctx context.Context, platformID string) (bool, error)
}

const projectCollection = "projects"

type projectMongoRepository struct {
	db *mongo.Database
}

// NewProjectMongoRepository creates a MongoDB repository for projects.
func NewProjectMongoRepository(db *mongo.Database) ProjectRepository {
	return &projectMongoRepository{db: db}
}

func (r *projectMongoRepository) CreateProject(ctx context.Context, project *model.Project) (*model.Project, error) {
	now := time.Now()
	project.CreatedAt = now
	project.UpdatedAt = now

	result, err := r.db.Collection(projectCollection).InsertOne(ctx, project)
	if err != nil {
		return nil, err
	}

	if objectID, ok := result.InsertedID.(bson.ObjectID); ok {
		project.ID = objectID
	} else {
		return nil, errors.New("failed to convert inserted ID to ObjectID")
	}

	return project, nil
}

func (r *projectMongoRepository) GetProject(ctx context.Context, id string) (*model.Project, error) {
	objectID, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}

	result := r.db.Collection(projectCollection).FindOne(ctx, bson.M{"_id": objectID})
	if result.Err() != nil {
		return nil, result.Err()
	}

	var project model.Project
	if err := result.Decode(&project); err != nil {
		return nil, err
	}

	return &project, nil
}

func (r *projectMongoRepository) GetProjectByOwnerAndPlatform(
	ctx context.Context,
	ownerID, platformID string,
) (*model.Project, error) {
	return r.findOneOldest(ctx, bson.M{"owner_id": ownerID, "platform_id": platformID})
}

func (r *projectMongoRepository) GetOldestProjectForPlatform(
	ctx context.Context,
	platformID string,
) (*model.Project, error) {
	return r.findOneOldest(ctx, bson.M{"platform_id": platformID})
}

func (r *projectMongoRepository) PlatformHasProject(ctx context.Context, platformID string) (bool, error) {
	count, err := r.db.Collection(projectCollection).CountDocuments(
		ctx,
		bson.M{"platform_id": platformID},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *projectMongoRepository) findOneOldest(ctx context.Context, filter bson.M) (*model.Project, error) {
	result := r.db.Collection(projectCollection).FindOne(
		ctx,
		filter,
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	)
	if result.Err() != nil {
		return nil, result.Err()
	}

	var project model.Project
	if err := result.Decode(&project); err != nil {
		return nil, err
	}

	return &project, nil
}
