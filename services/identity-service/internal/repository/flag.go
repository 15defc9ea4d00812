package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pongsakornw/flowforge-api/services/identity-service/internal/model"
)

// PlatformFlagRepository defines the interface for platform-wide flag
// operations.
type PlatformFlagRepository interface {
	// SetFlagOnce records the flag if it has not been recorded before. Later
	// calls are no-ops.
	SetFlagOnce(ctx context.Context, id string, value bool) error
	GetFlag(ctx context.Context, id string) (*model.PlatformFlag, error)
}

const flagCollection = "platform_flags"

type flagMongoRepository struct {
	db *mongo.Database
}

// NewPlatformFlagMongoRepository creates a MongoDB repository for flags.
func NewPlatformFlagMongoRepository(db *mongo.Database) PlatformFlagRepository {
	return &flagMongoRepository{db: db}
}

func (r *flagMongoRepository) SetFlagOnce(ctx context.Context, id string, value bool) error {
	now := time.Now()
	_, err := r.db.Collection(flagCollection).UpdateOne(
		ctx,
		bson.M{"_id": id},
		bson.M{"$setOnInsert": bson.M{
			"value":      value,
			"created_at": now,
			"updated_at": now,
		}},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

func (r *flagMongoRepository) GetFlag(ctx context.Context, id string) (*model.PlatformFlag, error) {
	result := r.db.Collection(flagCollection).FindOne(ctx, bson.M{"_id": id})
	if result.Err() != nil {
		return nil, result.Err()
	}

	var flag model.PlatformFlag
	if err := result.Decode(&flag); err != nil {
		return nil, err
	}

	return &flag, nil
}
