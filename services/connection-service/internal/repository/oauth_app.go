package repository

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pongsakornw/flowforge-api/services/connection-service/internal/model"
)

// OAuthAppRepository defines the interface for OAuth client registration
// database operations.
type OAuthAppRepository interface {
	// UpsertOAuthApp inserts or replaces the registration keyed by
	// (platform_id, piece_name, client_id).
	UpsertOAuthApp(ctx context.Context, app *model.OAuthApp) (*model.OAuthApp, error)

	// GetOAuthApp retrieves the registration for the exact
	// (piece_name, client_id, platform_id) triple. Several registrations may
	// exist for the same piece in one platform; the client id selects one.
	GetOAuthApp(ctx context.Context, pieceName, clientID, platformID string) (*model.OAuthApp, error)

	ListOAuthAppsByPlatform(ctx context.Context, platformID string) ([]model.OAuthApp, error)

	// DeleteOAuthAppsByPlatform removes all registrations of a platform, the
	// cascade for platform removal.
	DeleteOAuthAppsByPlatform(ctx context.Context, platformID string) (int64, error)
}

const oauthAppCollection = "oauth_apps"

type oauthAppMongoRepository struct {
	db *mongo.Database
}

// NewOAuthAppMongoRepository creates a MongoDB repository for OAuth client
// registrations. The (platform_id, piece_name, client_id) index is unique;
// there is deliberately no uniqueness on (platform_id, piece_name) alone.
func NewOAuthAppMongoRepository(ctx context.Context, logger *zerolog.Logger, db *mongo.Database) OAuthAppRepository {
	collection := db.Collection(oauthAppCollection)

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "platform_id", Value: 1},
				{Key: "piece_name", Value: 1},
				{Key: "client_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create oauth app indexes")
	}

	return &oauthAppMongoRepository{db: db}
}

func (r *oauthAppMongoRepository) UpsertOAuthApp(ctx context.Context, app *model.OAuthApp) (*model.OAuthApp, error) {
	now := time.Now()

	filter := bson.M{
		"platform_id": app.PlatformID,
		"piece_name":  app.PieceName,
		"client_id":   app.ClientID,
	}
	update := bson.M{
		"$set": bson.M{
			"client_secret": app.ClientSecret,
			"updated_at":    now,
		},
		"$setOnInsert": bson.M{
			"platform_id": app.PlatformID,
			"piece_name":  app.PieceName,
			"client_id":   app.ClientID,
			"created_at":  now,
		},
	}

	result := r.db.Collection(oauthAppCollection).FindOneAndUpdate(
		ctx,
		filter,
		update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)
	if result.Err() != nil {
		return nil, result.Err()
	}

	var stored model.OAuthApp
	if err := result.Decode(&stored); err != nil {
		return nil, err
	}

	return &stored, nil
}

func (r *oauthAppMongoRepository) GetOAuthApp(
	ctx context.Context,
	pieceName, clientID, platformID string,
) (*model.OAuthApp, error) {
	result := r.db.Collection(oauthAppCollection).FindOne(ctx, bson.M{
		"piece_name":  pieceName,
		"client_id":   clientID,
		"platform_id": platformID,
	})
	if result.Err() != nil {
		return nil, result.Err()
	}

	var app model.OAuthApp
	if err := result.Decode(&app); err != nil {
		return nil, err
	}

	return &app, nil
}

func (r *oauthAppMongoRepository) ListOAuthAppsByPlatform(
	ctx context.Context,
	platformID string,
) ([]model.OAuthApp, error) {
	cursor, err := r.db.Collection(oauthAppCollection).Find(
		ctx,
		bson.M{"platform_id": platformID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}

	var apps []model.OAuthApp
	if err := cursor.All(ctx, &apps); err != nil {
		return nil, err
	}

	return apps, nil
}

func (r *oauthAppMongoRepository) DeleteOAuthAppsByPlatform(ctx context.Context, platformID string) (int64, error) {
	result, err := r.db.Collection(oauthAppCollection).DeleteMany(ctx, bson.M{"platform_id": platformID})
	if err != nil {
		return 0, err
	}

	return result.DeletedCount, nil
}
