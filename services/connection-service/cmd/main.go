package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pongsakornw/flowforge-api/services/connection-service/internal/config"
	"github.com/pongsakornw/flowforge-api/services/connection-service/internal/repository"
	"github.com/pongsakornw/flowforge-api/services/connection-service/internal/usecase"
	"github.com/pongsakornw/flowforge-api/shared/edition"
	"github.com/pongsakornw/flowforge-api/shared/security"
)

// connectionService is the composition root: the wired OAuth2 service the
// transport binding serves, plus the registration store.
type connectionService struct {
	oauth2  usecase.OAuth2Service
	appRepo repository.OAuthAppRepository
	logger  *zerolog.Logger
}

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg := config.NewConnectionServiceConfig(&logger)

	ed, err := edition.Parse(cfg.Edition)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse edition")
	}
	policy := edition.NewPolicy(ed)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service := &connectionService{logger: &logger}

	var encryptor *security.Encryptor
	if cfg.OAuth2Mode == config.OAuth2ModeDirect {
		encryptor, err = security.NewEncryptorFromHex(cfg.EncryptionKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create encryptor")
		}

		client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to mongodb")
		}
		defer func() {
			if err := client.Disconnect(context.Background()); err != nil {
				logger.Error().Err(err).Msg("failed to disconnect from mongodb")
			}
		}()

		db := client.Database(cfg.MongoDatabase)
		service.appRepo = repository.NewOAuthAppMongoRepository(ctx, &logger, db)
	}

	service.oauth2, err = usecase.NewOAuth2Service(cfg, policy, service.appRepo, encryptor, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create oauth2 service")
	}

	logger.Info().
		Str("edition", string(ed)).
		Str("oauth2_mode", string(cfg.OAuth2Mode)).
		Msg("connection service started")

	<-ctx.Done()
	logger.Info().Msg("connection service shutting down")
}
