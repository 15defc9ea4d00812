package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pongsakornw/flowforge-api/services/identity-service/internal/config"
	"github.com/pongsakornw/flowforge-api/services/identity-service/internal/repository"
	"github.com/pongsakornw/flowforge-api/services/identity-service/internal/usecase"
	"github.com/pongsakornw/flowforge-api/shared/auth"
	"github.com/pongsakornw/flowforge-api/shared/edition"
	"github.com/pongsakornw/flowforge-api/shared/mailer"
	"github.com/pongsakornw/flowforge-api/shared/provider"
	"github.com/pongsakornw/flowforge-api/shared/validation"
)

const otpSweepInterval = time.Hour

// identityService is the composition root: the wired usecases the transport
// binding serves, plus the background maintenance the service owns itself.
type identityService struct {
	auth    usecase.AuthenticationUsecase
	otp     usecase.OtpUsecase
	google  *provider.GoogleProvider
	otpRepo repository.OtpRepository
	logger  *zerolog.Logger
}

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg := config.NewIdentityServiceConfig(&logger)

	ed, err := edition.Parse(cfg.Edition)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse edition")
	}
	policy := edition.NewPolicy(ed)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	identityRepo := repository.NewUserIdentityMongoRepository(ctx, &logger, db)
	userRepo := repository.NewUserMongoRepository(ctx, &logger, db)
	projectRepo := repository.NewProjectMongoRepository(db)
	platformRepo := repository.NewPlatformMongoRepository(db, userRepo, projectRepo)
	flagRepo := repository.NewPlatformFlagMongoRepository(db)
	otpRepo := repository.NewOtpMongoRepository(ctx, &logger, db)

	validator, err := validation.New()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create validator")
	}

	otpUsecase := usecase.NewOtpUsecase(
		identityRepo,
		otpRepo,
		mailer.NewMailer(&logger),
		cfg.FrontendURL,
		&logger,
	)

	jwtAuth := auth.NewJWTAuthenticator(cfg.Token.Issuer, cfg.Token.Issuer)

	service := &identityService{
		auth: usecase.NewAuthenticationUsecase(
			identityRepo,
			userRepo,
			platformRepo,
			projectRepo,
			flagRepo,
			otpUsecase,
			jwtAuth,
			policy,
			validator,
			nil,
			nil,
			cfg,
			&logger,
		),
		otp:     otpUsecase,
		otpRepo: otpRepo,
		logger:  &logger,
	}

	if cfg.Google.ClientID != "" {
		service.google, err = provider.NewGoogleProvider(
			ctx,
			cfg.Google.ClientID,
			cfg.Google.ClientSecret,
			cfg.Google.RedirectURL,
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create google provider")
		}
	}

	logger.Info().Str("edition", string(ed)).Msg("identity service started")
	service.run(ctx)
}

// run blocks until shutdown, sweeping expired one-time codes on an interval.
// The TTL index removes them eventually; the sweeper keeps the collection
// tight between index runs.
func (s *identityService) run(ctx context.Context) {
	ticker := time.NewTicker(otpSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("identity service shutting down")
			return
		case <-ticker.C:
			deleted, err := s.otpRepo.DeleteExpiredOtps(ctx)
			if err != nil {
				s.logger.Error().Err(err).Msg("failed to delete expired otps")
				continue
			}
			if deleted > 0 {
				s.logger.Info().Int64("deleted", deleted).Msg("deleted expired otps")
			}
		}
	}
}
