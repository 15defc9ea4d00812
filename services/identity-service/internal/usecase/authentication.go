package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/pongsakornw/flowforge-api/services/identity-service/internal/config"
	"github.com/pongsakornw/flowforge-api/services/identity-service/internal/model"
	"github.com/pongsakornw/flowforge-api/services/identity-service/internal/repository"
	identitytypes "github.com/pongsakornw/flowforge-api/services/identity-service/pkg/types"
	"github.com/pongsakornw/flowforge-api/shared/apperror"
	"github.com/pongsakornw/flowforge-api/shared/auth"
	"github.com/pongsakornw/flowforge-api/shared/edition"
	"github.com/pongsakornw/flowforge-api/shared/security"
	"github.com/pongsakornw/flowforge-api/shared/validation"
)

// AuthenticationUsecase defines the interface for identity and tenancy
// resolution: sign-up, sign-in, federated sign-in and platform/project
// switching.
type AuthenticationUsecase interface {
	SignUp(ctx context.Context, params SignUpParams) (*identitytypes.AuthenticationResponse, error)
	SignInWithPassword(ctx context.Context, params SignInWithPasswordParams) (*identitytypes.AuthenticationResponse, error)
	FederatedAuthn(ctx context.Context, params FederatedAuthnParams) (*identitytypes.AuthenticationResponse, error)
	SwitchPlatform(ctx context.Context, params SwitchPlatformParams) (*identitytypes.AuthenticationResponse, error)
	SwitchProject(ctx context.Context, params SwitchProjectParams) (*identitytypes.AuthenticationResponse, error)
}

// SignUpParams defines the parameters for user sign-up. An empty PlatformID
// means a brand-new platform is created for the identity.
type SignUpParams struct {
	Email       string `validate:"required,email"`
	FirstName   string `validate:"required"`
	LastName    string `validate:"required"`
	Password    string `validate:"required,min=8"`
	PlatformID  string
	Provider    model.IdentityProvider `validate:"required"`
	TrackEvents bool
	NewsLetter  bool
}

// SignInWithPasswordParams defines the parameters for password sign-in.
type SignInWithPasswordParams struct {
	Email                string `validate:"required,email"`
	Password             string `validate:"required"`
	PredefinedPlatformID string
}

// FederatedAuthnParams defines the parameters for federated sign-in.
type FederatedAuthnParams struct {
	Email                string `validate:"required,email"`
	FirstName            string
	LastName             string
	Provider             model.IdentityProvider `validate:"required"`
	PredefinedPlatformID string
	TrackEvents          bool
	NewsLetter           bool
}

// SwitchPlatformParams defines the parameters for switching to a platform.
// CurrentPlatformID is the platform of the session asking for the switch.
type SwitchPlatformParams struct {
	IdentityID        string `validate:"required"`
	CurrentPlatformID string
	PlatformID        string `validate:"required"`
}

// SwitchProjectParams defines the parameters for switching to a project.
type SwitchProjectParams struct {
	IdentityID        string `validate:"required"`
	CurrentPlatformID string
	ProjectID         string `validate:"required"`
}

// Telemetry receives fire-and-forget sign-up events.
type Telemetry interface {
	IdentitySignedUp(ctx context.Context, identityID, userID, projectID string) error
}

// Newsletter receives fire-and-forget subscription requests.
type Newsletter interface {
	Subscribe(ctx context.Context, email, platformID string) error
}

type authenticationUsecase struct {
	identityRepo       repository.UserIdentityRepository
	userRepo           repository.UserRepository
	platformRepo       repository.PlatformRepository
	projectRepo        repository.ProjectRepository
	flagRepo           repository.PlatformFlagRepository
	otpUsecase         OtpUsecase
	jwtAuth            auth.JWTAuthenticator
	policy             edition.Policy
	validator          *validation.Validator
	telemetry          Telemetry
	newsletter         Newsletter
	identityServiceCfg *config.IdentityServiceConfig
	logger             *zerolog.Logger
}

// NewAuthenticationUsecase creates a new instance of AuthenticationUsecase.
// telemetry and newsletter may be nil; they are collaborators, not part of the
// resolution contract.
func NewAuthenticationUsecase(
	identityRepo repository.UserIdentityRepository,
	userRepo repository.UserRepository,
	platformRepo repository.PlatformRepository,
	projectRepo repository.ProjectRepository,
	flagRepo repository.PlatformFlagRepository,
	otpUsecase OtpUsecase,
	jwtAuth auth.JWTAuthenticator,
	policy edition.Policy,
	validator *validation.Validator,
	telemetry Telemetry,
	newsletter Newsletter,
	identityServiceCfg *config.IdentityServiceConfig,
	logger *zerolog.Logger,
) AuthenticationUsecase {
	return &authenticationUsecase{
		identityRepo:       identityRepo,
		userRepo:           userRepo,
		platformRepo:       platformRepo,
		projectRepo:        projectRepo,
		flagRepo:           flagRepo,
		otpUsecase:         otpUsecase,
		jwtAuth:            jwtAuth,
		policy:             policy,
		validator:          validator,
		telemetry:          telemetry,
		newsletter:         newsletter,
		identityServiceCfg: identityServiceCfg,
		logger:             logger,
	}
}

func (u *authenticationUsecase) SignUp(
	ctx context.Context,
	params SignUpParams,
) (*identitytypes.AuthenticationResponse, error) {
	if err := u.validator.Struct(params); err != nil {
		return nil, err
	}

	if params.PlatformID == "" {
		identity, err := u.createIdentity(ctx, params, params.Provider.Trusted())
		if err != nil {
			return nil, err
		}
		return u.createUserAndPlatform(ctx, identity, params.TrackEvents, params.NewsLetter)
	}

	// Policy checks run before any write so a rejected sign-up leaves no
	// partial identity behind.
	platform, err := u.getPlatform(ctx, params.PlatformID)
	if err != nil {
		return nil, err
	}
	if err := assertEmailAuthEnabled(platform, params.Provider); err != nil {
		return nil, err
	}
	if err := assertDomainAllowed(platform, params.Email); err != nil {
		return nil, err
	}

	// Invited sign-ups into an existing platform skip email verification.
	identity, err := u.createIdentity(ctx, params, true)
	if err != nil {
		return nil, err
	}

	user, err := u.userRepo.CreateUser(ctx, &model.User{
		IdentityID:   identity.ID.Hex(),
		PlatformID:   params.PlatformID,
		PlatformRole: model.PlatformRoleAdmin,
	})
	if err != nil {
		return nil, err
	}

	project, err := u.projectRepo.GetProjectByOwnerAndPlatform(ctx, user.ID.Hex(), params.PlatformID)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, err
		}
		project, err = u.projectRepo.CreateProject(ctx, &model.Project{
			DisplayName: identity.FirstName + "'s Project",
			OwnerID:     user.ID.Hex(),
			PlatformID:  params.PlatformID,
		})
		if err != nil {
			return nil, err
		}
	}

	return u.projectAndToken(ctx, user, params.PlatformID, project.ID.Hex())
}

func (u *authenticationUsecase) SignInWithPassword(
	ctx context.Context,
	params SignInWithPasswordParams,
) (*identitytypes.AuthenticationResponse, error) {
	if err := u.validator.Struct(params); err != nil {
		return nil, err
	}

	identity, err := u.verifyIdentityPassword(ctx, params.Email, params.Password)
	if err != nil {
		return nil, err
	}

	var platform *model.Platform
	if params.PredefinedPlatformID != "" {
		platform, err = u.getPlatform(ctx, params.PredefinedPlatformID)
		if err != nil {
			return nil, err
		}
	} else {
		platform, err = u.getPersonalPlatform(ctx, identity.ID.Hex())
		if err != nil {
			return nil, err
		}
		if platform == nil {
			return nil, apperror.New(apperror.CodeAuthentication, "no platform found for identity", nil)
		}
	}

	if err := assertEmailAuthEnabled(platform, model.IdentityProviderEmail); err != nil {
		return nil, err
	}
	if err := assertDomainAllowed(platform, params.Email); err != nil {
		return nil, err
	}

	user, err := u.getUserForPlatform(ctx, identity.ID.Hex(), platform.ID.Hex())
	if err != nil {
		return nil, err
	}

	return u.projectAndToken(ctx, user, platform.ID.Hex(), "")
}

func (u *authenticationUsecase) FederatedAuthn(
	ctx context.Context,
	params FederatedAuthnParams,
) (*identitytypes.AuthenticationResponse, error) {
	if err := u.validator.Struct(params); err != nil {
		return nil, err
	}

	identity, err := u.identityRepo.GetIdentityByEmail(ctx, params.Email)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, err
		}
		// First federated login for this email: fall back to sign-up with a
		// password the user never sees.
		password := u.identityServiceCfg.DefaultPassword
		if password == "" {
			password, err = security.GenerateRandomPassword()
			if err != nil {
				return nil, err
			}
		}
		return u.SignUp(ctx, SignUpParams{
			Email:       params.Email,
			FirstName:   params.FirstName,
			LastName:    params.LastName,
			Password:    password,
			PlatformID:  params.PredefinedPlatformID,
			Provider:    params.Provider,
			TrackEvents: params.TrackEvents,
			NewsLetter:  params.NewsLetter,
		})
	}

	// Known identity: refresh the profile fields the provider reported.
	identity, err = u.identityRepo.UpdateIdentity(ctx, identity.ID.Hex(), repository.UpdateIdentityParams{
		FirstName: &params.FirstName,
		LastName:  &params.LastName,
	})
	if err != nil {
		return nil, err
	}

	if params.PredefinedPlatformID == "" {
		personal, err := u.getPersonalPlatform(ctx, identity.ID.Hex())
		if err != nil {
			return nil, err
		}
		if personal == nil {
			return u.createUserAndPlatform(ctx, identity, params.TrackEvents, params.NewsLetter)
		}
		user, err := u.getUserForPlatform(ctx, identity.ID.Hex(), personal.ID.Hex())
		if err != nil {
			return nil, err
		}
		return u.projectAndToken(ctx, user, personal.ID.Hex(), "")
	}

	user, err := u.userRepo.GetUserByIdentityAndPlatform(ctx, identity.ID.Hex(), params.PredefinedPlatformID)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, err
		}
		// Joining an existing tenant, not owning one.
		user, err = u.userRepo.CreateUser(ctx, &model.User{
			IdentityID:   identity.ID.Hex(),
			PlatformID:   params.PredefinedPlatformID,
			PlatformRole: model.PlatformRoleMember,
		})
		if err != nil {
			return nil, err
		}
	}

	return u.projectAndToken(ctx, user, params.PredefinedPlatformID, "")
}

func (u *authenticationUsecase) SwitchPlatform(
	ctx context.Context,
	params SwitchPlatformParams,
) (*identitytypes.AuthenticationResponse, error) {
	if err := u.validator.Struct(params); err != nil {
		return nil, err
	}

	platforms, err := u.platformRepo.ListPlatformsForIdentityWithProject(ctx, params.IdentityID)
	if err != nil {
		return nil, err
	}

	var platform *model.Platform
	for i := range platforms {
		if platforms[i].ID.Hex() == params.PlatformID {
			platform = &platforms[i]
			break
		}
	}
	if platform == nil {
		return nil, apperror.New(apperror.CodeAuthorization, "the user is not a member of the platform", nil)
	}

	if err := u.assertCanSwitchToPlatform(params.CurrentPlatformID, platform); err != nil {
		return nil, err
	}

	user, err := u.getUserForPlatform(ctx, params.IdentityID, platform.ID.Hex())
	if err != nil {
		return nil, err
	}

	return u.projectAndToken(ctx, user, platform.ID.Hex(), "")
}

func (u *authenticationUsecase) SwitchProject(
	ctx context.Context,
	params SwitchProjectParams,
) (*identitytypes.AuthenticationResponse, error) {
	if err := u.validator.Struct(params); err != nil {
		return nil, err
	}

	project, err := u.projectRepo.GetProject(ctx, params.ProjectID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.New(apperror.CodeEntityNotFound, "project not found", map[string]any{
				"projectId": params.ProjectID,
			})
		}
		return nil, err
	}

	// The target platform is derived from the project, never trusted from the
	// caller.
	platform, err := u.getPlatform(ctx, project.PlatformID)
	if err != nil {
		return nil, err
	}

	if err := u.assertCanSwitchToPlatform(params.CurrentPlatformID, platform); err != nil {
		return nil, err
	}

	user, err := u.getUserForPlatform(ctx, params.IdentityID, platform.ID.Hex())
	if err != nil {
		return nil, err
	}

	return u.projectAndToken(ctx, user, platform.ID.Hex(), project.ID.Hex())
}

// createIdentity hashes the password and inserts the identity. The storage
// layer's unique email index decides races between concurrent sign-ups.
func (u *authenticationUsecase) createIdentity(
	ctx context.Context,
	params SignUpParams,
	verified bool,
) (*model.UserIdentity, error) {
	passwordHash, err := security.HashPassword(params.Password)
	if err != nil {
		return nil, err
	}

	identity, err := u.identityRepo.CreateIdentity(ctx, &model.UserIdentity{
		Email:        params.Email,
		FirstName:    params.FirstName,
		LastName:     params.LastName,
		PasswordHash: passwordHash,
		Verified:     verified,
		Provider:     params.Provider,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, apperror.New(apperror.CodeExistingUser, "email is already registered", map[string]any{
				"email": params.Email,
			})
		}
		return nil, err
	}

	return identity, nil
}

// createUserAndPlatform provisions a brand-new tenant for the identity: owner
// user, platform, default project, then the edition-dependent verification
// step.
func (u *authenticationUsecase) createUserAndPlatform(
	ctx context.Context,
	identity *model.UserIdentity,
	trackEvents, newsLetter bool,
) (*identitytypes.AuthenticationResponse, error) {
	user, err := u.userRepo.CreateUser(ctx, &model.User{
		IdentityID:   identity.ID.Hex(),
		PlatformRole: model.PlatformRoleAdmin,
	})
	if err != nil {
		return nil, err
	}

	platform, err := u.platformRepo.CreatePlatform(ctx, &model.Platform{
		Name:             identity.FirstName + "'s Platform",
		OwnerID:          user.ID.Hex(),
		Plan:             model.PlatformPlanCommunity,
		EmailAuthEnabled: true,
	})
	if err != nil {
		return nil, err
	}

	if err := u.userRepo.AddUserToPlatform(ctx, user.ID.Hex(), platform.ID.Hex()); err != nil {
		return nil, err
	}
	user.PlatformID = platform.ID.Hex()

	project, err := u.projectRepo.CreateProject(ctx, &model.Project{
		DisplayName: identity.FirstName + "'s Project",
		OwnerID:     user.ID.Hex(),
		PlatformID:  platform.ID.Hex(),
	})
	if err != nil {
		return nil, err
	}

	switch {
	case u.policy.OTPRequiredOnSignUp:
		err = u.otpUsecase.CreateAndSend(ctx, CreateAndSendOtpParams{
			PlatformID: platform.ID.Hex(),
			Email:      identity.Email,
			Type:       model.OtpTypeEmailVerification,
		})
		if err != nil {
			return nil, err
		}
	case u.policy.AutoVerifyIdentity:
		if err := u.identityRepo.SetVerified(ctx, identity.ID.Hex()); err != nil {
			return nil, err
		}
		identity.Verified = true
	}

	if err := u.flagRepo.SetFlagOnce(ctx, model.FlagUserCreated, true); err != nil {
		return nil, err
	}

	u.notifyCollaborators(ctx, identity, user, project, trackEvents, newsLetter)

	return u.projectAndToken(ctx, user, platform.ID.Hex(), project.ID.Hex())
}

// notifyCollaborators dispatches telemetry and newsletter side effects without
// blocking or failing the sign-up.
func (u *authenticationUsecase) notifyCollaborators(
	ctx context.Context,
	identity *model.UserIdentity,
	user *model.User,
	project *model.Project,
	trackEvents, newsLetter bool,
) {
	detached := context.WithoutCancel(ctx)

	if trackEvents && u.telemetry != nil {
		go func() {
			if err := u.telemetry.IdentitySignedUp(detached, identity.ID.Hex(), user.ID.Hex(), project.ID.Hex()); err != nil {
				u.logger.Warn().Err(err).Msg("failed to send sign-up telemetry")
			}
		}()
	}

	if newsLetter && u.newsletter != nil {
		go func() {
			if err := u.newsletter.Subscribe(detached, identity.Email, user.PlatformID); err != nil {
				u.logger.Warn().Err(err).Msg("failed to subscribe to newsletter")
			}
		}()
	}
}

// verifyIdentityPassword authenticates the email/password pair. Unknown
// emails and wrong passwords are indistinguishable to the caller.
func (u *authenticationUsecase) verifyIdentityPassword(
	ctx context.Context,
	email, password string,
) (*model.UserIdentity, error) {
	identity, err := u.identityRepo.GetIdentityByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.New(apperror.CodeAuthentication, "invalid credentials", nil)
		}
		return nil, err
	}

	if ok, err := security.VerifyPassword(password, identity.PasswordHash); err != nil {
		return nil, err
	} else if !ok {
		return nil, apperror.New(apperror.CodeAuthentication, "invalid credentials", nil)
	}

	if !identity.Verified {
		return nil, apperror.New(apperror.CodeAuthentication, "email is not verified", nil)
	}

	return identity, nil
}

// getPersonalPlatform finds the identity's personal platform: the earliest
// created platform with at least one project that is not an enterprise tenant
// on cloud. Returns nil when none qualifies.
func (u *authenticationUsecase) getPersonalPlatform(ctx context.Context, identityID string) (*model.Platform, error) {
	platforms, err := u.platformRepo.ListPlatformsForIdentityWithProject(ctx, identityID)
	if err != nil {
		return nil, err
	}

	for i := range platforms {
		if !u.policy.IsEnterpriseCustomerOnCloud(string(platforms[i].Plan)) {
			return &platforms[i], nil
		}
	}

	return nil, nil
}

// assertCanSwitchToPlatform enforces tenant isolation: an enterprise tenant on
// cloud can only be switched into from a session already scoped to it. The
// violation is reported as a membership failure on purpose; callers must not
// distinguish the two causes.
func (u *authenticationUsecase) assertCanSwitchToPlatform(currentPlatformID string, platform *model.Platform) error {
	samePlatform := currentPlatformID == platform.ID.Hex()
	if u.policy.IsEnterpriseCustomerOnCloud(string(platform.Plan)) && !samePlatform {
		return apperror.New(apperror.CodeAuthentication, "the user is not a member of the platform", nil)
	}
	return nil
}

func (u *authenticationUsecase) getUserForPlatform(
	ctx context.Context,
	identityID, platformID string,
) (*model.User, error) {
	user, err := u.userRepo.GetUserByIdentityAndPlatform(ctx, identityID, platformID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.New(apperror.CodeAuthorization, "the user is not a member of the platform", nil)
		}
		return nil, err
	}
	return user, nil
}

func (u *authenticationUsecase) getPlatform(ctx context.Context, platformID string) (*model.Platform, error) {
	platform, err := u.platformRepo.GetPlatform(ctx, platformID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.New(apperror.CodeEntityNotFound, "platform not found", map[string]any{
				"platformId": platformID,
			})
		}
		return nil, err
	}
	return platform, nil
}

// projectAndToken resolves the project scope (the user's earliest project in
// the platform when none is given) and issues the platform token.
func (u *authenticationUsecase) projectAndToken(
	ctx context.Context,
	user *model.User,
	platformID, projectID string,
) (*identitytypes.AuthenticationResponse, error) {
	if projectID == "" {
		project, err := u.projectRepo.GetProjectByOwnerAndPlatform(ctx, user.ID.Hex(), platformID)
		if errors.Is(err, mongo.ErrNoDocuments) {
			project, err = u.projectRepo.GetOldestProjectForPlatform(ctx, platformID)
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, apperror.New(apperror.CodeEntityNotFound, "no project found in platform", map[string]any{
					"platformId": platformID,
				})
			}
		}
		if err != nil {
			return nil, err
		}
		projectID = project.ID.Hex()
	}

	identity, err := u.identityRepo.GetIdentity(ctx, user.IdentityID)
	if err != nil {
		return nil, err
	}

	token, err := u.generatePlatformToken(user, platformID, projectID)
	if err != nil {
		return nil, err
	}

	return &identitytypes.AuthenticationResponse{
		Token:      token,
		UserID:     user.ID.Hex(),
		PlatformID: platformID,
		ProjectID:  projectID,
		Email:      identity.Email,
		FirstName:  identity.FirstName,
		LastName:   identity.LastName,
		Verified:   identity.Verified,
	}, nil
}

func (u *authenticationUsecase) generatePlatformToken(user *model.User, platformID, projectID string) (string, error) {
	now := time.Now()
	claims := identitytypes.PlatformTokenClaims{
		UserID:     user.ID.Hex(),
		PlatformID: platformID,
		ProjectID:  projectID,
		Role:       string(user.PlatformRole),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.Hex(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(u.identityServiceCfg.Token.ExpiresIn)),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    u.identityServiceCfg.Token.Issuer,
			Audience:  jwt.ClaimStrings{u.identityServiceCfg.Token.Issuer},
		},
	}

	return u.jwtAuth.GenerateToken(claims, u.identityServiceCfg.Token.Secret)
}

// assertEmailAuthEnabled rejects email-provider sign-ins for platforms that
// turned email auth off.
func assertEmailAuthEnabled(platform *model.Platform, provider model.IdentityProvider) error {
	if provider != model.IdentityProviderEmail {
		return nil
	}
	if !platform.EmailAuthEnabled {
		return apperror.New(apperror.CodeEmailAuthDisabled, "email authentication is disabled for this platform", nil)
	}
	return nil
}

// assertDomainAllowed enforces the platform's email-domain allow-list.
func assertDomainAllowed(platform *model.Platform, email string) error {
	if !platform.EnforceAllowedAuthDomains {
		return nil
	}

	at := strings.LastIndex(email, "@")
	domain := ""
	if at >= 0 {
		domain = email[at+1:]
	}

	for _, allowed := range platform.AllowedAuthDomains {
		if strings.EqualFold(domain, allowed) {
			return nil
		}
	}

	return apperror.New(apperror.CodeDomainNotAllowed, "email domain is not allowed", map[string]any{
		"domain": domain,
	})
}
