package usecase

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
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

const testTokenSecret = "test-token-secret"

var (
	testPasswordHashOnce sync.Once
	testPasswordHash     string
)

// seededPasswordHash hashes the shared test password once; argon2 is too slow
// to rehash per seeded identity.
func seededPasswordHash(t *testing.T) string {
	t.Helper()
	testPasswordHashOnce.Do(func() {
		hash, err := security.HashPassword("sup3r-secret-pass")
		if err != nil {
			t.Fatalf("hash test password: %v", err)
		}
		testPasswordHash = hash
	})
	return testPasswordHash
}

func duplicateKeyError() error {
	return mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000}}}
}

// memoryClock hands out strictly increasing timestamps so created_at ordering
// is deterministic in the fakes.
type memoryClock struct {
	mu  sync.Mutex
	seq int64
}

func (c *memoryClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return time.Unix(c.seq, 0)
}

type identityStore struct {
	mu    sync.Mutex
	now   func() time.Time
	items []model.UserIdentity
}

func (s *identityStore) CreateIdentity(_ context.Context, identity *model.UserIdentity) (*model.UserIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.items {
		if existing.Email == identity.Email {
			return nil, duplicateKeyError()
		}
	}
	identity.ID = bson.NewObjectID()
	identity.CreatedAt = s.now()
	identity.UpdatedAt = identity.CreatedAt
	s.items = append(s.items, *identity)
	clone := *identity
	return &clone, nil
}

func (s *identityStore) GetIdentity(_ context.Context, id string) (*model.UserIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, identity := range s.items {
		if identity.ID.Hex() == id {
			clone := identity
			return &clone, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (s *identityStore) GetIdentityByEmail(_ context.Context, email string) (*model.UserIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, identity := range s.items {
		if identity.Email == email {
			clone := identity
			return &clone, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (s *identityStore) UpdateIdentity(
	_ context.Context,
	id string,
	params repository.UpdateIdentityParams,
) (*model.UserIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID.Hex() != id {
			continue
		}
		if params.FirstName != nil {
			s.items[i].FirstName = *params.FirstName
		}
		if params.LastName != nil {
			s.items[i].LastName = *params.LastName
		}
		if params.PasswordHash != nil {
			s.items[i].PasswordHash = *params.PasswordHash
		}
		s.items[i].UpdatedAt = s.now()
		clone := s.items[i]
		return &clone, nil
	}
	return nil, mongo.ErrNoDocuments
}

func (s *identityStore) SetVerified(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID.Hex() == id {
			s.items[i].Verified = true
			return nil
		}
	}
	return nil
}

type userStore struct {
	mu    sync.Mutex
	now   func() time.Time
	items []model.User
}

func (s *userStore) CreateUser(_ context.Context, user *model.User) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.items {
		if existing.IdentityID == user.IdentityID && existing.PlatformID == user.PlatformID {
			return nil, duplicateKeyError()
		}
	}
	user.ID = bson.NewObjectID()
	user.CreatedAt = s.now()
	user.UpdatedAt = user.CreatedAt
	s.items = append(s.items, *user)
	clone := *user
	return &clone, nil
}

func (s *userStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.items {
		if user.ID.Hex() == id {
			clone := user
			return &clone, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (s *userStore) GetUserByIdentityAndPlatform(_ context.Context, identityID, platformID string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.items {
		if user.IdentityID == identityID && user.PlatformID == platformID {
			clone := user
			return &clone, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (s *userStore) ListUsersByIdentity(_ context.Context, identityID string) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var users []model.User
	for _, user := range s.items {
		if user.IdentityID == identityID {
			users = append(users, user)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users, nil
}

func (s *userStore) AddUserToPlatform(_ context.Context, id, platformID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID.Hex() == id {
			s.items[i].PlatformID = platformID
			return nil
		}
	}
	return nil
}

type projectStore struct {
	mu    sync.Mutex
	now   func() time.Time
	items []model.Project
}

func (s *projectStore) CreateProject(_ context.Context, project *model.Project) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	project.ID = bson.NewObjectID()
	project.CreatedAt = s.now()
	project.UpdatedAt = project.CreatedAt
	s.items = append(s.items, *project)
	clone := *project
	return &clone, nil
}

func (s *projectStore) GetProject(_ context.Context, id string) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, project := range s.items {
		if project.ID.Hex() == id {
			clone := project
			return &clone, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (s *projectStore) GetProjectByOwnerAndPlatform(_ context.Context, ownerID, platformID string) (*model.Project, error) {
	return s.findOldest(func(p model.Project) bool {
		return p.OwnerID == ownerID && p.PlatformID == platformID
	})
}

func (s *projectStore) GetOldestProjectForPlatform(_ context.Context, platformID string) (*model.Project, error) {
	return s.findOldest(func(p model.Project) bool { return p.PlatformID == platformID })
}

func (s *projectStore) PlatformHasProject(_ context.Context, platformID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, project := range s.items {
		if project.PlatformID == platformID {
			return true, nil
		}
	}
	return false, nil
}

func (s *projectStore) findOldest(match func(model.Project) bool) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *model.Project
	for i := range s.items {
		if !match(s.items[i]) {
			continue
		}
		if oldest == nil || s.items[i].CreatedAt.Before(oldest.CreatedAt) {
			oldest = &s.items[i]
		}
	}
	if oldest == nil {
		return nil, mongo.ErrNoDocuments
	}
	clone := *oldest
	return &clone, nil
}

type platformStore struct {
	mu       sync.Mutex
	now      func() time.Time
	items    []model.Platform
	users    *userStore
	projects *projectStore
}

func (s *platformStore) CreatePlatform(_ context.Context, platform *model.Platform) (*model.Platform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	platform.ID = bson.NewObjectID()
	platform.CreatedAt = s.now()
	platform.UpdatedAt = platform.CreatedAt
	s.items = append(s.items, *platform)
	clone := *platform
	return &clone, nil
}

func (s *platformStore) GetPlatform(_ context.Context, id string) (*model.Platform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, platform := range s.items {
		if platform.ID.Hex() == id {
			clone := platform
			return &clone, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (s *platformStore) ListPlatformsForIdentityWithProject(
	ctx context.Context,
	identityID string,
) ([]model.Platform, error) {
	memberships, err := s.users.ListUsersByIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}

	memberOf := make(map[string]bool, len(memberships))
	for _, membership := range memberships {
		memberOf[membership.PlatformID] = true
	}

	s.mu.Lock()
	var platforms []model.Platform
	for _, platform := range s.items {
		if memberOf[platform.ID.Hex()] {
			platforms = append(platforms, platform)
		}
	}
	s.mu.Unlock()

	sort.Slice(platforms, func(i, j int) bool {
		return platforms[i].CreatedAt.Before(platforms[j].CreatedAt)
	})

	withProject := platforms[:0]
	for _, platform := range platforms {
		hasProject, err := s.projects.PlatformHasProject(ctx, platform.ID.Hex())
		if err != nil {
			return nil, err
		}
		if hasProject {
			withProject = append(withProject, platform)
		}
	}
	return withProject, nil
}

type flagStore struct {
	mu    sync.Mutex
	now   func() time.Time
	items map[string]model.PlatformFlag
}

func (s *flagStore) SetFlagOnce(_ context.Context, id string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; ok {
		return nil
	}
	now := s.now()
	s.items[id] = model.PlatformFlag{ID: id, Value: value, CreatedAt: now, UpdatedAt: now}
	return nil
}

func (s *flagStore) GetFlag(_ context.Context, id string) (*model.PlatformFlag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flag, ok := s.items[id]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	return &flag, nil
}

// otpRecorder captures CreateAndSend calls instead of emailing codes.
type otpRecorder struct {
	mu   sync.Mutex
	sent []CreateAndSendOtpParams
}

func (r *otpRecorder) CreateAndSend(_ context.Context, params CreateAndSendOtpParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, params)
	return nil
}

func (r *otpRecorder) VerifyOtp(context.Context, VerifyOtpParams) error {
	return nil
}

func (r *otpRecorder) sentCodes() []CreateAndSendOtpParams {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CreateAndSendOtpParams(nil), r.sent...)
}

type authFixture struct {
	identities *identityStore
	users      *userStore
	platforms  *platformStore
	projects   *projectStore
	flags      *flagStore
	otps       *otpRecorder
	jwtAuth    auth.JWTAuthenticator
	usecase    AuthenticationUsecase
}

func newAuthFixture(t *testing.T, ed edition.Edition) *authFixture {
	t.Helper()

	clock := &memoryClock{}
	identities := &identityStore{now: clock.now}
	users := &userStore{now: clock.now}
	projects := &projectStore{now: clock.now}
	platforms := &platformStore{now: clock.now, users: users, projects: projects}
	flags := &flagStore{now: clock.now, items: map[string]model.PlatformFlag{}}
	otps := &otpRecorder{}

	validator, err := validation.New()
	require.NoError(t, err)

	cfg := &config.IdentityServiceConfig{
		Edition: string(ed),
		Token: config.TokenConfig{
			Secret:    testTokenSecret,
			Issuer:    "flowforge",
			ExpiresIn: time.Hour,
		},
	}

	jwtAuth := auth.NewJWTAuthenticator("flowforge", "flowforge")
	logger := zerolog.Nop()

	uc := NewAuthenticationUsecase(
		identities,
		users,
		platforms,
		projects,
		flags,
		otps,
		jwtAuth,
		edition.NewPolicy(ed),
		validator,
		nil,
		nil,
		cfg,
		&logger,
	)

	return &authFixture{
		identities: identities,
		users:      users,
		platforms:  platforms,
		projects:   projects,
		flags:      flags,
		otps:       otps,
		jwtAuth:    jwtAuth,
		usecase:    uc,
	}
}

func (f *authFixture) seedIdentity(t *testing.T, email string, verified bool) *model.UserIdentity {
	t.Helper()
	identity, err := f.identities.CreateIdentity(context.Background(), &model.UserIdentity{
		Email:        email,
		FirstName:    "Seed",
		LastName:     "User",
		PasswordHash: seededPasswordHash(t),
		Verified:     verified,
		Provider:     model.IdentityProviderEmail,
	})
	require.NoError(t, err)
	return identity
}

func (f *authFixture) seedPlatform(t *testing.T, plan model.PlatformPlan, mutate func(*model.Platform)) *model.Platform {
	t.Helper()
	platform := &model.Platform{
		Name:             "Seed Platform",
		Plan:             plan,
		EmailAuthEnabled: true,
	}
	if mutate != nil {
		mutate(platform)
	}
	platform, err := f.platforms.CreatePlatform(context.Background(), platform)
	require.NoError(t, err)
	return platform
}

func (f *authFixture) seedMember(t *testing.T, identityID, platformID string, role model.PlatformRole) *model.User {
	t.Helper()
	user, err := f.users.CreateUser(context.Background(), &model.User{
		IdentityID:   identityID,
		PlatformID:   platformID,
		PlatformRole: role,
	})
	require.NoError(t, err)
	return user
}

func (f *authFixture) seedProject(t *testing.T, ownerID, platformID string) *model.Project {
	t.Helper()
	project, err := f.projects.CreateProject(context.Background(), &model.Project{
		DisplayName: "Seed Project",
		OwnerID:     ownerID,
		PlatformID:  platformID,
	})
	require.NoError(t, err)
	return project
}

func (f *authFixture) decodeToken(t *testing.T, token string) *identitytypes.PlatformTokenClaims {
	t.Helper()
	claims := &identitytypes.PlatformTokenClaims{}
	_, err := f.jwtAuth.ValidateTokenWithClaims(token, testTokenSecret, claims)
	require.NoError(t, err)
	return claims
}

func signUpParams(email string) SignUpParams {
	return SignUpParams{
		Email:     email,
		FirstName: "Ada",
		LastName:  "Lovelace",
		Password:  "sup3r-secret-pass",
		Provider:  model.IdentityProviderEmail,
	}
}

func TestSignUpNewPlatform(t *testing.T) {
	ctx := context.Background()

	t.Run("provisions exactly one platform and project", func(t *testing.T) {
		f := newAuthFixture(t, edition.Community)

		resp, err := f.usecase.SignUp(ctx, signUpParams("ada@example.com"))
		require.NoError(t, err)
		require.NotEmpty(t, resp.Token)
		require.Equal(t, "ada@example.com", resp.Email)
		require.Equal(t, "Ada", resp.FirstName)

		require.Len(t, f.platforms.items, 1)
		platform := f.platforms.items[0]
		require.Equal(t, "Ada's Platform", platform.Name)
		require.Equal(t, model.PlatformPlanCommunity, platform.Plan)
		require.True(t, platform.EmailAuthEnabled)
		require.Equal(t, resp.UserID, platform.OwnerID)
		require.Equal(t, platform.ID.Hex(), resp.PlatformID)

		require.Len(t, f.projects.items, 1)
		project := f.projects.items[0]
		require.Equal(t, "Ada's Project", project.DisplayName)
		require.Equal(t, resp.UserID, project.OwnerID)
		require.Equal(t, platform.ID.Hex(), project.PlatformID)
		require.Equal(t, project.ID.Hex(), resp.ProjectID)

		require.Len(t, f.users.items, 1)
		require.Equal(t, model.PlatformRoleAdmin, f.users.items[0].PlatformRole)
		require.Equal(t, platform.ID.Hex(), f.users.items[0].PlatformID)

		claims := f.decodeToken(t, resp.Token)
		require.Equal(t, resp.UserID, claims.UserID)
		require.Equal(t, resp.PlatformID, claims.PlatformID)
		require.Equal(t, resp.ProjectID, claims.ProjectID)
		require.Equal(t, string(model.PlatformRoleAdmin), claims.Role)

		_, err = f.flags.GetFlag(ctx, model.FlagUserCreated)
		require.NoError(t, err)
	})

	t.Run("cloud requires otp verification", func(t *testing.T) {
		f := newAuthFixture(t, edition.Cloud)

		resp, err := f.usecase.SignUp(ctx, signUpParams("ada@example.com"))
		require.NoError(t, err)
		require.False(t, resp.Verified)

		sent := f.otps.sentCodes()
		require.Len(t, sent, 1)
		require.Equal(t, "ada@example.com", sent[0].Email)
		require.Equal(t, model.OtpTypeEmailVerification, sent[0].Type)
		require.Equal(t, resp.PlatformID, sent[0].PlatformID)
	})

	t.Run("community auto-verifies", func(t *testing.T) {
		f := newAuthFixture(t, edition.Community)

		resp, err := f.usecase.SignUp(ctx, signUpParams("ada@example.com"))
		require.NoError(t, err)
		require.True(t, resp.Verified)
		require.Empty(t, f.otps.sentCodes())

		stored, err := f.identities.GetIdentityByEmail(ctx, "ada@example.com")
		require.NoError(t, err)
		require.True(t, stored.Verified)
	})

	t.Run("enterprise auto-verifies", func(t *testing.T) {
		f := newAuthFixture(t, edition.Enterprise)

		resp, err := f.usecase.SignUp(ctx, signUpParams("ada@example.com"))
		require.NoError(t, err)
		require.True(t, resp.Verified)
		require.Empty(t, f.otps.sentCodes())
	})

	t.Run("duplicate email is rejected", func(t *testing.T) {
		f := newAuthFixture(t, edition.Community)

		_, err := f.usecase.SignUp(ctx, signUpParams("ada@example.com"))
		require.NoError(t, err)

		_, err = f.usecase.SignUp(ctx, signUpParams("ada@example.com"))
		require.True(t, apperror.IsCode(err, apperror.CodeExistingUser))
	})

	t.Run("invalid params are rejected", func(t *testing.T) {
		f := newAuthFixture(t, edition.Community)

		params := signUpParams("not-an-email")
		_, err := f.usecase.SignUp(ctx, params)
		require.Error(t, err)

		params = signUpParams("ada@example.com")
		params.Password = "short"
		_, err = f.usecase.SignUp(ctx, params)
		require.Error(t, err)
	})
}

func TestSignUpIntoExistingPlatform(t *testing.T) {
	ctx := context.Background()

	t.Run("email auth disabled aborts before any write", func(t *testing.T) {
		f := newAuthFixture(t, edition.Cloud)
		platform := f.seedPlatform(t, model.PlatformPlanCommunity, func(p *model.Platform) {
			p.EmailAuthEnabled = false
		})

		params := signUpParams("ada@example.com")
		params.PlatformID = platform.ID.Hex()
		_, err := f.usecase.SignUp(ctx, params)
		require.True(t, apperror.IsCode(err, apperror.CodeEmailAuthDisabled))
		require.Empty(t, f.identities.items)
		require.Empty(t, f.users.items)
	})

	t.Run("disallowed domain aborts before any write", func(t *testing.T) {
		f := newAuthFixture(t, edition.Cloud)
		platform := f.seedPlatform(t, model.PlatformPlanCommunity, func(p *model.Platform) {
			p.EnforceAllowedAuthDomains = true
			p.AllowedAuthDomains = []string{"corp.example"}
		})

		params := signUpParams("ada@other.example")
		params.PlatformID = platform.ID.Hex()
		_, err := f.usecase.SignUp(ctx, params)
		require.True(t, apperror.IsCode(err, apperror.CodeDomainNotAllowed))
		require.Empty(t, f.identities.items)
	})

	t.Run("allowed domain comparison is case-insensitive", func(t *testing.T) {
		f := newAuthFixture(t, edition.Cloud)
		platform := f.seedPlatform(t, model.PlatformPlanCommunity, func(p *model.Platform) {
			p.EnforceAllowedAuthDomains = true
			p.AllowedAuthDomains = []string{"Corp.Example"}
		})

		params := signUpParams("ada@corp.example")
		params.PlatformID = platform.ID.Hex()
		resp, err := f.usecase.SignUp(ctx, params)
		require.NoError(t, err)
		require.Equal(t, platform.ID.Hex(), resp.PlatformID)
	})

	t.Run("invited sign-up skips verification and gets a project", func(t *testing.T) {
		f := newAuthFixture(t, edition.Cloud)
		platform := f.seedPlatform(t, model.PlatformPlanCommunity, nil)

		params := signUpParams("ada@example.com")
		params.PlatformID = platform.ID.Hex()
		resp, err := f.usecase.SignUp(ctx, params)
		require.NoError(t, err)
		require.True(t, resp.Verified)
		require.Empty(t, f.otps.sentCodes())

		// No new platform is provisioned for an invited identity.
		require.Len(t, f.platforms.items, 1)
		require.Len(t, f.users.items, 1)
		require.Equal(t, model.PlatformRoleAdmin, f.users.items[0].PlatformRole)

		require.Len(t, f.projects.items, 1)
		require.Equal(t, resp.UserID, f.projects.items[0].OwnerID)

		_, err = f.usecase.SignUp(ctx, params)
		require.True(t, apperror.IsCode(err, apperror.CodeExistingUser))
	})

	t.Run("unknown platform id", func(t *testing.T) {
		f := newAuthFixture(t, edition.Cloud)

		params := signUpParams("ada@example.com")
		params.PlatformID = bson.NewObjectID().Hex()
		_, err := f.usecase.SignUp(ctx, params)
		require.True(t, apperror.IsCode(err, apperror.CodeEntityNotFound))
	})
}

func TestSignInWithPassword(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves the personal platform", func(t *testing.T) {
		f := newAuthFixture(t, edition.Community)
		signedUp, err := f.usecase.SignUp(ctx, signUpParams("ada@example.com"))
		require.NoError(t, err)

		resp, err := f.usecase.SignInWithPassword(ctx, SignInWithPasswordParams{
			Email:    "ada@example.com",
			Password: "sup3r-secret-pass",
		})
		require.NoError(t, err)
		require.Equal(t, signedUp.PlatformID, resp.PlatformID)
		require.Equal(t, signedUp.ProjectID, resp.ProjectID)
		require.Equal(t, signedUp.UserID, resp.UserID)
	})

	t.Run("wrong password and unknown email are indistinguishable", func(t *testing.T) {
		f := newAuthFixture(t, edition.Community)
		_, err := f.usecase.SignUp(ctx, signUpParams("ada@example.com"))
		require.NoError(t, err)

		_, err = f.usecase.SignInWithPassword(ctx, SignInWithPasswordParams{
			Email:    "ada@example.com",
			Password: "wrong-password",
		})
		require.True(t, apperror.IsCode(err, apperror.CodeAuthentication))
		wrongPassword := err.Error()

		_, err = f.usecase.SignInWithPassword(ctx, SignInWithPasswordParams{
			Email:    "nobody@example.com",
			Password: "sup3r-secret-pass",
		})
		require.True(t, apperror.IsCode(err, apperror.CodeAuthentication))
		require.Equal(t, wrongPassword, err.Error())
	})

	t.Run("unverified identity cannot sign in", func(t *testing.T) {
		f := newAuthFixture(t, edition.Cloud)
		_, err := f.usecase.SignUp(ctx, signUpParams("ada@example.com"))
		require.NoError(t, err)

		_, err = f.usecase.SignInWithPassword(ctx, SignInWithPasswordParams{
			Email:    "ada@example.com",
			Password: "sup3r-secret-pass",
		})
		require.True(t, apperror.IsCode(err, apperror.CodeAuthentication))
	})

	t.Run("personal platform is the earliest created", func(t *testing.T) {
		f := newAuthFixture(t, edition.Community)
		identity := f.seedIdentity(t, "ada@example.com", true)

		first := f.seedPlatform(t, model.PlatformPlanCommunity, nil)
		second := f.seedPlatform(t, model.PlatformPlanCommunity, nil)
		firstUser := f.seedMember(t, identity.ID.Hex(), first.ID.Hex(), model.PlatformRoleAdmin)
		f.seedMember(t, identity.ID.Hex(), second.ID.Hex(), model.PlatformRoleMember)
		f.seedProject(t, firstUser.ID.Hex(), first.ID.Hex())
		f.seedProject(t, "", second.ID.Hex())

		resp, err := f.usecase.SignInWithPassword(ctx, SignInWithPasswordParams{
			Email:    "ada@example.com",
			Password: "sup3r-secret-pass",
		})
		require.NoError(t, err)
		require.Equal(t, first.ID.Hex(), resp.PlatformID)
	})

	t.Run("platforms without projects are skipped", func(t *testing.T) {
		f := newAuthFixture(t, edition.Community)
		identity := f.seedIdentity(t, "ada@example.com", true)

		empty := f.seedPlatform(t, model.PlatformPlanCommunity, nil)
		populated := f.seedPlatform(t, model.PlatformPlanCommunity, nil)
		f.seedMember(t, identity.ID.Hex(), empty.ID.Hex(), model.PlatformRoleAdmin)
		member := f.seedMember(t, identity.ID.Hex(), populated.ID.Hex(), model.PlatformRoleMember)
		f.seedProject(t, member.ID.Hex(), populated.ID.Hex())

		resp, err := f.usecase.SignInWithPassword(ctx, SignInWithPasswordParams{
			Email:    "ada@example.com",
			Password: "sup3r-secret-pass",
		})
		require.NoError(t, err)
		require.Equal(t, populated.ID.Hex(), resp.PlatformID)
	})

	t.Run("enterprise tenants on cloud never resolve as personal", func(t *testing.T) {
		f := newAuthFixture(t, edition.Cloud)
		identity := f.seedIdentity(t, "ada@example.com", true)

		enterprise := f.seedPlatform(t, model.PlatformPlanEnterprise, nil)
		member := f.seedMember(t, identity.ID.Hex(), enterprise.ID.Hex(), model.PlatformRoleMember)
		f.seedProject(t, member.ID.Hex(), enterprise.ID.Hex())

		_, err := f.usecase.SignInWithPassword(ctx, SignInWithPasswordParams{
			Email:    "ada@example.com",
			Password: "sup3r-secret-pass",
		})
		require.True(t, apperror.IsCode(err, apperror.CodeAuthentication))
	})

	t.Run("predefined platform requires membership", func(t *testing.T) {
		f := newAuthFixture(t, edition.Community)
		f.seedIdentity(t, "ada@example.com", true)
		other := f.seedPlatform(t, model.PlatformPlanCommunity, nil)
		f.seedProject(t, "", other.ID.Hex())

		_, err := f.usecase.SignInWithPassword(ctx, SignInWithPasswordParams{
			Email:                "ada@example.com",
			Password:             "sup3r-secret-pass",
			PredefinedPlatformID: other.ID.Hex(),
		})
		require.True(t, apperror.IsCode(err, apperror.CodeAuthorization))
	})

	t.Run("email auth disabled on resolved platform", func(t *testing.T) {
		f := newAuthFixture(t, edition.Community)
		identity := f.seedIdentity(t, "ada@example.com", true)
		platform := f.seedPlatform(t, model.PlatformPlanCommunity, func(p *model.Platform) {
			p.EmailAuthEnabled = false
		})
		member := f.seedMember(t, identity.ID.Hex(), platform.ID.Hex(), model.PlatformRoleAdmin)
		f.seedProject(t, member.ID.Hex(), platform.ID.Hex())

		_, err := f.usecase.SignInWithPassword(ctx, SignInWithPasswordParams{
			Email:    "ada@example.com",
			Password: "sup3r-secret-pass",
		})
		require.True(t, apperror.IsCode(err, apperror.CodeEmailAuthDisabled))
	})
}

func TestFederatedAuthn(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown email provisions a tenant", func(t *testing.T) {
		f := newAuthFixture(t, edition.Community)

		resp, err := f.usecase.FederatedAuthn(ctx, FederatedAuthnParams{
			Email:     "ada@example.com",
			FirstName: "Ada",
			LastName:  "Lovelace",
			Provider:  model.IdentityProviderGoogle,
		})
		require.NoError(t, err)
		require.True(t, resp.Verified)
		require.Len(t, f.platforms.items, 1)
		require.Len(t, f.projects.items, 1)

		stored, err := f.identities.GetIdentityByEmail(ctx, "ada@example.com")
		require.NoError(t, err)
		require.Equal(t, model.IdentityProviderGoogle, stored.Provider)
		require.NotEmpty(t, stored.PasswordHash)
	})

	t.Run("known identity gets its profile refreshed", func(t *testing.T) {
		f := newAuthFixture(t, edition.Community)
		signedUp, err := f.usecase.SignUp(ctx, signUpParams("ada@example.com"))
		require.NoError(t, err)

		resp, err := f.usecase.FederatedAuthn(ctx, FederatedAuthnParams{
			Email:     "ada@example.com",
			FirstName: "Augusta",
			LastName:  "King",
			Provider:  model.IdentityProviderGoogle,
		})
		require.NoError(t, err)
		require.Equal(t, signedUp.PlatformID, resp.PlatformID)
		require.Equal(t, "Augusta", resp.FirstName)
		require.Equal(t, "King", resp.LastName)

		stored, err := f.identities.GetIdentityByEmail(ctx, "ada@example.com")
		require.NoError(t, err)
		require.Equal(t, "Augusta", stored.FirstName)
	})

	t.Run("known identity joins a predefined platform as member", func(t *testing.T) {
		f := newAuthFixture(t, edition.Community)
		_, err := f.usecase.SignUp(ctx, signUpParams("ada@example.com"))
		require.NoError(t, err)

		owner, err := f.usecase.SignUp(ctx, signUpParams("owner@example.com"))
		require.NoError(t, err)

		resp, err := f.usecase.FederatedAuthn(ctx, FederatedAuthnParams{
			Email:                "ada@example.com",
			FirstName:            "Ada",
			LastName:             "Lovelace",
			Provider:             model.IdentityProviderGoogle,
			PredefinedPlatformID: owner.PlatformID,
		})
		require.NoError(t, err)
		require.Equal(t, owner.PlatformID, resp.PlatformID)

		claims := f.decodeToken(t, resp.Token)
		require.Equal(t, string(model.PlatformRoleMember), claims.Role)

		// The second federated sign-in reuses the membership.
		usersBefore := len(f.users.items)
		again, err := f.usecase.FederatedAuthn(ctx, FederatedAuthnParams{
			Email:                "ada@example.com",
			FirstName:            "Ada",
			LastName:             "Lovelace",
			Provider:             model.IdentityProviderGoogle,
			PredefinedPlatformID: owner.PlatformID,
		})
		require.NoError(t, err)
		require.Equal(t, resp.UserID, again.UserID)
		require.Len(t, f.users.items, usersBefore)
	})

	t.Run("known identity without a platform gets one", func(t *testing.T) {
		f := newAuthFixture(t, edition.Community)
		f.seedIdentity(t, "ada@example.com", true)

		resp, err := f.usecase.FederatedAuthn(ctx, FederatedAuthnParams{
			Email:     "ada@example.com",
			FirstName: "Ada",
			LastName:  "Lovelace",
			Provider:  model.IdentityProviderGoogle,
		})
		require.NoError(t, err)
		require.NotEmpty(t, resp.PlatformID)
		require.Len(t, f.platforms.items, 1)
	})
}

func TestSwitchPlatform(t *testing.T) {
	ctx := context.Background()

	// One identity, a community platform and an enterprise platform on cloud,
	// member of both.
	setup := func(t *testing.T) (*authFixture, *model.UserIdentity, *model.Platform, *model.Platform) {
		f := newAuthFixture(t, edition.Cloud)
		identity := f.seedIdentity(t, "ada@example.com", true)

		community := f.seedPlatform(t, model.PlatformPlanCommunity, nil)
		enterprise := f.seedPlatform(t, model.PlatformPlanEnterprise, nil)
		communityUser := f.seedMember(t, identity.ID.Hex(), community.ID.Hex(), model.PlatformRoleAdmin)
		enterpriseUser := f.seedMember(t, identity.ID.Hex(), enterprise.ID.Hex(), model.PlatformRoleMember)
		f.seedProject(t, communityUser.ID.Hex(), community.ID.Hex())
		f.seedProject(t, enterpriseUser.ID.Hex(), enterprise.ID.Hex())

		return f, identity, community, enterprise
	}

	t.Run("switches between member platforms", func(t *testing.T) {
		f, identity, community, enterprise := setup(t)

		resp, err := f.usecase.SwitchPlatform(ctx, SwitchPlatformParams{
			IdentityID:        identity.ID.Hex(),
			CurrentPlatformID: enterprise.ID.Hex(),
			PlatformID:        community.ID.Hex(),
		})
		require.NoError(t, err)
		require.Equal(t, community.ID.Hex(), resp.PlatformID)
		require.NotEmpty(t, resp.ProjectID)
	})

	t.Run("enterprise tenant on cloud is isolated", func(t *testing.T) {
		f, identity, community, enterprise := setup(t)

		_, err := f.usecase.SwitchPlatform(ctx, SwitchPlatformParams{
			IdentityID:        identity.ID.Hex(),
			CurrentPlatformID: community.ID.Hex(),
			PlatformID:        enterprise.ID.Hex(),
		})
		require.True(t, apperror.IsCode(err, apperror.CodeAuthentication))
	})

	t.Run("switching within the enterprise tenant succeeds", func(t *testing.T) {
		f, identity, _, enterprise := setup(t)

		resp, err := f.usecase.SwitchPlatform(ctx, SwitchPlatformParams{
			IdentityID:        identity.ID.Hex(),
			CurrentPlatformID: enterprise.ID.Hex(),
			PlatformID:        enterprise.ID.Hex(),
		})
		require.NoError(t, err)
		require.Equal(t, enterprise.ID.Hex(), resp.PlatformID)
	})

	t.Run("non-member platform is rejected", func(t *testing.T) {
		f, identity, community, _ := setup(t)
		stranger := f.seedPlatform(t, model.PlatformPlanCommunity, nil)
		f.seedProject(t, "", stranger.ID.Hex())

		_, err := f.usecase.SwitchPlatform(ctx, SwitchPlatformParams{
			IdentityID:        identity.ID.Hex(),
			CurrentPlatformID: community.ID.Hex(),
			PlatformID:        stranger.ID.Hex(),
		})
		require.True(t, apperror.IsCode(err, apperror.CodeAuthorization))
	})

	t.Run("platform without a project is rejected", func(t *testing.T) {
		f, identity, community, _ := setup(t)
		empty := f.seedPlatform(t, model.PlatformPlanCommunity, nil)
		f.seedMember(t, identity.ID.Hex(), empty.ID.Hex(), model.PlatformRoleMember)

		_, err := f.usecase.SwitchPlatform(ctx, SwitchPlatformParams{
			IdentityID:        identity.ID.Hex(),
			CurrentPlatformID: community.ID.Hex(),
			PlatformID:        empty.ID.Hex(),
		})
		require.True(t, apperror.IsCode(err, apperror.CodeAuthorization))
	})
}

func TestSwitchProject(t *testing.T) {
	ctx := context.Background()

	t.Run("switches to a project in a member platform", func(t *testing.T) {
		f := newAuthFixture(t, edition.Community)
		signedUp, err := f.usecase.SignUp(ctx, signUpParams("ada@example.com"))
		require.NoError(t, err)

		stored, err := f.identities.GetIdentityByEmail(ctx, "ada@example.com")
		require.NoError(t, err)

		second := f.seedProject(t, signedUp.UserID, signedUp.PlatformID)

		resp, err := f.usecase.SwitchProject(ctx, SwitchProjectParams{
			IdentityID:        stored.ID.Hex(),
			CurrentPlatformID: signedUp.PlatformID,
			ProjectID:         second.ID.Hex(),
		})
		require.NoError(t, err)
		require.Equal(t, second.ID.Hex(), resp.ProjectID)
		require.Equal(t, signedUp.PlatformID, resp.PlatformID)

		claims := f.decodeToken(t, resp.Token)
		require.Equal(t, second.ID.Hex(), claims.ProjectID)
	})

	t.Run("unknown project", func(t *testing.T) {
		f := newAuthFixture(t, edition.Community)
		identity := f.seedIdentity(t, "ada@example.com", true)

		_, err := f.usecase.SwitchProject(ctx, SwitchProjectParams{
			IdentityID: identity.ID.Hex(),
			ProjectID:  bson.NewObjectID().Hex(),
		})
		require.True(t, apperror.IsCode(err, apperror.CodeEntityNotFound))
	})

	t.Run("project in a foreign platform is rejected", func(t *testing.T) {
		f := newAuthFixture(t, edition.Community)
		identity := f.seedIdentity(t, "ada@example.com", true)
		foreign := f.seedPlatform(t, model.PlatformPlanCommunity, nil)
		project := f.seedProject(t, "", foreign.ID.Hex())

		_, err := f.usecase.SwitchProject(ctx, SwitchProjectParams{
			IdentityID: identity.ID.Hex(),
			ProjectID:  project.ID.Hex(),
		})
		require.True(t, apperror.IsCode(err, apperror.CodeAuthorization))
	})

	t.Run("project in an isolated enterprise tenant is rejected", func(t *testing.T) {
		f := newAuthFixture(t, edition.Cloud)
		identity := f.seedIdentity(t, "ada@example.com", true)

		community := f.seedPlatform(t, model.PlatformPlanCommunity, nil)
		enterprise := f.seedPlatform(t, model.PlatformPlanEnterprise, nil)
		f.seedMember(t, identity.ID.Hex(), community.ID.Hex(), model.PlatformRoleAdmin)
		member := f.seedMember(t, identity.ID.Hex(), enterprise.ID.Hex(), model.PlatformRoleMember)
		project := f.seedProject(t, member.ID.Hex(), enterprise.ID.Hex())

		_, err := f.usecase.SwitchProject(ctx, SwitchProjectParams{
			IdentityID:        identity.ID.Hex(),
			CurrentPlatformID: community.ID.Hex(),
			ProjectID:         project.ID.Hex(),
		})
		require.True(t, apperror.IsCode(err, apperror.CodeAuthentication))
	})
}
