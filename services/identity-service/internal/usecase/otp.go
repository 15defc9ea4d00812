package usecase

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/pongsakornw/flowforge-api/services/identity-service/internal/model"
	"github.com/pongsakornw/flowforge-api/services/identity-service/internal/repository"
	"github.com/pongsakornw/flowforge-api/shared/apperror"
)

const (
	otpLength    = 6
	otpExpiresIn = 30 * time.Minute
)

// OtpUsecase defines the business logic for one-time verification codes.
type OtpUsecase interface {
	// CreateAndSend generates a fresh code for the identity behind the email,
	// invalidating any previous unused code of the same type, and emails it.
	CreateAndSend(ctx context.Context, params CreateAndSendOtpParams) error

	// VerifyOtp checks a submitted code and consumes it. A verified
	// EMAIL_VERIFICATION code marks the identity as verified.
	VerifyOtp(ctx context.Context, params VerifyOtpParams) error
}

// CreateAndSendOtpParams defines the parameters for issuing a code.
type CreateAndSendOtpParams struct {
	PlatformID string
	Email      string
	Type       model.OtpType
}

// VerifyOtpParams defines the parameters for confirming a code.
type VerifyOtpParams struct {
	Email string
	Otp   string
	Type  model.OtpType
}

// mailSender is the slice of the mailer the OTP flow needs.
type mailSender interface {
	SendHTML(to []string, subject, htmlBody string) error
}

type otpUsecase struct {
	identityRepo repository.UserIdentityRepository
	otpRepo      repository.OtpRepository
	sender       mailSender
	frontendURL  string
	logger       *zerolog.Logger
}

// NewOtpUsecase creates a new instance of OtpUsecase.
func NewOtpUsecase(
	identityRepo repository.UserIdentityRepository,
	otpRepo repository.OtpRepository,
	sender mailSender,
	frontendURL string,
	logger *zerolog.Logger,
) OtpUsecase {
	return &otpUsecase{
		identityRepo: identityRepo,
		otpRepo:      otpRepo,
		sender:       sender,
		frontendURL:  frontendURL,
		logger:       logger,
	}
}

func (u *otpUsecase) CreateAndSend(ctx context.Context, params CreateAndSendOtpParams) error {
	identity, err := u.identityRepo.GetIdentityByEmail(ctx, params.Email)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return apperror.New(apperror.CodeEntityNotFound, "identity not found", map[string]any{
				"email": params.Email,
			})
		}
		return err
	}

	if err := u.otpRepo.InvalidateIdentityOtps(ctx, identity.ID.Hex(), params.Type); err != nil {
		return err
	}

	code, err := generateOtpCode()
	if err != nil {
		return err
	}

	otp := &model.Otp{
		IdentityID: identity.ID.Hex(),
		PlatformID: params.PlatformID,
		Email:      params.Email,
		Type:       params.Type,
		ValueHash:  hashOtpCode(code),
		ExpiresAt:  time.Now().Add(otpExpiresIn),
	}

	if _, err := u.otpRepo.CreateOtp(ctx, otp); err != nil {
		return err
	}

	verifyLink := fmt.Sprintf("%s/verify-email?email=%s&otp=%s", u.frontendURL, params.Email, code)
	htmlBody := fmt.Sprintf(`
		<p>Hi %s,</p>
		<p>Use the code below to verify your email address:</p>

		<p><strong>%s</strong></p>

		<p>Or follow this link: <a href="%s">%s</a></p>

		<p>The code expires in %s. If you did not sign up, you can safely ignore this email.</p>
	`, identity.FirstName, code, verifyLink, verifyLink, otpExpiresIn)

	return u.sender.SendHTML([]string{params.Email}, "Verify your email", htmlBody)
}

func (u *otpUsecase) VerifyOtp(ctx context.Context, params VerifyOtpParams) error {
	identity, err := u.identityRepo.GetIdentityByEmail(ctx, params.Email)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return apperror.New(apperror.CodeEntityNotFound, "identity not found", map[string]any{
				"email": params.Email,
			})
		}
		return err
	}

	otp, err := u.otpRepo.GetLatestOtp(ctx, identity.ID.Hex(), params.Type)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return apperror.New(apperror.CodeInvalidOtp, "no code was issued", nil)
		}
		return err
	}

	if otp.Used {
		return apperror.New(apperror.CodeInvalidOtp, "code has already been used", nil)
	}
	if time.Now().After(otp.ExpiresAt) {
		return apperror.New(apperror.CodeInvalidOtp, "code has expired", nil)
	}
	if subtle.ConstantTimeCompare([]byte(otp.ValueHash), []byte(hashOtpCode(params.Otp))) != 1 {
		return apperror.New(apperror.CodeInvalidOtp, "code does not match", nil)
	}

	if err := u.otpRepo.MarkOtpAsUsed(ctx, otp.ID.Hex()); err != nil {
		return err
	}

	if params.Type == model.OtpTypeEmailVerification {
		return u.identityRepo.SetVerified(ctx, identity.ID.Hex())
	}

	return nil
}

// generateOtpCode returns a fixed-length numeric one-time code.
func generateOtpCode() (string, error) {
	upper := big.NewInt(1)
	for range otpLength {
		upper.Mul(upper, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, upper)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%0*d", otpLength, n), nil
}

func hashOtpCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
