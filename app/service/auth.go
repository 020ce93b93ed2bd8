package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/bytecinema/cinema-auth/app/dto"
	"github.com/bytecinema/cinema-auth/app/entity"
	"github.com/bytecinema/cinema-auth/app/notify"
	"github.com/bytecinema/cinema-auth/app/repository"
	"github.com/bytecinema/cinema-auth/config"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserExists          = errors.New("user already exists")
	ErrUserNotFound        = errors.New("user not found")
	ErrPasswordMismatch    = errors.New("password and confirm password do not match")
	ErrWeakPassword        = errors.New("password does not meet policy requirements")
	ErrAccountNotVerified  = errors.New("account not verified")
	ErrAlreadyVerified     = errors.New("account is already verified")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidOTP          = errors.New("invalid or expired otp")
	ErrInvalidRefreshToken = errors.New("invalid or superseded refresh token")
	ErrInvalidToken        = errors.New("invalid or expired token")
)

const otpLength = 6

type userRepository interface {
	Create(ctx context.Context, user *entity.User) error
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	FindByRefreshToken(ctx context.Context, token, email string) (*entity.User, error)
	UpdateRefreshToken(ctx context.Context, email string, token sql.NullString) error
	RotateRefreshToken(ctx context.Context, email, oldToken, newToken string) (int64, error)
	SetVerified(ctx context.Context, email string) error
}

type otpStore interface {
	Save(ctx context.Context, email, code string) error
	Verify(ctx context.Context, email, code string) error
}

type otpSender interface {
	PublishOTP(ctx context.Context, event notify.OTPEvent) error
}

// AuthService drives the session lifecycle: registration with email
// verification, login, refresh-token rotation and logout. Identity is always
// handed in explicitly by the transport layer.
type AuthService struct {
	userRepo userRepository
	otps     otpStore
	sender   otpSender
	tokens   *TokenService
	cfg      *config.Config
}

func NewAuthService(
	userRepo userRepository,
	otps otpStore,
	sender otpSender,
	tokens *TokenService,
	cfg *config.Config,
) *AuthService {
	return &AuthService{
		userRepo: userRepo,
		otps:     otps,
		sender:   sender,
		tokens:   tokens,
		cfg:      cfg,
	}
}

func (s *AuthService) Register(ctx context.Context, email, name, password, confirmPassword string) (*dto.RegisterResult, error) {
	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	if password != confirmPassword {
		return nil, ErrPasswordMismatch
	}

	if err := s.cfg.PasswordPolicy.Validate(password); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWeakPassword, err.Error())
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &entity.User{
		Email:        email,
		Name:         name,
		PasswordHash: string(hashedPassword),
		IsVerified:   false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	if err := s.deliverOTP(ctx, user); err != nil {
		// The account exists and resend-otp recovers from a lost delivery.
		logrus.WithError(err).WithField("email", user.Email).Warn("Failed to deliver verification code")
	}

	return &dto.RegisterResult{User: user}, nil
}

func (s *AuthService) VerifyOTP(ctx context.Context, email, code string) error {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}

	if user.IsVerified {
		return ErrAlreadyVerified
	}

	if err := s.otps.Verify(ctx, email, code); err != nil {
		if errors.Is(err, repository.ErrOTPNotFound) ||
			errors.Is(err, repository.ErrOTPMismatch) ||
			errors.Is(err, repository.ErrOTPAttemptsExceeded) {
			return ErrInvalidOTP
		}
		return err
	}

	return s.userRepo.SetVerified(ctx, email)
}

func (s *AuthService) ResendOTP(ctx context.Context, email string) error {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}

	if user.IsVerified {
		return ErrAlreadyVerified
	}

	return s.deliverOTP(ctx, user)
}

// Login verifies the credentials and starts a session. The verification check
// runs before the password comparison; an unverified account never learns
// whether its password was right.
func (s *AuthService) Login(ctx context.Context, email, password string) (*dto.LoginResult, error) {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	if !user.IsVerified {
		return nil, ErrAccountNotVerified
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	accessToken, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.tokens.IssueRefreshToken(user)
	if err != nil {
		return nil, err
	}

	// Login overwrites unconditionally: the previous session, if any, is
	// invalidated the moment the new token is stored.
	err = s.userRepo.UpdateRefreshToken(ctx, email, sql.NullString{String: refreshToken, Valid: true})
	if err != nil {
		return nil, err
	}

	return &dto.LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
		User:         user,
	}, nil
}

// Refresh exchanges a live refresh token for a new access/refresh pair. The
// stored value is swapped with a compare-and-set, so of two concurrent calls
// holding the same token exactly one succeeds; the other gets
// ErrInvalidRefreshToken and must log in again.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*dto.LoginResult, error) {
	claims, err := s.tokens.ParseRefreshToken(refreshToken)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}

	user, err := s.userRepo.FindByRefreshToken(ctx, refreshToken, claims.Subject)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidRefreshToken
	}

	accessToken, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return nil, err
	}

	newRefreshToken, err := s.tokens.IssueRefreshToken(user)
	if err != nil {
		return nil, err
	}

	rows, err := s.userRepo.RotateRefreshToken(ctx, user.Email, refreshToken, newRefreshToken)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrInvalidRefreshToken
	}

	return &dto.LoginResult{
		AccessToken:  accessToken,
		RefreshToken: newRefreshToken,
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
		User:         user,
	}, nil
}

// Logout clears the stored refresh token. It is idempotent: logging out twice,
// or with no live session, is not an error.
func (s *AuthService) Logout(ctx context.Context, email string) error {
	return s.userRepo.UpdateRefreshToken(ctx, email, sql.NullString{})
}

// GetAccount is a permissive read: an empty email (unauthenticated caller) or
// an unknown one yields a nil user, not an error.
func (s *AuthService) GetAccount(ctx context.Context, email string) (*entity.User, error) {
	if email == "" {
		return nil, nil
	}
	return s.userRepo.FindByEmail(ctx, email)
}

func (s *AuthService) deliverOTP(ctx context.Context, user *entity.User) error {
	code, err := generateOTP()
	if err != nil {
		return err
	}

	if err := s.otps.Save(ctx, user.Email, code); err != nil {
		return err
	}

	return s.sender.PublishOTP(ctx, notify.OTPEvent{
		Email: user.Email,
		Name:  user.Name,
		Code:  code,
	})
}

func generateOTP() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < otpLength; i++ {
		max.Mul(max, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%0*d", otpLength, n), nil
}
