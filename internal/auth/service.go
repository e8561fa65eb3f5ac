package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/envirosense/envirosense-core/internal/infrastructure/logging"
)

// tempPasswordBytes is the number of random bytes for a reset password.
const tempPasswordBytes = 16

// Config holds the tunables the auth service needs.
type Config struct {
	JWTSecret       string
	TokenTTL        time.Duration
	MaxFailures     int
	LockoutDuration time.Duration
}

// Service implements account registration, login with brute-force lockout,
// and token verification on top of a UserRepository.
type Service struct {
	users  UserRepository
	cfg    Config
	logger *logging.Logger
	now    func() time.Time
}

// NewService creates an auth service.
func NewService(users UserRepository, cfg Config, logger *logging.Logger) *Service {
	return &Service{
		users:  users,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// TokenTTL returns the configured access-token lifetime.
func (s *Service) TokenTTL() time.Duration {
	if s.cfg.TokenTTL <= 0 {
		return defaultTokenTTL
	}
	return s.cfg.TokenTTL
}

// Register validates and creates a new account, returning the stored user.
func (s *Service) Register(ctx context.Context, username, email, password string) (*User, error) {
	if !IsValidUsername(username) {
		return nil, ErrInvalidUsername
	}
	if email != "" && !IsValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	return user, nil
}

// Login verifies credentials and issues an access token. Unknown usernames
// and wrong passwords return the same ErrInvalidCredentials so callers leak
// nothing about which accounts exist. Repeated failures lock the account.
func (s *Service) Login(ctx context.Context, username, password string) (string, *User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}

	if !user.IsActive {
		return "", nil, ErrUserInactive
	}

	if user.LockedUntil != nil && user.LockedUntil.After(s.now()) {
		return "", nil, ErrAccountLocked
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return "", nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		locked, ferr := s.users.RecordLoginFailure(ctx, user.ID, s.cfg.MaxFailures, s.cfg.LockoutDuration)
		if ferr != nil {
			s.logger.Error("recording login failure", "user_id", user.ID, "error", ferr)
		}
		if locked {
			s.logger.Warn("account locked after repeated failures",
				"user_id", user.ID, "username", user.Username)
			return "", nil, ErrAccountLocked
		}
		return "", nil, ErrInvalidCredentials
	}

	if user.FailedLogins > 0 || user.LockedUntil != nil {
		if err := s.users.ResetLoginFailures(ctx, user.ID); err != nil {
			s.logger.Error("resetting login failures", "user_id", user.ID, "error", err)
		}
	}

	token, err := GenerateAccessToken(user, s.cfg.JWTSecret, s.cfg.TokenTTL)
	if err != nil {
		return "", nil, err
	}

	s.logger.Info("user logged in", "user_id", user.ID, "username", user.Username)
	return token, user, nil
}

// Verify parses an access token and returns the identity it carries.
// Socket handshakes and API middleware both go through here.
func (s *Service) Verify(tokenString string) (*Identity, error) {
	claims, err := ParseToken(tokenString, s.cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	return &Identity{UserID: claims.Subject, Username: claims.Username}, nil
}

// GetUser fetches a user by ID.
func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	return s.users.GetByID(ctx, userID)
}

// ChangePassword verifies the current password before storing a new hash.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := VerifyPassword(current, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	if len(next) < minPasswordLength {
		return ErrWeakPassword
	}

	hash, err := HashPassword(next)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}

	s.logger.Info("password changed", "user_id", userID)
	return nil
}

// UpdateProfile changes a user's username and/or email and returns the
// updated user. Empty fields are left unchanged.
func (s *Service) UpdateProfile(ctx context.Context, userID, username, email string) (*User, error) {
	if username != "" && !IsValidUsername(username) {
		return nil, ErrInvalidUsername
	}
	if email != "" && !IsValidEmail(email) {
		return nil, ErrInvalidEmail
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if username != "" {
		user.Username = username
	}
	if email != "" {
		user.Email = email
	}
	if err := s.users.UpdateProfile(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// ResetPassword generates a temporary password for the account registered
// under the given email and stores its hash. There is no outbound mail in
// this deployment, so the plaintext is returned for the operator to hand
// over out of band. It must be changed on first login.
func (s *Service) ResetPassword(ctx context.Context, email string) (string, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}

	b := make([]byte, tempPasswordBytes)
	if _, err := rand.Read(b); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return "", fmt.Errorf("generating temporary password: %w", err)
	}
	password := hex.EncodeToString(b)

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing temporary password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return "", err
	}

	if err := s.users.ResetLoginFailures(ctx, user.ID); err != nil {
		s.logger.Error("resetting login failures", "user_id", user.ID, "error", err)
	}

	s.logger.Warn("password reset issued",
		"user_id", user.ID,
		"action_required", "change this password immediately",
	)

	return password, nil
}
