package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 190
	minPasswordLength = 8
)

var (
	// ErrUsernameTaken indicates the username is already registered.
	ErrUsernameTaken = errors.New("users: username already taken")
	// ErrInvalidCredentials indicates an unknown username or a wrong password.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrInvalidUsername indicates a username outside the accepted bounds.
	ErrInvalidUsername = errors.New("users: invalid username")
	// ErrInvalidPassword indicates a password outside the accepted bounds.
	ErrInvalidPassword = errors.New("users: invalid password")

	errMissingDatabase = errors.New("database connection required")
	noOpLogger         = zap.NewNop()
)

// ServiceConfig describes the dependencies for the account service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	BcryptCost int
	Logger     *zap.Logger
}

// Service manages account registration and password verification.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	cost   int
	logger *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: %w", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, now: clock, cost: cost, logger: logger}, nil
}

// Register creates a new account with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, username, password string) (Account, error) {
	username = strings.TrimSpace(username)
	if err := validateUsername(username); err != nil {
		return Account{}, err
	}
	if len(password) < minPasswordLength {
		return Account{}, fmt.Errorf("%w: shorter than %d characters", ErrInvalidPassword, minPasswordLength)
	}

	var existing Account
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&existing).Error
	if err == nil {
		return Account{}, ErrUsernameTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Error("account lookup failed", zap.Error(err), zap.String("username", username))
		return Account{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Account{}, err
	}

	account := Account{
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		s.logger.Error("account insert failed", zap.Error(err), zap.String("username", username))
		return Account{}, err
	}

	s.logger.Info("account registered", zap.Int64("user_id", account.ID), zap.String("username", username))
	return account, nil
}

// Authenticate verifies the username/password pair. Unknown usernames and
// wrong passwords are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Account, error) {
	username = strings.TrimSpace(username)

	var account Account
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrInvalidCredentials
	}
	if err != nil {
		s.logger.Error("account lookup failed", zap.Error(err), zap.String("username", username))
		return Account{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return Account{}, ErrInvalidCredentials
	}
	return account, nil
}

func validateUsername(username string) error {
	if len(username) < minUsernameLength {
		return fmt.Errorf("%w: shorter than %d characters", ErrInvalidUsername, minUsernameLength)
	}
	if len(username) > maxUsernameLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidUsername, maxUsernameLength)
	}
	return nil
}
