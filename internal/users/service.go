package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pipledger/backend/internal/auth"
	"gorm.io/gorm"
)

var (
	// ErrEmailTaken indicates a registration against an already-registered email.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrInvalidCredentials indicates a failed login attempt.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrProfileNotFound indicates the requested profile does not exist.
	ErrProfileNotFound = errors.New("users: profile not found")
	// ErrInvalidEmail indicates the supplied email is empty or malformed.
	ErrInvalidEmail = errors.New("users: invalid email")
	// ErrWeakPassword indicates the supplied password is below the minimum length.
	ErrWeakPassword = errors.New("users: password too short")
)

const minPasswordLength = 8

// IDProvider issues new user identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required for profile management.
type ServiceConfig struct {
	Database        *gorm.DB
	Clock           func() time.Time
	IDProvider      IDProvider
	StartingCredits int64
}

// Service manages user profiles, registration and credential checks.
type Service struct {
	db              *gorm.DB
	now             func() time.Time
	idProvider      IDProvider
	startingCredits int64
}

// NewService constructs the profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("users: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:              cfg.Database,
		now:             clock,
		idProvider:      cfg.IDProvider,
		startingCredits: cfg.StartingCredits,
	}, nil
}

// Register creates a profile for a new email, hashing the password and
// seeding the starting credit balance on the free tier.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (Profile, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return Profile{}, ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return Profile{}, ErrWeakPassword
	}

	var existing Profile
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&existing).Error
	if err == nil {
		return Profile{}, ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return Profile{}, err
	}
	userID, err := s.idProvider.NewID()
	if err != nil {
		return Profile{}, err
	}

	profile := Profile{
		UserID:           userID,
		Email:            email,
		PasswordHash:     hash,
		DisplayName:      strings.TrimSpace(displayName),
		AICredits:        s.startingCredits,
		SubscriptionTier: TierFree,
		CreatedAt:        s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&profile).Error; err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// Authenticate verifies an email/password pair and returns the profile.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Profile, error) {
	var profile Profile
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrInvalidCredentials
	}
	if err != nil {
		return Profile{}, err
	}
	if !auth.CheckPassword(profile.PasswordHash, password) {
		return Profile{}, ErrInvalidCredentials
	}
	return profile, nil
}

// GetProfile loads a profile by user id.
func (s *Service) GetProfile(ctx context.Context, userID string) (Profile, error) {
	var profile Profile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// SetTier updates the subscription tier for a user, as driven by the billing
// webhook surface.
func (s *Service) SetTier(ctx context.Context, userID string, tier Tier) error {
	result := s.db.WithContext(ctx).Model(&Profile{}).
		Where("user_id = ?", userID).
		Update("subscription_tier", tier)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProfileNotFound
	}
	return nil
}
