package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pipledger/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errInvalidAmount   = errors.New("amount must be positive")
	noOpLogger         = zap.NewNop()

	// ErrUnknownUser indicates no profile row exists for the user id.
	ErrUnknownUser = errors.New("credits: unknown user")
)

// Notifier receives user-facing messages about credit events. Implementations
// must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// ServiceConfig describes the dependencies of the credit service.
type ServiceConfig struct {
	Database         *gorm.DB
	Clock            func() time.Time
	Logger           *zap.Logger
	Notifier         Notifier
	MonthlyAllowance int64
}

// Service meters AI credits against the profiles table. Deductions are a
// single conditional update so concurrent spends can never overdraw.
type Service struct {
	db               *gorm.DB
	clock            func() time.Time
	logger           *zap.Logger
	notifier         Notifier
	monthlyAllowance int64
}

// BalanceInfo reports a user's balance and tier.
type BalanceInfo struct {
	Balance int64
	Tier    users.Tier
}

// DeductResult reports the effect of a deduction.
type DeductResult struct {
	NewBalance int64
	Premium    bool
}

// NewService validates dependencies and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:               cfg.Database,
		clock:            clock,
		logger:           logger,
		notifier:         cfg.Notifier,
		monthlyAllowance: cfg.MonthlyAllowance,
	}, nil
}

// Balance returns the stored balance and tier for the user.
func (s *Service) Balance(ctx context.Context, userID string) (BalanceInfo, error) {
	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return BalanceInfo{}, err
	}
	return BalanceInfo{Balance: profile.AICredits, Tier: profile.SubscriptionTier}, nil
}

// HasEnoughCredits reports whether the user can afford the cost. Premium
// tiers are always true.
func (s *Service) HasEnoughCredits(ctx context.Context, userID string, cost int64) (bool, error) {
	if cost <= 0 {
		return false, errInvalidAmount
	}
	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return false, err
	}
	if profile.SubscriptionTier.IsPremium() {
		return true, nil
	}
	return profile.AICredits >= cost, nil
}

// Deduct spends credits for an AI-powered action. Premium tiers bypass
// metering and report the unlimited sentinel. For free-tier users the
// decrement and the floor check are one UPDATE statement; zero affected rows
// means insufficient credits and the stored balance is untouched.
func (s *Service) Deduct(ctx context.Context, userID string, cost int64, description string) (DeductResult, error) {
	if cost <= 0 {
		return DeductResult{}, errInvalidAmount
	}
	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return DeductResult{}, err
	}
	if profile.SubscriptionTier.IsPremium() {
		return DeductResult{NewBalance: UnlimitedBalance, Premium: true}, nil
	}

	var newBalance int64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		update := tx.Model(&users.Profile{}).
			Where("user_id = ? AND ai_credits >= ?", userID, cost).
			Update("ai_credits", gorm.Expr("ai_credits - ?", cost))
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			var current users.Profile
			if err := tx.Select("ai_credits").Where("user_id = ?", userID).Take(&current).Error; err != nil {
				return err
			}
			return &InsufficientCreditsError{Required: cost, Available: current.AICredits}
		}

		var updated users.Profile
		if err := tx.Select("ai_credits").Where("user_id = ?", userID).Take(&updated).Error; err != nil {
			return err
		}
		newBalance = updated.AICredits

		return tx.Create(&Transaction{
			UserID:       userID,
			Type:         TxSpend,
			Amount:       -cost,
			BalanceAfter: newBalance,
			Description:  description,
			CreatedAtMs:  s.clock().UTC().UnixMilli(),
		}).Error
	})
	if txErr != nil {
		var insufficient *InsufficientCreditsError
		if !errors.As(txErr, &insufficient) {
			s.logger.Error("credit deduction failed",
				zap.String("user_id", userID),
				zap.Int64("cost", cost),
				zap.Error(txErr))
		}
		return DeductResult{}, txErr
	}
	return DeductResult{NewBalance: newBalance}, nil
}

// Award grants credits for a gamified action via an atomic increment, logs
// the ledger row and raises a notification.
func (s *Service) Award(ctx context.Context, userID string, awardType AwardType, amount int64, description string) error {
	if amount <= 0 {
		return errInvalidAmount
	}

	var newBalance int64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		update := tx.Model(&users.Profile{}).
			Where("user_id = ?", userID).
			Update("ai_credits", gorm.Expr("ai_credits + ?", amount))
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return ErrUnknownUser
		}

		var updated users.Profile
		if err := tx.Select("ai_credits").Where("user_id = ?", userID).Take(&updated).Error; err != nil {
			return err
		}
		newBalance = updated.AICredits

		if description == "" {
			description = string(awardType)
		}
		return tx.Create(&Transaction{
			UserID:       userID,
			Type:         TxAward,
			Amount:       amount,
			BalanceAfter: newBalance,
			Description:  description,
			CreatedAtMs:  s.clock().UTC().UnixMilli(),
		}).Error
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrUnknownUser) {
			s.logger.Error("credit award failed",
				zap.String("user_id", userID),
				zap.String("award_type", string(awardType)),
				zap.Error(txErr))
		}
		return txErr
	}

	if s.notifier != nil {
		s.notifier.Notify(ctx, fmt.Sprintf("+%d credits (%s), balance now %d", amount, awardType, newBalance))
	}
	return nil
}

// RefillFreeTier tops every free-tier user below the monthly allowance back
// up to it. Returns the number of profiles touched.
func (s *Service) RefillFreeTier(ctx context.Context) (int64, error) {
	if s.monthlyAllowance <= 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).Model(&users.Profile{}).
		Where("subscription_tier = ? AND ai_credits < ?", users.TierFree, s.monthlyAllowance).
		Update("ai_credits", s.monthlyAllowance)
	if result.Error != nil {
		s.logger.Error("monthly credit refill failed", zap.Error(result.Error))
		return 0, result.Error
	}
	s.logger.Info("monthly credit refill applied", zap.Int64("profiles", result.RowsAffected))
	return result.RowsAffected, nil
}

func (s *Service) loadProfile(ctx context.Context, userID string) (users.Profile, error) {
	var profile users.Profile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return users.Profile{}, ErrUnknownUser
	}
	if err != nil {
		return users.Profile{}, err
	}
	return profile, nil
}
