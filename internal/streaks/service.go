package streaks

import (
	"context"
	"errors"
	"time"

	"github.com/pipledger/backend/internal/journal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// TradeStatsSource recomputes trade totals for achievement checks.
type TradeStatsSource interface {
	TradeStats(ctx context.Context, userID string) (journal.Stats, error)
}

// ServiceConfig describes the dependencies of the streak service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Location *time.Location
	Stats    TradeStatsSource
	Logger   *zap.Logger
}

// Service runs the daily streak state machine and achievement unlocks.
// Calendar-day comparisons use the configured location.
type Service struct {
	db       *gorm.DB
	clock    func() time.Time
	location *time.Location
	stats    TradeStatsSource
	logger   *zap.Logger
}

// UpdateResult reports the streak row after an update and whether the call
// changed it. Milestone is non-zero when the new count crossed an announced
// threshold.
type UpdateResult struct {
	Streak    Streak
	Changed   bool
	Milestone int64
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
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:       cfg.Database,
		clock:    clock,
		location: location,
		stats:    cfg.Stats,
		logger:   logger,
	}, nil
}

// UpdateStreak applies one day of activity: same-day calls are no-ops,
// a yesterday-stamped row increments, anything older resets to 1, and a
// missing row is created at 1. BestCount never decreases.
func (s *Service) UpdateStreak(ctx context.Context, userID string, streakType StreakType) (UpdateResult, error) {
	now := s.clock().In(s.location)
	today := now.Format(dateLayout)
	yesterday := now.AddDate(0, 0, -1).Format(dateLayout)

	var result UpdateResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var streak Streak
		err := tx.Where("user_id = ? AND streak_type = ?", userID, streakType).
			Take(&streak).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			streak = Streak{
				UserID:       userID,
				StreakType:   streakType,
				CurrentCount: 1,
				BestCount:    1,
				LastDate:     today,
			}
			if err := tx.Create(&streak).Error; err != nil {
				return err
			}
			result = UpdateResult{Streak: streak, Changed: true, Milestone: milestoneFor(1)}
			return nil
		}
		if err != nil {
			return err
		}

		if streak.LastDate == today {
			result = UpdateResult{Streak: streak, Changed: false}
			return nil
		}

		if streak.LastDate == yesterday {
			streak.CurrentCount++
		} else {
			streak.CurrentCount = 1
		}
		if streak.CurrentCount > streak.BestCount {
			streak.BestCount = streak.CurrentCount
		}
		streak.LastDate = today

		if err := tx.Save(&streak).Error; err != nil {
			return err
		}
		result = UpdateResult{Streak: streak, Changed: true, Milestone: milestoneFor(streak.CurrentCount)}
		return nil
	})
	if txErr != nil {
		s.logger.Error("streak update failed",
			zap.String("user_id", userID),
			zap.String("streak_type", string(streakType)),
			zap.Error(txErr))
		return UpdateResult{}, txErr
	}
	return result, nil
}

// GetStreaks returns all streak rows for the user.
func (s *Service) GetStreaks(ctx context.Context, userID string) ([]Streak, error) {
	var rows []Streak
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("streak_type ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// AwardAchievement unlocks an achievement once per (user, name). The unique
// index makes retries and races collapse into a no-op; the return reports
// whether this call created the row.
func (s *Service) AwardAchievement(ctx context.Context, userID, name string, achievementType AchievementType) (bool, error) {
	achievement := Achievement{
		UserID:      userID,
		Name:        name,
		Type:        achievementType,
		AwardedAtMs: s.clock().UTC().UnixMilli(),
	}
	insert := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&achievement)
	if insert.Error != nil {
		s.logger.Error("achievement insert failed",
			zap.String("user_id", userID),
			zap.String("achievement", name),
			zap.Error(insert.Error))
		return false, insert.Error
	}
	return insert.RowsAffected > 0, nil
}

// ListAchievements returns the user's unlocked achievements.
func (s *Service) ListAchievements(ctx context.Context, userID string) ([]Achievement, error) {
	var rows []Achievement
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("awarded_at_ms ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// CheckTradeAchievements recomputes trade count and win rate over the full
// history and unlocks any newly-qualifying achievements. Returns the names
// awarded by this call.
func (s *Service) CheckTradeAchievements(ctx context.Context, userID string) ([]string, error) {
	if s.stats == nil {
		return nil, nil
	}
	stats, err := s.stats.TradeStats(ctx, userID)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		name            string
		achievementType AchievementType
		qualified       bool
	}
	candidates := []candidate{
		{achievementFirstTrade, AchievementTypeMilestone, stats.TotalTrades >= 1},
		{achievementTenTrades, AchievementTypeMilestone, stats.TotalTrades >= 10},
		{achievementFiftyTrades, AchievementTypeMilestone, stats.TotalTrades >= 50},
		{achievementHundredTrades, AchievementTypeMilestone, stats.TotalTrades >= 100},
		{achievementSharpshooter, AchievementTypePerformance,
			stats.ClosedTrades >= sharpshooterMinClosedTrades && stats.WinRate >= sharpshooterMinWinRate},
	}

	var awarded []string
	for _, c := range candidates {
		if !c.qualified {
			continue
		}
		created, err := s.AwardAchievement(ctx, userID, c.name, c.achievementType)
		if err != nil {
			return awarded, err
		}
		if created {
			awarded = append(awarded, c.name)
		}
	}
	return awarded, nil
}

func milestoneFor(count int64) int64 {
	if streakMilestones[count] {
		return count
	}
	return 0
}
