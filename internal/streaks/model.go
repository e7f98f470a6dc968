package streaks

import (
	"errors"
	"fmt"
	"strings"
)

// StreakType enumerates the tracked daily-activity streaks.
type StreakType string

const (
	StreakTypeLogin      StreakType = "login"
	StreakTypeTrading    StreakType = "trading"
	StreakTypeJournaling StreakType = "journaling"
)

// AchievementType classifies an achievement unlock.
type AchievementType string

const (
	AchievementTypeMilestone   AchievementType = "milestone"
	AchievementTypePerformance AchievementType = "performance"
	AchievementTypeStreak      AchievementType = "streak"
)

// ErrInvalidStreakType indicates an unknown streak type.
var ErrInvalidStreakType = errors.New("streaks: invalid streak type")

// ParseStreakType normalizes raw input into a known streak type.
func ParseStreakType(raw string) (StreakType, error) {
	switch StreakType(strings.ToLower(strings.TrimSpace(raw))) {
	case StreakTypeLogin:
		return StreakTypeLogin, nil
	case StreakTypeTrading:
		return StreakTypeTrading, nil
	case StreakTypeJournaling:
		return StreakTypeJournaling, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStreakType, raw)
	}
}

// dateLayout is the calendar-day storage format for streak bookkeeping.
const dateLayout = "2006-01-02"

// Streak tracks consecutive daily activity per (user, type). It mutates at
// most once per calendar day.
type Streak struct {
	UserID       string     `gorm:"column:user_id;primaryKey;size:190;not null"`
	StreakType   StreakType `gorm:"column:streak_type;primaryKey;size:32;not null"`
	CurrentCount int64      `gorm:"column:current_count;not null;default:0"`
	BestCount    int64      `gorm:"column:best_count;not null;default:0"`
	LastDate     string     `gorm:"column:last_updated;size:10;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Streak) TableName() string {
	return "streaks"
}

// Achievement is a one-time unlock, unique per (user, name). Rows are created
// once and never mutated.
type Achievement struct {
	UserID      string          `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_achievements_user_name,priority:1"`
	Name        string          `gorm:"column:achievement_name;size:190;not null;uniqueIndex:idx_achievements_user_name,priority:2"`
	Type        AchievementType `gorm:"column:achievement_type;size:32;not null"`
	AwardedAtMs int64           `gorm:"column:awarded_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Achievement) TableName() string {
	return "achievements"
}

// Trade achievement thresholds.
const (
	achievementFirstTrade    = "first_trade"
	achievementTenTrades     = "ten_trades"
	achievementFiftyTrades   = "fifty_trades"
	achievementHundredTrades = "hundred_trades"
	achievementSharpshooter  = "sharpshooter"

	sharpshooterMinClosedTrades = 20
	sharpshooterMinWinRate      = 60.0
)

// streakMilestones are the counts worth announcing.
var streakMilestones = map[int64]bool{7: true, 30: true}
