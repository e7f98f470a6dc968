package streaks

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/pipledger/backend/internal/journal"
	"gorm.io/gorm"
)

type staticStats struct {
	stats journal.Stats
	err   error
}

func (s *staticStats) TradeStats(ctx context.Context, userID string) (journal.Stats, error) {
	return s.stats, s.err
}

type adjustableClock struct {
	now time.Time
}

func (c *adjustableClock) Now() time.Time {
	return c.now
}

func (c *adjustableClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T, stats TradeStatsSource) (*Service, *adjustableClock, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:pipledger_streaks_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Streak{}, &Achievement{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := &adjustableClock{now: time.Date(2026, time.March, 10, 15, 4, 5, 0, time.UTC)}
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock:    clock.Now,
		Location: time.UTC,
		Stats:    stats,
	})
	if err != nil {
		t.Fatalf("failed to construct streak service: %v", err)
	}
	return service, clock, db
}

func TestUpdateStreakStartsAtOne(t *testing.T) {
	service, _, _ := newTestService(t, nil)

	result, err := service.UpdateStreak(context.Background(), "user-1", StreakTypeTrading)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Changed {
		t.Fatalf("first activity must change the streak")
	}
	if result.Streak.CurrentCount != 1 || result.Streak.BestCount != 1 {
		t.Fatalf("expected 1/1, got %d/%d", result.Streak.CurrentCount, result.Streak.BestCount)
	}
	if result.Streak.LastDate != "2026-03-10" {
		t.Fatalf("expected today's date stamp, got %q", result.Streak.LastDate)
	}
}

func TestUpdateStreakSameDayIsIdempotent(t *testing.T) {
	service, clock, _ := newTestService(t, nil)

	if _, err := service.UpdateStreak(context.Background(), "user-1", StreakTypeTrading); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock.Advance(6 * time.Hour)

	result, err := service.UpdateStreak(context.Background(), "user-1", StreakTypeTrading)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Changed {
		t.Fatalf("second same-day activity must not change the streak")
	}
	if result.Streak.CurrentCount != 1 {
		t.Fatalf("expected count 1, got %d", result.Streak.CurrentCount)
	}
}

func TestUpdateStreakIncrementsNextDay(t *testing.T) {
	service, clock, db := newTestService(t, nil)

	seed := Streak{UserID: "user-1", StreakType: StreakTypeTrading, CurrentCount: 4, BestCount: 6, LastDate: "2026-03-09"}
	if err := db.Create(&seed).Error; err != nil {
		t.Fatalf("failed to seed streak: %v", err)
	}
	_ = clock

	result, err := service.UpdateStreak(context.Background(), "user-1", StreakTypeTrading)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Streak.CurrentCount != 5 {
		t.Fatalf("expected increment to 5, got %d", result.Streak.CurrentCount)
	}
	if result.Streak.BestCount != 6 {
		t.Fatalf("best count must not regress, got %d", result.Streak.BestCount)
	}
}

func TestUpdateStreakResetsAfterGap(t *testing.T) {
	service, _, db := newTestService(t, nil)

	seed := Streak{UserID: "user-1", StreakType: StreakTypeJournaling, CurrentCount: 4, BestCount: 6, LastDate: "2026-03-07"}
	if err := db.Create(&seed).Error; err != nil {
		t.Fatalf("failed to seed streak: %v", err)
	}

	result, err := service.UpdateStreak(context.Background(), "user-1", StreakTypeJournaling)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Streak.CurrentCount != 1 {
		t.Fatalf("expected reset to 1 after gap, got %d", result.Streak.CurrentCount)
	}
	if result.Streak.BestCount != 6 {
		t.Fatalf("best count must survive the reset, got %d", result.Streak.BestCount)
	}
}

func TestUpdateStreakRaisesBestCount(t *testing.T) {
	service, _, db := newTestService(t, nil)

	seed := Streak{UserID: "user-1", StreakType: StreakTypeTrading, CurrentCount: 6, BestCount: 6, LastDate: "2026-03-09"}
	if err := db.Create(&seed).Error; err != nil {
		t.Fatalf("failed to seed streak: %v", err)
	}

	result, err := service.UpdateStreak(context.Background(), "user-1", StreakTypeTrading)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Streak.CurrentCount != 7 || result.Streak.BestCount != 7 {
		t.Fatalf("expected 7/7, got %d/%d", result.Streak.CurrentCount, result.Streak.BestCount)
	}
	if result.Milestone != 7 {
		t.Fatalf("expected 7-day milestone, got %d", result.Milestone)
	}
}

func TestUpdateStreakTracksTypesIndependently(t *testing.T) {
	service, _, _ := newTestService(t, nil)

	if _, err := service.UpdateStreak(context.Background(), "user-1", StreakTypeTrading); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := service.UpdateStreak(context.Background(), "user-1", StreakTypeJournaling); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := service.GetStreaks(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected two independent streak rows, got %d", len(rows))
	}
}

func TestAwardAchievementIsOncePerName(t *testing.T) {
	service, _, _ := newTestService(t, nil)

	created, err := service.AwardAchievement(context.Background(), "user-1", "first_trade", AchievementTypeMilestone)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatalf("first award must create the row")
	}

	created, err = service.AwardAchievement(context.Background(), "user-1", "first_trade", AchievementTypeMilestone)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatalf("repeat award must be a no-op")
	}

	rows, err := service.ListAchievements(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected a single achievement row, got %d", len(rows))
	}
}

func TestCheckTradeAchievementsUnlocksMilestones(t *testing.T) {
	stats := &staticStats{stats: journal.Stats{TotalTrades: 12, ClosedTrades: 10, Wins: 5, WinRate: 50}}
	service, _, _ := newTestService(t, stats)

	awarded, err := service.CheckTradeAchievements(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(awarded) != 2 {
		t.Fatalf("expected first_trade and ten_trades, got %v", awarded)
	}

	// Second pass with unchanged stats awards nothing new.
	awarded, err = service.CheckTradeAchievements(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(awarded) != 0 {
		t.Fatalf("expected no repeat awards, got %v", awarded)
	}
}

func TestCheckTradeAchievementsSharpshooterThresholds(t *testing.T) {
	tests := []struct {
		name     string
		stats    journal.Stats
		expected bool
	}{
		{name: "qualifies at exactly 60 percent over 20 closed", stats: journal.Stats{TotalTrades: 25, ClosedTrades: 20, Wins: 12, WinRate: 60}, expected: true},
		{name: "too few closed trades", stats: journal.Stats{TotalTrades: 19, ClosedTrades: 19, Wins: 19, WinRate: 100}, expected: false},
		{name: "win rate below threshold", stats: journal.Stats{TotalTrades: 40, ClosedTrades: 40, Wins: 23, WinRate: 57.5}, expected: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			service, _, _ := newTestService(t, &staticStats{stats: tc.stats})
			awarded, err := service.CheckTradeAchievements(context.Background(), "user-1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			found := false
			for _, name := range awarded {
				if name == achievementSharpshooter {
					found = true
				}
			}
			if found != tc.expected {
				t.Fatalf("sharpshooter expected=%v got=%v (awarded %v)", tc.expected, found, awarded)
			}
		})
	}
}

func TestCheckTradeAchievementsPropagatesStatsError(t *testing.T) {
	statsErr := errors.New("stats unavailable")
	service, _, _ := newTestService(t, &staticStats{err: statsErr})

	if _, err := service.CheckTradeAchievements(context.Background(), "user-1"); !errors.Is(err, statsErr) {
		t.Fatalf("expected stats error to propagate, got %v", err)
	}
}

func TestParseStreakTypeRejectsUnknownValue(t *testing.T) {
	if _, err := ParseStreakType("breathing"); !errors.Is(err, ErrInvalidStreakType) {
		t.Fatalf("expected ErrInvalidStreakType, got %v", err)
	}
}
