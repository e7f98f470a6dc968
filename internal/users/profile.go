package users

import (
	"strings"
	"time"
)

// Tier enumerates subscription tiers. Premium tiers are exempt from credit
// metering.
type Tier string

const (
	TierFree     Tier = "free"
	TierMonthly  Tier = "monthly"
	TierPro      Tier = "pro"
	TierLifetime Tier = "lifetime"
)

// IsPremium reports whether the tier bypasses credit deduction.
func (t Tier) IsPremium() bool {
	switch t {
	case TierMonthly, TierPro, TierLifetime:
		return true
	default:
		return false
	}
}

// ParseTier normalizes raw input into a known tier, defaulting to free.
func ParseTier(raw string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(raw))) {
	case TierMonthly:
		return TierMonthly
	case TierPro:
		return TierPro
	case TierLifetime:
		return TierLifetime
	default:
		return TierFree
	}
}

// Profile is the canonical per-user row. It carries the metered credit
// balance and subscription tier alongside login credentials.
type Profile struct {
	UserID           string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Email            string    `gorm:"column:email;size:320;not null;uniqueIndex:idx_profiles_email"`
	PasswordHash     string    `gorm:"column:password_hash;size:190;not null"`
	DisplayName      string    `gorm:"column:display_name;size:320"`
	AICredits        int64     `gorm:"column:ai_credits;not null;default:0"`
	SubscriptionTier Tier      `gorm:"column:subscription_tier;size:32;not null;default:'free'"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user profiles.
func (Profile) TableName() string {
	return "profiles"
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
