package credits

import "fmt"

// UnlimitedBalance is the sentinel balance reported for premium tiers.
const UnlimitedBalance int64 = -1

// TransactionType records the business reason for a ledger entry.
type TransactionType string

const (
	// TxSpend is a metered deduction for an AI-powered action.
	TxSpend TransactionType = "spend"
	// TxAward is a gamified credit grant.
	TxAward TransactionType = "award"
	// TxRefill is the monthly free-tier top-up.
	TxRefill TransactionType = "refill"
)

// AwardType classifies what earned the credits.
type AwardType string

const (
	AwardDailyLogin      AwardType = "daily_login"
	AwardStreakMilestone AwardType = "streak_milestone"
	AwardAchievement     AwardType = "achievement"
	AwardReferral        AwardType = "referral"
)

// Transaction is a single row in the append-only credit ledger.
type Transaction struct {
	TxID         int64           `gorm:"column:tx_id;primaryKey;autoIncrement"`
	UserID       string          `gorm:"column:user_id;size:190;not null;index:idx_credit_tx_user_time,priority:1"`
	Type         TransactionType `gorm:"column:tx_type;size:16;not null"`
	Amount       int64           `gorm:"column:amount;not null"`
	BalanceAfter int64           `gorm:"column:balance_after;not null"`
	Description  string          `gorm:"column:description;size:320"`
	CreatedAtMs  int64           `gorm:"column:created_at_ms;not null;index:idx_credit_tx_user_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Transaction) TableName() string {
	return "credit_transactions"
}

// InsufficientCreditsError is returned when a free-tier deduction exceeds the
// stored balance. The balance is left untouched.
type InsufficientCreditsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("Insufficient credits. Required: %d, Available: %d", e.Required, e.Available)
}
