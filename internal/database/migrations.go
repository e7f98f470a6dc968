package database

import (
	"errors"
	"time"

	"github.com/pipledger/backend/internal/journal"
	"github.com/pipledger/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeTradeOutcomes = "2026-05-20_normalize_trade_outcomes"
	migrationLowercaseTierValues    = "2026-07-02_lowercase_tier_values"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeTradeOutcomes, apply: normalizeTradeOutcomes},
		{name: migrationLowercaseTierValues, apply: lowercaseTierValues},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeTradeOutcomes folds the legacy "break_even" spelling into the
// canonical value.
func normalizeTradeOutcomes(db *gorm.DB) error {
	return db.Model(&journal.Trade{}).
		Where("outcome = ?", "break_even").
		Update("outcome", journal.OutcomeBreakeven).Error
}

// lowercaseTierValues repairs tier values imported with mixed case.
func lowercaseTierValues(db *gorm.DB) error {
	return db.Model(&users.Profile{}).
		Where("subscription_tier <> lower(subscription_tier)").
		Update("subscription_tier", gorm.Expr("lower(subscription_tier)")).Error
}
