package journal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// RecordKind tags a synced record as a trade or a journal entry.
type RecordKind string

const (
	// RecordKindTrade marks a trade row.
	RecordKindTrade RecordKind = "trade"
	// RecordKindJournal marks a journal entry row.
	RecordKindJournal RecordKind = "journal"
)

// Direction enumerates trade directions.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Outcome enumerates trade outcomes.
type Outcome string

const (
	OutcomeWin       Outcome = "win"
	OutcomeLoss      Outcome = "loss"
	OutcomeBreakeven Outcome = "breakeven"
	OutcomeOpen      Outcome = "open"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidRecordID indicates that a record identifier is empty or exceeds storage bounds.
	ErrInvalidRecordID = errors.New("journal: invalid record id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("journal: invalid user id")
	// ErrInvalidRecordKind indicates an unknown record kind.
	ErrInvalidRecordKind = errors.New("journal: invalid record kind")
	// ErrInvalidPair indicates an empty instrument pair.
	ErrInvalidPair = errors.New("journal: invalid pair")
	// ErrInvalidDirection indicates an unknown trade direction.
	ErrInvalidDirection = errors.New("journal: invalid direction")
)

// RecordID represents a validated client-generated record identifier.
type RecordID string

// NewRecordID validates raw input and returns a RecordID.
func NewRecordID(rawInput string) (RecordID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRecordID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidRecordID, maxIdentifierLength)
	}
	return RecordID(trimmed), nil
}

// String returns the underlying string identifier.
func (id RecordID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// ParseRecordKind normalizes raw input into a known record kind.
func ParseRecordKind(raw string) (RecordKind, error) {
	switch RecordKind(strings.ToLower(strings.TrimSpace(raw))) {
	case RecordKindTrade:
		return RecordKindTrade, nil
	case RecordKindJournal:
		return RecordKindJournal, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRecordKind, raw)
	}
}

// ParseDirection normalizes raw input into a known trade direction.
func ParseDirection(raw string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(raw))) {
	case DirectionLong:
		return DirectionLong, nil
	case DirectionShort:
		return DirectionShort, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, raw)
	}
}

// Trade models a persisted forex/gold trade. The trade id is generated by the
// submitting client and doubles as the sync idempotency key.
type Trade struct {
	UserID        string          `gorm:"column:user_id;primaryKey;size:190;not null;index:idx_trades_user_created,priority:1"`
	TradeID       string          `gorm:"column:trade_id;primaryKey;size:190;not null"`
	Pair          string          `gorm:"column:pair;size:32;not null"`
	Direction     Direction       `gorm:"column:direction;size:8;not null"`
	EntryPrice    decimal.Decimal `gorm:"column:entry_price;type:numeric;not null"`
	ExitPrice     decimal.Decimal `gorm:"column:exit_price;type:numeric"`
	LotSize       decimal.Decimal `gorm:"column:lot_size;type:numeric;not null"`
	ProfitLoss    decimal.Decimal `gorm:"column:profit_loss;type:numeric"`
	Outcome       Outcome         `gorm:"column:outcome;size:16;not null;default:'open'"`
	OpenedAtMs    int64           `gorm:"column:opened_at_ms;not null"`
	ClosedAtMs    int64           `gorm:"column:closed_at_ms;not null;default:0"`
	Notes         string          `gorm:"column:notes;type:text"`
	CreatedAtMs   int64           `gorm:"column:created_at_ms;not null;index:idx_trades_user_created,priority:2"`
	SourceDevice  string          `gorm:"column:source_device;size:190;not null;default:''"`
	SyncedOffline bool            `gorm:"column:synced_offline;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (Trade) TableName() string {
	return "trades"
}

// Entry models a persisted journal entry keyed by the client-generated id.
type Entry struct {
	UserID        string `gorm:"column:user_id;primaryKey;size:190;not null;index:idx_entries_user_created,priority:1"`
	EntryID       string `gorm:"column:entry_id;primaryKey;size:190;not null"`
	Title         string `gorm:"column:title;size:320;not null"`
	Body          string `gorm:"column:body;type:text;not null"`
	Mood          string `gorm:"column:mood;size:32"`
	EnteredAtMs   int64  `gorm:"column:entered_at_ms;not null"`
	CreatedAtMs   int64  `gorm:"column:created_at_ms;not null;index:idx_entries_user_created,priority:2"`
	SourceDevice  string `gorm:"column:source_device;size:190;not null;default:''"`
	SyncedOffline bool   `gorm:"column:synced_offline;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "journal_entries"
}

// Stats summarizes a user's trade history for achievement checks.
type Stats struct {
	TotalTrades  int64
	ClosedTrades int64
	Wins         int64
	WinRate      float64
}

// deriveOutcome classifies a closed trade by the sign of its profit/loss.
func deriveOutcome(profitLoss decimal.Decimal, closedAtMs int64) Outcome {
	if closedAtMs == 0 {
		return OutcomeOpen
	}
	switch profitLoss.Sign() {
	case 1:
		return OutcomeWin
	case -1:
		return OutcomeLoss
	default:
		return OutcomeBreakeven
	}
}
