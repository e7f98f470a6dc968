package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm/clause"
)

// SyncStatus reports the fate of a single synced record.
type SyncStatus string

const (
	// SyncStatusAccepted means the record was inserted.
	SyncStatusAccepted SyncStatus = "accepted"
	// SyncStatusDuplicate means a row with the same record id already exists.
	// The submission is confirmed persisted and safe to drop client-side.
	SyncStatusDuplicate SyncStatus = "duplicate"
	// SyncStatusRejected means the payload failed validation and will never
	// be accepted as submitted.
	SyncStatusRejected SyncStatus = "rejected"
	// SyncStatusFailed means a transient storage failure; the client should
	// keep the record queued and retry.
	SyncStatusFailed SyncStatus = "failed"
)

// IsConfirmed reports whether the remote store durably holds the record.
func (s SyncStatus) IsConfirmed() bool {
	return s == SyncStatusAccepted || s == SyncStatusDuplicate
}

// SyncRecord is one queued offline submission.
type SyncRecord struct {
	RecordID     RecordID
	Kind         RecordKind
	PayloadJSON  string
	CreatedAtMs  int64
	SourceDevice string
}

// SyncOutcome pairs a submitted record with its resulting status.
type SyncOutcome struct {
	RecordID RecordID
	Kind     RecordKind
	Status   SyncStatus
	Reason   string
}

// SyncResult collects per-record outcomes for a batch.
type SyncResult struct {
	Outcomes []SyncOutcome
}

// TradePayload is the validated wire form of a trade record.
type TradePayload struct {
	RecordID   string          `json:"record_id,omitempty"`
	Pair       string          `json:"pair"`
	Direction  string          `json:"direction"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	LotSize    decimal.Decimal `json:"lot_size"`
	ProfitLoss decimal.Decimal `json:"profit_loss"`
	Outcome    string          `json:"outcome,omitempty"`
	OpenedAtMs int64           `json:"opened_at_ms"`
	ClosedAtMs int64           `json:"closed_at_ms,omitempty"`
	Notes      string          `json:"notes,omitempty"`
}

func (p TradePayload) toTrade(userID, tradeID string, now time.Time) (Trade, error) {
	if p.Pair == "" {
		return Trade{}, ErrInvalidPair
	}
	direction, err := ParseDirection(p.Direction)
	if err != nil {
		return Trade{}, err
	}
	if p.LotSize.Sign() <= 0 {
		return Trade{}, fmt.Errorf("journal: lot size must be positive, got %s", p.LotSize)
	}
	if p.OpenedAtMs <= 0 {
		return Trade{}, fmt.Errorf("journal: opened_at_ms must be positive, got %d", p.OpenedAtMs)
	}

	outcome := Outcome(p.Outcome)
	switch outcome {
	case OutcomeWin, OutcomeLoss, OutcomeBreakeven, OutcomeOpen:
	case "":
		outcome = deriveOutcome(p.ProfitLoss, p.ClosedAtMs)
	default:
		return Trade{}, fmt.Errorf("journal: unknown outcome %q", p.Outcome)
	}

	return Trade{
		UserID:      userID,
		TradeID:     tradeID,
		Pair:        p.Pair,
		Direction:   direction,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   p.ExitPrice,
		LotSize:     p.LotSize,
		ProfitLoss:  p.ProfitLoss,
		Outcome:     outcome,
		OpenedAtMs:  p.OpenedAtMs,
		ClosedAtMs:  p.ClosedAtMs,
		Notes:       p.Notes,
		CreatedAtMs: now.UnixMilli(),
	}, nil
}

// EntryPayload is the validated wire form of a journal entry record.
type EntryPayload struct {
	RecordID    string `json:"record_id,omitempty"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Mood        string `json:"mood,omitempty"`
	EnteredAtMs int64  `json:"entered_at_ms"`
}

func (p EntryPayload) toEntry(userID, entryID string, now time.Time) (Entry, error) {
	if p.Title == "" && p.Body == "" {
		return Entry{}, fmt.Errorf("journal: entry requires a title or body")
	}
	if p.EnteredAtMs <= 0 {
		return Entry{}, fmt.Errorf("journal: entered_at_ms must be positive, got %d", p.EnteredAtMs)
	}
	return Entry{
		UserID:      userID,
		EntryID:     entryID,
		Title:       p.Title,
		Body:        p.Body,
		Mood:        p.Mood,
		EnteredAtMs: p.EnteredAtMs,
		CreatedAtMs: now.UnixMilli(),
	}, nil
}

// ApplySync ingests a batch of offline-queued records. Each record is handled
// independently: validation failures and storage failures affect only their
// own record. The client-generated record id is the primary key, so a retried
// submission after a lost response lands as a duplicate rather than a second
// row.
func (s *Service) ApplySync(ctx context.Context, userID UserID, records []SyncRecord) (SyncResult, error) {
	if s.db == nil {
		s.logError(opApplySync, "missing_database", errMissingDatabase)
		return SyncResult{}, newServiceError(opApplySync, "missing_database", errMissingDatabase)
	}

	result := SyncResult{Outcomes: make([]SyncOutcome, 0, len(records))}
	for _, record := range records {
		outcome := s.applyOne(ctx, userID, record)
		result.Outcomes = append(result.Outcomes, outcome)
	}
	return result, nil
}

func (s *Service) applyOne(ctx context.Context, userID UserID, record SyncRecord) SyncOutcome {
	outcome := SyncOutcome{RecordID: record.RecordID, Kind: record.Kind}

	createdAt := record.CreatedAtMs
	if createdAt <= 0 {
		createdAt = s.clock().UTC().UnixMilli()
	}

	switch record.Kind {
	case RecordKindTrade:
		var payload TradePayload
		if err := json.Unmarshal([]byte(record.PayloadJSON), &payload); err != nil {
			outcome.Status = SyncStatusRejected
			outcome.Reason = fmt.Sprintf("malformed trade payload: %v", err)
			return outcome
		}
		trade, err := payload.toTrade(userID.String(), record.RecordID.String(), s.clock().UTC())
		if err != nil {
			outcome.Status = SyncStatusRejected
			outcome.Reason = err.Error()
			return outcome
		}
		trade.CreatedAtMs = createdAt
		trade.SourceDevice = record.SourceDevice
		trade.SyncedOffline = true

		insert := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&trade)
		if insert.Error != nil {
			s.logError(opApplySync, "trade_insert_failed", insert.Error,
				zap.String("user_id", userID.String()),
				zap.String("record_id", record.RecordID.String()))
			outcome.Status = SyncStatusFailed
			outcome.Reason = "storage failure"
			return outcome
		}
		if insert.RowsAffected == 0 {
			outcome.Status = SyncStatusDuplicate
			return outcome
		}
		outcome.Status = SyncStatusAccepted
		return outcome

	case RecordKindJournal:
		var payload EntryPayload
		if err := json.Unmarshal([]byte(record.PayloadJSON), &payload); err != nil {
			outcome.Status = SyncStatusRejected
			outcome.Reason = fmt.Sprintf("malformed entry payload: %v", err)
			return outcome
		}
		entry, err := payload.toEntry(userID.String(), record.RecordID.String(), s.clock().UTC())
		if err != nil {
			outcome.Status = SyncStatusRejected
			outcome.Reason = err.Error()
			return outcome
		}
		entry.CreatedAtMs = createdAt
		entry.SourceDevice = record.SourceDevice
		entry.SyncedOffline = true

		insert := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
		if insert.Error != nil {
			s.logError(opApplySync, "entry_insert_failed", insert.Error,
				zap.String("user_id", userID.String()),
				zap.String("record_id", record.RecordID.String()))
			outcome.Status = SyncStatusFailed
			outcome.Reason = "storage failure"
			return outcome
		}
		if insert.RowsAffected == 0 {
			outcome.Status = SyncStatusDuplicate
			return outcome
		}
		outcome.Status = SyncStatusAccepted
		return outcome

	default:
		outcome.Status = SyncStatusRejected
		outcome.Reason = fmt.Sprintf("unknown record kind %q", record.Kind)
		return outcome
	}
}
