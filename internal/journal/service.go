package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingUserID     = errors.New("user identifier is required")
	noOpLogger           = zap.NewNop()

	// ErrRecordNotFound indicates the requested row does not exist for the user.
	ErrRecordNotFound = errors.New("journal: record not found")
)

// ServiceError wraps a failure with a dotted operation code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew   = "journal.service.new"
	opCreateTrade  = "journal.create_trade"
	opListTrades   = "journal.list_trades"
	opGetTrade     = "journal.get_trade"
	opDeleteTrade  = "journal.delete_trade"
	opCreateEntry  = "journal.create_entry"
	opListEntries  = "journal.list_entries"
	opGetEntry     = "journal.get_entry"
	opDeleteEntry  = "journal.delete_entry"
	opTradeStats   = "journal.trade_stats"
	opApplySync    = "journal.apply_sync"
	opParsePayload = "journal.parse_payload"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for server-created rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the journal service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service persists trades and journal entries and serves the sync ingest.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates dependencies and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
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
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// CreateTrade validates and persists a trade submitted directly over the API.
// The record id is generated server-side when the client did not supply one.
func (s *Service) CreateTrade(ctx context.Context, userID UserID, payload TradePayload) (Trade, error) {
	recordID := payload.RecordID
	if recordID == "" {
		generated, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opCreateTrade, "id_generation_failed", err, zap.String("user_id", userID.String()))
			return Trade{}, newServiceError(opCreateTrade, "id_generation_failed", err)
		}
		recordID = generated
	}

	trade, err := payload.toTrade(userID.String(), recordID, s.clock().UTC())
	if err != nil {
		return Trade{}, newServiceError(opCreateTrade, "invalid_payload", err)
	}

	if err := s.db.WithContext(ctx).Create(&trade).Error; err != nil {
		s.logError(opCreateTrade, "insert_failed", err, zap.String("user_id", userID.String()))
		return Trade{}, newServiceError(opCreateTrade, "insert_failed", err)
	}
	return trade, nil
}

// ListTrades returns the user's trades, most recent first.
func (s *Service) ListTrades(ctx context.Context, userID string) ([]Trade, error) {
	if userID == "" {
		return nil, newServiceError(opListTrades, "missing_user_id", errMissingUserID)
	}
	var trades []Trade
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at_ms DESC").
		Find(&trades).Error; err != nil {
		s.logError(opListTrades, "query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opListTrades, "query_failed", err)
	}
	return trades, nil
}

// GetTrade fetches a single trade owned by the user.
func (s *Service) GetTrade(ctx context.Context, userID, tradeID string) (Trade, error) {
	var trade Trade
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND trade_id = ?", userID, tradeID).
		Take(&trade).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Trade{}, ErrRecordNotFound
	}
	if err != nil {
		s.logError(opGetTrade, "query_failed", err,
			zap.String("user_id", userID), zap.String("trade_id", tradeID))
		return Trade{}, newServiceError(opGetTrade, "query_failed", err)
	}
	return trade, nil
}

// DeleteTrade removes a single trade owned by the user.
func (s *Service) DeleteTrade(ctx context.Context, userID, tradeID string) error {
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND trade_id = ?", userID, tradeID).
		Delete(&Trade{})
	if result.Error != nil {
		s.logError(opDeleteTrade, "delete_failed", result.Error,
			zap.String("user_id", userID), zap.String("trade_id", tradeID))
		return newServiceError(opDeleteTrade, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// CreateEntry validates and persists a journal entry submitted over the API.
func (s *Service) CreateEntry(ctx context.Context, userID UserID, payload EntryPayload) (Entry, error) {
	recordID := payload.RecordID
	if recordID == "" {
		generated, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opCreateEntry, "id_generation_failed", err, zap.String("user_id", userID.String()))
			return Entry{}, newServiceError(opCreateEntry, "id_generation_failed", err)
		}
		recordID = generated
	}

	entry, err := payload.toEntry(userID.String(), recordID, s.clock().UTC())
	if err != nil {
		return Entry{}, newServiceError(opCreateEntry, "invalid_payload", err)
	}

	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.logError(opCreateEntry, "insert_failed", err, zap.String("user_id", userID.String()))
		return Entry{}, newServiceError(opCreateEntry, "insert_failed", err)
	}
	return entry, nil
}

// ListEntries returns the user's journal entries, most recent first.
func (s *Service) ListEntries(ctx context.Context, userID string) ([]Entry, error) {
	if userID == "" {
		return nil, newServiceError(opListEntries, "missing_user_id", errMissingUserID)
	}
	var entries []Entry
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at_ms DESC").
		Find(&entries).Error; err != nil {
		s.logError(opListEntries, "query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opListEntries, "query_failed", err)
	}
	return entries, nil
}

// GetEntry fetches a single journal entry owned by the user.
func (s *Service) GetEntry(ctx context.Context, userID, entryID string) (Entry, error) {
	var entry Entry
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND entry_id = ?", userID, entryID).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, ErrRecordNotFound
	}
	if err != nil {
		s.logError(opGetEntry, "query_failed", err,
			zap.String("user_id", userID), zap.String("entry_id", entryID))
		return Entry{}, newServiceError(opGetEntry, "query_failed", err)
	}
	return entry, nil
}

// DeleteEntry removes a single journal entry owned by the user.
func (s *Service) DeleteEntry(ctx context.Context, userID, entryID string) error {
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND entry_id = ?", userID, entryID).
		Delete(&Entry{})
	if result.Error != nil {
		s.logError(opDeleteEntry, "delete_failed", result.Error,
			zap.String("user_id", userID), zap.String("entry_id", entryID))
		return newServiceError(opDeleteEntry, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// TradeStats recomputes trade count and win rate over the user's full
// history. Win rate considers closed trades only.
func (s *Service) TradeStats(ctx context.Context, userID string) (Stats, error) {
	if userID == "" {
		return Stats{}, newServiceError(opTradeStats, "missing_user_id", errMissingUserID)
	}

	var stats Stats
	base := s.db.WithContext(ctx).Model(&Trade{}).Where("user_id = ?", userID)
	if err := base.Count(&stats.TotalTrades).Error; err != nil {
		s.logError(opTradeStats, "count_failed", err, zap.String("user_id", userID))
		return Stats{}, newServiceError(opTradeStats, "count_failed", err)
	}
	if err := s.db.WithContext(ctx).Model(&Trade{}).
		Where("user_id = ? AND outcome <> ?", userID, OutcomeOpen).
		Count(&stats.ClosedTrades).Error; err != nil {
		s.logError(opTradeStats, "count_failed", err, zap.String("user_id", userID))
		return Stats{}, newServiceError(opTradeStats, "count_failed", err)
	}
	if err := s.db.WithContext(ctx).Model(&Trade{}).
		Where("user_id = ? AND outcome = ?", userID, OutcomeWin).
		Count(&stats.Wins).Error; err != nil {
		s.logError(opTradeStats, "count_failed", err, zap.String("user_id", userID))
		return Stats{}, newServiceError(opTradeStats, "count_failed", err)
	}
	if stats.ClosedTrades > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.ClosedTrades) * 100
	}
	return stats, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("journal service error", attrs...)
}
