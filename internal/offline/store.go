package offline

import (
	"context"
	"errors"
	"fmt"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/pipledger/backend/internal/journal"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")

	// ErrRecordNotFound indicates the queued record does not exist.
	ErrRecordNotFound = errors.New("offline: queued record not found")
	// ErrEmptyPayload indicates an enqueue attempt without a payload.
	ErrEmptyPayload = errors.New("offline: payload is required")
)

// QueuedRecord is one locally persisted offline submission. An unsynced
// record is deleted only after the remote store confirms it holds the row.
type QueuedRecord struct {
	RecordID    string             `gorm:"column:record_id;primaryKey;size:190;not null"`
	Kind        journal.RecordKind `gorm:"column:kind;size:16;not null;index:idx_queue_kind_synced,priority:1"`
	PayloadJSON string             `gorm:"column:payload_json;type:text;not null"`
	CreatedAtMs int64              `gorm:"column:created_at_ms;not null;index"`
	Synced      bool               `gorm:"column:synced;not null;default:false;index:idx_queue_kind_synced,priority:2"`
	Attempts    int                `gorm:"column:attempts;not null;default:0"`
	LastError   string             `gorm:"column:last_error;size:512;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (QueuedRecord) TableName() string {
	return "offline_queue"
}

// OpenQueueDB opens the local queue database and migrates its schema. The
// queue assumes a single writer.
func OpenQueueDB(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("queue database path is required")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&QueuedRecord{}); err != nil {
		return nil, err
	}
	return db, nil
}

// IDProvider issues identifiers for newly queued records.
type IDProvider interface {
	NewID() (string, error)
}

// StoreConfig describes the dependencies of the queue store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
}

// Store is the local persistent queue backing offline submissions.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
}

// NewStore validates dependencies and constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
	}, nil
}

// Enqueue persists a record for later reconciliation and returns its
// client-generated id, which doubles as the remote idempotency key.
func (s *Store) Enqueue(ctx context.Context, kind journal.RecordKind, payloadJSON string) (string, error) {
	if payloadJSON == "" {
		return "", ErrEmptyPayload
	}
	if _, err := journal.ParseRecordKind(string(kind)); err != nil {
		return "", err
	}
	recordID, err := s.idProvider.NewID()
	if err != nil {
		return "", err
	}
	record := QueuedRecord{
		RecordID:    recordID,
		Kind:        kind,
		PayloadJSON: payloadJSON,
		CreatedAtMs: s.clock().UTC().UnixMilli(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", err
	}
	return recordID, nil
}

// ListUnsynced returns unsynced records of a kind in enqueue order.
func (s *Store) ListUnsynced(ctx context.Context, kind journal.RecordKind) ([]QueuedRecord, error) {
	var records []QueuedRecord
	if err := s.db.WithContext(ctx).
		Where("kind = ? AND synced = ?", kind, false).
		Order("created_at_ms ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// MarkSynced flags a record as confirmed persisted remotely.
func (s *Store) MarkSynced(ctx context.Context, recordID string) error {
	result := s.db.WithContext(ctx).Model(&QueuedRecord{}).
		Where("record_id = ?", recordID).
		Update("synced", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Remove deletes a record from the queue. Removing an already-removed record
// is not an error; repeated reconciliation passes simply no longer see it.
func (s *Store) Remove(ctx context.Context, recordID string) error {
	return s.db.WithContext(ctx).
		Where("record_id = ?", recordID).
		Delete(&QueuedRecord{}).Error
}

// RecordFailure bumps the attempt counter and stores the latest error so a
// stuck record is diagnosable. The record stays queued.
func (s *Store) RecordFailure(ctx context.Context, recordID, message string) error {
	if len(message) > 512 {
		message = message[:512]
	}
	return s.db.WithContext(ctx).Model(&QueuedRecord{}).
		Where("record_id = ?", recordID).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": message,
		}).Error
}

// PendingCount reports how many records await reconciliation.
func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&QueuedRecord{}).
		Where("synced = ?", false).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
