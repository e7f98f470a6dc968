package offline

import (
	"context"
	"errors"

	"github.com/pipledger/backend/internal/journal"
	"go.uber.org/zap"
)

var (
	errMissingStore  = errors.New("queue store is required")
	errMissingRemote = errors.New("remote client is required")
	noOpLogger       = zap.NewNop()
)

// Remote is the server-side half of reconciliation.
type Remote interface {
	HasSession() bool
	Online(ctx context.Context) bool
	SubmitBatch(ctx context.Context, records []journal.SyncRecord) ([]RemoteOutcome, error)
}

// ReconcilerConfig describes the dependencies of the reconciler.
type ReconcilerConfig struct {
	Store  *Store
	Remote Remote
	Device string
	Logger *zap.Logger
}

// Reconciler drains the local queue into the remote store. Reconcile is
// idempotent and safe to call repeatedly: every record is handled
// independently and a record already removed is simply absent from the next
// listing.
type Reconciler struct {
	store  *Store
	remote Remote
	device string
	logger *zap.Logger
}

// Report summarizes one reconciliation pass.
type Report struct {
	Skipped   bool
	Submitted int
	Confirmed int
	Rejected  int
	Failed    int
}

// NewReconciler validates dependencies and constructs a Reconciler.
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Remote == nil {
		return nil, errMissingRemote
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Reconciler{
		store:  cfg.Store,
		remote: cfg.Remote,
		device: cfg.Device,
		logger: logger,
	}, nil
}

// reconcileOrder fixes the drain order across kinds: trades before journal
// entries.
var reconcileOrder = []journal.RecordKind{journal.RecordKindTrade, journal.RecordKindJournal}

// Reconcile drains every unsynced record. Without connectivity or a session
// it no-ops silently. A transport failure defers the whole remaining batch to
// the next pass; per-record failures stay queued without affecting the rest.
func (r *Reconciler) Reconcile(ctx context.Context) (Report, error) {
	if !r.remote.HasSession() {
		r.logger.Debug("reconcile skipped: no session")
		return Report{Skipped: true}, nil
	}
	if !r.remote.Online(ctx) {
		r.logger.Debug("reconcile skipped: offline")
		return Report{Skipped: true}, nil
	}

	var report Report
	for _, kind := range reconcileOrder {
		if err := r.reconcileKind(ctx, kind, &report); err != nil {
			// Transport-level failure: leave everything queued for the next
			// scheduled pass.
			r.logger.Warn("reconcile pass deferred",
				zap.String("kind", string(kind)),
				zap.Error(err))
			return report, nil
		}
	}

	if report.Submitted > 0 {
		r.logger.Info("reconcile pass complete",
			zap.Int("submitted", report.Submitted),
			zap.Int("confirmed", report.Confirmed),
			zap.Int("rejected", report.Rejected),
			zap.Int("failed", report.Failed))
	}
	return report, nil
}

func (r *Reconciler) reconcileKind(ctx context.Context, kind journal.RecordKind, report *Report) error {
	queued, err := r.store.ListUnsynced(ctx, kind)
	if err != nil {
		return err
	}
	if len(queued) == 0 {
		return nil
	}

	records := make([]journal.SyncRecord, 0, len(queued))
	for _, row := range queued {
		recordID, err := journal.NewRecordID(row.RecordID)
		if err != nil {
			// Unparseable local row: keep it, surface the reason.
			report.Failed++
			if err := r.store.RecordFailure(ctx, row.RecordID, err.Error()); err != nil {
				r.logger.Warn("failed to record queue failure", zap.Error(err))
			}
			continue
		}
		records = append(records, journal.SyncRecord{
			RecordID:     recordID,
			Kind:         kind,
			PayloadJSON:  row.PayloadJSON,
			CreatedAtMs:  row.CreatedAtMs,
			SourceDevice: r.device,
		})
	}
	if len(records) == 0 {
		return nil
	}

	outcomes, err := r.remote.SubmitBatch(ctx, records)
	if err != nil {
		return err
	}
	report.Submitted += len(records)

	for _, outcome := range outcomes {
		switch {
		case outcome.Status.IsConfirmed():
			if err := r.store.MarkSynced(ctx, outcome.RecordID); err != nil && !errors.Is(err, ErrRecordNotFound) {
				r.logger.Warn("failed to mark record synced",
					zap.String("record_id", outcome.RecordID), zap.Error(err))
			}
			if err := r.store.Remove(ctx, outcome.RecordID); err != nil {
				r.logger.Warn("failed to remove synced record",
					zap.String("record_id", outcome.RecordID), zap.Error(err))
				continue
			}
			report.Confirmed++
		case outcome.Status == journal.SyncStatusRejected:
			report.Rejected++
			r.logger.Warn("record rejected by remote",
				zap.String("record_id", outcome.RecordID),
				zap.String("reason", outcome.Reason))
			if err := r.store.RecordFailure(ctx, outcome.RecordID, outcome.Reason); err != nil {
				r.logger.Warn("failed to record queue failure", zap.Error(err))
			}
		default:
			report.Failed++
			if err := r.store.RecordFailure(ctx, outcome.RecordID, outcome.Reason); err != nil {
				r.logger.Warn("failed to record queue failure", zap.Error(err))
			}
		}
	}
	return nil
}
