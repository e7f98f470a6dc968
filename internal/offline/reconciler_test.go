package offline

import (
	"context"
	"errors"
	"testing"

	"github.com/pipledger/backend/internal/journal"
)

type fakeRemote struct {
	hasSession bool
	online     bool
	submitErr  error
	statusFor  map[string]journal.SyncStatus
	batches    [][]journal.SyncRecord
}

func (r *fakeRemote) HasSession() bool {
	return r.hasSession
}

func (r *fakeRemote) Online(ctx context.Context) bool {
	return r.online
}

func (r *fakeRemote) SubmitBatch(ctx context.Context, records []journal.SyncRecord) ([]RemoteOutcome, error) {
	if r.submitErr != nil {
		return nil, r.submitErr
	}
	r.batches = append(r.batches, records)
	outcomes := make([]RemoteOutcome, 0, len(records))
	for _, record := range records {
		status, ok := r.statusFor[record.RecordID.String()]
		if !ok {
			status = journal.SyncStatusAccepted
		}
		outcomes = append(outcomes, RemoteOutcome{
			RecordID: record.RecordID.String(),
			Kind:     record.Kind,
			Status:   status,
			Reason:   "set by test",
		})
	}
	return outcomes, nil
}

func newTestReconciler(t *testing.T, remote Remote) (*Reconciler, *Store) {
	t.Helper()
	store := newTestStore(t)
	reconciler, err := NewReconciler(ReconcilerConfig{
		Store:  store,
		Remote: remote,
		Device: "test-device",
	})
	if err != nil {
		t.Fatalf("failed to construct reconciler: %v", err)
	}
	return reconciler, store
}

func TestReconcileSkipsWithoutSession(t *testing.T) {
	remote := &fakeRemote{hasSession: false, online: true}
	reconciler, store := newTestReconciler(t, remote)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, journal.RecordKindTrade, `{}`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report, err := reconciler.Reconcile(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Skipped {
		t.Fatalf("expected skipped report without session")
	}
	if len(remote.batches) != 0 {
		t.Fatalf("nothing must be submitted without a session")
	}

	count, err := store.PendingCount(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("queued record must survive a skipped pass, got %d", count)
	}
}

func TestReconcileSkipsWhileOffline(t *testing.T) {
	remote := &fakeRemote{hasSession: true, online: false}
	reconciler, _ := newTestReconciler(t, remote)

	report, err := reconciler.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Skipped {
		t.Fatalf("expected skipped report while offline")
	}
}

func TestReconcileDrainsConfirmedRecords(t *testing.T) {
	remote := &fakeRemote{hasSession: true, online: true}
	reconciler, store := newTestReconciler(t, remote)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Enqueue(ctx, journal.RecordKindTrade, `{"pair":"XAUUSD"}`); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	report, err := reconciler.Reconcile(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Submitted != 3 || report.Confirmed != 3 {
		t.Fatalf("expected 3 submitted and confirmed, got %+v", report)
	}

	count, err := store.PendingCount(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Fatalf("confirmed records must leave the queue, got %d pending", count)
	}

	// A second pass with an empty queue submits nothing.
	report, err = reconciler.Reconcile(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Submitted != 0 {
		t.Fatalf("empty queue must submit nothing, got %+v", report)
	}
}

func TestReconcileTreatsDuplicateAsConfirmed(t *testing.T) {
	remote := &fakeRemote{hasSession: true, online: true, statusFor: map[string]journal.SyncStatus{}}
	reconciler, store := newTestReconciler(t, remote)
	ctx := context.Background()

	recordID, err := store.Enqueue(ctx, journal.RecordKindTrade, `{}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	remote.statusFor[recordID] = journal.SyncStatusDuplicate

	report, err := reconciler.Reconcile(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Confirmed != 1 {
		t.Fatalf("duplicate must count as confirmed, got %+v", report)
	}

	count, err := store.PendingCount(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Fatalf("duplicate record must be removed locally, got %d pending", count)
	}
}

func TestReconcileKeepsFailedAndRejectedRecordsQueued(t *testing.T) {
	remote := &fakeRemote{hasSession: true, online: true, statusFor: map[string]journal.SyncStatus{}}
	reconciler, store := newTestReconciler(t, remote)
	ctx := context.Background()

	okID, err := store.Enqueue(ctx, journal.RecordKindTrade, `{}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rejectedID, err := store.Enqueue(ctx, journal.RecordKindTrade, `{}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	failedID, err := store.Enqueue(ctx, journal.RecordKindTrade, `{}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	remote.statusFor[okID] = journal.SyncStatusAccepted
	remote.statusFor[rejectedID] = journal.SyncStatusRejected
	remote.statusFor[failedID] = journal.SyncStatusFailed

	report, err := reconciler.Reconcile(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Confirmed != 1 || report.Rejected != 1 || report.Failed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	remaining, err := store.ListUnsynced(ctx, journal.RecordKindTrade)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("rejected and failed records must stay queued, got %d", len(remaining))
	}
	for _, row := range remaining {
		if row.Attempts != 1 {
			t.Fatalf("expected attempt counter bumped, got %d for %s", row.Attempts, row.RecordID)
		}
	}
}

func TestReconcileDefersWholeBatchOnTransportError(t *testing.T) {
	remote := &fakeRemote{hasSession: true, online: true, submitErr: errors.New("connection reset")}
	reconciler, store := newTestReconciler(t, remote)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, journal.RecordKindTrade, `{}`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report, err := reconciler.Reconcile(ctx)
	if err != nil {
		t.Fatalf("transport failure must not surface as an error: %v", err)
	}
	if report.Submitted != 0 {
		t.Fatalf("deferred pass must report nothing submitted, got %+v", report)
	}

	count, err := store.PendingCount(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("deferred record must stay queued, got %d", count)
	}
}

func TestReconcileSubmitsTradesBeforeJournalEntries(t *testing.T) {
	remote := &fakeRemote{hasSession: true, online: true}
	reconciler, store := newTestReconciler(t, remote)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, journal.RecordKindJournal, `{}`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Enqueue(ctx, journal.RecordKindTrade, `{}`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := reconciler.Reconcile(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(remote.batches) != 2 {
		t.Fatalf("expected one batch per kind, got %d", len(remote.batches))
	}
	if remote.batches[0][0].Kind != journal.RecordKindTrade {
		t.Fatalf("trades must be submitted first, got %q", remote.batches[0][0].Kind)
	}
	if remote.batches[1][0].Kind != journal.RecordKindJournal {
		t.Fatalf("journal entries must follow trades, got %q", remote.batches[1][0].Kind)
	}

	for _, batch := range remote.batches {
		for _, record := range batch {
			if record.SourceDevice != "test-device" {
				t.Fatalf("expected device stamped on submissions, got %q", record.SourceDevice)
			}
		}
	}
}
