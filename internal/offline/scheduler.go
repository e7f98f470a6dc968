package offline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultSyncInterval = 5 * time.Minute

var errMissingReconciler = errors.New("reconciler is required")

// SchedulerConfig describes the dependencies of the sync scheduler.
type SchedulerConfig struct {
	Reconciler *Reconciler
	Interval   time.Duration
	Logger     *zap.Logger
}

// Scheduler drives reconciliation on a fixed interval plus on-demand
// triggers (connectivity regained). There is no backoff: the interval is
// fixed regardless of error rate.
type Scheduler struct {
	reconciler *Reconciler
	interval   time.Duration
	logger     *zap.Logger
	cron       *cron.Cron
	triggers   chan struct{}
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewScheduler validates dependencies and constructs a Scheduler.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Reconciler == nil {
		return nil, errMissingReconciler
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultSyncInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Scheduler{
		reconciler: cfg.Reconciler,
		interval:   interval,
		logger:     logger,
		cron:       cron.New(),
		triggers:   make(chan struct{}, 1),
		done:       make(chan struct{}),
	}, nil
}

// Start performs one immediate reconciliation attempt, then arms the
// repeating interval and the trigger listener.
func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.runOnce(runCtx)

	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.runOnce(runCtx)
	}); err != nil {
		cancel()
		return fmt.Errorf("offline: register sync interval: %w", err)
	}
	s.cron.Start()

	go s.listenTriggers(runCtx)

	s.logger.Info("sync scheduler started", zap.Duration("interval", s.interval))
	return nil
}

// TriggerSync requests an immediate reconciliation, as on a connectivity
// regained event. Coalesces when a trigger is already pending.
func (s *Scheduler) TriggerSync() {
	select {
	case s.triggers <- struct{}{}:
	default:
	}
}

// Stop cancels the interval and the in-flight reconciliation context.
func (s *Scheduler) Stop() {
	cronCtx := s.cron.Stop()
	if s.cancel != nil {
		s.cancel()
	}
	<-cronCtx.Done()
	<-s.done
	s.logger.Info("sync scheduler stopped")
}

func (s *Scheduler) listenTriggers(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.triggers:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	report, err := s.reconciler.Reconcile(ctx)
	if err != nil {
		s.logger.Error("reconciliation failed", zap.Error(err))
		return
	}
	if report.Skipped {
		return
	}
	s.logger.Debug("reconciliation attempt finished",
		zap.Int("submitted", report.Submitted),
		zap.Int("confirmed", report.Confirmed))
}
