package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaykit/relay-api/internal/model"
	"github.com/relaykit/relay-api/internal/repository"
	apperrors "github.com/relaykit/relay-api/pkg/errors"
	"github.com/relaykit/relay-api/pkg/lock"
	"github.com/relaykit/relay-api/pkg/logger"
	"github.com/relaykit/relay-api/pkg/metrics"
)

const (
	DefaultMaxItems        = 3000
	DefaultHardTimeoutSecs = 6900
)

// Lease is the slice of pkg/lock the reconciler needs; narrowed for tests.
type Lease interface {
	Extend(ctx context.Context) error
	Release(ctx context.Context) error
}

// Locker hands out per-integration leases so two sweeps for the same
// integration can never run concurrently.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error)
}

// NewRedisLocker adapts the shared lease locker to this package's Locker.
func NewRedisLocker(l *lock.Locker) Locker {
	return redisLocker{l}
}

type redisLocker struct {
	l *lock.Locker
}

func (r redisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	return r.l.Acquire(ctx, name, ttl)
}

// RunReport is the caller-facing result of one sweep.
type RunReport struct {
	ReconcileRunID uuid.UUID             `json:"reconcile_run_id"`
	Status         model.ReconcileStatus `json:"status"`
	Checked        int                   `json:"checked"`
	DriftFixed     int                   `json:"drift_fixed"`
	APICalls       int                   `json:"api_calls"`
	RateLimited    int                   `json:"rate_limited"`
	Failures       int                   `json:"failures"`
}

// Service orchestrates reconciliation sweeps: lease, eager run row,
// strategy execution, final status bookkeeping.
type Service struct {
	runs       repository.ReconcileRunRepository
	strategies *StrategyRegistry
	locker     Locker
	logger     *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewService(
	runs repository.ReconcileRunRepository,
	strategies *StrategyRegistry,
	locker Locker,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		runs:       runs,
		strategies: strategies,
		locker:     locker,
		logger:     log,
		metrics:    m,
		now:        time.Now,
	}
}

// Run executes one sweep for one integration. The run row is written with
// status=running before any work so a crash mid-sweep leaves an orphaned
// running record for operators to find. The hard timeout is advisory: a
// sweep that outlives it still finishes, but ends partial instead of
// success.
func (s *Service) Run(ctx context.Context, req *model.ReconcileRequest) (*RunReport, error) {
	if req == nil || req.IntegrationID == "" {
		return nil, apperrors.BadRequest("integration_id is required", nil)
	}

	maxItems := req.MaxItems
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	hardTimeout := time.Duration(req.HardTimeoutSecs) * time.Second
	if hardTimeout <= 0 {
		hardTimeout = DefaultHardTimeoutSecs * time.Second
	}

	lease, err := s.locker.Acquire(ctx, "reconcile:"+req.IntegrationID, hardTimeout)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, apperrors.Conflict(
				fmt.Sprintf("a reconcile sweep for %s is already running", req.IntegrationID), err)
		}
		return nil, apperrors.Internal(fmt.Errorf("acquire reconcile lease: %w", err))
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error(err, "failed to release reconcile lease", "integration_id", req.IntegrationID)
		}
	}()

	// A sweep that outlives the hard timeout must keep its lease until it
	// actually finishes, or a second sweep starts concurrently in exactly
	// the over-budget case.
	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go s.keepLeaseAlive(heartbeatCtx, lease, req.IntegrationID, heartbeatInterval(hardTimeout))

	run := &model.ReconcileRun{IntegrationID: req.IntegrationID}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, apperrors.Internal(fmt.Errorf("create reconcile run: %w", err))
	}

	started := s.now()
	result, sweepErr := s.executeStrategy(ctx, req.IntegrationID, maxItems)
	elapsed := s.now().Sub(started)

	run.Checked = result.Checked
	run.DriftFixed = result.DriftFixed
	run.APICalls = result.APICalls
	run.RateLimited429 = result.RateLimited429
	run.Failures = result.Failures

	switch {
	case sweepErr != nil:
		run.Status = model.ReconcileStatusFailed
		notes := sweepErr.Error()
		run.Notes = &notes
	case elapsed > hardTimeout:
		run.Status = model.ReconcileStatusPartial
		notes := fmt.Sprintf("exceeded soft time budget: ran %s of %s", elapsed.Round(time.Second), hardTimeout)
		run.Notes = &notes
	default:
		run.Status = model.ReconcileStatusSuccess
	}

	if err := s.runs.Finish(ctx, run); err != nil {
		// The sweep outcome is lost from the record but not from the
		// caller; surface whichever error is more fundamental.
		if sweepErr == nil {
			return nil, apperrors.Internal(fmt.Errorf("finish reconcile run: %w", err))
		}
		s.logger.Error(err, "failed to finish reconcile run", "run_id", run.ID.String())
	}

	s.metrics.ReconcileRuns.WithLabelValues(req.IntegrationID, string(run.Status)).Inc()
	s.metrics.ReconcileDriftFixed.WithLabelValues(req.IntegrationID).Add(float64(run.DriftFixed))
	s.metrics.ReconcileDuration.WithLabelValues(req.IntegrationID).Observe(elapsed.Seconds())

	if sweepErr != nil {
		return nil, apperrors.Internal(fmt.Errorf("reconcile sweep failed: %w", sweepErr))
	}

	return &RunReport{
		ReconcileRunID: run.ID,
		Status:         run.Status,
		Checked:        run.Checked,
		DriftFixed:     run.DriftFixed,
		APICalls:       run.APICalls,
		RateLimited:    run.RateLimited429,
		Failures:       run.Failures,
	}, nil
}

// heartbeatInterval picks a refresh cadence well inside the lease TTL.
func heartbeatInterval(ttl time.Duration) time.Duration {
	interval := ttl / 3
	if interval > 30*time.Second {
		interval = 30 * time.Second
	}
	if interval <= 0 {
		interval = time.Second
	}
	return interval
}

func (s *Service) keepLeaseAlive(ctx context.Context, lease Lease, integrationID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lease.Extend(ctx); err != nil {
				if !errors.Is(err, context.Canceled) {
					s.logger.Error(err, "failed to extend reconcile lease", "integration_id", integrationID)
				}
				return
			}
		}
	}
}

// executeStrategy runs the integration's strategy with panic isolation. An
// unknown integration is a soft failure: zero-effect result, failures=1.
func (s *Service) executeStrategy(ctx context.Context, integrationID string, maxItems int) (result *model.ReconcileResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = &model.ReconcileResult{}
			err = fmt.Errorf("strategy panic: %v", r)
		}
	}()

	strategy, ok := s.strategies.Lookup(integrationID)
	if !ok {
		s.logger.Warn("no reconcile strategy registered", "integration_id", integrationID)
		return &model.ReconcileResult{Failures: 1}, nil
	}

	result, err = strategy.Reconcile(ctx, integrationID, maxItems)
	if result == nil {
		result = &model.ReconcileResult{}
	}
	return result, err
}

// ListRuns returns recent sweep records.
func (s *Service) ListRuns(ctx context.Context, integrationID string, limit int) ([]*model.ReconcileRun, error) {
	runs, err := s.runs.List(ctx, integrationID, limit)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return runs, nil
}
