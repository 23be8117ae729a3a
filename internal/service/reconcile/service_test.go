package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/relay-api/internal/model"
	apperrors "github.com/relaykit/relay-api/pkg/errors"
	"github.com/relaykit/relay-api/pkg/lock"
	"github.com/relaykit/relay-api/pkg/metrics"
)

type fakeRunRepo struct {
	created  []*model.ReconcileRun
	finished []*model.ReconcileRun

	finishErr error
}

func (f *fakeRunRepo) Create(ctx context.Context, run *model.ReconcileRun) error {
	run.ID = uuid.New()
	run.StartedAt = time.Now()
	run.Status = model.ReconcileStatusRunning
	f.created = append(f.created, run)
	return nil
}

func (f *fakeRunRepo) Finish(ctx context.Context, run *model.ReconcileRun) error {
	if f.finishErr != nil {
		return f.finishErr
	}
	copied := *run
	f.finished = append(f.finished, &copied)
	return nil
}

func (f *fakeRunRepo) List(ctx context.Context, integrationID string, limit int) ([]*model.ReconcileRun, error) {
	return f.finished, nil
}

func (f *fakeRunRepo) LatestCompleted(ctx context.Context, integrationID string) (*model.ReconcileRun, error) {
	return nil, nil
}

type fakeLease struct {
	mu       sync.Mutex
	extends  int
	released bool
}

func (l *fakeLease) Extend(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.extends++
	return nil
}

func (l *fakeLease) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = true
	return nil
}

func (l *fakeLease) extendCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.extends
}

type fakeLocker struct {
	lease      *fakeLease
	acquireErr error
	lastName   string
}

func (f *fakeLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	f.lastName = name
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	if f.lease == nil {
		f.lease = &fakeLease{}
	}
	return f.lease, nil
}

type stubStrategy struct {
	result *model.ReconcileResult
	err    error
	panics bool
	delay  time.Duration
}

func (s *stubStrategy) Reconcile(ctx context.Context, integrationID string, maxItems int) (*model.ReconcileResult, error) {
	if s.panics {
		panic("strategy bug")
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.result, s.err
}

func newTestService(runs *fakeRunRepo, locker *fakeLocker, strategies *StrategyRegistry) *Service {
	m := metrics.NewMetricsWith(prometheus.NewRegistry(), "test")
	return NewService(runs, strategies, locker, discardLogger(), m)
}

func TestRunSuccess(t *testing.T) {
	runs := &fakeRunRepo{}
	locker := &fakeLocker{}
	strategies := NewStrategyRegistry()
	strategies.Register("slack", &stubStrategy{result: &model.ReconcileResult{
		Checked:    12,
		DriftFixed: 3,
		APICalls:   4,
	}})

	svc := newTestService(runs, locker, strategies)
	report, err := svc.Run(context.Background(), &model.ReconcileRequest{IntegrationID: "slack"})
	require.NoError(t, err)

	assert.Equal(t, model.ReconcileStatusSuccess, report.Status)
	assert.Equal(t, 12, report.Checked)
	assert.Equal(t, 3, report.DriftFixed)
	assert.Equal(t, "reconcile:slack", locker.lastName)
	assert.True(t, locker.lease.released)

	require.Len(t, runs.created, 1)
	require.Len(t, runs.finished, 1)
	assert.Equal(t, model.ReconcileStatusSuccess, runs.finished[0].Status)
}

func TestRunPartialWhenOverHardTimeout(t *testing.T) {
	runs := &fakeRunRepo{}
	strategies := NewStrategyRegistry()
	strategies.Register("slack", &stubStrategy{result: &model.ReconcileResult{Checked: 1}})

	svc := newTestService(runs, &fakeLocker{}, strategies)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	svc.now = func() time.Time {
		calls++
		if calls > 1 {
			return base.Add(2 * time.Hour)
		}
		return base
	}

	report, err := svc.Run(context.Background(), &model.ReconcileRequest{
		IntegrationID:   "slack",
		HardTimeoutSecs: 3600,
	})
	require.NoError(t, err)

	assert.Equal(t, model.ReconcileStatusPartial, report.Status)
	require.Len(t, runs.finished, 1)
	require.NotNil(t, runs.finished[0].Notes)
	assert.Contains(t, *runs.finished[0].Notes, "time budget")
}

func TestRunFailedOnStrategyError(t *testing.T) {
	runs := &fakeRunRepo{}
	strategies := NewStrategyRegistry()
	strategies.Register("slack", &stubStrategy{
		result: &model.ReconcileResult{Checked: 5},
		err:    errors.New("provider unreachable"),
	})

	svc := newTestService(runs, &fakeLocker{}, strategies)
	_, err := svc.Run(context.Background(), &model.ReconcileRequest{IntegrationID: "slack"})
	require.Error(t, err)

	require.Len(t, runs.finished, 1)
	finished := runs.finished[0]
	assert.Equal(t, model.ReconcileStatusFailed, finished.Status)
	assert.Equal(t, 5, finished.Checked)
	require.NotNil(t, finished.Notes)
	assert.Contains(t, *finished.Notes, "provider unreachable")
}

func TestRunUnknownIntegrationSoftFails(t *testing.T) {
	runs := &fakeRunRepo{}
	svc := newTestService(runs, &fakeLocker{}, NewStrategyRegistry())

	report, err := svc.Run(context.Background(), &model.ReconcileRequest{IntegrationID: "mystery"})
	require.NoError(t, err)

	assert.Equal(t, model.ReconcileStatusSuccess, report.Status)
	assert.Equal(t, 1, report.Failures)
	assert.Equal(t, 0, report.Checked)
}

func TestRunStrategyPanicEndsFailed(t *testing.T) {
	runs := &fakeRunRepo{}
	strategies := NewStrategyRegistry()
	strategies.Register("slack", &stubStrategy{panics: true})

	locker := &fakeLocker{}
	svc := newTestService(runs, locker, strategies)
	_, err := svc.Run(context.Background(), &model.ReconcileRequest{IntegrationID: "slack"})
	require.Error(t, err)

	require.Len(t, runs.finished, 1)
	assert.Equal(t, model.ReconcileStatusFailed, runs.finished[0].Status)
	assert.True(t, locker.lease.released)
}

func TestRunLeaseConflict(t *testing.T) {
	locker := &fakeLocker{acquireErr: lock.ErrNotAcquired}
	svc := newTestService(&fakeRunRepo{}, locker, NewStrategyRegistry())

	_, err := svc.Run(context.Background(), &model.ReconcileRequest{IntegrationID: "slack"})
	require.Error(t, err)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrConflict, appErr.Code)
}

func TestRunRequiresIntegrationID(t *testing.T) {
	svc := newTestService(&fakeRunRepo{}, &fakeLocker{}, NewStrategyRegistry())

	_, err := svc.Run(context.Background(), &model.ReconcileRequest{})
	require.Error(t, err)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrBadRequest, appErr.Code)
}

func TestRunExtendsLeaseDuringLongSweep(t *testing.T) {
	runs := &fakeRunRepo{}
	strategies := NewStrategyRegistry()
	strategies.Register("slack", &stubStrategy{
		result: &model.ReconcileResult{Checked: 1},
		delay:  800 * time.Millisecond,
	})

	locker := &fakeLocker{}
	svc := newTestService(runs, locker, strategies)
	_, err := svc.Run(context.Background(), &model.ReconcileRequest{
		IntegrationID:   "slack",
		HardTimeoutSecs: 1,
	})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, locker.lease.extendCount(), 2,
		"lease must be refreshed while the strategy is still working")
	assert.True(t, locker.lease.released)
}

func TestHeartbeatInterval(t *testing.T) {
	assert.Equal(t, time.Second, heartbeatInterval(3*time.Second))
	assert.Equal(t, 30*time.Second, heartbeatInterval(6900*time.Second))
	assert.Equal(t, time.Second, heartbeatInterval(0))
}
