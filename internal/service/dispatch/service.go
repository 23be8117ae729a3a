package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/relaykit/relay-api/internal/model"
	"github.com/relaykit/relay-api/internal/provider"
	"github.com/relaykit/relay-api/internal/repository"
	apperrors "github.com/relaykit/relay-api/pkg/errors"
	"github.com/relaykit/relay-api/pkg/lock"
	"github.com/relaykit/relay-api/pkg/logger"
	"github.com/relaykit/relay-api/pkg/messaging"
	"github.com/relaykit/relay-api/pkg/metrics"
)

const (
	// DeadLetterChannel receives a notification for every item that
	// exhausts its attempt budget.
	DeadLetterChannel = "outbox.dead_letter"

	rateLimitBackoff = 60 * time.Second
	baseBackoff      = 5 * time.Second

	// drainLeaseName serializes drain passes across all dispatcher
	// instances and the admin endpoint.
	drainLeaseName = "dispatch:drain"
)

// Lease is the slice of pkg/lock a drain pass needs; narrowed for tests.
type Lease interface {
	Extend(ctx context.Context) error
	Release(ctx context.Context) error
}

// Locker guards the drain so only one pass selects and delivers at a time.
// Row locks alone cannot do this: they end with the selecting statement,
// long before delivery finishes.
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

// Config carries the dispatcher's operational knobs. Rate profiles are
// injected, not package globals, so they are testable and per-deployment.
type Config struct {
	BatchSize      int
	CallTimeout    time.Duration
	DrainLeaseTTL  time.Duration
	RateProfiles   map[string]model.RateProfile
	DefaultProfile model.RateProfile
}

// Service drains eligible outbox items and delivers them through the
// provider transport registry, respecting per-integration rate and
// concurrency bounds.
type Service struct {
	repo     repository.OutboxRepository
	registry *provider.Registry
	broker   messaging.Broker
	locker   Locker
	config   Config
	logger   *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	slots    map[string]chan struct{}
}

func NewService(
	repo repository.OutboxRepository,
	registry *provider.Registry,
	broker messaging.Broker,
	locker Locker,
	config Config,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 30 * time.Second
	}
	if config.DrainLeaseTTL <= 0 {
		config.DrainLeaseTTL = 30 * time.Second
	}
	if config.DefaultProfile.RPS <= 0 {
		config.DefaultProfile.RPS = 5
	}
	if config.DefaultProfile.Concurrent <= 0 {
		config.DefaultProfile.Concurrent = 2
	}

	return &Service{
		repo:     repo,
		registry: registry,
		broker:   broker,
		locker:   locker,
		config:   config,
		logger:   log,
		metrics:  m,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
		slots:    make(map[string]chan struct{}),
	}
}

// Run drains one batch. The whole pass, selection through delivery, runs
// under a single drain lease so two passes can never deliver the same item
// twice. Per-item failures never surface to the caller; only a failure to
// take the lease or read the queue does.
func (s *Service) Run(ctx context.Context, batchSize int) (*model.DispatchReport, error) {
	timer := prometheus.NewTimer(s.metrics.DispatchLatency)
	defer timer.ObserveDuration()

	if batchSize <= 0 || batchSize > s.config.BatchSize {
		batchSize = s.config.BatchSize
	}

	lease, err := s.locker.Acquire(ctx, drainLeaseName, s.config.DrainLeaseTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, apperrors.Conflict("a dispatch pass is already running", err)
		}
		return nil, apperrors.Internal(fmt.Errorf("acquire drain lease: %w", err))
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error(err, "failed to release drain lease")
		}
	}()

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go s.keepLeaseAlive(heartbeatCtx, lease, s.config.DrainLeaseTTL/3)

	items, err := s.repo.SelectDispatchBatch(ctx, batchSize, s.now())
	if err != nil {
		s.metrics.DatabaseOperations.WithLabelValues("select_dispatch_batch", "error").Inc()
		return nil, apperrors.Internal(fmt.Errorf("select dispatch batch: %w", err))
	}
	s.metrics.DatabaseOperations.WithLabelValues("select_dispatch_batch", "success").Inc()

	report := &model.DispatchReport{}
	if len(items) == 0 {
		return report, nil
	}

	// Group by integration so one slow provider cannot starve the rest.
	byIntegration := make(map[string][]*model.OutboxItem)
	for _, item := range items {
		byIntegration[item.IntegrationID] = append(byIntegration[item.IntegrationID], item)
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for integrationID, group := range byIntegration {
		wg.Add(1)
		go func(integrationID string, group []*model.OutboxItem) {
			defer wg.Done()
			s.dispatchGroup(ctx, integrationID, group, report, &mu)
		}(integrationID, group)
	}
	wg.Wait()

	return report, nil
}

// keepLeaseAlive extends the drain lease until the pass finishes. A slow
// provider can stretch a pass well past the lease TTL; without the
// heartbeat a second instance would start draining mid-delivery.
func (s *Service) keepLeaseAlive(ctx context.Context, lease Lease, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lease.Extend(ctx); err != nil {
				if !errors.Is(err, context.Canceled) {
					s.logger.Error(err, "failed to extend drain lease")
				}
				return
			}
		}
	}
}

// dispatchGroup delivers one integration's slice of the batch under that
// integration's concurrency cap and rate limit.
func (s *Service) dispatchGroup(ctx context.Context, integrationID string, items []*model.OutboxItem, report *model.DispatchReport, mu *sync.Mutex) {
	limiter := s.limiterFor(integrationID)
	slots := s.slotsFor(integrationID)

	var wg sync.WaitGroup
	for _, item := range items {
		if err := limiter.Wait(ctx); err != nil {
			return // context cancelled; remaining items stay eligible
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return
		}

		wg.Add(1)
		go func(item *model.OutboxItem) {
			defer wg.Done()
			defer func() { <-slots }()

			outcome := s.dispatchOne(ctx, item)

			mu.Lock()
			report.Processed++
			switch outcome {
			case outcomeSent:
				report.Sent++
			case outcomeRateLimited:
				report.RateLimited++
			default:
				report.Failed++
			}
			mu.Unlock()
		}(item)
	}
	wg.Wait()
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	outcomeRateLimited
)

// dispatchOne attempts delivery of a single item and records the result.
// It never returns an error: a panicking or failing transport is an item
// outcome, not a batch outcome.
func (s *Service) dispatchOne(ctx context.Context, item *model.OutboxItem) (result outcome) {
	start := s.now()
	var resp json.RawMessage
	var callErr error

	func() {
		defer func() {
			if r := recover(); r != nil {
				callErr = &provider.ProviderError{Status: 0, Message: fmt.Sprintf("transport panic: %v", r)}
			}
		}()

		transport, ok := s.registry.Lookup(item.IntegrationID)
		if !ok {
			callErr = &provider.ProviderError{Status: 0, Message: fmt.Sprintf("no transport registered for %q", item.IntegrationID)}
			return
		}

		callCtx, cancel := context.WithTimeout(ctx, s.config.CallTimeout)
		defer cancel()
		resp, callErr = transport.Send(callCtx, item.Operation, item.Payload)
	}()

	attempts := item.AttemptCount + 1

	if callErr == nil {
		s.metrics.ProviderCallTime.WithLabelValues(item.IntegrationID, "sent").Observe(time.Since(start).Seconds())
		if err := s.repo.MarkSent(ctx, item.ID, attempts, resp); err != nil {
			s.logger.Error(err, "failed to mark item sent", "item_id", item.ID.String())
			return outcomeFailed
		}
		s.metrics.ItemsSent.WithLabelValues(item.IntegrationID).Inc()
		return outcomeSent
	}

	rateLimited := provider.IsRateLimited(callErr)
	critical := isCritical(callErr)
	errMsg := callErr.Error()

	if rateLimited {
		s.metrics.ItemsRateLimited.WithLabelValues(item.IntegrationID).Inc()
		s.metrics.ProviderCallTime.WithLabelValues(item.IntegrationID, "ratelimited").Observe(time.Since(start).Seconds())
		result = outcomeRateLimited
	} else {
		s.metrics.ItemsFailed.WithLabelValues(item.IntegrationID).Inc()
		s.metrics.ProviderCallTime.WithLabelValues(item.IntegrationID, "failed").Observe(time.Since(start).Seconds())
		result = outcomeFailed
	}

	if attempts >= model.MaxAttempts {
		if err := s.repo.MarkDeadLetter(ctx, item.ID, attempts, errMsg, critical); err != nil {
			s.logger.Error(err, "failed to dead-letter item", "item_id", item.ID.String())
			return result
		}
		s.metrics.ItemsDeadLettered.WithLabelValues(item.IntegrationID).Inc()
		s.notifyDeadLetter(ctx, item, attempts, errMsg)
		return result
	}

	status := model.OutboxStatusFailed
	delay := backoffDelay(item.AttemptCount, rateLimited)
	if rateLimited {
		status = model.OutboxStatusThrottled
		if hint := provider.RetryAfter(callErr); hint > 0 {
			delay = hint
		}
	}
	nextAttempt := s.now().Add(delay)

	if err := s.repo.MarkRetry(ctx, item.ID, status, attempts, errMsg, nextAttempt, critical); err != nil {
		s.logger.Error(err, "failed to schedule retry", "item_id", item.ID.String())
	}
	return result
}

// backoffDelay computes the default retry delay. Rate-limited attempts
// wait a flat 60s unless the provider named its own Retry-After; generic
// failures back off exponentially on the pre-increment attempt count: 5s,
// 10s, 20s, 40s, 80s.
func backoffDelay(prevAttempts int, rateLimited bool) time.Duration {
	if rateLimited {
		return rateLimitBackoff
	}
	return (1 << prevAttempts) * baseBackoff
}

// isCritical flags failures that should weigh more heavily in health
// scoring: credential problems need operator action, retries won't help.
func isCritical(err error) bool {
	pe, ok := err.(*provider.ProviderError)
	if !ok {
		return false
	}
	return pe.Status == http.StatusUnauthorized || pe.Status == http.StatusForbidden
}

func (s *Service) notifyDeadLetter(ctx context.Context, item *model.OutboxItem, attempts int, lastError string) {
	if s.broker == nil {
		return
	}
	err := s.broker.Publish(ctx, DeadLetterChannel, map[string]interface{}{
		"outbox_id":      item.ID,
		"integration_id": item.IntegrationID,
		"operation":      item.Operation,
		"attempt_count":  attempts,
		"last_error":     lastError,
	})
	if err != nil {
		s.logger.Error(err, "failed to publish dead-letter notification", "item_id", item.ID.String())
	}
}

func (s *Service) limiterFor(integrationID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.limiters[integrationID]; ok {
		return l
	}
	profile := s.profileFor(integrationID)
	l := rate.NewLimiter(rate.Limit(profile.RPS), max(1, profile.Concurrent))
	s.limiters[integrationID] = l
	return l
}

func (s *Service) slotsFor(integrationID string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.slots[integrationID]; ok {
		return c
	}
	profile := s.profileFor(integrationID)
	c := make(chan struct{}, max(1, profile.Concurrent))
	s.slots[integrationID] = c
	return c
}

func (s *Service) profileFor(integrationID string) model.RateProfile {
	if p, ok := s.config.RateProfiles[integrationID]; ok {
		if p.RPS <= 0 {
			p.RPS = s.config.DefaultProfile.RPS
		}
		if p.Concurrent <= 0 {
			p.Concurrent = s.config.DefaultProfile.Concurrent
		}
		return p
	}
	return s.config.DefaultProfile
}
