package reconcile

import (
	"context"
	"time"

	"github.com/relaykit/relay-api/internal/model"
	"github.com/relaykit/relay-api/internal/repository"
	"github.com/relaykit/relay-api/pkg/logger"
)

// Staleness thresholds: how long an item may sit queued before it counts
// as drift. Latency-sensitive channels get shorter windows.
const (
	defaultStaleness = 6 * time.Hour
	emailStaleness   = 2 * time.Hour // email and SMS
	chatStaleness    = 1 * time.Hour
)

// Strategy detects and repairs drift for one integration.
type Strategy interface {
	Reconcile(ctx context.Context, integrationID string, maxItems int) (*model.ReconcileResult, error)
}

// StrategyRegistry routes integration ids to strategies. Absence of a
// registration is a defined soft-fail outcome, not a crash.
type StrategyRegistry struct {
	strategies map[string]Strategy
}

func NewStrategyRegistry() *StrategyRegistry {
	return &StrategyRegistry{strategies: make(map[string]Strategy)}
}

func (r *StrategyRegistry) Register(integrationID string, s Strategy) {
	r.strategies[integrationID] = s
}

func (r *StrategyRegistry) Lookup(integrationID string) (Strategy, bool) {
	s, ok := r.strategies[integrationID]
	return s, ok
}

// RegisterDefaults wires the stale-queue strategy for every known
// integration with its channel-appropriate staleness window.
func RegisterDefaults(registry *StrategyRegistry, repo repository.OutboxRepository, log *logger.Logger) {
	stale := func(window time.Duration) Strategy {
		return NewStaleQueueStrategy(repo, window, log)
	}

	registry.Register(model.IntegrationGoogleSheets, stale(defaultStaleness))
	registry.Register(model.IntegrationNotion, stale(defaultStaleness))
	registry.Register(model.IntegrationLinkedIn, stale(defaultStaleness))
	registry.Register(model.IntegrationTikTok, stale(defaultStaleness))
	registry.Register(model.IntegrationWebhook, stale(defaultStaleness))
	registry.Register(model.IntegrationResend, stale(emailStaleness))
	registry.Register(model.IntegrationSMTP, stale(emailStaleness))
	registry.Register(model.IntegrationTwilio, stale(emailStaleness))
	registry.Register(model.IntegrationSlack, stale(chatStaleness))
}

// StaleQueueStrategy finds items stuck in queued past the staleness window
// and makes them immediately dispatch-eligible again. It repairs
// eligibility; it does not retry the items itself.
type StaleQueueStrategy struct {
	repo      repository.OutboxRepository
	staleness time.Duration
	logger    *logger.Logger
	now       func() time.Time
}

func NewStaleQueueStrategy(repo repository.OutboxRepository, staleness time.Duration, log *logger.Logger) *StaleQueueStrategy {
	return &StaleQueueStrategy{
		repo:      repo,
		staleness: staleness,
		logger:    log,
		now:       time.Now,
	}
}

func (s *StaleQueueStrategy) Reconcile(ctx context.Context, integrationID string, maxItems int) (*model.ReconcileResult, error) {
	result := &model.ReconcileResult{}
	cutoff := s.now().Add(-s.staleness)

	items, err := s.repo.FindStale(ctx, integrationID, cutoff, maxItems)
	if err != nil {
		return result, err
	}
	result.APICalls++
	result.Checked = len(items)

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.repo.ResetStale(ctx, item.ID); err != nil {
			result.Failures++
			s.logger.Error(err, "failed to reset stale item", "item_id", item.ID.String())
			continue
		}
		result.APICalls++
		result.DriftFixed++
	}

	return result, nil
}
