package health

import (
	"context"
	"fmt"
	"math"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/relaykit/relay-api/internal/model"
	"github.com/relaykit/relay-api/internal/repository"
	apperrors "github.com/relaykit/relay-api/pkg/errors"
)

// Integrations whose authorization flows through an OAuth connector. These
// forfeit the connector sub-score unless connector_authorized is set;
// everything else gets it for free.
var oauthIntegrations = map[string]bool{
	model.IntegrationGoogleSheets: true,
	model.IntegrationSlack:        true,
	model.IntegrationNotion:       true,
	model.IntegrationLinkedIn:     true,
	model.IntegrationTikTok:       true,
}

const (
	statsWindow    = 24 * time.Hour
	configCacheTTL = 30 * time.Second
)

// Service computes composite 0-100 health scores per integration so
// dashboards don't have to read raw queue and run tables.
type Service struct {
	outbox  repository.OutboxRepository
	runs    repository.ReconcileRunRepository
	configs repository.IntegrationConfigRepository
	cache   *gocache.Cache
	now     func() time.Time
}

func NewService(
	outbox repository.OutboxRepository,
	runs repository.ReconcileRunRepository,
	configs repository.IntegrationConfigRepository,
) *Service {
	return &Service{
		outbox:  outbox,
		runs:    runs,
		configs: configs,
		cache:   gocache.New(configCacheTTL, time.Minute),
		now:     time.Now,
	}
}

// Report scores one integration, or every enabled one when integrationID
// is empty. The overall score is the unweighted mean; nil when nothing is
// enabled.
func (s *Service) Report(ctx context.Context, integrationID string) (*model.HealthReport, error) {
	var ids []string
	if integrationID != "" {
		ids = []string{integrationID}
	} else {
		configs, err := s.configs.ListEnabled(ctx)
		if err != nil {
			return nil, apperrors.Internal(fmt.Errorf("list enabled integrations: %w", err))
		}
		for _, cfg := range configs {
			ids = append(ids, cfg.IntegrationID)
		}
	}

	report := &model.HealthReport{
		CalculationMethod: map[string]int{
			"reconcile_recency":   model.HealthWeightReconcileRecency,
			"outbox_success_rate": model.HealthWeightSuccessRate,
			"critical_errors":     model.HealthWeightCriticalErrors,
			"connector_status":    model.HealthWeightConnectorStatus,
		},
	}

	var sum float64
	for _, id := range ids {
		ih, err := s.scoreIntegration(ctx, id)
		if err != nil {
			return nil, err
		}
		report.Integrations = append(report.Integrations, *ih)
		sum += float64(ih.HealthScore)
	}

	if len(report.Integrations) > 0 {
		mean := sum / float64(len(report.Integrations))
		report.OverallHealthScore = &mean
	}

	return report, nil
}

func (s *Service) scoreIntegration(ctx context.Context, integrationID string) (*model.IntegrationHealth, error) {
	now := s.now()

	breakdown := model.HealthBreakdown{}

	recency, err := s.reconcileRecencyScore(ctx, integrationID, now)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	breakdown.ReconcileRecency = recency

	stats, err := s.outbox.WindowStats(ctx, integrationID, now.Add(-statsWindow))
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	breakdown.SuccessRate = successRateScore(stats)
	breakdown.CriticalErrors = criticalErrorScore(stats.CriticalCount)

	connector, err := s.connectorScore(ctx, integrationID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	breakdown.ConnectorStatus = connector

	// Successive subtraction of each sub-score's deficit; algebraically
	// the same as summing the sub-scores, and both are asserted in tests.
	score := 100
	score -= model.HealthWeightReconcileRecency - breakdown.ReconcileRecency
	score -= model.HealthWeightSuccessRate - breakdown.SuccessRate
	score -= model.HealthWeightCriticalErrors - breakdown.CriticalErrors
	score -= model.HealthWeightConnectorStatus - breakdown.ConnectorStatus
	score = clamp(score, 0, 100)

	return &model.IntegrationHealth{
		IntegrationID: integrationID,
		HealthScore:   score,
		Breakdown:     breakdown,
		Timestamp:     now,
	}, nil
}

// reconcileRecencyScore steps down with hours since the last completed
// sweep: <2h full credit, then 20, 10, 0. Never reconciled scores 0.
func (s *Service) reconcileRecencyScore(ctx context.Context, integrationID string, now time.Time) (int, error) {
	run, err := s.runs.LatestCompleted(ctx, integrationID)
	if err != nil {
		return 0, err
	}
	if run == nil || run.FinishedAt == nil {
		return 0, nil
	}

	age := now.Sub(*run.FinishedAt)
	switch {
	case age < 2*time.Hour:
		return model.HealthWeightReconcileRecency, nil
	case age < 6*time.Hour:
		return 20, nil
	case age < 24*time.Hour:
		return 10, nil
	default:
		return 0, nil
	}
}

// successRateScore: sent/total over the window. An empty window counts as
// a perfect rate so idle integrations aren't penalized.
func successRateScore(stats *model.OutboxWindowStats) int {
	if stats.Total == 0 {
		return model.HealthWeightSuccessRate
	}
	rate := float64(stats.Sent) / float64(stats.Total)
	if rate >= 1 {
		return model.HealthWeightSuccessRate
	}
	return int(math.Floor(rate * model.HealthWeightSuccessRate))
}

// criticalErrorScore loses two points per critical item, floored at zero.
func criticalErrorScore(count int) int {
	score := model.HealthWeightCriticalErrors - 2*count
	if score < 0 {
		return 0
	}
	return score
}

func (s *Service) connectorScore(ctx context.Context, integrationID string) (int, error) {
	if !oauthIntegrations[integrationID] {
		return model.HealthWeightConnectorStatus, nil
	}

	cfg, err := s.config(ctx, integrationID)
	if err != nil {
		return 0, err
	}
	if cfg != nil && cfg.ConnectorAuthorized {
		return model.HealthWeightConnectorStatus, nil
	}
	return 0, nil
}

// UpdateConfig upserts one integration's operator settings and drops the
// cached copy so the next score sees the change.
func (s *Service) UpdateConfig(ctx context.Context, cfg *model.IntegrationConfig) error {
	if cfg == nil || cfg.IntegrationID == "" {
		return apperrors.BadRequest("integration_id is required", nil)
	}
	if err := s.configs.Upsert(ctx, cfg); err != nil {
		return apperrors.Internal(fmt.Errorf("upsert integration config: %w", err))
	}
	s.cache.Delete(cfg.IntegrationID)
	return nil
}

// config reads the integration config through a short TTL cache; health is
// polled by dashboards far more often than operators flip these flags.
func (s *Service) config(ctx context.Context, integrationID string) (*model.IntegrationConfig, error) {
	if cached, ok := s.cache.Get(integrationID); ok {
		cfg, _ := cached.(*model.IntegrationConfig)
		return cfg, nil
	}

	cfg, err := s.configs.Get(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(integrationID, cfg, gocache.DefaultExpiration)
	return cfg, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
