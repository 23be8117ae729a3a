package worker

import (
	"context"
	"time"

	"github.com/relaykit/relay-api/internal/model"
	"github.com/relaykit/relay-api/internal/repository"
	dispatchService "github.com/relaykit/relay-api/internal/service/dispatch"
	apperrors "github.com/relaykit/relay-api/pkg/errors"
	"github.com/relaykit/relay-api/pkg/logger"
	"github.com/relaykit/relay-api/pkg/metrics"
)

type DispatcherConfig struct {
	BatchSize    int
	PollInterval time.Duration
	Integrations []string
}

// Dispatcher drives the dispatch service on a fixed interval and keeps
// the queue depth gauge current between passes.
type Dispatcher struct {
	service *dispatchService.Service
	repo    repository.OutboxRepository
	config  DispatcherConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewDispatcher(
	service *dispatchService.Service,
	repo repository.OutboxRepository,
	config DispatcherConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *Dispatcher {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}

	return &Dispatcher{
		service: service,
		repo:    repo,
		config:  config,
		logger:  log,
		metrics: m,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	d.logger.Info("starting outbox dispatcher")

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("shutting down outbox dispatcher")
			return
		case <-ticker.C:
			d.runOnce(ctx)
		}
	}
}

func (d *Dispatcher) runOnce(ctx context.Context) {
	report, err := d.service.Run(ctx, d.config.BatchSize)
	if err != nil {
		// Another instance holds the drain lease; the items are theirs.
		if appErr, ok := apperrors.AsAppError(err); ok && appErr.Code == apperrors.ErrConflict {
			d.logger.Debug("dispatch pass skipped, drain lock held elsewhere")
			return
		}
		d.logger.Error(err, "dispatch pass failed")
		return
	}

	if report.Processed > 0 {
		d.logger.WithFields(map[string]interface{}{
			"processed":    report.Processed,
			"sent":         report.Sent,
			"failed":       report.Failed,
			"rate_limited": report.RateLimited,
		}).Info("dispatch pass complete")
	}

	d.updateQueueDepth(ctx)
}

func (d *Dispatcher) updateQueueDepth(ctx context.Context) {
	now := time.Now()
	for _, integrationID := range d.config.Integrations {
		depth, err := d.repo.CountEligible(ctx, integrationID, now)
		if err != nil {
			d.metrics.DatabaseOperations.WithLabelValues("count_eligible", "error").Inc()
			d.logger.Error(err, "failed to count eligible outbox items")
			continue
		}
		d.metrics.DatabaseOperations.WithLabelValues("count_eligible", "success").Inc()
		d.metrics.QueueDepth.WithLabelValues(integrationID).Set(float64(depth))
	}
}

// DefaultIntegrations lists every integration the queue depth gauge
// tracks when the config names none.
func DefaultIntegrations() []string {
	return []string{
		model.IntegrationGoogleSheets,
		model.IntegrationSlack,
		model.IntegrationResend,
		model.IntegrationTwilio,
		model.IntegrationNotion,
		model.IntegrationLinkedIn,
		model.IntegrationTikTok,
		model.IntegrationSMTP,
		model.IntegrationWebhook,
	}
}
