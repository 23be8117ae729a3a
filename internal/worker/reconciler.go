package worker

import (
	"context"
	"time"

	"github.com/relaykit/relay-api/internal/model"
	reconcileService "github.com/relaykit/relay-api/internal/service/reconcile"
	apperrors "github.com/relaykit/relay-api/pkg/errors"
	"github.com/relaykit/relay-api/pkg/logger"
)

type ReconcilerConfig struct {
	Interval        time.Duration
	MaxItems        int
	HardTimeoutSecs int
	Integrations    []string
}

// Reconciler sweeps each configured integration on a fixed interval.
// Sweeps run sequentially; the per-integration lease inside the service
// keeps concurrent workers from overlapping.
type Reconciler struct {
	service *reconcileService.Service
	config  ReconcilerConfig
	logger  *logger.Logger
}

func NewReconciler(service *reconcileService.Service, config ReconcilerConfig, log *logger.Logger) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Minute
	}
	if len(config.Integrations) == 0 {
		config.Integrations = DefaultIntegrations()
	}

	return &Reconciler{
		service: service,
		config:  config,
		logger:  log,
	}
}

func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logger.Info("starting reconciler")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("shutting down reconciler")
			return
		case <-ticker.C:
			r.sweepAll(ctx)
		}
	}
}

func (r *Reconciler) sweepAll(ctx context.Context) {
	for _, integrationID := range r.config.Integrations {
		if ctx.Err() != nil {
			return
		}
		r.sweep(ctx, integrationID)
	}
}

func (r *Reconciler) sweep(ctx context.Context, integrationID string) {
	report, err := r.service.Run(ctx, &model.ReconcileRequest{
		IntegrationID:   integrationID,
		MaxItems:        r.config.MaxItems,
		HardTimeoutSecs: r.config.HardTimeoutSecs,
	})
	if err != nil {
		if appErr, ok := apperrors.AsAppError(err); ok && appErr.Code == apperrors.ErrConflict {
			// Another worker holds the lease for this integration.
			r.logger.WithFields(map[string]interface{}{
				"integration_id": integrationID,
			}).Debug("sweep skipped, lease held elsewhere")
			return
		}
		r.logger.Error(err, "reconcile sweep failed")
		return
	}

	r.logger.WithFields(map[string]interface{}{
		"integration_id": integrationID,
		"status":         report.Status,
		"checked":        report.Checked,
		"drift_fixed":    report.DriftFixed,
	}).Info("reconcile sweep complete")
}
