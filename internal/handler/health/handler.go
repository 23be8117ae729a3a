package health

import (
	"github.com/gin-gonic/gin"

	"github.com/relaykit/relay-api/internal/model"
	healthService "github.com/relaykit/relay-api/internal/service/health"
	apperrors "github.com/relaykit/relay-api/pkg/errors"
	"github.com/relaykit/relay-api/pkg/httputil"
)

type Handler struct {
	service *healthService.Service
}

func NewHandler(service *healthService.Service) *Handler {
	return &Handler{service: service}
}

// Report returns the weighted health score per integration. Passing
// ?integration_id= narrows the report to a single integration.
func (h *Handler) Report(c *gin.Context) {
	report, err := h.service.Report(c.Request.Context(), c.Query("integration_id"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, report)
}

type configRequest struct {
	Enabled             bool `json:"enabled"`
	ConnectorAuthorized bool `json:"connector_authorized"`
}

// UpdateConfig flips an integration's operator flags, notably the OAuth
// connector authorization that feeds the health score.
func (h *Handler) UpdateConfig(c *gin.Context) {
	var req configRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), err))
		return
	}

	cfg := &model.IntegrationConfig{
		IntegrationID:       c.Param("id"),
		Enabled:             req.Enabled,
		ConnectorAuthorized: req.ConnectorAuthorized,
	}
	if err := h.service.UpdateConfig(c.Request.Context(), cfg); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, cfg)
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, requireAdmin gin.HandlerFunc) {
	integrations := r.Group("/integrations", requireAdmin)
	{
		integrations.GET("/health", h.Report)
		integrations.PUT("/:id/config", h.UpdateConfig)
	}
}
