package reconcile

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/relaykit/relay-api/internal/model"
	reconcileService "github.com/relaykit/relay-api/internal/service/reconcile"
	apperrors "github.com/relaykit/relay-api/pkg/errors"
	"github.com/relaykit/relay-api/pkg/httputil"
)

type Handler struct {
	service *reconcileService.Service
}

func NewHandler(service *reconcileService.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Run(c *gin.Context) {
	var req model.ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), err))
		return
	}

	report, err := h.service.Run(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, report)
}

func (h *Handler) ListRuns(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httputil.RespondWithError(c, apperrors.BadRequest("invalid limit", err))
			return
		}
		limit = n
	}

	runs, err := h.service.ListRuns(c.Request.Context(), c.Query("integration_id"), limit)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, runs)
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, requireAdmin gin.HandlerFunc) {
	rec := r.Group("/reconcile", requireAdmin)
	{
		rec.POST("/run", h.Run)
		rec.GET("/runs", h.ListRuns)
	}
}
