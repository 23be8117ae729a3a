package dispatch

import (
	"github.com/gin-gonic/gin"

	dispatchService "github.com/relaykit/relay-api/internal/service/dispatch"
	apperrors "github.com/relaykit/relay-api/pkg/errors"
	"github.com/relaykit/relay-api/pkg/httputil"
)

type runRequest struct {
	BatchSize int `json:"batch_size"`
}

type Handler struct {
	service *dispatchService.Service
}

func NewHandler(service *dispatchService.Service) *Handler {
	return &Handler{service: service}
}

// Run drains one batch of eligible outbox items. The worker runs the same
// loop on a timer; this endpoint exists for operators who need an
// immediate pass.
func (h *Handler) Run(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), err))
		return
	}

	report, err := h.service.Run(c.Request.Context(), req.BatchSize)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, report)
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, requireAdmin gin.HandlerFunc) {
	r.POST("/dispatch/run", requireAdmin, h.Run)
}
