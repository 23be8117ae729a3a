package outbox

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/relaykit/relay-api/internal/model"
	outboxService "github.com/relaykit/relay-api/internal/service/outbox"
	apperrors "github.com/relaykit/relay-api/pkg/errors"
	"github.com/relaykit/relay-api/pkg/httputil"
)

type Handler struct {
	service *outboxService.Service
}

func NewHandler(service *outboxService.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Enqueue(c *gin.Context) {
	var req model.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), err))
		return
	}

	result, err := h.service.Enqueue(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithStatus(c, 202, result)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid outbox item ID", err))
		return
	}

	item, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, item)
}

func (h *Handler) List(c *gin.Context) {
	filter := model.OutboxFilter{
		IntegrationID: c.Query("integration_id"),
		Status:        model.OutboxStatus(c.Query("status")),
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			httputil.RespondWithError(c, apperrors.BadRequest("invalid limit", err))
			return
		}
		filter.Limit = n
	}

	items, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, items)
}

func (h *Handler) Requeue(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid outbox item ID", err))
		return
	}

	if err := h.service.Requeue(c.Request.Context(), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, gin.H{"requeued": true})
}

// RegisterRoutes wires the public enqueue endpoint and the admin-only
// inspection endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, requireAdmin gin.HandlerFunc) {
	items := r.Group("/outbox")
	{
		items.POST("", h.Enqueue)
		items.GET("/:id", h.Get)
		items.GET("", requireAdmin, h.List)
		items.POST("/:id/requeue", requireAdmin, h.Requeue)
	}
}
