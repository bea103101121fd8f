package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"autotext_backend/internal/leads/domain"
	"autotext_backend/internal/leads/repository"
	"autotext_backend/internal/leads/service"
	"autotext_backend/internal/leads/transport"
	"autotext_backend/platform/httpkit"
	"autotext_backend/platform/validator"
)

type Handler struct {
	svc *service.Service
	val *validator.Validator
}

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.POST("", h.Create)
	rg.GET("/:id", h.GetByID)
	rg.GET("/:id/messages", h.History)
	rg.POST("/:id/messages", h.ManualSend)
	rg.POST("/:id/approve", h.Approve)
	rg.POST("/:id/skip", h.Skip)
	rg.POST("/:id/regenerate", h.Regenerate)
	rg.POST("/:id/ai/start", h.StartAI)
	rg.POST("/:id/ai/pause", h.PauseAI)
	rg.PUT("/:id/schedule", h.SetSchedule)
}

func (h *Handler) Create(c *gin.Context) {
	var req transport.CreateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	lead, err := h.svc.Create(c.Request.Context(), service.CreateParams{
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Phone:           req.Phone,
		Email:           req.Email,
		VehicleInterest: req.VehicleInterest,
		Source:          req.Source,
		OptInForAI:      req.OptInForAI,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, lead)
}

func (h *Handler) List(c *gin.Context) {
	var query transport.ListLeadsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(query); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	if query.View == "stuck" {
		leads, err := h.svc.StuckApproved(c.Request.Context(), query.Limit)
		if httpkit.HandleError(c, err) {
			return
		}
		httpkit.OK(c, leads)
		return
	}

	leads, err := h.svc.List(c.Request.Context(), repository.ListParams{
		NeedsReview: query.View == "review",
		Unread:      query.View == "unread",
		Limit:       query.Limit,
		Offset:      query.Offset,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, leads)
}

func (h *Handler) GetByID(c *gin.Context) {
	id, ok := h.leadID(c)
	if !ok {
		return
	}
	lead, err := h.svc.GetByID(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, lead)
}

func (h *Handler) History(c *gin.Context) {
	id, ok := h.leadID(c)
	if !ok {
		return
	}
	msgs, err := h.svc.History(c.Request.Context(), id, 200)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, msgs)
}

func (h *Handler) ManualSend(c *gin.Context) {
	id, ok := h.leadID(c)
	if !ok {
		return
	}
	var req transport.ManualSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	lead, err := h.svc.ManualSend(c.Request.Context(), id, req.Body)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, lead)
}

func (h *Handler) Approve(c *gin.Context) {
	h.reviewAction(c, h.svc.ApproveDraft)
}

func (h *Handler) Skip(c *gin.Context) {
	h.reviewAction(c, h.svc.SkipDraft)
}

func (h *Handler) Regenerate(c *gin.Context) {
	h.reviewAction(c, h.svc.RegenerateDraft)
}

func (h *Handler) StartAI(c *gin.Context) {
	h.reviewAction(c, h.svc.StartAI)
}

func (h *Handler) PauseAI(c *gin.Context) {
	h.reviewAction(c, h.svc.PauseAI)
}

func (h *Handler) SetSchedule(c *gin.Context) {
	id, ok := h.leadID(c)
	if !ok {
		return
	}
	var req transport.ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	lead, err := h.svc.SetManualSchedule(c.Request.Context(), id, req.NextSendAt)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, lead)
}

func (h *Handler) leadID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return uuid.Nil, false
	}
	return id, true
}

// reviewAction factors the shared shape of the one-shot lead actions:
// parse the id, run the action, return the updated lead.
func (h *Handler) reviewAction(c *gin.Context, action func(ctx context.Context, id uuid.UUID) (domain.Lead, error)) {
	id, ok := h.leadID(c)
	if !ok {
		return
	}
	lead, err := action(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, lead)
}
