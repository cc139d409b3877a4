package verification

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ridelink/driver-portal/driver-portal-backend/internal/auth"
	"ridelink/driver-portal/driver-portal-backend/internal/drivers"
	"ridelink/driver-portal/driver-portal-backend/internal/reviewers"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	requests := rg.Group("/verifications")
	{
		requests.GET("", h.List)
		requests.GET("/export", h.Export)
		requests.GET("/:id", h.Get)
		requests.GET("/:id/actions", h.ListActions)
		requests.POST("/:id/assign", h.Assign)
		requests.POST("/:id/documents/:field", h.RecordDocumentAction)
		requests.POST("/:id/approve", h.Approve)
		requests.POST("/:id/reject", h.Reject)
		requests.POST("/:id/revert", h.RequestRevert)
		requests.POST("/:id/revert-decision",
			auth.RequireRole(reviewers.RoleAdmin, reviewers.RoleSuperAdmin),
			h.HandleRevertDecision)
	}
}

func (h *Handler) List(c *gin.Context) {
	filter, err := filterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	requests, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"requests": requests,
		"total":    total,
		"page":     filter.Page,
		"limit":    filter.Limit,
	})
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	request, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, request)
}

func (h *Handler) ListActions(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	actions, err := h.service.GetActions(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, actions)
}

func (h *Handler) Assign(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var req struct {
		ReviewerID *uuid.UUID `json:"reviewer_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Default to self-assignment.
	reviewerID := req.ReviewerID
	if reviewerID == nil {
		claims := auth.ClaimsFrom(c)
		if claims == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reviewer_id is required"})
			return
		}
		reviewerID = &claims.ReviewerID
	}

	if err := h.service.Assign(c.Request.Context(), id, *reviewerID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) RecordDocumentAction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var req struct {
		Action DocumentActionType `json:"action" binding:"required"`
		Reason *string            `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Action != ActionApproved && req.Action != ActionRejected {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be APPROVED or REJECTED"})
		return
	}

	claims := auth.ClaimsFrom(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	err = h.service.RecordDocumentAction(c.Request.Context(), RecordActionRequest{
		RequestID: id,
		Field:     drivers.DocumentField(c.Param("field")),
		Action:    req.Action,
		Reason:    req.Reason,
		ActorID:   claims.ReviewerID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) Approve(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	claims := auth.ClaimsFrom(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	if err := h.service.Approve(c.Request.Context(), id, claims.ReviewerID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) Reject(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims := auth.ClaimsFrom(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	if err := h.service.Reject(c.Request.Context(), id, req.Reason, claims.ReviewerID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) RequestRevert(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims := auth.ClaimsFrom(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	if err := h.service.RequestRevert(c.Request.Context(), id, req.Reason, claims.ReviewerID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) HandleRevertDecision(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var req struct {
		Approve *bool `json:"approve" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims := auth.ClaimsFrom(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	err = h.service.HandleRevertDecision(c.Request.Context(), id, *req.Approve, claims.ReviewerID, claims.Role)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func filterFromQuery(c *gin.Context) (ListFilter, error) {
	filter := ListFilter{
		Status:   RequestStatus(c.Query("status")),
		Category: RequestCategory(c.Query("category")),
		Search:   c.Query("search"),
	}

	if raw := c.Query("reviewer_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, errors.New("invalid reviewer_id")
		}
		filter.ReviewerID = &id
	}
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errors.New("invalid from date, expected RFC3339")
		}
		filter.From = &t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errors.New("invalid to date, expected RFC3339")
		}
		filter.To = &t
	}

	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	return filter, nil
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
