package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridelink/driver-portal/driver-portal-backend/internal/reviewers"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	authGroup := rg.Group("/auth")
	{
		authGroup.POST("/login", h.Login)
	}
}

// RegisterAdminRoutes mounts reviewer management; callers guard these
// with RequireRole.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.POST("/reviewers", h.CreateReviewer)
}

func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, reviewer, err := h.service.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"reviewer": gin.H{
			"id":    reviewer.ID,
			"name":  reviewer.Name,
			"email": reviewer.Email,
			"role":  reviewer.Role,
		},
	})
}

func (h *Handler) CreateReviewer(c *gin.Context) {
	var req struct {
		Name     string         `json:"name" binding:"required"`
		Email    string         `json:"email" binding:"required,email"`
		Password string         `json:"password" binding:"required,min=8"`
		Role     reviewers.Role `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reviewer, err := h.service.CreateReviewer(c.Request.Context(), req.Name, req.Email, req.Password, req.Role)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":    reviewer.ID,
		"name":  reviewer.Name,
		"email": reviewer.Email,
		"role":  reviewer.Role,
	})
}
