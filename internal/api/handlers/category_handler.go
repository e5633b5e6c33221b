package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"kvartal/market/internal/api/middleware"
	"kvartal/market/internal/apperr"
	"kvartal/market/internal/models"
	"kvartal/market/internal/services"
)

// CategoryHandler handles the category catalog endpoints.
type CategoryHandler struct {
	categoryService services.ICategoryService
}

// NewCategoryHandler creates a new CategoryHandler.
func NewCategoryHandler(categoryService services.ICategoryService) *CategoryHandler {
	return &CategoryHandler{categoryService: categoryService}
}

// List handles GET /v1/category?kind=product|service
func (h *CategoryHandler) List(c *gin.Context) {
	kind := models.ListingKind(c.DefaultQuery("kind", string(models.KindProduct)))
	if kind != models.KindProduct && kind != models.KindService {
		writeError(c, apperr.Validation("kind must be product or service"))
		return
	}

	cats, err := h.categoryService.ListByKind(c.Request.Context(), kind)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": cats})
}

type createCategoryRequest struct {
	Name string             `json:"name" binding:"required"`
	Kind models.ListingKind `json:"kind" binding:"required"`
}

// Create handles POST /v1/category. Staff only.
func (h *CategoryHandler) Create(c *gin.Context) {
	if !middleware.Principal(c).IsStaff() {
		writeError(c, apperr.Forbidden("staff role required"))
		return
	}

	var req createCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Validation("invalid request body: %v", err))
		return
	}

	cat, err := h.categoryService.Create(c.Request.Context(), req.Name, req.Kind)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cat)
}
