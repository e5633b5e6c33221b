package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"kvartal/market/internal/api/middleware"
	"kvartal/market/internal/apperr"
	"kvartal/market/internal/config"
	"kvartal/market/internal/models"
	"kvartal/market/internal/services"
)

// FavoriteHandler handles the per-user favorite overlay endpoints.
type FavoriteHandler struct {
	cfg             *config.Config
	favoriteService services.IFavoriteService
	listingService  services.IListingService
}

// NewFavoriteHandler creates a new FavoriteHandler.
func NewFavoriteHandler(cfg *config.Config, favoriteService services.IFavoriteService, listingService services.IListingService) *FavoriteHandler {
	return &FavoriteHandler{
		cfg:             cfg,
		favoriteService: favoriteService,
		listingService:  listingService,
	}
}

func productIDParam(c *gin.Context) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		return primitive.NilObjectID, apperr.Validation("invalid listing id")
	}
	return id, nil
}

// Add handles PUT /v1/favorite/:id. Adding an existing favorite is a success.
func (h *FavoriteHandler) Add(c *gin.Context) {
	productID, err := productIDParam(c)
	if err != nil {
		writeError(c, err)
		return
	}

	p := middleware.Principal(c)
	// The listing must exist, be a product and be visible to the caller.
	// FindVisible, not GetByID: a favorite toggle is not a detail fetch
	// and must not count a view.
	listing, err := h.listingService.FindVisible(c.Request.Context(), p, productID)
	if err != nil {
		writeError(c, err)
		return
	}
	if listing.Kind != models.KindProduct {
		writeError(c, apperr.Validation("only products can be favorited"))
		return
	}

	if err := h.favoriteService.Add(c.Request.Context(), p.ID, productID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Remove handles DELETE /v1/favorite/:id. Removing a non-favorite is a no-op.
func (h *FavoriteHandler) Remove(c *gin.Context) {
	productID, err := productIDParam(c)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := h.favoriteService.Remove(c.Request.Context(), middleware.Principal(c).ID, productID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// List handles GET /v1/favorite and returns the caller's favorited products
// as a decorated page.
func (h *FavoriteHandler) List(c *gin.Context) {
	page := 1
	if v := c.Query("page"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeError(c, apperr.Validation("invalid page parameter"))
			return
		}
		page = parsed
	}
	pageSize := h.cfg.DefaultPageSize
	if v := c.Query("page_size"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeError(c, apperr.Validation("invalid page_size parameter"))
			return
		}
		pageSize = parsed
	}

	result, err := h.listingService.ListFavorites(c.Request.Context(), middleware.Principal(c), page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
