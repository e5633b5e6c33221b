package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"kvartal/market/internal/api/middleware"
	"kvartal/market/internal/apperr"
	"kvartal/market/internal/models"
	"kvartal/market/internal/services"
)

// SpaceHandler handles REST requests for spaces and membership.
type SpaceHandler struct {
	spaceService services.ISpaceService
}

// NewSpaceHandler creates a new SpaceHandler.
func NewSpaceHandler(spaceService services.ISpaceService) *SpaceHandler {
	return &SpaceHandler{spaceService: spaceService}
}

func spaceIDParam(c *gin.Context) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		return primitive.NilObjectID, apperr.Validation("invalid space id")
	}
	return id, nil
}

// CreateSpace handles POST /v1/space
func (h *SpaceHandler) CreateSpace(c *gin.Context) {
	var spec services.CreateSpaceSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		writeError(c, apperr.Validation("invalid request body: %v", err))
		return
	}

	space, err := h.spaceService.CreateSpace(c.Request.Context(), middleware.Principal(c), spec)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, space)
}

// GetSpace handles GET /v1/space/:id
func (h *SpaceHandler) GetSpace(c *gin.Context) {
	spaceID, err := spaceIDParam(c)
	if err != nil {
		writeError(c, err)
		return
	}

	space, err := h.spaceService.GetSpace(c.Request.Context(), middleware.Principal(c), spaceID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, space)
}

// GetSpaceBySlug handles GET /v1/space/slug/:slug
func (h *SpaceHandler) GetSpaceBySlug(c *gin.Context) {
	space, err := h.spaceService.GetSpaceBySlug(c.Request.Context(), middleware.Principal(c), c.Param("slug"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, space)
}

// UpdateSpace handles PATCH /v1/space/:id
func (h *SpaceHandler) UpdateSpace(c *gin.Context) {
	spaceID, err := spaceIDParam(c)
	if err != nil {
		writeError(c, err)
		return
	}

	var patch models.SpacePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		writeError(c, apperr.Validation("invalid request body: %v", err))
		return
	}

	space, err := h.spaceService.UpdateSpace(c.Request.Context(), middleware.Principal(c), spaceID, patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, space)
}

// DeleteSpace handles DELETE /v1/space/:id
func (h *SpaceHandler) DeleteSpace(c *gin.Context) {
	spaceID, err := spaceIDParam(c)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := h.spaceService.DeleteSpace(c.Request.Context(), middleware.Principal(c), spaceID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type joinRequest struct {
	InviteCode string `json:"invite_code"`
}

// Join handles POST /v1/space/:id/join
func (h *SpaceHandler) Join(c *gin.Context) {
	spaceID, err := spaceIDParam(c)
	if err != nil {
		writeError(c, err)
		return
	}

	// Body is optional: public spaces need no invite code.
	var req joinRequest
	_ = c.ShouldBindJSON(&req)

	member, err := h.spaceService.Join(c.Request.Context(), middleware.Principal(c), spaceID, req.InviteCode)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

// Leave handles POST /v1/space/:id/leave
func (h *SpaceHandler) Leave(c *gin.Context) {
	spaceID, err := spaceIDParam(c)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := h.spaceService.Leave(c.Request.Context(), middleware.Principal(c), spaceID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type transferRequest struct {
	NewOwnerID string `json:"new_owner_id" binding:"required"`
}

// TransferOwnership handles POST /v1/space/:id/transfer
func (h *SpaceHandler) TransferOwnership(c *gin.Context) {
	spaceID, err := spaceIDParam(c)
	if err != nil {
		writeError(c, err)
		return
	}

	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Validation("invalid request body: %v", err))
		return
	}
	newOwnerID, err := primitive.ObjectIDFromHex(req.NewOwnerID)
	if err != nil {
		writeError(c, apperr.Validation("invalid new owner id"))
		return
	}

	if err := h.spaceService.TransferOwnership(c.Request.Context(), middleware.Principal(c), spaceID, newOwnerID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMembers handles GET /v1/space/:id/members
func (h *SpaceHandler) ListMembers(c *gin.Context) {
	spaceID, err := spaceIDParam(c)
	if err != nil {
		writeError(c, err)
		return
	}

	members, err := h.spaceService.ListMembers(c.Request.Context(), middleware.Principal(c), spaceID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}
