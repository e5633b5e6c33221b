package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"kvartal/market/internal/api/middleware"
	"kvartal/market/internal/apperr"
	"kvartal/market/internal/config"
	"kvartal/market/internal/models"
	"kvartal/market/internal/services"
	"kvartal/market/internal/storage"
	"kvartal/market/internal/tasks"
)

// IAsynqClient is the slice of asynq.Client the handlers need.
type IAsynqClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ListingHandler handles REST requests for listings, including the filtered
// space feed and the image upload flow.
type ListingHandler struct {
	cfg            *config.Config
	listingService services.IListingService
	media          storage.IMediaStorage
	taskClient     IAsynqClient
}

// NewListingHandler creates a new ListingHandler.
func NewListingHandler(cfg *config.Config, listingService services.IListingService, media storage.IMediaStorage, taskClient IAsynqClient) *ListingHandler {
	return &ListingHandler{
		cfg:            cfg,
		listingService: listingService,
		media:          media,
		taskClient:     taskClient,
	}
}

func listingIDParam(c *gin.Context) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		return primitive.NilObjectID, apperr.Validation("invalid listing id")
	}
	return id, nil
}

// CreateListing handles POST /v1/listing
func (h *ListingHandler) CreateListing(c *gin.Context) {
	var spec services.CreateListingSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		writeError(c, apperr.Validation("invalid request body: %v", err))
		return
	}

	listing, err := h.listingService.Create(c.Request.Context(), middleware.Principal(c), spec)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, listing)
}

// GetListing handles GET /v1/listing/:id
func (h *ListingHandler) GetListing(c *gin.Context) {
	listingID, err := listingIDParam(c)
	if err != nil {
		writeError(c, err)
		return
	}

	listing, err := h.listingService.GetByID(c.Request.Context(), middleware.Principal(c), listingID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// UpdateListing handles PATCH /v1/listing/:id
func (h *ListingHandler) UpdateListing(c *gin.Context) {
	listingID, err := listingIDParam(c)
	if err != nil {
		writeError(c, err)
		return
	}

	var patch models.ListingPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		writeError(c, apperr.Validation("invalid request body: %v", err))
		return
	}

	listing, err := h.listingService.Update(c.Request.Context(), middleware.Principal(c), listingID, patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// DeleteListing handles DELETE /v1/listing/:id
func (h *ListingHandler) DeleteListing(c *gin.Context) {
	listingID, err := listingIDParam(c)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := h.listingService.Delete(c.Request.Context(), middleware.Principal(c), listingID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListSpaceListings handles GET /v1/space/:id/listings. All filters arrive as
// query parameters; a malformed value is a validation error, never silently
// dropped.
func (h *ListingHandler) ListSpaceListings(c *gin.Context) {
	spaceID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		writeError(c, apperr.Validation("invalid space id"))
		return
	}

	filter, err := h.parseFilter(c, spaceID)
	if err != nil {
		writeError(c, err)
		return
	}

	page, err := h.listingService.ListByFilter(c.Request.Context(), middleware.Principal(c), *filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *ListingHandler) parseFilter(c *gin.Context, spaceID primitive.ObjectID) (*services.ListingFilter, error) {
	filter := &services.ListingFilter{
		Kind:     models.ListingKind(c.DefaultQuery("kind", string(models.KindProduct))),
		SpaceID:  spaceID,
		Search:   c.Query("q"),
		Page:     1,
		PageSize: h.cfg.DefaultPageSize,
	}

	if v := c.Query("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil {
			return nil, apperr.Validation("invalid page parameter")
		}
		filter.Page = page
	}
	if v := c.Query("page_size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return nil, apperr.Validation("invalid page_size parameter")
		}
		filter.PageSize = size
	}
	if v := c.Query("category_id"); v != "" {
		catID, err := primitive.ObjectIDFromHex(v)
		if err != nil {
			return nil, apperr.Validation("invalid category_id parameter")
		}
		filter.CategoryID = &catID
	}
	if v := c.Query("status"); v != "" {
		status := models.ListingStatus(v)
		filter.Status = &status
	}
	if v := c.Query("condition"); v != "" {
		cond := models.Condition(v)
		filter.Condition = &cond
	}
	if v := c.Query("min_price"); v != "" {
		price, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, apperr.Validation("invalid min_price parameter")
		}
		filter.MinPrice = &price
	}
	if v := c.Query("max_price"); v != "" {
		price, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, apperr.Validation("invalid max_price parameter")
		}
		filter.MaxPrice = &price
	}
	return filter, nil
}

type imageUploadRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
}

// RequestImageUpload handles POST /v1/listing/:id/images. It returns a
// pre-signed PUT URL; the client uploads directly to S3 and then calls
// CompleteImageUpload.
func (h *ListingHandler) RequestImageUpload(c *gin.Context) {
	listingID, err := listingIDParam(c)
	if err != nil {
		writeError(c, err)
		return
	}

	var req imageUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Validation("invalid request body: %v", err))
		return
	}

	p := middleware.Principal(c)
	// Resolve the listing through the service so authorship and visibility
	// rules apply before any URL is handed out. No view is counted.
	listing, err := h.listingService.FindVisible(c.Request.Context(), p, listingID)
	if err != nil {
		writeError(c, err)
		return
	}
	if listing.UserID != p.ID && !p.IsStaff() {
		writeError(c, apperr.Forbidden("only the author may upload images"))
		return
	}

	url, key, err := h.media.GeneratePresignedPutURL(c.Request.Context(), p.ID.Hex(), listingID.Hex(), req.Filename, req.ContentType)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"upload_url": url, "key": key})
}

type imageCompleteRequest struct {
	Key string `json:"key" binding:"required"`
}

// CompleteImageUpload handles POST /v1/listing/:id/images/complete and hands
// the uploaded object to the background image processor.
func (h *ListingHandler) CompleteImageUpload(c *gin.Context) {
	listingID, err := listingIDParam(c)
	if err != nil {
		writeError(c, err)
		return
	}

	var req imageCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Validation("invalid request body: %v", err))
		return
	}

	p := middleware.Principal(c)
	listing, err := h.listingService.FindVisible(c.Request.Context(), p, listingID)
	if err != nil {
		writeError(c, err)
		return
	}
	if listing.UserID != p.ID && !p.IsStaff() {
		writeError(c, apperr.Forbidden("only the author may upload images"))
		return
	}

	task, err := tasks.NewImageProcessTask(req.Key, listingID)
	if err != nil {
		writeError(c, err)
		return
	}
	info, err := h.taskClient.EnqueueContext(c.Request.Context(), task)
	if err != nil {
		writeError(c, err)
		return
	}
	log.Printf("Enqueued image task %s for listing %s", info.ID, listingID.Hex())
	c.JSON(http.StatusAccepted, gin.H{"task_id": info.ID})
}
