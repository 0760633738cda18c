package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/mongo"

	"driveline/market/internal/notify"
	"driveline/market/internal/services"
	"driveline/market/internal/storage"
	"driveline/market/internal/tasks"
	"driveline/market/internal/utils"
)

// IAsynqClient abstracts the task queue client for testability.
type IAsynqClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ListingHandler handles REST requests for vehicle listings.
type ListingHandler struct {
	listingService services.IListingService
	notifier       *notify.Engine
	s3Storage      storage.IS3Storage
	taskClient     IAsynqClient
}

// NewListingHandler creates a new ListingHandler.
func NewListingHandler(listingService services.IListingService, notifier *notify.Engine, s3Storage storage.IS3Storage, taskClient IAsynqClient) *ListingHandler {
	return &ListingHandler{
		listingService: listingService,
		notifier:       notifier,
		s3Storage:      s3Storage,
		taskClient:     taskClient,
	}
}

// SearchListings handles GET /v1/listing/search
func (h *ListingHandler) SearchListings(c *gin.Context) {
	filter := services.SearchFilter{SortBy: c.Query("sort")}

	strParam := func(name string) *string {
		if v := c.Query(name); v != "" {
			return &v
		}
		return nil
	}
	filter.Query = strParam("q")
	filter.Make = strParam("make")
	filter.Model = strParam("model")
	filter.BodyType = strParam("bodyType")
	filter.Condition = strParam("condition")
	filter.City = strParam("city")
	filter.State = strParam("state")

	if v := c.Query("minPrice"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			filter.MinPrice = &f
		}
	}
	if v := c.Query("maxPrice"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			filter.MaxPrice = &f
		}
	}
	if v := c.Query("minYear"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.MinYear = &n
		}
	}
	if v := c.Query("maxYear"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.MaxYear = &n
		}
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 200 {
		limit = 50
	}
	filter.Limit = limit
	if skip, err := strconv.Atoi(c.DefaultQuery("skip", "0")); err == nil && skip > 0 {
		filter.Skip = skip
	}

	listings, total, err := h.listingService.SearchListings(c.Request.Context(), filter)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to search listings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": listings, "total": total})
}

// GetListingByID handles GET /v1/listing/:id. Each fetch counts as a view.
func (h *ListingHandler) GetListingByID(c *gin.Context) {
	listingID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	listing, err := h.listingService.FindListingByID(c.Request.Context(), listingID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
		} else {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve listing"})
		}
		return
	}

	// View count is best-effort; a failed increment never blocks the read.
	if err := h.listingService.IncrementViews(c.Request.Context(), listingID); err == nil {
		listing.Views++
	}

	c.JSON(http.StatusOK, listing)
}

type createListingRequest struct {
	Make          string   `json:"make" binding:"required"`
	Model         string   `json:"model" binding:"required"`
	Year          int      `json:"year" binding:"required,min=1900"`
	Trim          string   `json:"trim"`
	BodyType      string   `json:"bodyType" binding:"required"`
	Condition     string   `json:"condition"`
	FuelType      string   `json:"fuelType"`
	Transmission  string   `json:"transmission"`
	ExteriorColor string   `json:"exteriorColor"`
	InteriorColor string   `json:"interiorColor"`
	VIN           string   `json:"vin"`
	Description   string   `json:"description"`
	Price         float64  `json:"price" binding:"required,gt=0"`
	OriginalPrice float64  `json:"originalPrice"`
	Mileage       int      `json:"mileage"`
	City          string   `json:"city" binding:"required"`
	State         string   `json:"state" binding:"required"`
	Longitude     *float64 `json:"longitude"`
	Latitude      *float64 `json:"latitude"`
}

// CreateListing handles POST /v1/listing (vendor only).
func (h *ListingHandler) CreateListing(c *gin.Context) {
	sellerID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	input := services.ListingInput{
		Make:          req.Make,
		Model:         req.Model,
		Year:          req.Year,
		Trim:          req.Trim,
		BodyType:      req.BodyType,
		Condition:     req.Condition,
		FuelType:      req.FuelType,
		Transmission:  req.Transmission,
		ExteriorColor: req.ExteriorColor,
		InteriorColor: req.InteriorColor,
		VIN:           req.VIN,
		Description:   req.Description,
		Price:         req.Price,
		OriginalPrice: req.OriginalPrice,
		Mileage:       req.Mileage,
		City:          req.City,
		State:         req.State,
		Longitude:     req.Longitude,
		Latitude:      req.Latitude,
	}

	listing, err := h.listingService.CreateListing(c.Request.Context(), sellerID, input)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create listing"})
		return
	}

	// Fan out only after the write has committed.
	h.notifier.ListingCreated(listing)

	c.JSON(http.StatusCreated, listing)
}

// UpdateListing handles PUT /v1/listing/:id (vendor only, owner only).
func (h *ListingHandler) UpdateListing(c *gin.Context) {
	sellerID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	listingID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	var updates map[string]interface{}
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	listing, priceChange, err := h.listingService.UpdateListing(c.Request.Context(), listingID, sellerID, updates)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found or not owned by you"})
		} else {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update listing"})
		}
		return
	}

	if priceChange != nil {
		h.notifier.PriceChanged(listing, priceChange.OldPrice, priceChange.NewPrice)
	}

	c.JSON(http.StatusOK, listing)
}

type bulkUpdateRequest struct {
	ListingIDs []string               `json:"listingIds" binding:"required,min=1"`
	Updates    map[string]interface{} `json:"updates" binding:"required"`
}

// BulkUpdateListings handles POST /v1/listing/bulk (vendor only). Listings
// not owned by the caller are silently skipped.
func (h *ListingHandler) BulkUpdateListings(c *gin.Context) {
	sellerID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	var req bulkUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	listingIDs := make([]utils.SixID, 0, len(req.ListingIDs))
	for _, raw := range req.ListingIDs {
		id, err := utils.ParseSixID(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID: " + raw})
			return
		}
		listingIDs = append(listingIDs, id)
	}

	updatedCount, err := h.listingService.BulkUpdateListings(c.Request.Context(), sellerID, listingIDs, req.Updates)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update listings"})
		return
	}

	if updatedCount > 0 {
		h.notifier.BulkUpdated(sellerID, updatedCount, req.Updates)
	}

	c.JSON(http.StatusOK, gin.H{"updatedCount": updatedCount})
}

type markSoldRequest struct {
	SalePrice float64 `json:"salePrice" binding:"required,gt=0"`
}

// MarkSold handles POST /v1/listing/:id/sold (vendor only, owner only).
func (h *ListingHandler) MarkSold(c *gin.Context) {
	sellerID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	listingID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	var req markSoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	listing, err := h.listingService.MarkSold(c.Request.Context(), listingID, sellerID, req.SalePrice)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found or not owned by you"})
		} else {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark listing sold"})
		}
		return
	}

	h.notifier.ListingRemoved(listing, "sold")

	c.JSON(http.StatusOK, listing)
}

// DeleteListing handles DELETE /v1/listing/:id (vendor only, owner only).
func (h *ListingHandler) DeleteListing(c *gin.Context) {
	sellerID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	listingID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	listing, err := h.listingService.DeleteListing(c.Request.Context(), listingID, sellerID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found or not owned by you"})
		} else {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete listing"})
		}
		return
	}

	h.notifier.ListingRemoved(listing, "removed")

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetMyListings handles GET /v1/me/listings (vendor only).
func (h *ListingHandler) GetMyListings(c *gin.Context) {
	sellerID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	listings, err := h.listingService.FindListingsBySeller(c.Request.Context(), sellerID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch listings"})
		return
	}

	c.JSON(http.StatusOK, listings)
}

// Favorite handles POST /v1/listing/:id/favorite and DELETE of the same path.
func (h *ListingHandler) Favorite(delta int) gin.HandlerFunc {
	return func(c *gin.Context) {
		listingID, err := utils.ParseSixID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
			return
		}

		if err := h.listingService.IncrementFavorites(c.Request.Context(), listingID, delta); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
				return
			}
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update favorites"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

type photoUploadRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"contentType" binding:"required"`
}

// RequestPhotoUpload handles POST /v1/listing/:id/photo (vendor only, owner
// only). Returns a presigned S3 PUT URL; the actual upload goes straight to
// S3 and a background task normalizes the image and attaches it to the
// listing.
func (h *ListingHandler) RequestPhotoUpload(c *gin.Context) {
	sellerID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	listingID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	// Ownership check before handing out an upload slot.
	listing, err := h.listingService.FindListingByID(c.Request.Context(), listingID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
		} else {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve listing"})
		}
		return
	}
	if listing.SellerID != sellerID {
		c.JSON(http.StatusForbidden, gin.H{"error": "You do not own this listing"})
		return
	}

	var req photoUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	url, key, err := h.s3Storage.GeneratePresignedPutURL(c.Request.Context(), sellerID.String(), listingID.String(), req.Filename, req.ContentType)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate upload URL"})
		return
	}

	// The image worker picks the object up once the client has uploaded it.
	// A short delay covers the upload window; the task retries if the object
	// is not there yet.
	task, err := tasks.NewImageProcessTask(key, listingID.String())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to schedule photo processing"})
		return
	}
	if _, err := h.taskClient.EnqueueContext(c.Request.Context(), task, asynq.ProcessIn(30*time.Second)); err != nil {
		log.Printf("Failed to enqueue image processing for key %s: %v", key, err)
	}

	c.JSON(http.StatusOK, gin.H{"uploadUrl": url, "key": key})
}
