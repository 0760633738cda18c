package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"driveline/market/internal/notify"
	"driveline/market/internal/services"
	"driveline/market/internal/utils"
)

// InquiryHandler handles buyer inquiries on listings.
type InquiryHandler struct {
	inquiryService services.IInquiryService
	listingService services.IListingService
	notifier       *notify.Engine
}

// NewInquiryHandler creates a new InquiryHandler.
func NewInquiryHandler(inquiryService services.IInquiryService, listingService services.IListingService, notifier *notify.Engine) *InquiryHandler {
	return &InquiryHandler{
		inquiryService: inquiryService,
		listingService: listingService,
		notifier:       notifier,
	}
}

type createInquiryRequest struct {
	Email   string   `json:"email" binding:"required,email"`
	Message string   `json:"message"`
	Offer   *float64 `json:"offer"`
}

// CreateInquiry handles POST /v1/listing/:id/inquiry. Works for both guests
// and authenticated users; an authenticated caller has the inquiry linked to
// their account.
func (h *InquiryHandler) CreateInquiry(c *gin.Context) {
	listingID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	var req createInquiryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	var userID *utils.SixID
	if id, ok := currentUserID(c); ok {
		userID = &id
	}

	inquiry, listing, err := h.inquiryService.CreateInquiry(c.Request.Context(), listingID, userID, req.Email, req.Message, req.Offer)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found or no longer accepting inquiries"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// The listing returned from CreateInquiry carries the post-increment
	// inquiry count, so milestone events fire exactly once per threshold.
	h.notifier.InquiryCreated(listing, inquiry, listing.Inquiries)

	c.JSON(http.StatusCreated, inquiry)
}

// GetListingInquiries handles GET /v1/listing/:id/inquiries (vendor only,
// owner only).
func (h *InquiryHandler) GetListingInquiries(c *gin.Context) {
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

	inquiries, err := h.inquiryService.FindInquiriesByListing(c.Request.Context(), listingID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch inquiries"})
		return
	}

	c.JSON(http.StatusOK, inquiries)
}
