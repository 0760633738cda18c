package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"driveline/market/internal/advisor"
	"driveline/market/internal/models"
	"driveline/market/internal/services"
	"driveline/market/internal/utils"
)

// marketOpportunitiesKey is where the hourly market scan caches its result.
const marketOpportunitiesKey = "market:opportunities"

// AnalyticsHandler serves the vendor analytics dashboard and the market
// advisor endpoints.
type AnalyticsHandler struct {
	analyticsService services.IAnalyticsService
	listingService   services.IListingService
	adv              *advisor.Advisor
	rdb              *redis.Client
}

// NewAnalyticsHandler creates a new AnalyticsHandler.
func NewAnalyticsHandler(analyticsService services.IAnalyticsService, listingService services.IListingService, adv *advisor.Advisor, rdb *redis.Client) *AnalyticsHandler {
	return &AnalyticsHandler{
		analyticsService: analyticsService,
		listingService:   listingService,
		adv:              adv,
		rdb:              rdb,
	}
}

// GetDashboard handles GET /v1/analytics/dashboard (vendor only).
func (h *AnalyticsHandler) GetDashboard(c *gin.Context) {
	sellerID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	stats, err := h.analyticsService.GetDashboardStats(c.Request.Context(), sellerID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute dashboard stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetLeads handles GET /v1/analytics/leads (vendor only).
func (h *AnalyticsHandler) GetLeads(c *gin.Context) {
	sellerID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	leads, err := h.analyticsService.GetLeads(c.Request.Context(), sellerID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute leads"})
		return
	}

	c.JSON(http.StatusOK, leads)
}

// GetPricingRecommendation handles GET /v1/analytics/pricing/:id (vendor only).
func (h *AnalyticsHandler) GetPricingRecommendation(c *gin.Context) {
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

	rec, err := h.analyticsService.GetPricingRecommendation(c.Request.Context(), listingID, sellerID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found or not owned by you"})
		} else {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute pricing recommendation"})
		}
		return
	}

	c.JSON(http.StatusOK, rec)
}

// GetMarketOpportunities handles GET /v1/analytics/opportunities (vendor only).
func (h *AnalyticsHandler) GetMarketOpportunities(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	// The hourly scan keeps this warm; fall back to a live aggregation when
	// the cache is cold.
	if cached, err := h.rdb.Get(c.Request.Context(), marketOpportunitiesKey).Result(); err == nil {
		var opportunities []services.MarketOpportunity
		if err := json.Unmarshal([]byte(cached), &opportunities); err == nil {
			c.JSON(http.StatusOK, opportunities)
			return
		}
	}

	opportunities, err := h.analyticsService.GetMarketOpportunities(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute market opportunities"})
		return
	}

	c.JSON(http.StatusOK, opportunities)
}

// GetSalesReport handles GET /v1/analytics/report?from=...&to=... (vendor
// only). Dates are RFC 3339 or YYYY-MM-DD; defaults to the last 30 days.
func (h *AnalyticsHandler) GetSalesReport(c *gin.Context) {
	sellerID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now

	parseDate := func(raw string) (time.Time, error) {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t, nil
		}
		return time.Parse("2006-01-02", raw)
	}

	if raw := c.Query("from"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'from' date"})
			return
		}
		from = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'to' date"})
			return
		}
		to = t
	}
	if !from.Before(to) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "'from' must be before 'to'"})
		return
	}

	report, err := h.analyticsService.GenerateReport(c.Request.Context(), sellerID, from, to)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate report"})
		return
	}

	c.JSON(http.StatusOK, report)
}

// GetAdvisories handles GET /v1/analytics/advisories (vendor only). Gathers
// the analytics snapshot and runs the advisor ruleset over it.
func (h *AnalyticsHandler) GetAdvisories(c *gin.Context) {
	sellerID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}
	ctx := c.Request.Context()

	activeCount, err := h.analyticsService.CountActiveBySeller(ctx, sellerID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute advisories"})
		return
	}

	stale, err := h.analyticsService.GetStaleListings(ctx, sellerID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute advisories"})
		return
	}

	// Pricing assessments for the vendor's current active inventory.
	listings, err := h.listingService.FindListingsBySeller(ctx, sellerID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute advisories"})
		return
	}
	pricing := make([]services.PricingRecommendation, 0, len(listings))
	for _, l := range listings {
		if l.Status != models.StatusActive {
			continue
		}
		rec, recErr := h.analyticsService.GetPricingRecommendation(ctx, l.ID, sellerID)
		if recErr != nil {
			continue
		}
		pricing = append(pricing, *rec)
	}

	advisories := h.adv.Evaluate(advisor.Snapshot{
		Now:            time.Now().UTC(),
		ActiveListings: activeCount,
		Stale:          stale,
		Pricing:        pricing,
	})

	c.JSON(http.StatusOK, advisories)
}
