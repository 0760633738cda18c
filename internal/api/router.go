package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"driveline/market/internal/advisor"
	"driveline/market/internal/api/handlers"
	"driveline/market/internal/api/middleware"
	"driveline/market/internal/captcha"
	"driveline/market/internal/config"
	"driveline/market/internal/notify"
	"driveline/market/internal/realtime"
	"driveline/market/internal/services"
	"driveline/market/internal/storage"
)

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(cfg *config.Config, db *mongo.Database, rdb *redis.Client, hub *realtime.Hub, taskClient handlers.IAsynqClient, settingsSvc services.ISettingsService) *gin.Engine {
	// Initialize services needed by API handlers
	userService := services.NewUserService(db)
	listingService := services.NewListingService(db, cfg)
	inquiryService := services.NewInquiryService(db, cfg)
	analyticsService := services.NewAnalyticsService(db, cfg)
	s3StorageService, err := storage.NewS3Storage(cfg)
	if err != nil {
		log.Fatalf("CRITICAL: Failed to initialize S3 storage for API: %v", err)
	}

	notifier := notify.NewEngine(hub, cfg)
	marketAdvisor := advisor.New(cfg)
	captchaVerifier := captcha.NewTurnstileVerifier(cfg)

	r := gin.Default()

	rateLimiter := middleware.NewRateLimiterMiddleware(cfg, settingsSvc)

	// Global middleware, order matters: CORS, then captcha, then rate limits.
	r.Use(middleware.CORSMiddleware())
	r.Use(middleware.CaptchaMiddleware(cfg, captchaVerifier))
	r.Use(rateLimiter.Limit())

	// Initialize handlers
	userHandler := handlers.NewUserHandler(cfg, userService, analyticsService)
	listingHandler := handlers.NewListingHandler(listingService, notifier, s3StorageService, taskClient)
	inquiryHandler := handlers.NewInquiryHandler(inquiryService, listingService, notifier)
	analyticsHandler := handlers.NewAnalyticsHandler(analyticsService, listingService, marketAdvisor, rdb)
	wsHandler := handlers.NewWsHandler(cfg, hub)

	v1 := r.Group("/v1")
	{
		// Public routes
		v1.POST("/auth/register", userHandler.Register)
		v1.POST("/auth/login", userHandler.Login)

		v1.GET("/listing/search", listingHandler.SearchListings)
		v1.GET("/listing/:id", listingHandler.GetListingByID)
		v1.POST("/listing/:id/inquiry", inquiryHandler.CreateInquiry)
		v1.POST("/listing/:id/favorite", listingHandler.Favorite(1))
		v1.DELETE("/listing/:id/favorite", listingHandler.Favorite(-1))

		v1.GET("/user/:id", userHandler.GetUserByID)

		v1.GET("/ws", wsHandler.Serve)

		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		// Authenticated routes
		authRequired := v1.Group("/")
		authRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret))
		{
			authRequired.PUT("/me/preferences", userHandler.UpdatePreferences)
			authRequired.DELETE("/me", userHandler.DeleteAccount)
		}

		// Vendor routes
		vendorRequired := v1.Group("/")
		vendorRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret), middleware.VendorMiddleware())
		{
			vendorRequired.POST("/listing", listingHandler.CreateListing)
			vendorRequired.PUT("/listing/:id", listingHandler.UpdateListing)
			vendorRequired.DELETE("/listing/:id", listingHandler.DeleteListing)
			vendorRequired.POST("/listing/bulk", listingHandler.BulkUpdateListings)
			vendorRequired.POST("/listing/:id/sold", listingHandler.MarkSold)
			vendorRequired.POST("/listing/:id/photo", listingHandler.RequestPhotoUpload)
			vendorRequired.GET("/listing/:id/inquiries", inquiryHandler.GetListingInquiries)
			vendorRequired.GET("/me/listings", listingHandler.GetMyListings)

			vendorRequired.GET("/analytics/dashboard", analyticsHandler.GetDashboard)
			vendorRequired.GET("/analytics/leads", analyticsHandler.GetLeads)
			vendorRequired.GET("/analytics/pricing/:id", analyticsHandler.GetPricingRecommendation)
			vendorRequired.GET("/analytics/opportunities", analyticsHandler.GetMarketOpportunities)
			vendorRequired.GET("/analytics/report", analyticsHandler.GetSalesReport)
			vendorRequired.GET("/analytics/advisories", analyticsHandler.GetAdvisories)
		}
	}

	return r
}

// SetupServiceRouter configures and returns the service Gin engine, bound to
// a local port for operational commands and test support.
func SetupServiceRouter(cfg *config.Config, rdb *redis.Client, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			log.Println("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
				log.Println("Shutdown signal sent successfully.")
			default:
				log.Println("Shutdown channel already signaled or blocked.")
			}
		case "getTestEmail":
			var args []string // Expect ["kind", "email"]
			if err := json.Unmarshal(req.Arguments, &args); err != nil || len(args) != 2 {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [kind, email]"})
				return
			}
			kind := args[0]
			emailAddr := args[1]
			redisKey := fmt.Sprintf("mockemail:%s:%s", emailAddr, kind)

			// Poll Redis briefly for the key
			var emailJsonData string
			var getErr error
			found := false
			ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
			defer cancel()
			for i := 0; i < 10; i++ {
				emailJsonData, getErr = rdb.Get(ctx, redisKey).Result()
				if getErr == nil {
					found = true
					rdb.Del(ctx, redisKey)
					break
				}
				if getErr != redis.Nil {
					log.Printf("Service API: Error getting key %s from Redis: %v", redisKey, getErr)
					c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
					return
				}
				time.Sleep(200 * time.Millisecond)
			}

			if !found {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Test email not found in Redis for key %s", redisKey)})
				return
			}

			var emailData map[string]interface{}
			if err := json.Unmarshal([]byte(emailJsonData), &emailData); err != nil {
				log.Printf("Service API: Error unmarshalling email data from key %s: %v", redisKey, err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to parse stored email data"})
				return
			}

			c.JSON(http.StatusOK, gin.H{"success": true, "data": emailData})

		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}
