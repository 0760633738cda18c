package middleware

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"driveline/market/internal/config"
	"driveline/market/internal/services"
)

// clientLimiter stores rate limiters for a specific client.
type clientLimiter struct {
	softLimiter *rate.Limiter
	hardLimiter *rate.Limiter
	lastSeen    time.Time
}

// RateLimiterMiddleware manages rate limiting for API endpoints.
type RateLimiterMiddleware struct {
	clients  map[string]*clientLimiter
	mu       sync.Mutex
	cfg      *config.Config            // For defaults
	settings services.ISettingsService // For endpoint specific limits
}

// NewRateLimiterMiddleware creates a new RateLimiterMiddleware.
func NewRateLimiterMiddleware(cfg *config.Config, settings services.ISettingsService) *RateLimiterMiddleware {
	rm := &RateLimiterMiddleware{
		clients:  make(map[string]*clientLimiter),
		cfg:      cfg,
		settings: settings,
	}
	// Start a background goroutine to clean up old client entries
	go rm.cleanupClients()
	return rm
}

// getClientIdentifier creates a unique key based on IP, Fingerprint, and SPA Session ID.
func getClientIdentifier(c *gin.Context) string {
	ip := c.ClientIP()
	fingerprint := c.GetHeader("X-BFP")
	spaSession := c.GetHeader("X-SPA")
	// Simple concatenation for now. Consider hashing for more robustness/anonymity.
	return fmt.Sprintf("%s|%s|%s", ip, fingerprint, spaSession)
}

// getClientLimiter retrieves or creates the rate limiters for a given client identifier.
func (rm *RateLimiterMiddleware) getClientLimiter(identifier string, softRate, softBurst int, hardRate, hardBurst int) *clientLimiter {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	limiter, exists := rm.clients[identifier]
	if !exists {
		limiter = &clientLimiter{
			softLimiter: rate.NewLimiter(rate.Limit(softRate), softBurst),
			hardLimiter: rate.NewLimiter(rate.Limit(hardRate), hardBurst),
		}
		rm.clients[identifier] = limiter
		log.Printf("Created new rate limiter entry for client: %s", identifier)
	}
	limiter.lastSeen = time.Now()
	return limiter
}

// cleanupClients periodically removes old client entries from the map.
func (rm *RateLimiterMiddleware) cleanupClients() {
	for {
		time.Sleep(10 * time.Minute)
		rm.mu.Lock()
		count := 0
		for id, client := range rm.clients {
			if time.Since(client.lastSeen) > 30*time.Minute {
				delete(rm.clients, id)
				count++
			}
		}
		rm.mu.Unlock()
		if count > 0 {
			log.Printf("Rate limiter cleanup removed %d old client entries.", count)
		}
	}
}

// Limit creates the Gin middleware handler.
func (rm *RateLimiterMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. Identify client
		clientKey := getClientIdentifier(c)
		endpointIdentifier := c.FullPath()

		// 2. Get endpoint-specific limits (always fetch guest config for rate limiter)
		apiCfg, err := rm.settings.GetAPIEndpointConfig(c.Request.Context(), endpointIdentifier, false)
		if err != nil {
			log.Printf("Error fetching API config for %s (guest): %v. Using defaults.", endpointIdentifier, err)
		}

		// Use specific limits if found, otherwise use global defaults
		softRate := rm.cfg.RateLimitSoftRefillRate
		softBurst := rm.cfg.RateLimitSoftBucketSize
		hardRate := rm.cfg.RateLimitHardRefillRate
		hardBurst := rm.cfg.RateLimitHardBucketSize

		if apiCfg != nil {
			if apiCfg.RateLimitSoft != nil {
				softRate = apiCfg.RateLimitSoft.TokenRefillRate
				softBurst = apiCfg.RateLimitSoft.BucketSize
			}
			if apiCfg.RateLimitHard != nil {
				hardRate = apiCfg.RateLimitHard.TokenRefillRate
				hardBurst = apiCfg.RateLimitHard.BucketSize
			}
		}

		// 3. Get/Create limiters for this client
		limiter := rm.getClientLimiter(clientKey, softRate, softBurst, hardRate, hardBurst)

		// 4. Check hard limit
		if !limiter.hardLimiter.Allow() {
			log.Printf("Hard rate limit exceeded for client: %s on %s", clientKey, endpointIdentifier)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}

		// 5. Check if CaptchaMiddleware verified the client as human
		isHuman := c.GetBool(ContextKeyIsHumanVerified)

		// 6. Check soft limit only if not validated as human
		if !isHuman && !limiter.softLimiter.Allow() {
			log.Printf("Soft rate limit exceeded for client: %s on %s (captcha required)", clientKey, endpointIdentifier)
			c.AbortWithStatusJSON(http.StatusTeapot, gin.H{"error": "Captcha validation required"})
			return
		}

		c.Next()
	}
}
