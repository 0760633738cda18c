package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment
	RunMode string // Set via flag, not env

	// MongoDB
	MongoURI    string
	MongoDbName string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWT
	JwtSecret       string
	JwtTTL          time.Duration
	CaptchaTokenTTL time.Duration

	// Server
	ApiPort        string
	ServiceApiPort string

	// Cloudflare
	CloudflareTurnstileSecretKey string
	CloudflareSiteVerifyURL      string

	// Fan-out / alerting thresholds
	PriceDropAlertPercent float64 // Signed drop (percent) that triggers price alerts
	InquiryMilestones     []int   // Fired only on exact crossing

	// Analytics / advisor thresholds
	OverpricedDelta       float64 // Flat amount above market before "lower price" advice
	UnderpricedDelta      float64 // Flat amount below market before "raise price" advice
	CompetitivePercent    float64 // Within +/- this percent of market mean is "competitive"
	PricingHighDiff       float64 // Recommendation diff above this is high priority
	StaleListingDays      int
	StaleMaxViews         int
	LowInventoryCount     int
	HighDemandMinListings int
	HighDemandMinAvgViews float64
	MarketWindowDays      int // Window for market opportunity scans and default reports

	// Email
	SmtpHost        string
	SmtpPort        int
	SmtpUsername    string
	SmtpPassword    string
	SmtpFromAddress string

	// AWS S3
	AwsAccessKeyID     string
	AwsSecretAccessKey string
	AwsRegion          string
	AwsS3Bucket        string
	ImageBaseS3URL     string
	ImageMaxDimension  int
	ImageMaxSizeMB     int

	// App Defaults
	AppName        string
	PasswordRegexp string
	GetCacheTTL    time.Duration

	// Rate Limiting Defaults
	RateLimitSoftBucketSize int
	RateLimitSoftRefillRate int // tokens per second
	RateLimitHardBucketSize int
	RateLimitHardRefillRate int // tokens per second
}

// Load configuration from environment variables.
// RunMode needs to be passed in as it comes from command-line flags.
func Load(runMode string) (*Config, error) {
	// Load .env file, ignoring errors if it doesn't exist
	godotenv.Load()

	cfg := &Config{
		RunMode: runMode, // Set from flag
	}

	var err error

	// Helper function to get env var or default
	getEnv := func(key, defaultValue string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return defaultValue
	}

	// Helper function to get required env var
	getRequiredEnv := func(key string) (string, error) {
		value, exists := os.LookupEnv(key)
		if !exists {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}

	// Load basic string values
	cfg.MongoURI, err = getRequiredEnv("MONGO_URI")
	if err != nil {
		return nil, err
	}
	cfg.MongoDbName = getEnv("MONGO_DB_NAME", "")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.JwtSecret, err = getRequiredEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}
	cfg.ApiPort = getEnv("API_PORT", "8080")
	cfg.ServiceApiPort = getEnv("SERVICE_API_PORT", "12345")
	cfg.CloudflareTurnstileSecretKey = getEnv("CLOUDFLARE_TURNSTILE_SECRET_KEY", "")
	cfg.CloudflareSiteVerifyURL = getEnv("CLOUDFLARE_SITEVERIFY_URL", "https://challenges.cloudflare.com/turnstile/v0/siteverify")
	cfg.SmtpHost = getEnv("SMTP_HOST", "")
	cfg.SmtpUsername = getEnv("SMTP_USERNAME", "")
	cfg.SmtpPassword = getEnv("SMTP_PASSWORD", "")
	cfg.SmtpFromAddress = getEnv("SMTP_FROM_ADDRESS", "noreply@driveline.example.com")
	cfg.AwsAccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	cfg.AwsSecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	cfg.AwsRegion = getEnv("AWS_REGION", "")
	cfg.AwsS3Bucket = getEnv("AWS_S3_BUCKET", "")
	cfg.ImageBaseS3URL = getEnv("IMAGE_BASE_S3_URL", "")
	cfg.AppName = getEnv("APP_NAME", "Driveline")
	cfg.PasswordRegexp = getEnv("PASSWORD_REGEXP", "^.{8,}$")

	// Load numeric and time duration values with defaults and parsing
	cfg.RedisDB, err = strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	jwtTTLSeconds, err := strconv.ParseInt(getEnv("JWT_TTL_SECONDS", "3600"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_TTL_SECONDS: %w", err)
	}
	cfg.JwtTTL = time.Duration(jwtTTLSeconds) * time.Second

	captchaTTLSeconds, err := strconv.ParseInt(getEnv("CAPTCHA_TOKEN_TTL", "1200"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid CAPTCHA_TOKEN_TTL: %w", err)
	}
	cfg.CaptchaTokenTTL = time.Duration(captchaTTLSeconds) * time.Second

	cfg.SmtpPort, err = strconv.Atoi(getEnv("SMTP_PORT", "587"))
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
	}

	// Fan-out thresholds
	cfg.PriceDropAlertPercent, err = strconv.ParseFloat(getEnv("PRICE_DROP_ALERT_PERCENT", "5"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid PRICE_DROP_ALERT_PERCENT: %w", err)
	}
	cfg.InquiryMilestones = []int{5, 25, 100}

	// Analytics / advisor thresholds
	cfg.OverpricedDelta, err = strconv.ParseFloat(getEnv("OVERPRICED_DELTA", "5000"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid OVERPRICED_DELTA: %w", err)
	}
	cfg.UnderpricedDelta, err = strconv.ParseFloat(getEnv("UNDERPRICED_DELTA", "3000"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid UNDERPRICED_DELTA: %w", err)
	}
	cfg.CompetitivePercent, err = strconv.ParseFloat(getEnv("COMPETITIVE_PERCENT", "15"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid COMPETITIVE_PERCENT: %w", err)
	}
	cfg.PricingHighDiff, err = strconv.ParseFloat(getEnv("PRICING_HIGH_DIFF", "10000"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid PRICING_HIGH_DIFF: %w", err)
	}
	cfg.StaleListingDays, err = strconv.Atoi(getEnv("STALE_LISTING_DAYS", "45"))
	if err != nil {
		return nil, fmt.Errorf("invalid STALE_LISTING_DAYS: %w", err)
	}
	cfg.StaleMaxViews, err = strconv.Atoi(getEnv("STALE_MAX_VIEWS", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid STALE_MAX_VIEWS: %w", err)
	}
	cfg.LowInventoryCount, err = strconv.Atoi(getEnv("LOW_INVENTORY_COUNT", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOW_INVENTORY_COUNT: %w", err)
	}
	cfg.HighDemandMinListings, err = strconv.Atoi(getEnv("HIGH_DEMAND_MIN_LISTINGS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid HIGH_DEMAND_MIN_LISTINGS: %w", err)
	}
	cfg.HighDemandMinAvgViews, err = strconv.ParseFloat(getEnv("HIGH_DEMAND_MIN_AVG_VIEWS", "50"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid HIGH_DEMAND_MIN_AVG_VIEWS: %w", err)
	}
	cfg.MarketWindowDays, err = strconv.Atoi(getEnv("MARKET_WINDOW_DAYS", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid MARKET_WINDOW_DAYS: %w", err)
	}

	cfg.ImageMaxDimension, err = strconv.Atoi(getEnv("IMAGE_MAX_DIMENSION", "2048"))
	if err != nil {
		return nil, fmt.Errorf("invalid IMAGE_MAX_DIMENSION: %w", err)
	}

	cfg.ImageMaxSizeMB, err = strconv.Atoi(getEnv("IMAGE_MAX_SIZE_MB", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid IMAGE_MAX_SIZE_MB: %w", err)
	}

	getCacheTTLSeconds, err := strconv.ParseInt(getEnv("GET_CACHE_TTL_SECONDS", "60"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid GET_CACHE_TTL_SECONDS: %w", err)
	}
	cfg.GetCacheTTL = time.Duration(getCacheTTLSeconds) * time.Second

	// Rate Limiting
	cfg.RateLimitSoftBucketSize, err = strconv.Atoi(getEnv("RATE_LIMIT_SOFT_BUCKET_SIZE", "2"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_SOFT_BUCKET_SIZE: %w", err)
	}
	cfg.RateLimitSoftRefillRate, err = strconv.Atoi(getEnv("RATE_LIMIT_SOFT_REFILL_RATE", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_SOFT_REFILL_RATE: %w", err)
	}
	cfg.RateLimitHardBucketSize, err = strconv.Atoi(getEnv("RATE_LIMIT_HARD_BUCKET_SIZE", "8"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_HARD_BUCKET_SIZE: %w", err)
	}
	cfg.RateLimitHardRefillRate, err = strconv.Atoi(getEnv("RATE_LIMIT_HARD_REFILL_RATE", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_HARD_REFILL_RATE: %w", err)
	}

	return cfg, nil
}
