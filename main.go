package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hibiken/asynq"

	"driveline/market/internal/api"
	"driveline/market/internal/cache"
	"driveline/market/internal/config"
	"driveline/market/internal/db"
	"driveline/market/internal/email"
	"driveline/market/internal/realtime"
	"driveline/market/internal/services"
	"driveline/market/internal/tasks"
)

var runMode = flag.String("m", "all", "Run mode: 'api', 'bg' (background tasks), 'img' (image processing), 'all' (default)")

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*runMode)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize Database
	mongoClient, mongoDb, err := db.ConnectDB(cfg.MongoURI, cfg.MongoDbName)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.DisconnectDB(mongoClient); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}()

	if err := db.EnsureIndexes(context.Background(), mongoDb); err != nil {
		log.Fatalf("Failed to ensure indexes: %v", err)
	}

	// Initialize Cache (Redis)
	redisClient, err := cache.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() {
		if err := cache.DisconnectRedis(redisClient); err != nil {
			log.Printf("Error disconnecting from Redis: %v", err)
		}
	}()

	// Initialize S3 Client (needed by Task Processor)
	awsCfg, err := aws_config.LoadDefaultConfig(context.TODO(),
		aws_config.WithRegion(cfg.AwsRegion),
		aws_config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AwsAccessKeyID,
			cfg.AwsSecretAccessKey,
			"",
		)),
	)
	if err != nil {
		log.Fatalf("Failed to load AWS config for S3 client: %v", err)
	}
	s3Client := s3.NewFromConfig(awsCfg)

	// Initialize Email Sender
	var primaryEmailSender email.Sender
	if os.Getenv("MOCK_SERVICES") == "true" {
		log.Println("MOCK_SERVICES enabled: Using Redis email sender.")
		primaryEmailSender = email.NewRedisSender(redisClient, cfg)
	} else {
		log.Println("MOCK_SERVICES disabled or not set: Using SMTP/Logging email sender.")
		primaryEmailSender = email.NewSMTPSender(cfg)
	}

	compositeSender := email.NewCompositeEmailSender(primaryEmailSender)

	// Optionally add FileEmailSender if LOG_EMAILS is set
	logEmailsPath := os.Getenv("LOG_EMAILS")
	if logEmailsPath != "" {
		log.Printf("LOG_EMAILS set to '%s', enabling file email logger.", logEmailsPath)
		fileSender, err := email.NewFileEmailSender(logEmailsPath, cfg)
		if err != nil {
			log.Printf("WARNING: Failed to initialize file email sender (LOG_EMAILS='%s'): %v. Proceeding without file logging.", logEmailsPath, err)
		} else {
			compositeSender.AddSender(fileSender)
			log.Println("File email logger added to composite sender.")
		}
	}

	finalEmailSender := email.Sender(compositeSender)

	// Services shared between the API and the task processor
	settingsSvc := services.NewSettingsService(mongoDb, cfg, redisClient)
	startCtx := context.Background()
	if err := settingsSvc.Load(startCtx); err != nil {
		log.Printf("WARNING: Failed to load runtime settings: %v. Using env defaults.", err)
	} else {
		// Stored overrides take precedence over env for tunable thresholds.
		// This snapshot is taken once at startup; later SetValue changes reach
		// the settings cache (rate-limit configs) via Pub/Sub but need a
		// restart to land here.
		cfg.PriceDropAlertPercent = settingsSvc.GetFloat64(startCtx, "price_drop_alert_percent", cfg.PriceDropAlertPercent)
		cfg.OverpricedDelta = settingsSvc.GetFloat64(startCtx, "overpriced_delta", cfg.OverpricedDelta)
		cfg.UnderpricedDelta = settingsSvc.GetFloat64(startCtx, "underpriced_delta", cfg.UnderpricedDelta)
		cfg.CompetitivePercent = settingsSvc.GetFloat64(startCtx, "competitive_percent", cfg.CompetitivePercent)
		cfg.PricingHighDiff = settingsSvc.GetFloat64(startCtx, "pricing_high_diff", cfg.PricingHighDiff)
		cfg.StaleListingDays = settingsSvc.GetInt(startCtx, "stale_listing_days", cfg.StaleListingDays)
		cfg.StaleMaxViews = settingsSvc.GetInt(startCtx, "stale_max_views", cfg.StaleMaxViews)
		cfg.LowInventoryCount = settingsSvc.GetInt(startCtx, "low_inventory_count", cfg.LowInventoryCount)
	}
	userService := services.NewUserService(mongoDb)
	listingService := services.NewListingService(mongoDb, cfg)
	inquiryService := services.NewInquiryService(mongoDb, cfg)
	analyticsService := services.NewAnalyticsService(mongoDb, cfg)
	emailTemplateService := services.NewEmailTemplateService(mongoDb)

	// Realtime hub for topic fan-out (lives in the API process)
	hub := realtime.NewHub()

	// Task queue client and processor
	taskClient := tasks.NewClient(redisClient)
	taskProcessor := tasks.NewTaskProcessor(cfg, finalEmailSender, listingService, inquiryService, userService, analyticsService, emailTemplateService, s3Client, redisClient, taskClient)

	var wg sync.WaitGroup

	// Channel to signal shutdown from Service API
	shutdownChan := make(chan struct{}, 1)

	// Start Service API (always runs)
	serviceRouter := api.SetupServiceRouter(cfg, redisClient, shutdownChan)
	serviceSrv := &http.Server{
		Addr:    ":" + cfg.ServiceApiPort,
		Handler: serviceRouter,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("Service API listening on :%s", cfg.ServiceApiPort)
		if err := serviceSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Service API ListenAndServe error: %v", err)
		}
		log.Println("Service API server stopped.")
	}()

	// --- Mode-specific servers ---
	var mainApiSrv *http.Server
	var backgroundTaskSrv *asynq.Server
	var imageTaskSrv *asynq.Server
	var scheduler *asynq.Scheduler

	log.Printf("Starting application in '%s' mode...", cfg.RunMode)

	apiMode := func() {
		log.Println("Starting main API server...")
		mainApiRouter := api.SetupRouter(cfg, mongoDb, redisClient, hub, taskClient, settingsSvc)
		mainApiSrv = &http.Server{
			Addr:    ":" + cfg.ApiPort,
			Handler: mainApiRouter,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("Main API listening on :%s", cfg.ApiPort)
			if err := mainApiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Main API ListenAndServe error: %v", err)
			}
			log.Println("Main API server stopped.")
		}()
	}

	bgMode := func() {
		log.Println("Starting background worker...")
		backgroundTaskSrv = tasks.SetupServer(redisClient, taskProcessor, false, true)

		scheduler = tasks.SetupScheduler(redisClient)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := scheduler.Run(); err != nil {
				log.Fatalf("Task scheduler error: %v", err)
			}
			log.Println("Task scheduler stopped.")
		}()
	}

	imgMode := func() {
		log.Println("Starting image processing worker...")
		imageTaskSrv = tasks.SetupServer(redisClient, taskProcessor, true, false)
	}

	switch cfg.RunMode {
	case "api":
		apiMode()
	case "bg":
		bgMode()
	case "img":
		imgMode()
	case "all":
		apiMode()
		bgMode()
		imgMode()
	default:
		log.Fatalf("Invalid run mode specified: %s.", cfg.RunMode)
	}

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("Received signal: %s. Shutting down gracefully...", sig)
	case <-shutdownChan:
		log.Println("Shutdown requested via Service API. Shutting down gracefully...")
	}

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	log.Println("Shutting down Service API server...")
	if err := serviceSrv.Shutdown(ctxShutdown); err != nil {
		log.Printf("Service API server shutdown error: %v", err)
	}

	if mainApiSrv != nil {
		log.Println("Shutting down Main API server...")
		if err := mainApiSrv.Shutdown(ctxShutdown); err != nil {
			log.Printf("Main API server shutdown error: %v", err)
		}
	}

	// Close WebSocket clients after the HTTP listener stops accepting.
	hub.Shutdown()

	if scheduler != nil {
		log.Println("Shutting down task scheduler...")
		scheduler.Shutdown()
	}
	if backgroundTaskSrv != nil {
		log.Println("Shutting down Background Task server...")
		backgroundTaskSrv.Shutdown()
	}
	if imageTaskSrv != nil {
		log.Println("Shutting down Image Processing server...")
		imageTaskSrv.Shutdown()
	}

	log.Println("Waiting for servers to stop...")
	wg.Wait()

	log.Println("Server gracefully stopped")
}
