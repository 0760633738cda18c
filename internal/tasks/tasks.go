package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hibiken/asynq"
	"github.com/nfnt/resize"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"driveline/market/internal/config"
	"driveline/market/internal/email"
	"driveline/market/internal/services"
	"driveline/market/internal/utils"
)

// Task types.
const (
	TypeEmailDelivery = "email:deliver"
	TypeImageProcess  = "image:process"
	TypeInquiryNotify = "inquiry:notify"
	TypeDailyDigest   = "digest:daily"
	TypeMarketScan    = "market:scan"
	TypeStaleScan     = "inventory:stale_scan"
)

// marketOpportunitiesKey is the Redis key holding the latest market scan
// result for fast API reads.
const marketOpportunitiesKey = "market:opportunities"

// --- Task Client (Enqueuing tasks) ---

func NewClient(rdb *redis.Client) *asynq.Client {
	clientOpt := asynq.RedisClientOpt{
		Addr: rdb.Options().Addr,
	}
	return asynq.NewClient(clientOpt)
}

// ImageTaskPayload carries an uploaded photo through processing.
type ImageTaskPayload struct {
	S3Key     string `json:"s3_key"`
	ListingID string `json:"listing_id"`
}

// NewImageProcessTask builds an image processing task for the images queue.
func NewImageProcessTask(s3Key, listingID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ImageTaskPayload{S3Key: s3Key, ListingID: listingID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal image task payload: %w", err)
	}
	return asynq.NewTask(TypeImageProcess, payload, asynq.Queue("images")), nil
}

// EmailTaskPayload describes a templated email delivery.
type EmailTaskPayload struct {
	To         string                 `json:"to"`
	TemplateID string                 `json:"template_id"`
	Locale     string                 `json:"locale,omitempty"`
	Data       map[string]interface{} `json:"data"`
}

// NewEmailDeliveryTask builds an email delivery task.
func NewEmailDeliveryTask(to, templateID string, data map[string]interface{}) (*asynq.Task, error) {
	payload, err := json.Marshal(EmailTaskPayload{To: to, TemplateID: templateID, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal email task payload: %w", err)
	}
	return asynq.NewTask(TypeEmailDelivery, payload), nil
}

// --- Task Server (Processing tasks) ---

// TaskProcessor handles the processing of tasks.
// It holds dependencies needed by task handlers.
type TaskProcessor struct {
	cfg                  *config.Config
	emailSender          email.Sender
	listingService       services.IListingService
	inquiryService       services.IInquiryService
	userService          services.IUserService
	analyticsService     services.IAnalyticsService
	emailTemplateService services.IEmailTemplateService
	s3Client             *s3.Client
	rdb                  *redis.Client
	taskClient           *asynq.Client
}

func NewTaskProcessor(
	cfg *config.Config,
	emailSender email.Sender,
	listingService services.IListingService,
	inquiryService services.IInquiryService,
	userService services.IUserService,
	analyticsService services.IAnalyticsService,
	emailTemplateService services.IEmailTemplateService,
	s3Client *s3.Client,
	rdb *redis.Client,
	taskClient *asynq.Client,
) *TaskProcessor {
	return &TaskProcessor{
		cfg:                  cfg,
		emailSender:          emailSender,
		listingService:       listingService,
		inquiryService:       inquiryService,
		userService:          userService,
		analyticsService:     analyticsService,
		emailTemplateService: emailTemplateService,
		s3Client:             s3Client,
		rdb:                  rdb,
		taskClient:           taskClient,
	}
}

// SetupServer configures and returns an Asynq server instance. Returns nil in
// API-only mode.
func SetupServer(rdb *redis.Client, processor *TaskProcessor, isImageWorker bool, isBgWorker bool) *asynq.Server {
	serverOpt := asynq.RedisClientOpt{
		Addr: rdb.Options().Addr,
	}

	srv := asynq.NewServer(
		serverOpt,
		asynq.Config{
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
				"images":   5,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("[Asynq Error] Task Type: %s, Payload: %s, Error: %v", task.Type(), string(task.Payload()), err)
			}),
		},
	)

	mux := asynq.NewServeMux()

	if isBgWorker {
		mux.HandleFunc(TypeEmailDelivery, processor.HandleEmailDeliveryTask)
		mux.HandleFunc(TypeInquiryNotify, processor.HandleInquiryNotifyTask)
		mux.HandleFunc(TypeDailyDigest, processor.HandleDailyDigestTask)
		mux.HandleFunc(TypeMarketScan, processor.HandleMarketScanTask)
		mux.HandleFunc(TypeStaleScan, processor.HandleStaleScanTask)
		log.Println("Registered background task handlers.")
	}

	if isImageWorker {
		mux.HandleFunc(TypeImageProcess, processor.HandleImageProcessTask)
		log.Println("Registered image processing task handlers.")
	}

	if !isBgWorker && !isImageWorker {
		log.Println("Running in API mode, no task server started.")
		return nil
	}

	if err := srv.Start(mux); err != nil {
		log.Fatalf("Could not start Asynq server: %v", err)
	}

	return srv
}

// SetupScheduler registers the recurring jobs and returns the scheduler. The
// caller is responsible for running it.
func SetupScheduler(rdb *redis.Client) *asynq.Scheduler {
	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{Addr: rdb.Options().Addr},
		&asynq.SchedulerOpts{Location: time.UTC},
	)

	entries := []struct {
		spec string
		task *asynq.Task
	}{
		{"@every 2m", asynq.NewTask(TypeInquiryNotify, nil)},
		{"0 13 * * *", asynq.NewTask(TypeDailyDigest, nil)},
		{"@every 1h", asynq.NewTask(TypeMarketScan, nil, asynq.Queue("low"))},
		{"0 8 * * 1", asynq.NewTask(TypeStaleScan, nil, asynq.Queue("low"))},
	}
	for _, e := range entries {
		if _, err := scheduler.Register(e.spec, e.task); err != nil {
			log.Fatalf("Could not register scheduled task %s: %v", e.task.Type(), err)
		}
	}

	return scheduler
}

// --- Task Handlers ---

func (p *TaskProcessor) HandleEmailDeliveryTask(ctx context.Context, t *asynq.Task) error {
	var payload EmailTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal email task payload: %v: %w", err, asynq.SkipRetry)
	}

	return p.sendTemplatedEmail(ctx, payload.To, payload.TemplateID, payload.Locale, payload.Data)
}

// sendTemplatedEmail renders a stored template and hands it to the configured
// sender.
func (p *TaskProcessor) sendTemplatedEmail(ctx context.Context, to, templateID, locale string, data map[string]interface{}) error {
	if locale == "" {
		locale = "en-US"
	}

	tmpl, err := p.emailTemplateService.GetTemplate(ctx, templateID, locale)
	if err != nil {
		log.Printf("Error getting email template %s/%s: %v", templateID, locale, err)
		return fmt.Errorf("email template not found: %w", asynq.SkipRetry)
	}

	// Simple placeholder replacement (replace {{.key}})
	subjectRendered := tmpl.Subject
	bodyRendered := tmpl.Body
	for key, val := range data {
		placeholder := fmt.Sprintf("{{.%s}}", key)
		valueStr := fmt.Sprintf("%v", val)
		subjectRendered = strings.ReplaceAll(subjectRendered, placeholder, valueStr)
		bodyRendered = strings.ReplaceAll(bodyRendered, placeholder, valueStr)
	}

	fromAddress := p.cfg.SmtpFromAddress
	if fromAddress == "" {
		fromAddress = "noreply@driveline.example"
		log.Printf("Warning: SmtpFromAddress not configured, using fallback %s for email to %s", fromAddress, to)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("To: %s\r\n", to))
	sb.WriteString(fmt.Sprintf("From: %s\r\n", fromAddress))
	sb.WriteString(fmt.Sprintf("Subject: %s\r\n", subjectRendered))
	sb.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(bodyRendered)
	sb.WriteString("\r\n")

	if err := p.emailSender.Send(ctx, []string{to}, subjectRendered, []byte(sb.String())); err != nil {
		log.Printf("Email sending failed for %s (%s): %v", to, templateID, err)
		return err
	}

	log.Printf("Email task processed successfully: To=%s, Template=%s", to, templateID)
	return nil
}

// HandleImageProcessTask normalizes an uploaded photo: downloads it from S3,
// shrinks oversized images, re-uploads and only then attaches the key to the
// listing so clients never see unprocessed photos.
func (p *TaskProcessor) HandleImageProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ImageTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal image task payload: %v: %w", err, asynq.SkipRetry)
	}

	listingID, err := utils.ParseSixID(payload.ListingID)
	if err != nil {
		log.Printf("Invalid ListingID in image task payload: %s", payload.ListingID)
		return fmt.Errorf("invalid listing ID in payload: %w", asynq.SkipRetry)
	}

	log.Printf("Processing image task: S3Key=%s, ListingID=%s", payload.S3Key, payload.ListingID)

	getObjectOutput, err := p.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.cfg.AwsS3Bucket),
		Key:    aws.String(payload.S3Key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			log.Printf("S3 object %s not found, likely upload failed or key incorrect.", payload.S3Key)
			return fmt.Errorf("s3 object not found: %w", asynq.SkipRetry)
		}
		return fmt.Errorf("failed to download image from S3: %w", err)
	}
	defer getObjectOutput.Body.Close()

	imgData, err := io.ReadAll(getObjectOutput.Body)
	if err != nil {
		return fmt.Errorf("failed to read image data: %w", err)
	}

	maxSizeBytes := int64(p.cfg.ImageMaxSizeMB) * 1024 * 1024
	if int64(len(imgData)) > maxSizeBytes {
		log.Printf("Image %s exceeds max size (%d > %d bytes). Skipping.", payload.S3Key, len(imgData), maxSizeBytes)
		return fmt.Errorf("image exceeds max size: %w", asynq.SkipRetry)
	}

	img, format, err := image.Decode(bytes.NewReader(imgData))
	if err != nil {
		log.Printf("Error decoding image for key %s: %v", payload.S3Key, err)
		return fmt.Errorf("unsupported image format or corrupt image: %w", asynq.SkipRetry)
	}
	log.Printf("Decoded image %s, format: %s, size: %dx%d", payload.S3Key, format, img.Bounds().Dx(), img.Bounds().Dy())

	maxWidth := uint(p.cfg.ImageMaxDimension)
	maxHeight := uint(p.cfg.ImageMaxDimension)
	needsResize := uint(img.Bounds().Dx()) > maxWidth || uint(img.Bounds().Dy()) > maxHeight

	processedImageData := imgData
	contentType := aws.ToString(getObjectOutput.ContentType)

	if needsResize {
		resizedImg := resize.Thumbnail(maxWidth, maxHeight, img, resize.Lanczos3)
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, resizedImg, &jpeg.Options{Quality: 85}); err != nil {
			return fmt.Errorf("failed to re-encode resized image: %w", err)
		}
		processedImageData = buf.Bytes()
		contentType = "image/jpeg"
		log.Printf("Resized image %s to %dx%d", payload.S3Key, resizedImg.Bounds().Dx(), resizedImg.Bounds().Dy())

		if int64(len(processedImageData)) > maxSizeBytes {
			log.Printf("Resized image %s still exceeds max size (%d > %d bytes). Skipping.", payload.S3Key, len(processedImageData), maxSizeBytes)
			return fmt.Errorf("resized image still exceeds max size: %w", asynq.SkipRetry)
		}

		_, err = p.s3Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.cfg.AwsS3Bucket),
			Key:         aws.String(payload.S3Key),
			Body:        bytes.NewReader(processedImageData),
			ContentType: aws.String(contentType),
		})
		if err != nil {
			return fmt.Errorf("failed to upload processed image: %w", err)
		}
	}

	if err := p.listingService.AddPhotoToListing(ctx, listingID, payload.S3Key); err != nil {
		log.Printf("Error adding photo key %s to listing %s: %v", payload.S3Key, payload.ListingID, err)
		return fmt.Errorf("failed to update listing with processed photo: %w", err)
	}

	log.Printf("Image task processed successfully: Key=%s, ListingID=%s", payload.S3Key, payload.ListingID)
	return nil
}

// HandleInquiryNotifyTask emails sellers about inquiries that have not been
// notified yet. Runs on a short schedule so mail lags an inquiry by at most a
// couple of minutes.
func (p *TaskProcessor) HandleInquiryNotifyTask(ctx context.Context, t *asynq.Task) error {
	inquiries, err := p.inquiryService.FindUnnotified(ctx, 100)
	if err != nil {
		return fmt.Errorf("failed to fetch unnotified inquiries: %w", err)
	}
	if len(inquiries) == 0 {
		return nil
	}

	notified := 0
	for _, inq := range inquiries {
		listing, err := p.listingService.FindListingByID(ctx, inq.ListingID)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				// Listing gone; nothing to notify about.
				_ = p.inquiryService.MarkNotified(ctx, inq.ID)
				continue
			}
			log.Printf("Error fetching listing %s for inquiry %s: %v. Skipping.", inq.ListingID.String(), inq.ID.String(), err)
			continue
		}

		seller, err := p.userService.FindByID(ctx, listing.SellerID)
		if err != nil {
			log.Printf("Error fetching seller %s for inquiry %s: %v. Skipping.", listing.SellerID.String(), inq.ID.String(), err)
			continue
		}

		if seller.WantsInquiryEmail() {
			data := map[string]interface{}{
				"inquirer": inq.UserEmail,
				"year":     listing.Year,
				"make":     listing.Make,
				"model":    listing.Model,
				"message":  inq.Message,
			}
			if err := p.sendTemplatedEmail(ctx, seller.Email, "inquiry_received", "", data); err != nil {
				log.Printf("Error sending inquiry notification for %s: %v. Will retry next run.", inq.ID.String(), err)
				continue
			}
		}

		if err := p.inquiryService.MarkNotified(ctx, inq.ID); err != nil {
			log.Printf("Error marking inquiry %s notified: %v", inq.ID.String(), err)
			continue
		}
		notified++
	}

	log.Printf("Inquiry notification run finished. Notified %d of %d inquiries.", notified, len(inquiries))
	return nil
}

// HandleDailyDigestTask sends every opted-in vendor a summary of their
// inventory performance.
func (p *TaskProcessor) HandleDailyDigestTask(ctx context.Context, t *asynq.Task) error {
	log.Println("Starting daily digest task...")

	vendorIDs, err := p.userService.GetAllVendorIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch vendor IDs: %w", err)
	}

	sent := 0
	for _, vendorID := range vendorIDs {
		vendor, err := p.userService.FindByID(ctx, vendorID)
		if err != nil {
			log.Printf("Error fetching vendor %s for digest: %v. Skipping.", vendorID.String(), err)
			continue
		}
		if !vendor.WantsDailyDigest() {
			continue
		}

		stats, err := p.analyticsService.GetDashboardStats(ctx, vendorID)
		if err != nil {
			log.Printf("Error computing digest stats for vendor %s: %v. Skipping.", vendorID.String(), err)
			continue
		}

		data := map[string]interface{}{
			"views":     stats.TotalViews,
			"inquiries": stats.TotalInquiries,
			"active":    stats.ActiveListings,
		}
		if err := p.sendTemplatedEmail(ctx, vendor.Email, "daily_digest", "", data); err != nil {
			log.Printf("Error sending digest to vendor %s: %v", vendorID.String(), err)
			continue
		}
		sent++
	}

	log.Printf("Daily digest task finished. Sent %d digests.", sent)
	return nil
}

// HandleMarketScanTask recomputes market opportunities and caches the result
// in Redis so API reads stay cheap.
func (p *TaskProcessor) HandleMarketScanTask(ctx context.Context, t *asynq.Task) error {
	opportunities, err := p.analyticsService.GetMarketOpportunities(ctx)
	if err != nil {
		return fmt.Errorf("market scan failed: %w", err)
	}

	data, err := json.Marshal(opportunities)
	if err != nil {
		return fmt.Errorf("failed to marshal market opportunities: %w", err)
	}

	if err := p.rdb.Set(ctx, marketOpportunitiesKey, data, 2*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to cache market opportunities: %w", err)
	}

	log.Printf("Market scan finished. Cached %d opportunities.", len(opportunities))
	return nil
}

// HandleStaleScanTask emails vendors a list of their stalled listings.
func (p *TaskProcessor) HandleStaleScanTask(ctx context.Context, t *asynq.Task) error {
	log.Println("Starting stale inventory scan...")

	vendorIDs, err := p.userService.GetAllVendorIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch vendor IDs: %w", err)
	}

	now := time.Now().UTC()
	notified := 0
	for _, vendorID := range vendorIDs {
		stale, err := p.analyticsService.GetStaleListings(ctx, vendorID)
		if err != nil {
			log.Printf("Error fetching stale listings for vendor %s: %v. Skipping.", vendorID.String(), err)
			continue
		}
		if len(stale) == 0 {
			continue
		}

		vendor, err := p.userService.FindByID(ctx, vendorID)
		if err != nil {
			log.Printf("Error fetching vendor %s for stale scan: %v. Skipping.", vendorID.String(), err)
			continue
		}

		var sb strings.Builder
		for _, l := range stale {
			sb.WriteString(fmt.Sprintf("- %d %s %s: %d days listed, %d views\n", l.Year, l.Make, l.Model, l.DaysListed(now), l.Views))
		}

		data := map[string]interface{}{
			"count":    len(stale),
			"listings": sb.String(),
		}
		if err := p.sendTemplatedEmail(ctx, vendor.Email, "stale_inventory", "", data); err != nil {
			log.Printf("Error sending stale inventory email to vendor %s: %v", vendorID.String(), err)
			continue
		}
		notified++
	}

	log.Printf("Stale inventory scan finished. Notified %d vendors.", notified)
	return nil
}
