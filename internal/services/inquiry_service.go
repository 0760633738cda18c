package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"driveline/market/internal/config"
	"driveline/market/internal/db"
	"driveline/market/internal/models"
	"driveline/market/internal/utils"
)

// IInquiryService defines the interface for inquiry operations.
type IInquiryService interface {
	CreateInquiry(ctx context.Context, listingID utils.SixID, userID *utils.SixID, userEmail, message string, offer *float64) (*models.Inquiry, *models.Listing, error)
	FindInquiriesByListing(ctx context.Context, listingID utils.SixID) ([]models.Inquiry, error)
	FindUnnotified(ctx context.Context, limit int) ([]models.Inquiry, error)
	MarkNotified(ctx context.Context, inquiryID utils.SixID) error
}

const inquiriesCollection = "inquiries"

// inquiryService implements IInquiryService.
type inquiryService struct {
	db  *mongo.Database
	cfg *config.Config
}

// NewInquiryService creates a new InquiryService.
func NewInquiryService(db *mongo.Database, cfg *config.Config) IInquiryService {
	return &inquiryService{db: db, cfg: cfg}
}

// CreateInquiry inserts the inquiry and atomically bumps the listing's
// inquiry counter. The returned listing carries the post-increment count,
// which the caller needs to evaluate milestone events exactly once.
func (s *inquiryService) CreateInquiry(ctx context.Context, listingID utils.SixID, userID *utils.SixID, userEmail, message string, offer *float64) (*models.Inquiry, *models.Listing, error) {
	if message == "" && offer == nil {
		return nil, nil, fmt.Errorf("inquiry must have a message or an offer")
	}
	if userEmail == "" {
		return nil, nil, fmt.Errorf("inquiry must have a reply-to email")
	}

	// Bump the counter first; this also verifies the listing exists and is
	// open for inquiries.
	listingColl := s.db.Collection(listingsCollection)
	filter := bson.M{
		"_id":     listingID,
		"deleted": false,
		"status":  bson.M{"$in": []models.ListingStatus{models.StatusActive, models.StatusPending}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var listing models.Listing
	err := listingColl.FindOneAndUpdate(ctx, filter, bson.M{"$inc": bson.M{"inquiries": 1}}, opts).Decode(&listing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil, mongo.ErrNoDocuments
		}
		return nil, nil, fmt.Errorf("db error incrementing inquiries for listing %s: %w", listingID.String(), err)
	}

	now := time.Now().UTC()
	collection := s.db.Collection(inquiriesCollection)

	var inquiry *models.Inquiry
	operation := func() error {
		inquiry = &models.Inquiry{
			ID:        utils.NewSixID(),
			ListingID: listingID,
			UserEmail: userEmail,
			Message:   message,
			Offer:     offer,
			CreatedAt: now,
			Notified:  false, // Email sending handled by background task
		}
		if userID != nil {
			inquiry.UserID = *userID
		}
		_, insertErr := collection.InsertOne(ctx, inquiry)
		return insertErr
	}

	if err := db.Try(operation); err != nil {
		return nil, nil, fmt.Errorf("failed to insert inquiry for listing %s after multiple retries: %w", listingID.String(), err)
	}

	return inquiry, &listing, nil
}

// FindInquiriesByListing returns all inquiries for one listing, newest first.
func (s *inquiryService) FindInquiriesByListing(ctx context.Context, listingID utils.SixID) ([]models.Inquiry, error) {
	collection := s.db.Collection(inquiriesCollection)
	filter := bson.M{"listing_id": listingID, "deleted": false}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find inquiries for listing %s: %w", listingID.String(), err)
	}
	defer cursor.Close(ctx)

	var inquiries []models.Inquiry
	if err = cursor.All(ctx, &inquiries); err != nil {
		return nil, fmt.Errorf("failed to decode inquiries for listing %s: %w", listingID.String(), err)
	}
	return inquiries, nil
}

// FindUnnotified returns inquiries whose seller email has not been sent yet.
// Used by the background notification task.
func (s *inquiryService) FindUnnotified(ctx context.Context, limit int) ([]models.Inquiry, error) {
	collection := s.db.Collection(inquiriesCollection)
	filter := bson.M{"notified": false, "deleted": false}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}).SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find unnotified inquiries: %w", err)
	}
	defer cursor.Close(ctx)

	var inquiries []models.Inquiry
	if err = cursor.All(ctx, &inquiries); err != nil {
		return nil, fmt.Errorf("failed to decode unnotified inquiries: %w", err)
	}
	return inquiries, nil
}

// MarkNotified flags an inquiry's seller email as sent.
func (s *inquiryService) MarkNotified(ctx context.Context, inquiryID utils.SixID) error {
	collection := s.db.Collection(inquiriesCollection)
	result, err := collection.UpdateOne(ctx,
		bson.M{"_id": inquiryID, "deleted": false},
		bson.M{"$set": bson.M{"notified": true}})
	if err != nil {
		return fmt.Errorf("db error marking inquiry %s notified: %w", inquiryID.String(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}
