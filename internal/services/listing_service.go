package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"driveline/market/internal/config"
	"driveline/market/internal/db"
	"driveline/market/internal/models"
	"driveline/market/internal/utils"
)

// ListingInput carries the caller-supplied fields for a new listing.
type ListingInput struct {
	Make          string
	Model         string
	Year          int
	Trim          string
	BodyType      string
	Condition     string
	FuelType      string
	Transmission  string
	ExteriorColor string
	InteriorColor string
	VIN           string
	Description   string
	Price         float64
	OriginalPrice float64
	Mileage       int
	City          string
	State         string
	Longitude     *float64
	Latitude      *float64
}

// SearchFilter holds the faceted search criteria for public listing search.
// Nil pointer fields are not applied.
type SearchFilter struct {
	Query     *string
	Make      *string
	Model     *string
	BodyType  *string
	Condition *string
	City      *string
	State     *string
	MinPrice  *float64
	MaxPrice  *float64
	MinYear   *int
	MaxYear   *int
	SortBy    string // "price_asc", "price_desc", "year_desc", "newest" (default)
	Skip      int
	Limit     int
}

// IListingService defines the interface for listing-related operations.
type IListingService interface {
	CreateListing(ctx context.Context, sellerID utils.SixID, input ListingInput) (*models.Listing, error)
	FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error)
	IncrementViews(ctx context.Context, listingID utils.SixID) error
	IncrementFavorites(ctx context.Context, listingID utils.SixID, delta int) error
	SearchListings(ctx context.Context, filter SearchFilter) ([]models.Listing, int64, error)
	UpdateListing(ctx context.Context, listingID, sellerID utils.SixID, updates map[string]interface{}) (*models.Listing, *PriceChange, error)
	BulkUpdateListings(ctx context.Context, sellerID utils.SixID, listingIDs []utils.SixID, updates map[string]interface{}) (int64, error)
	MarkSold(ctx context.Context, listingID, sellerID utils.SixID, salePrice float64) (*models.Listing, error)
	DeleteListing(ctx context.Context, listingID, sellerID utils.SixID) (*models.Listing, error)
	FindListingsBySeller(ctx context.Context, sellerID utils.SixID) ([]models.Listing, error)
	AddPhotoToListing(ctx context.Context, listingID utils.SixID, photoKey string) error
}

// PriceChange reports an update's price transition so the caller can decide
// whether to fan out a price alert.
type PriceChange struct {
	OldPrice float64
	NewPrice float64
}

const listingsCollection = "listings"

// listingService implements IListingService.
type listingService struct {
	db  *mongo.Database
	cfg *config.Config
}

// NewListingService creates a new ListingService.
func NewListingService(db *mongo.Database, cfg *config.Config) IListingService {
	return &listingService{db: db, cfg: cfg}
}

// CreateListing inserts a new active listing. The initial price seeds the
// price history so later drops always have a baseline.
func (s *listingService) CreateListing(ctx context.Context, sellerID utils.SixID, input ListingInput) (*models.Listing, error) {
	collection := s.db.Collection(listingsCollection)
	now := time.Now().UTC()

	location := models.Location{City: input.City, State: input.State}
	if input.Longitude != nil && input.Latitude != nil {
		location.Point = &models.GeoPoint{
			Type:        "Point",
			Coordinates: []float64{*input.Longitude, *input.Latitude},
		}
	}

	var newListing *models.Listing

	operation := func() error {
		newListing = &models.Listing{
			ID:            utils.NewSixID(),
			SellerID:      sellerID,
			Make:          input.Make,
			Model:         input.Model,
			Year:          input.Year,
			Trim:          input.Trim,
			BodyType:      input.BodyType,
			Condition:     input.Condition,
			FuelType:      input.FuelType,
			Transmission:  input.Transmission,
			ExteriorColor: input.ExteriorColor,
			InteriorColor: input.InteriorColor,
			VIN:           input.VIN,
			Description:   input.Description,
			Price:         input.Price,
			OriginalPrice: input.OriginalPrice,
			PriceHistory:  []models.PricePoint{{Price: input.Price, At: now}},
			Mileage:       input.Mileage,
			Photos:        []string{},
			Location:      location,
			Status:        models.StatusActive,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		_, insertErr := collection.InsertOne(ctx, newListing)
		return insertErr
	}

	if err := db.Try(operation); err != nil {
		listingIDStr := "<unknown>"
		if newListing != nil {
			listingIDStr = newListing.ID.String()
		}
		return nil, fmt.Errorf("failed to insert new listing for seller %s (last attempted listing ID: %s) after multiple retries: %w",
			sellerID.String(), listingIDStr, err)
	}

	return newListing, nil
}

// FindListingByID finds a non-deleted listing by its ID. It does NOT check
// ownership.
func (s *listingService) FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error) {
	var listing models.Listing
	collection := s.db.Collection(listingsCollection)
	filter := bson.M{"_id": listingID, "deleted": false}

	err := collection.FindOne(ctx, filter).Decode(&listing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding listing by ID %s: %w", listingID.String(), err)
	}
	return &listing, nil
}

// IncrementViews bumps the view counter atomically. A missing listing is not
// an error; view tracking is best-effort.
func (s *listingService) IncrementViews(ctx context.Context, listingID utils.SixID) error {
	collection := s.db.Collection(listingsCollection)
	filter := bson.M{"_id": listingID, "deleted": false}
	_, err := collection.UpdateOne(ctx, filter, bson.M{"$inc": bson.M{"views": 1}})
	if err != nil {
		return fmt.Errorf("db error incrementing views for listing %s: %w", listingID.String(), err)
	}
	return nil
}

// IncrementFavorites adjusts the favorite counter by delta (+1/-1).
func (s *listingService) IncrementFavorites(ctx context.Context, listingID utils.SixID, delta int) error {
	collection := s.db.Collection(listingsCollection)
	filter := bson.M{"_id": listingID, "deleted": false}
	result, err := collection.UpdateOne(ctx, filter, bson.M{"$inc": bson.M{"favorites": delta}})
	if err != nil {
		return fmt.Errorf("db error updating favorites for listing %s: %w", listingID.String(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// SearchListings runs the faceted public search over active listings and
// returns the matching page plus the total match count.
func (s *listingService) SearchListings(ctx context.Context, sf SearchFilter) ([]models.Listing, int64, error) {
	collection := s.db.Collection(listingsCollection)

	filter := bson.M{
		"deleted": false,
		"status":  models.StatusActive,
	}

	if sf.Query != nil && *sf.Query != "" {
		filter["$text"] = bson.M{"$search": *sf.Query}
	}
	if sf.Make != nil {
		filter["make"] = *sf.Make
	}
	if sf.Model != nil {
		filter["model"] = *sf.Model
	}
	if sf.BodyType != nil {
		filter["body_type"] = *sf.BodyType
	}
	if sf.Condition != nil {
		filter["condition"] = *sf.Condition
	}
	if sf.City != nil {
		filter["location.city"] = *sf.City
	}
	if sf.State != nil {
		filter["location.state"] = *sf.State
	}

	if sf.MinPrice != nil || sf.MaxPrice != nil {
		priceFilter := bson.M{}
		if sf.MinPrice != nil {
			priceFilter["$gte"] = *sf.MinPrice
		}
		if sf.MaxPrice != nil {
			priceFilter["$lte"] = *sf.MaxPrice
		}
		filter["price"] = priceFilter
	}
	if sf.MinYear != nil || sf.MaxYear != nil {
		yearFilter := bson.M{}
		if sf.MinYear != nil {
			yearFilter["$gte"] = *sf.MinYear
		}
		if sf.MaxYear != nil {
			yearFilter["$lte"] = *sf.MaxYear
		}
		filter["year"] = yearFilter
	}

	total, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count listing search results: %w", err)
	}

	limit := sf.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	opts := options.Find().SetSkip(int64(sf.Skip)).SetLimit(int64(limit))

	switch sf.SortBy {
	case "price_asc":
		opts.SetSort(bson.D{{Key: "price", Value: 1}})
	case "price_desc":
		opts.SetSort(bson.D{{Key: "price", Value: -1}})
	case "year_desc":
		opts.SetSort(bson.D{{Key: "year", Value: -1}})
	default:
		opts.SetSort(bson.D{{Key: "created_at", Value: -1}})
	}

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute listing search query: %w", err)
	}
	defer cursor.Close(ctx)

	var results []models.Listing
	if err = cursor.All(ctx, &results); err != nil {
		return nil, 0, fmt.Errorf("failed to decode listing search results: %w", err)
	}

	return results, total, nil
}

// UpdateListing updates mutable fields of a listing owned by the seller. A
// price change appends to the price history and is reported back so the
// caller can fan out an alert after the write has committed.
func (s *listingService) UpdateListing(ctx context.Context, listingID, sellerID utils.SixID, updates map[string]interface{}) (*models.Listing, *PriceChange, error) {
	collection := s.db.Collection(listingsCollection)

	// Ensure only allowed fields are updated (prevent changing ownership, counters etc.)
	allowedUpdates := bson.M{}
	for key, value := range updates {
		switch key {
		case "price", "description", "mileage", "status", "trim",
			"fuel_type", "transmission", "exterior_color", "interior_color":
			allowedUpdates[key] = value
		default:
			return nil, nil, fmt.Errorf("field '%s' cannot be updated via UpdateListing", key)
		}
	}
	if len(allowedUpdates) == 0 {
		return nil, nil, fmt.Errorf("no valid fields provided for update")
	}

	// Fetch the current document first to detect a price transition.
	filter := bson.M{
		"_id":       listingID,
		"seller_id": sellerID,
		"deleted":   false,
	}
	var existing models.Listing
	if err := collection.FindOne(ctx, filter).Decode(&existing); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil, fmt.Errorf("listing not found, not owned by seller, or cannot be updated")
		}
		return nil, nil, fmt.Errorf("failed to load listing %s for update: %w", listingID.String(), err)
	}

	now := time.Now().UTC()
	allowedUpdates["updated_at"] = now
	update := bson.M{"$set": allowedUpdates}

	var change *PriceChange
	if raw, ok := allowedUpdates["price"]; ok {
		newPrice, ok := toFloat64(raw)
		if !ok {
			return nil, nil, fmt.Errorf("price must be numeric")
		}
		if newPrice <= 0 {
			return nil, nil, fmt.Errorf("price must be positive")
		}
		if newPrice != existing.Price {
			change = &PriceChange{OldPrice: existing.Price, NewPrice: newPrice}
			update["$push"] = bson.M{"price_history": models.PricePoint{Price: newPrice, At: now}}
		}
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updatedListing models.Listing
	err := collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updatedListing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// The listing went away between the read and the write.
			return nil, nil, fmt.Errorf("listing not found, not owned by seller, or cannot be updated")
		}
		return nil, nil, fmt.Errorf("failed to update listing %s: %w", listingID.String(), err)
	}

	return &updatedListing, change, nil
}

// BulkUpdateListings applies one patch to many listings at once. The filter
// always includes the seller, so listings the vendor does not own match zero
// records rather than erroring.
func (s *listingService) BulkUpdateListings(ctx context.Context, sellerID utils.SixID, listingIDs []utils.SixID, updates map[string]interface{}) (int64, error) {
	if len(listingIDs) == 0 {
		return 0, fmt.Errorf("no listing IDs provided")
	}

	allowedUpdates := bson.M{}
	for key, value := range updates {
		switch key {
		case "price", "status", "description":
			allowedUpdates[key] = value
		default:
			return 0, fmt.Errorf("field '%s' cannot be bulk-updated", key)
		}
	}
	if len(allowedUpdates) == 0 {
		return 0, fmt.Errorf("no valid fields provided for bulk update")
	}
	now := time.Now().UTC()
	allowedUpdates["updated_at"] = now

	update := bson.M{"$set": allowedUpdates}
	if raw, ok := allowedUpdates["price"]; ok {
		newPrice, ok := toFloat64(raw)
		if !ok || newPrice <= 0 {
			return 0, fmt.Errorf("price must be a positive number")
		}
		update["$push"] = bson.M{"price_history": models.PricePoint{Price: newPrice, At: now}}
	}

	filter := bson.M{
		"_id":       bson.M{"$in": listingIDs},
		"seller_id": sellerID,
		"deleted":   false,
	}

	collection := s.db.Collection(listingsCollection)
	result, err := collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("db error bulk-updating listings for seller %s: %w", sellerID.String(), err)
	}
	return result.MatchedCount, nil
}

// MarkSold transitions an active listing to sold, recording when and for how
// much.
func (s *listingService) MarkSold(ctx context.Context, listingID, sellerID utils.SixID, salePrice float64) (*models.Listing, error) {
	if salePrice <= 0 {
		return nil, fmt.Errorf("sale price must be positive")
	}
	collection := s.db.Collection(listingsCollection)
	now := time.Now().UTC()

	filter := bson.M{
		"_id":       listingID,
		"seller_id": sellerID,
		"deleted":   false,
		"status":    bson.M{"$ne": models.StatusSold},
	}
	update := bson.M{"$set": bson.M{
		"status":     models.StatusSold,
		"sold_at":    now,
		"sale_price": salePrice,
		"updated_at": now,
	}}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var sold models.Listing
	err := collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&sold)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Check why it couldn't be sold
			var listing models.Listing
			checkErr := collection.FindOne(ctx, bson.M{"_id": listingID}).Decode(&listing)
			if errors.Is(checkErr, mongo.ErrNoDocuments) {
				return nil, fmt.Errorf("listing %s not found", listingID.String())
			}
			if listing.SellerID != sellerID {
				return nil, fmt.Errorf("listing %s does not belong to seller %s", listingID.String(), sellerID.String())
			}
			if listing.Status == models.StatusSold {
				return nil, fmt.Errorf("listing %s is already sold", listingID.String())
			}
			return nil, fmt.Errorf("failed to mark listing %s sold (condition not met)", listingID.String())
		}
		return nil, fmt.Errorf("db error marking listing %s sold: %w", listingID.String(), err)
	}

	return &sold, nil
}

// DeleteListing performs a soft delete and returns the listing as it was, so
// the caller can announce the removal.
func (s *listingService) DeleteListing(ctx context.Context, listingID, sellerID utils.SixID) (*models.Listing, error) {
	collection := s.db.Collection(listingsCollection)
	now := time.Now().UTC()

	filter := bson.M{
		"_id":       listingID,
		"seller_id": sellerID,
		"deleted":   false,
	}
	update := bson.M{"$set": bson.M{
		"deleted":    true,
		"status":     models.StatusInactive,
		"updated_at": now,
	}}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)
	var deleted models.Listing
	err := collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&deleted)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("listing %s not found or not owned by seller %s", listingID.String(), sellerID.String())
		}
		return nil, fmt.Errorf("db error deleting listing %s: %w", listingID.String(), err)
	}

	return &deleted, nil
}

// FindListingsBySeller returns all non-deleted listings for a seller, newest
// first.
func (s *listingService) FindListingsBySeller(ctx context.Context, sellerID utils.SixID) ([]models.Listing, error) {
	collection := s.db.Collection(listingsCollection)
	filter := bson.M{"seller_id": sellerID, "deleted": false}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find listings for seller %s: %w", sellerID.String(), err)
	}
	defer cursor.Close(ctx)

	var listings []models.Listing
	if err = cursor.All(ctx, &listings); err != nil {
		return nil, fmt.Errorf("failed to decode listings for seller %s: %w", sellerID.String(), err)
	}
	return listings, nil
}

// AddPhotoToListing adds a processed photo key to a listing's photo array.
// It should only be called after the image processing task is complete.
func (s *listingService) AddPhotoToListing(ctx context.Context, listingID utils.SixID, photoKey string) error {
	collection := s.db.Collection(listingsCollection)

	filter := bson.M{"_id": listingID, "deleted": false}
	update := bson.M{
		"$addToSet": bson.M{"photos": photoKey}, // Add key if not already present
		"$set":      bson.M{"updated_at": time.Now().UTC()},
	}

	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error adding photo %s to listing %s: %w", photoKey, listingID.String(), err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("listing %s not found or cannot be updated when adding photo", listingID.String())
	}
	if result.ModifiedCount == 0 {
		log.Printf("Photo key %s likely already exists for listing %s", photoKey, listingID.String())
	}

	return nil
}

// toFloat64 normalizes the numeric types JSON and BSON decoding produce.
func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
