package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"driveline/market/internal/config"
	"driveline/market/internal/db"
	"driveline/market/internal/models"
	"driveline/market/internal/utils"
)

func setupTestDBListing(t *testing.T, dbName string) *mongo.Database {
	return utils.SetupTestDB(t, dbName, "listings", "users")
}

func sampleListingInput() ListingInput {
	return ListingInput{
		Make:      "Toyota",
		Model:     "Camry",
		Year:      2021,
		BodyType:  "Sedan",
		Condition: "used",
		Price:     25000,
		Mileage:   32000,
		City:      "Austin",
		State:     "TX",
	}
}

func TestListingService_CreateAndFind(t *testing.T) {
	db := setupTestDBListing(t, "testdb_listing_create")
	svc := NewListingService(db, &config.Config{})
	ctx := context.Background()
	sellerID := utils.NewSixID()

	listing, err := svc.CreateListing(ctx, sellerID, sampleListingInput())
	require.NoError(t, err)
	require.NotNil(t, listing)
	assert.Equal(t, sellerID, listing.SellerID)
	assert.Equal(t, models.StatusActive, listing.Status)
	require.Len(t, listing.PriceHistory, 1, "initial price seeds the history")
	assert.Equal(t, 25000.0, listing.PriceHistory[0].Price)

	found, err := svc.FindListingByID(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, listing.ID, found.ID)
	assert.Equal(t, "Camry", found.Model)

	_, err = svc.FindListingByID(ctx, utils.NewSixID())
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)
}

func TestListingService_UpdateListing(t *testing.T) {
	db := setupTestDBListing(t, "testdb_listing_update")
	svc := NewListingService(db, &config.Config{})
	ctx := context.Background()
	sellerID := utils.NewSixID()

	listing, err := svc.CreateListing(ctx, sellerID, sampleListingInput())
	require.NoError(t, err)

	// A plain field update reports no price change.
	updated, change, err := svc.UpdateListing(ctx, listing.ID, sellerID, map[string]interface{}{
		"description": "One owner, garage kept",
	})
	require.NoError(t, err)
	assert.Nil(t, change)
	assert.Equal(t, "One owner, garage kept", updated.Description)

	// A price change is reported and appended to the history.
	updated, change, err = svc.UpdateListing(ctx, listing.ID, sellerID, map[string]interface{}{
		"price": 23500.0,
	})
	require.NoError(t, err)
	require.NotNil(t, change)
	assert.Equal(t, 25000.0, change.OldPrice)
	assert.Equal(t, 23500.0, change.NewPrice)
	assert.Equal(t, 23500.0, updated.Price)
	require.Len(t, updated.PriceHistory, 2)
	assert.Equal(t, 23500.0, updated.PriceHistory[1].Price)

	// Setting the same price again is not a change.
	_, change, err = svc.UpdateListing(ctx, listing.ID, sellerID, map[string]interface{}{
		"price": 23500.0,
	})
	require.NoError(t, err)
	assert.Nil(t, change)

	// Protected fields are refused outright.
	_, _, err = svc.UpdateListing(ctx, listing.ID, sellerID, map[string]interface{}{
		"seller_id": utils.NewSixID(),
	})
	assert.Error(t, err)
	_, _, err = svc.UpdateListing(ctx, listing.ID, sellerID, map[string]interface{}{
		"views": 99999,
	})
	assert.Error(t, err)

	// A non-owner cannot touch the listing.
	_, _, err = svc.UpdateListing(ctx, listing.ID, utils.NewSixID(), map[string]interface{}{
		"price": 100.0,
	})
	assert.Error(t, err)
}

func TestListingService_BulkUpdateSkipsForeignListings(t *testing.T) {
	db := setupTestDBListing(t, "testdb_listing_bulk")
	svc := NewListingService(db, &config.Config{})
	ctx := context.Background()
	ownerID := utils.NewSixID()
	otherID := utils.NewSixID()

	mine, err := svc.CreateListing(ctx, ownerID, sampleListingInput())
	require.NoError(t, err)
	theirs, err := svc.CreateListing(ctx, otherID, sampleListingInput())
	require.NoError(t, err)

	matched, err := svc.BulkUpdateListings(ctx, ownerID, []utils.SixID{mine.ID, theirs.ID}, map[string]interface{}{
		"status": string(models.StatusInactive),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), matched, "only the owned listing matches")

	untouched, err := svc.FindListingByID(ctx, theirs.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, untouched.Status)

	// A bulk price update also extends each price history.
	matched, err = svc.BulkUpdateListings(ctx, otherID, []utils.SixID{theirs.ID}, map[string]interface{}{
		"price": 24000.0,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), matched)
	repriced, err := svc.FindListingByID(ctx, theirs.ID)
	require.NoError(t, err)
	assert.Equal(t, 24000.0, repriced.Price)
	assert.Len(t, repriced.PriceHistory, 2)

	_, err = svc.BulkUpdateListings(ctx, ownerID, []utils.SixID{mine.ID}, map[string]interface{}{
		"seller_id": otherID,
	})
	assert.Error(t, err, "ownership cannot be bulk-reassigned")

	_, err = svc.BulkUpdateListings(ctx, ownerID, nil, map[string]interface{}{"price": 1.0})
	assert.Error(t, err)
}

func TestListingService_MarkSold(t *testing.T) {
	db := setupTestDBListing(t, "testdb_listing_sold")
	svc := NewListingService(db, &config.Config{})
	ctx := context.Background()
	sellerID := utils.NewSixID()

	listing, err := svc.CreateListing(ctx, sellerID, sampleListingInput())
	require.NoError(t, err)

	sold, err := svc.MarkSold(ctx, listing.ID, sellerID, 24200)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSold, sold.Status)
	require.NotNil(t, sold.SalePrice)
	assert.Equal(t, 24200.0, *sold.SalePrice)
	assert.NotNil(t, sold.SoldAt)

	// Selling twice is an error.
	_, err = svc.MarkSold(ctx, listing.ID, sellerID, 24200)
	assert.ErrorContains(t, err, "already sold")

	// Someone else's listing cannot be sold.
	other, err := svc.CreateListing(ctx, utils.NewSixID(), sampleListingInput())
	require.NoError(t, err)
	_, err = svc.MarkSold(ctx, other.ID, sellerID, 100)
	assert.ErrorContains(t, err, "does not belong")

	_, err = svc.MarkSold(ctx, utils.NewSixID(), sellerID, 100)
	assert.ErrorContains(t, err, "not found")

	_, err = svc.MarkSold(ctx, listing.ID, sellerID, 0)
	assert.Error(t, err)
}

func TestListingService_DeleteListing(t *testing.T) {
	db := setupTestDBListing(t, "testdb_listing_delete")
	svc := NewListingService(db, &config.Config{})
	ctx := context.Background()
	sellerID := utils.NewSixID()

	listing, err := svc.CreateListing(ctx, sellerID, sampleListingInput())
	require.NoError(t, err)

	// The pre-delete document comes back so the caller can announce it.
	deleted, err := svc.DeleteListing(ctx, listing.ID, sellerID)
	require.NoError(t, err)
	assert.Equal(t, listing.ID, deleted.ID)
	assert.Equal(t, models.StatusActive, deleted.Status)

	_, err = svc.FindListingByID(ctx, listing.ID)
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)

	// Double delete and foreign delete both miss.
	_, err = svc.DeleteListing(ctx, listing.ID, sellerID)
	assert.Error(t, err)
}

func TestListingService_Search(t *testing.T) {
	db := setupTestDBListing(t, "testdb_listing_search")
	svc := NewListingService(db, &config.Config{})
	ctx := context.Background()
	sellerID := utils.NewSixID()

	seed := []ListingInput{
		{Make: "Toyota", Model: "Camry", Year: 2021, BodyType: "Sedan", Condition: "used", Price: 25000, City: "Austin", State: "TX"},
		{Make: "Toyota", Model: "RAV4", Year: 2023, BodyType: "SUV", Condition: "new", Price: 34000, City: "Dallas", State: "TX"},
		{Make: "Honda", Model: "Civic", Year: 2019, BodyType: "Sedan", Condition: "used", Price: 18000, City: "Austin", State: "TX"},
	}
	ids := make([]utils.SixID, 0, len(seed))
	for _, in := range seed {
		l, err := svc.CreateListing(ctx, sellerID, in)
		require.NoError(t, err)
		ids = append(ids, l.ID)
	}

	// A sold listing never appears in search.
	_, err := svc.MarkSold(ctx, ids[2], sellerID, 17500)
	require.NoError(t, err)

	mk := "Toyota"
	results, total, err := svc.SearchListings(ctx, SearchFilter{Make: &mk})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, results, 2)

	maxPrice := 30000.0
	results, total, err = svc.SearchListings(ctx, SearchFilter{MaxPrice: &maxPrice})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, results, 1)
	assert.Equal(t, "Camry", results[0].Model)

	minYear := 2022
	results, _, err = svc.SearchListings(ctx, SearchFilter{MinYear: &minYear, SortBy: "price_asc"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "RAV4", results[0].Model)

	// Pagination: limit 1 still reports the full match count.
	results, total, err = svc.SearchListings(ctx, SearchFilter{Limit: 1, SortBy: "price_desc"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, results, 1)
	assert.Equal(t, "RAV4", results[0].Model, "price_desc puts the dearest first")
}

func TestListingService_SearchFreeText(t *testing.T) {
	database := setupTestDBListing(t, "testdb_listing_text_search")
	// Free-text search runs through $text, which needs the text index in place.
	require.NoError(t, db.EnsureIndexes(context.Background(), database))
	svc := NewListingService(database, &config.Config{})
	ctx := context.Background()
	sellerID := utils.NewSixID()

	camry := sampleListingInput()
	camry.Description = "Leather seats, sunroof, one owner"
	match, err := svc.CreateListing(ctx, sellerID, camry)
	require.NoError(t, err)

	civic := sampleListingInput()
	civic.Make = "Honda"
	civic.Model = "Civic"
	civic.Description = "Cloth interior"
	_, err = svc.CreateListing(ctx, sellerID, civic)
	require.NoError(t, err)

	q := "leather"
	results, total, err := svc.SearchListings(ctx, SearchFilter{Query: &q})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, results, 1)
	assert.Equal(t, match.ID, results[0].ID)

	// Model names are indexed too.
	q = "Civic"
	results, _, err = svc.SearchListings(ctx, SearchFilter{Query: &q})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Honda", results[0].Make)
}

func TestListingService_Counters(t *testing.T) {
	db := setupTestDBListing(t, "testdb_listing_counters")
	svc := NewListingService(db, &config.Config{})
	ctx := context.Background()
	sellerID := utils.NewSixID()

	listing, err := svc.CreateListing(ctx, sellerID, sampleListingInput())
	require.NoError(t, err)

	require.NoError(t, svc.IncrementViews(ctx, listing.ID))
	require.NoError(t, svc.IncrementViews(ctx, listing.ID))
	require.NoError(t, svc.IncrementFavorites(ctx, listing.ID, 1))
	require.NoError(t, svc.IncrementFavorites(ctx, listing.ID, 1))
	require.NoError(t, svc.IncrementFavorites(ctx, listing.ID, -1))

	found, err := svc.FindListingByID(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), found.Views)
	assert.Equal(t, int64(1), found.Favorites)

	// View tracking on a missing listing is silently best-effort; favorites
	// report the miss so the API can 404.
	assert.NoError(t, svc.IncrementViews(ctx, utils.NewSixID()))
	assert.ErrorIs(t, svc.IncrementFavorites(ctx, utils.NewSixID(), 1), mongo.ErrNoDocuments)
}

func TestListingService_AddPhoto(t *testing.T) {
	db := setupTestDBListing(t, "testdb_listing_photos")
	svc := NewListingService(db, &config.Config{})
	ctx := context.Background()
	sellerID := utils.NewSixID()

	listing, err := svc.CreateListing(ctx, sellerID, sampleListingInput())
	require.NoError(t, err)

	key := "photos/seller/listing/abc_front.jpg"
	require.NoError(t, svc.AddPhotoToListing(ctx, listing.ID, key))
	// Re-adding the same key is a no-op, not a duplicate.
	require.NoError(t, svc.AddPhotoToListing(ctx, listing.ID, key))

	found, err := svc.FindListingByID(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, found.Photos)

	assert.Error(t, svc.AddPhotoToListing(ctx, utils.NewSixID(), key))
}
