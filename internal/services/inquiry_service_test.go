package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"driveline/market/internal/config"
	"driveline/market/internal/utils"
)

func setupTestDBInquiry(t *testing.T, dbName string) *mongo.Database {
	return utils.SetupTestDB(t, dbName, "inquiries", "listings")
}

func TestInquiryService_CreateInquiry(t *testing.T) {
	db := setupTestDBInquiry(t, "testdb_inquiry_create")
	listingSvc := NewListingService(db, &config.Config{})
	svc := NewInquiryService(db, &config.Config{})
	ctx := context.Background()
	sellerID := utils.NewSixID()

	listing, err := listingSvc.CreateListing(ctx, sellerID, sampleListingInput())
	require.NoError(t, err)

	// Guest inquiry with just a message.
	inquiry, updated, err := svc.CreateInquiry(ctx, listing.ID, nil, "buyer@example.com", "Still available?", nil)
	require.NoError(t, err)
	require.NotNil(t, inquiry)
	assert.Equal(t, listing.ID, inquiry.ListingID)
	assert.False(t, inquiry.Notified)
	assert.Equal(t, int64(1), updated.Inquiries, "returned listing carries the post-increment count")

	// Authenticated inquiry with just an offer.
	buyerID := utils.NewSixID()
	offer := 23000.0
	inquiry, updated, err = svc.CreateInquiry(ctx, listing.ID, &buyerID, "buyer2@example.com", "", &offer)
	require.NoError(t, err)
	assert.Equal(t, buyerID, inquiry.UserID)
	require.NotNil(t, inquiry.Offer)
	assert.Equal(t, 23000.0, *inquiry.Offer)
	assert.Equal(t, int64(2), updated.Inquiries)

	// Neither message nor offer is rejected before any write.
	_, _, err = svc.CreateInquiry(ctx, listing.ID, nil, "buyer@example.com", "", nil)
	assert.Error(t, err)
	// So is a missing reply-to address.
	_, _, err = svc.CreateInquiry(ctx, listing.ID, nil, "", "hello", nil)
	assert.Error(t, err)

	// The rejected attempts must not have bumped the counter.
	reloaded, err := listingSvc.FindListingByID(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reloaded.Inquiries)
}

func TestInquiryService_CreateInquiryClosedListing(t *testing.T) {
	db := setupTestDBInquiry(t, "testdb_inquiry_closed")
	listingSvc := NewListingService(db, &config.Config{})
	svc := NewInquiryService(db, &config.Config{})
	ctx := context.Background()
	sellerID := utils.NewSixID()

	listing, err := listingSvc.CreateListing(ctx, sellerID, sampleListingInput())
	require.NoError(t, err)
	_, err = listingSvc.MarkSold(ctx, listing.ID, sellerID, 24000)
	require.NoError(t, err)

	_, _, err = svc.CreateInquiry(ctx, listing.ID, nil, "buyer@example.com", "Too late?", nil)
	assert.ErrorIs(t, err, mongo.ErrNoDocuments, "sold listings take no inquiries")

	_, _, err = svc.CreateInquiry(ctx, utils.NewSixID(), nil, "buyer@example.com", "Anyone?", nil)
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)
}

func TestInquiryService_FindInquiriesByListing(t *testing.T) {
	db := setupTestDBInquiry(t, "testdb_inquiry_find")
	listingSvc := NewListingService(db, &config.Config{})
	svc := NewInquiryService(db, &config.Config{})
	ctx := context.Background()

	listing, err := listingSvc.CreateListing(ctx, utils.NewSixID(), sampleListingInput())
	require.NoError(t, err)
	other, err := listingSvc.CreateListing(ctx, utils.NewSixID(), sampleListingInput())
	require.NoError(t, err)

	_, _, err = svc.CreateInquiry(ctx, listing.ID, nil, "a@example.com", "first", nil)
	require.NoError(t, err)
	_, _, err = svc.CreateInquiry(ctx, listing.ID, nil, "b@example.com", "second", nil)
	require.NoError(t, err)
	_, _, err = svc.CreateInquiry(ctx, other.ID, nil, "c@example.com", "elsewhere", nil)
	require.NoError(t, err)

	inquiries, err := svc.FindInquiriesByListing(ctx, listing.ID)
	require.NoError(t, err)
	require.Len(t, inquiries, 2)
	for _, inq := range inquiries {
		assert.Equal(t, listing.ID, inq.ListingID)
	}
}

func TestInquiryService_NotificationQueue(t *testing.T) {
	db := setupTestDBInquiry(t, "testdb_inquiry_notify")
	listingSvc := NewListingService(db, &config.Config{})
	svc := NewInquiryService(db, &config.Config{})
	ctx := context.Background()

	listing, err := listingSvc.CreateListing(ctx, utils.NewSixID(), sampleListingInput())
	require.NoError(t, err)

	first, _, err := svc.CreateInquiry(ctx, listing.ID, nil, "a@example.com", "first", nil)
	require.NoError(t, err)
	second, _, err := svc.CreateInquiry(ctx, listing.ID, nil, "b@example.com", "second", nil)
	require.NoError(t, err)

	// Oldest first, so the notifier drains in arrival order.
	pending, err := svc.FindUnnotified(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)

	// The limit caps the batch.
	batch, err := svc.FindUnnotified(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, batch, 1)

	require.NoError(t, svc.MarkNotified(ctx, first.ID))
	pending, err = svc.FindUnnotified(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)

	assert.ErrorIs(t, svc.MarkNotified(ctx, utils.NewSixID()), mongo.ErrNoDocuments)
}
